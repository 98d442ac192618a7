// Package dispatch publishes dispatch units to the priority lanes and
// consumes them, pushing each rendered Seq to its owner's devices.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/cache"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/metrics"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/priority"
	"github.com/saashqdev/delightful-im/internal/queue"
	"github.com/saashqdev/delightful-im/internal/store"
	"github.com/saashqdev/delightful-im/internal/transport"
)

// Payload is one dispatch unit on the wire.
type Payload struct {
	MessageIDs     []string `json:"message_ids"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Priority       string   `json:"priority"`
	// Attempt counts how often these ids were queued again after a failed push.
	Attempt int `json:"attempt,omitempty"`
}

// AgentTrigger runs the side effects of a message reaching an AI agent,
// such as starting a reply. It runs at most once per (app message, agent).
type AgentTrigger interface {
	OnAgentMessage(ctx context.Context, view *models.ClientSeqView) error
}

type AgentTriggerFunc func(ctx context.Context, view *models.ClientSeqView) error

func (f AgentTriggerFunc) OnAgentMessage(ctx context.Context, view *models.ClientSeqView) error {
	return f(ctx, view)
}

type noopTrigger struct{}

func (noopTrigger) OnAgentMessage(context.Context, *models.ClientSeqView) error { return nil }

type Config struct {
	// PushRetryAttempts bounds retries when a Seq is not yet visible to the
	// consumer, e.g. read from a lagging replica.
	PushRetryAttempts int
	PushRetryDelay    time.Duration
	// PushRedeliveries bounds how often Seqs whose push failed are queued
	// again as a new unit. Zero drops them after the first failure.
	PushRedeliveries int
	// DedupTTL is how long a completed agent side effect is remembered.
	DedupTTL time.Duration
}

type Engine struct {
	queue    queue.MessageQueue
	seqs     store.SequenceStore
	messages store.MessageStore
	sink     transport.Sink
	locks    lock.DistributedLock
	ledger   cache.Ledger
	agent    AgentTrigger
	metrics  *metrics.Metrics
	cfg      Config
	log      *slog.Logger
}

type Deps struct {
	Queue    queue.MessageQueue
	Seqs     store.SequenceStore
	Messages store.MessageStore
	Sink     transport.Sink
	Locks    lock.DistributedLock
	Ledger   cache.Ledger
	Agent    AgentTrigger
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func NewEngine(deps Deps, cfg Config) *Engine {
	if cfg.PushRetryAttempts < 0 {
		cfg.PushRetryAttempts = 0
	}
	if cfg.PushRedeliveries < 0 {
		cfg.PushRedeliveries = 0
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 24 * time.Hour
	}
	agent := deps.Agent
	if agent == nil {
		agent = noopTrigger{}
	}
	return &Engine{
		queue:    deps.Queue,
		seqs:     deps.Seqs,
		messages: deps.Messages,
		sink:     deps.Sink,
		locks:    deps.Locks,
		ledger:   deps.Ledger,
		agent:    agent,
		metrics:  deps.Metrics,
		cfg:      cfg,
		log:      logger.Or(deps.Logger).With("component", "dispatch"),
	}
}

// Dispatch publishes exactly one queue message carrying messageIDs on the
// lane for p. Callers invoke it only after their transaction committed.
func (e *Engine) Dispatch(ctx context.Context, messageIDs []string, p priority.Priority, conversationID string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	raw, err := json.Marshal(Payload{MessageIDs: messageIDs, ConversationID: conversationID, Priority: p.String()})
	if err != nil {
		return err
	}
	if err := e.queue.Publish(ctx, p.Topic(), raw); err != nil {
		e.metrics.IncPublishFailure(p.String())
		e.log.Error("dispatch publish failed",
			"priority", p.String(),
			"conversation_id", conversationID,
			"messages", len(messageIDs),
			"error", err)
		return apperr.DeliveryFailed(conversationID, err)
	}
	e.metrics.IncPublished(p.String())
	return nil
}

func messageIDs(seqs []*models.Seq) []string {
	ids := make([]string, len(seqs))
	for i, s := range seqs {
		ids[i] = s.MessageID
	}
	return ids
}

// DispatchSeqs classifies and dispatches a batch of renderings as one unit.
// The batch size stands in for the recipient count.
func (e *Engine) DispatchSeqs(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, conversationID string) error {
	if len(seqs) == 0 {
		return nil
	}
	p := priority.Classify(convType, len(seqs), priority.KindOf(seqs[0].SeqType))
	return e.Dispatch(ctx, messageIDs(seqs), p, conversationID)
}

// DispatchControl dispatches control Seqs that concern a conversation of
// memberCount participants. A receipt unit holds one Seq however large the
// group is, so its lane follows the conversation size instead.
func (e *Engine) DispatchControl(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, memberCount int, conversationID string) error {
	if len(seqs) == 0 {
		return nil
	}
	if memberCount < len(seqs) {
		memberCount = len(seqs)
	}
	p := priority.Classify(convType, memberCount, priority.KindControl)
	return e.Dispatch(ctx, messageIDs(seqs), p, conversationID)
}

func (e *Engine) load(ctx context.Context, messageID string) (*models.Seq, *models.Message, error) {
	seq, err := e.seqs.GetSeqByMessageID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	if !seq.SeqType.IsChat() || seq.DelightfulMessageID == "" {
		return seq, nil, nil
	}
	msg, err := e.messages.GetByDelightfulMessageID(ctx, seq.DelightfulMessageID)
	if err != nil {
		return nil, nil, err
	}
	return seq, msg, nil
}

// Push loads one Seq and delivers it to its owner. A Seq that is still
// missing after the bounded retries is logged and dropped.
func (e *Engine) Push(ctx context.Context, messageID string) error {
	var (
		seq *models.Seq
		msg *models.Message
		err error
	)
	for attempt := 0; ; attempt++ {
		seq, msg, err = e.load(ctx, messageID)
		if err == nil {
			break
		}
		if apperr.KindOf(err) != apperr.KindNotFound {
			return err
		}
		if attempt >= e.cfg.PushRetryAttempts {
			e.metrics.IncPushDropped()
			e.log.Warn("seq not found, dropping push", "message_id", messageID, "attempts", attempt+1)
			return nil
		}
		e.metrics.IncPushRetry()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.PushRetryDelay):
		}
	}

	view, err := models.NewClientSeqView(seq, msg)
	if err != nil {
		return err
	}
	payload, err := transport.EncodeEvent(transport.EventSeq, view)
	if err != nil {
		return err
	}
	if err := e.sink.PushToRecipient(ctx, seq.ObjectID, payload); err != nil {
		return err
	}

	if seq.ObjectType == models.ObjectTypeAi && seq.SeqType.IsChat() && !seq.IsSenderSide() {
		e.runAgentSideEffect(ctx, seq, view)
	}
	return nil
}

func sideEffectKey(seq *models.Seq) string {
	id := seq.AppMessageID
	if id == "" {
		id = seq.DelightfulMessageID
	}
	return "agent:" + id + ":" + seq.ObjectID
}

// runAgentSideEffect triggers the agent once per (app message, agent) no
// matter how often the dispatch unit is redelivered.
func (e *Engine) runAgentSideEffect(ctx context.Context, seq *models.Seq, view *models.ClientSeqView) {
	key := sideEffectKey(seq)
	err := lock.WithSpinLock(ctx, e.locks, key, func(ctx context.Context) error {
		done, err := e.ledger.Exists(ctx, key)
		if err != nil {
			return err
		}
		if done {
			e.metrics.IncSideEffect("duplicate")
			return nil
		}
		if err := e.agent.OnAgentMessage(ctx, view); err != nil {
			e.metrics.IncSideEffect("failed")
			return err
		}
		if _, err := e.ledger.Mark(ctx, key, e.cfg.DedupTTL); err != nil {
			return err
		}
		e.metrics.IncSideEffect("ran")
		return nil
	})
	if err != nil {
		e.log.Error("agent side effect failed",
			"message_id", seq.MessageID,
			"app_message_id", seq.AppMessageID,
			"object_id", seq.ObjectID,
			"error", err)
	}
}

// Handle pushes every Seq of one delivery. Seqs whose push failed for a
// reason other than bad data are queued again as a new unit on the same
// topic before the delivery is acked. When that publish fails the delivery
// stays unacked so the queue hands it out again. A malformed payload is
// acked so it is not redelivered forever.
func (e *Engine) Handle(ctx context.Context, d queue.Delivery) {
	var p Payload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		e.log.Error("malformed dispatch payload", "topic", d.Topic, "delivery_id", d.ID, "error", err)
		e.ack(ctx, d)
		return
	}
	e.metrics.IncConsumed(p.Priority)

	var failed []string
	for _, id := range p.MessageIDs {
		err := e.Push(ctx, id)
		if err == nil {
			continue
		}
		e.log.Error("push failed",
			"message_id", id,
			"conversation_id", p.ConversationID,
			"priority", p.Priority,
			"attempt", p.Attempt,
			"error", err)
		if !permanent(err) {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 && !e.requeue(ctx, d.Topic, p, failed) {
		return
	}
	e.ack(ctx, d)
}

func (e *Engine) ack(ctx context.Context, d queue.Delivery) {
	if err := d.Ack(context.WithoutCancel(ctx)); err != nil {
		e.log.Warn("ack failed", "topic", d.Topic, "delivery_id", d.ID, "error", err)
	}
}

// permanent reports errors that a later attempt cannot fix.
func permanent(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindPermission:
		return true
	}
	return false
}

// requeue publishes failed as the next attempt of p and reports whether the
// original delivery may be acked.
func (e *Engine) requeue(ctx context.Context, topic string, p Payload, failed []string) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.Attempt >= e.cfg.PushRedeliveries {
		e.metrics.IncPushDropped()
		e.log.Warn("push redeliveries exhausted, dropping",
			"conversation_id", p.ConversationID,
			"messages", len(failed),
			"attempts", p.Attempt+1)
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(e.cfg.PushRetryDelay):
	}

	raw, err := json.Marshal(Payload{
		MessageIDs:     failed,
		ConversationID: p.ConversationID,
		Priority:       p.Priority,
		Attempt:        p.Attempt + 1,
	})
	if err != nil {
		return false
	}
	if err := e.queue.Publish(ctx, topic, raw); err != nil {
		e.metrics.IncPublishFailure(p.Priority)
		e.log.Warn("requeue failed, leaving delivery unacked", "topic", topic, "messages", len(failed), "error", err)
		return false
	}
	e.metrics.IncPushRetry()
	return true
}

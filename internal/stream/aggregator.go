// Package stream assembles messages that arrive in fragments, typically
// from an agent generating its answer, and persists them incrementally.
package stream

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
	"github.com/saashqdev/delightful-im/internal/store"
	"github.com/saashqdev/delightful-im/internal/transport"
)

const streamOptionsField = "stream_options"

// Sender is the regular send path used for the placeholder message.
type Sender interface {
	SendMessage(ctx context.Context, draft *models.MessageDraft, appMessageID string) (*models.ClientSeqView, error)
}

type Dispatcher interface {
	DispatchSeqs(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, conversationID string) error
}

type Config struct {
	// FlushInterval is the minimum time between intermediate writes.
	FlushInterval time.Duration
}

type Deps struct {
	Cache      cache.StreamCache
	Sender     Sender
	Seqs       store.SequenceStore
	Messages   store.MessageStore
	Dispatcher Dispatcher
	Sink       transport.Sink
	Locks      lock.DistributedLock
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Aggregator struct {
	cache      cache.StreamCache
	sender     Sender
	seqs       store.SequenceStore
	messages   store.MessageStore
	dispatcher Dispatcher
	sink       transport.Sink
	locks      lock.DistributedLock
	metrics    *metrics.Metrics
	cfg        Config
	log        *slog.Logger
	now        func() time.Time
}

func NewAggregator(deps Deps, cfg Config) *Aggregator {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 3 * time.Second
	}
	return &Aggregator{
		cache:      deps.Cache,
		sender:     deps.Sender,
		seqs:       deps.Seqs,
		messages:   deps.Messages,
		dispatcher: deps.Dispatcher,
		sink:       deps.Sink,
		locks:      deps.Locks,
		metrics:    deps.Metrics,
		cfg:        cfg,
		log:        logger.Or(deps.Logger).With("component", "stream"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for flush pacing.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Fragment is pushed to online devices as each piece arrives.
type Fragment struct {
	AppMessageID        string         `json:"app_message_id"`
	DelightfulMessageID string         `json:"delightful_message_id"`
	Fields              map[string]any `json:"fields"`
}

// OpenStream sends the placeholder message with status start and seeds the
// cache entry every later fragment merges into. Reopening a live stream
// returns the existing placeholder and keeps the accumulated fields.
func (a *Aggregator) OpenStream(ctx context.Context, draft *models.MessageDraft, appMessageID string) (*models.ClientSeqView, error) {
	if appMessageID == "" {
		return nil, apperr.InvalidArgument("app_message_id is required")
	}
	if draft == nil {
		return nil, apperr.InvalidArgument("message is required").WithApp(appMessageID)
	}
	streamable, ok := draft.Content.(models.Streamable)
	if !ok {
		return nil, apperr.InvalidArgument("message type %q cannot be streamed", draft.MessageType).WithApp(appMessageID)
	}
	if entry, found, err := a.cache.Get(ctx, appMessageID); err != nil {
		return nil, err
	} else if found {
		if err := checkOwner(entry, draft.Sender); err != nil {
			return nil, err
		}
	}
	streamable.SetStreamOptions(&models.StreamOptions{Stream: true, Status: models.StreamStatusStart})

	view, err := a.sender.SendMessage(ctx, draft, appMessageID)
	if err != nil {
		return nil, err
	}

	err = lock.WithSpinLock(ctx, a.locks, streamLockKey(appMessageID), func(ctx context.Context) error {
		if _, found, err := a.cache.Get(ctx, appMessageID); err != nil || found {
			return err
		}
		fields, err := contentFields(draft.Content)
		if err != nil {
			return err
		}
		renderings, err := a.seqs.ListByDelightfulMessageID(ctx, view.DelightfulMessageID)
		if err != nil {
			return err
		}
		recipients := make([]string, 0, len(renderings))
		for _, r := range renderings {
			recipients = append(recipients, r.ObjectID)
		}
		return a.cache.Set(ctx, appMessageID, &cache.StreamEntry{
			AppMessageID:        appMessageID,
			DelightfulMessageID: view.DelightfulMessageID,
			SenderMessageID:     view.MessageID,
			SenderID:            draft.Sender.ID,
			ConversationID:      view.ConversationID,
			ReceiveType:         draft.ReceiveType,
			MessageType:         draft.MessageType,
			Fields:              fields,
			Recipients:          recipients,
			LastFlushAt:         a.now(),
		})
	})
	if err != nil {
		return nil, err
	}
	a.log.Debug("stream opened",
		"app_message_id", appMessageID,
		"delightful_message_id", view.DelightfulMessageID)
	return view, nil
}

// AppendFragment merges fields into the cached message. Only the sender that
// opened the stream may append. Storage is written at most once per flush
// interval; recipients get every fragment live on a best-effort basis.
func (a *Aggregator) AppendFragment(ctx context.Context, appMessageID string, caller models.ObjectRef, fields map[string]any) error {
	fields = cloneFields(fields)
	delete(fields, streamOptionsField)
	if len(fields) == 0 {
		return nil
	}

	var entry *cache.StreamEntry
	err := lock.WithSpinLock(ctx, a.locks, streamLockKey(appMessageID), func(ctx context.Context) error {
		var (
			found bool
			err   error
		)
		entry, found, err = a.cache.Get(ctx, appMessageID)
		if err != nil {
			return err
		}
		if !found {
			return apperr.StreamNotFound(appMessageID)
		}
		if err := checkOwner(entry, caller); err != nil {
			return err
		}
		entry.Fields = Merge(entry.Fields, cloneFields(fields))
		if a.now().Sub(entry.LastFlushAt) >= a.cfg.FlushInterval {
			if err := a.flush(ctx, entry, models.StreamStatusProcessing); err != nil {
				return err
			}
		}
		return a.cache.Set(ctx, appMessageID, entry)
	})
	if err != nil {
		return err
	}

	a.pushFragment(ctx, entry, fields)
	return nil
}

// CompleteStream writes the final content with status completed, evicts
// the cache entry and delivers the full message once. Only the sender that
// opened the stream may complete it.
func (a *Aggregator) CompleteStream(ctx context.Context, appMessageID string, caller models.ObjectRef) error {
	var entry *cache.StreamEntry
	err := lock.WithSpinLock(ctx, a.locks, streamLockKey(appMessageID), func(ctx context.Context) error {
		var (
			found bool
			err   error
		)
		entry, found, err = a.cache.Get(ctx, appMessageID)
		if err != nil {
			return err
		}
		if !found {
			return apperr.StreamNotFound(appMessageID)
		}
		if err := checkOwner(entry, caller); err != nil {
			return err
		}
		if err := a.flush(ctx, entry, models.StreamStatusCompleted); err != nil {
			return err
		}
		return a.cache.Delete(ctx, appMessageID)
	})
	if err != nil {
		return err
	}

	renderings, err := a.seqs.ListByDelightfulMessageID(ctx, entry.DelightfulMessageID)
	if err != nil {
		return err
	}
	if err := a.dispatcher.DispatchSeqs(ctx, renderings, entry.ReceiveType, entry.ConversationID); err != nil {
		return err
	}
	a.log.Info("stream completed",
		"app_message_id", appMessageID,
		"delightful_message_id", entry.DelightfulMessageID,
		"flushes", entry.Flushes)
	return nil
}

// flush persists the accumulated fields with the given stream status.
func (a *Aggregator) flush(ctx context.Context, entry *cache.StreamEntry, status models.StreamStatus) error {
	out := make(map[string]any, len(entry.Fields)+1)
	for k, v := range entry.Fields {
		out[k] = v
	}
	out[streamOptionsField] = models.StreamOptions{Stream: true, Status: status}

	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	content, err := models.DecodeContent(entry.MessageType, raw)
	if err != nil {
		return err
	}
	if err := a.messages.UpdateContent(ctx, entry.DelightfulMessageID, content); err != nil {
		return err
	}
	entry.LastFlushAt = a.now()
	entry.Flushes++
	a.metrics.IncStreamFlush(string(status))
	return nil
}

func (a *Aggregator) pushFragment(ctx context.Context, entry *cache.StreamEntry, fields map[string]any) {
	if a.sink == nil {
		return
	}
	payload, err := transport.EncodeEvent(transport.EventStreamFragment, Fragment{
		AppMessageID:        entry.AppMessageID,
		DelightfulMessageID: entry.DelightfulMessageID,
		Fields:              fields,
	})
	if err != nil {
		a.log.Warn("encode stream fragment failed", "app_message_id", entry.AppMessageID, "error", err)
		return
	}
	for _, id := range entry.Recipients {
		if err := a.sink.PushToRecipient(ctx, id, payload); err != nil {
			a.log.Debug("stream fragment push failed",
				"app_message_id", entry.AppMessageID,
				"object_id", id,
				"error", err)
		}
	}
}

func checkOwner(entry *cache.StreamEntry, caller models.ObjectRef) error {
	if caller.ID == "" || caller.ID != entry.SenderID {
		return apperr.PermissionDenied("stream belongs to another sender").WithApp(entry.AppMessageID)
	}
	return nil
}

func streamLockKey(appMessageID string) string {
	return "stream:" + appMessageID
}

// contentFields turns a payload into the generic map fragments merge into.
func contentFields(c models.Content) (map[string]any, error) {
	raw, err := models.EncodeContent(c)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, streamOptionsField)
	return fields, nil
}

func cloneFields(in map[string]any) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return in
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return in
	}
	return out
}

// Package control applies control messages (seen, read, revoke, edit) to
// delivery state. Every status change moves forward along the transitions
// in models.CanTransition and nothing leaves revoked.
package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/metrics"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/sequence"
	"github.com/saashqdev/delightful-im/internal/store"
)

// Dispatcher hands committed Seqs to the delivery pipeline.
type Dispatcher interface {
	DispatchSeqs(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, conversationID string) error
	// DispatchControl lanes control Seqs by the size of the conversation
	// they refer to rather than by how many Seqs the unit carries.
	DispatchControl(ctx context.Context, seqs []*models.Seq, convType models.ConversationType, memberCount int, conversationID string) error
}

type Machine struct {
	store      store.Store
	messages   store.MessageStore
	factory    *sequence.Factory
	dispatcher Dispatcher
	locks      lock.DistributedLock
	ids        idgen.Generator
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
}

type Deps struct {
	Store      store.Store
	Messages   store.MessageStore
	Factory    *sequence.Factory
	Dispatcher Dispatcher
	Locks      lock.DistributedLock
	IDs        idgen.Generator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func NewMachine(deps Deps) *Machine {
	return &Machine{
		store:      deps.Store,
		messages:   deps.Messages,
		factory:    deps.Factory,
		dispatcher: deps.Dispatcher,
		locks:      deps.Locks,
		ids:        deps.IDs,
		metrics:    deps.Metrics,
		log:        logger.Or(deps.Logger).With("component", "control"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// dispatchUnit is a batch of committed Seqs to publish together. members,
// when set, is the size of the conversation a receipt refers to.
type dispatchUnit struct {
	seqs           []*models.Seq
	convType       models.ConversationType
	conversationID string
	members        int
}

// publish dispatches units after commit. A failed publish is logged; the
// state change it reports is already durable and clients resync from it.
func (m *Machine) publish(ctx context.Context, units []dispatchUnit) {
	for _, u := range units {
		var err error
		if u.members > 0 {
			err = m.dispatcher.DispatchControl(ctx, u.seqs, u.convType, u.members, u.conversationID)
		} else {
			err = m.dispatcher.DispatchSeqs(ctx, u.seqs, u.convType, u.conversationID)
		}
		if err != nil {
			m.log.Error("control dispatch failed",
				"conversation_id", u.conversationID,
				"seqs", len(u.seqs),
				"error", err)
		}
	}
}

func (m *Machine) conversationType(ctx context.Context, conversations store.ConversationStore, id string) models.ConversationType {
	if id == "" {
		return models.ConversationTypeUser
	}
	conv, err := conversations.GetByID(ctx, id)
	if err != nil {
		return models.ConversationTypeUser
	}
	return conv.ReceiveType
}

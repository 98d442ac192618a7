// Package sequence turns one logical message into the per-viewer Seq rows
// that are delivered and tracked independently.
package sequence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

type Factory struct {
	store store.Store
	ids   idgen.Generator
	log   *slog.Logger
	now   func() time.Time
}

func NewFactory(st store.Store, ids idgen.Generator, log *slog.Logger) *Factory {
	return &Factory{
		store: st,
		ids:   ids,
		log:   logger.Or(log).With("component", "sequence"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SenderOptions carries the sender-side fields that do not come from the message.
type SenderOptions struct {
	// ReferMessageID is a message id in the sender's own id space.
	ReferMessageID string
	TopicID        string
}

// Bound generates Seqs inside a transaction the caller owns. Group
// membership is read once per Bound, so the sender's receive list and the
// fan-out always name the same members.
type Bound struct {
	f       *Factory
	tx      store.Tx
	members map[string][]models.ObjectRef
}

func (f *Factory) Bind(tx store.Tx) *Bound {
	return &Bound{f: f, tx: tx, members: map[string][]models.ObjectRef{}}
}

// GenerateSenderSequence persists the author's own rendering in its own transaction.
func (f *Factory) GenerateSenderSequence(ctx context.Context, msg *models.Message, conv *models.Conversation, opts SenderOptions) (*models.Seq, error) {
	var out *models.Seq
	err := f.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		out, err = f.Bind(tx).GenerateSenderSequence(ctx, msg, conv, opts)
		return err
	})
	return out, err
}

// GenerateReceiverSequence persists the peer's rendering in its own transaction.
func (f *Factory) GenerateReceiverSequence(ctx context.Context, senderSeq *models.Seq, msg *models.Message) (*models.Seq, error) {
	var out *models.Seq
	err := f.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		out, err = f.Bind(tx).GenerateReceiverSequence(ctx, senderSeq, msg)
		return err
	})
	return out, err
}

// GenerateGroupFanout persists one rendering per group member, all or nothing.
func (f *Factory) GenerateGroupFanout(ctx context.Context, senderSeq *models.Seq, msg *models.Message) ([]*models.Seq, error) {
	var out []*models.Seq
	err := f.store.Transaction(ctx, func(tx store.Tx) error {
		var err error
		out, err = f.Bind(tx).GenerateGroupFanout(ctx, senderSeq, msg)
		return err
	})
	return out, err
}

func requireMessageID(msg *models.Message) error {
	if msg == nil || msg.DelightfulMessageID == "" {
		return apperr.InvalidArgument("delightful_message_id is required")
	}
	return nil
}

func (f *Factory) newSeq(owner models.ObjectRef, seqType models.MessageType) *models.Seq {
	now := f.now()
	return &models.Seq{
		SeqID:            f.ids.NextID(),
		OrganizationCode: owner.OrganizationCode,
		ObjectType:       owner.Type,
		ObjectID:         owner.ID,
		SeqType:          seqType,
		MessageID:        f.ids.NextString(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewControlSeq builds an unsaved control Seq for owner. Control Seqs never
// carry a delightful message id or a receive list.
func (f *Factory) NewControlSeq(owner models.ObjectRef, seqType models.MessageType, content models.Content, referMessageID, conversationID string) *models.Seq {
	seq := f.newSeq(owner, seqType)
	seq.Content = content
	seq.ReferMessageID = referMessageID
	seq.ConversationID = conversationID
	seq.Status = models.SeqStatusUnread
	return seq
}

// GenerateSenderSequence writes the author's rendering with status read.
// Chat messages get a receive list naming every recipient as unread.
func (b *Bound) GenerateSenderSequence(ctx context.Context, msg *models.Message, conv *models.Conversation, opts SenderOptions) (*models.Seq, error) {
	if err := requireMessageID(msg); err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperr.InvalidArgument("sender conversation is required").WithMessage(msg.DelightfulMessageID)
	}

	if opts.ReferMessageID != "" {
		if _, err := b.ownRefer(ctx, msg.SenderID, opts.ReferMessageID); err != nil {
			return nil, err
		}
	}

	seq := b.f.newSeq(msg.Sender(), msg.MessageType)
	seq.AppMessageID = msg.AppMessageID
	seq.DelightfulMessageID = msg.DelightfulMessageID
	seq.ReferMessageID = opts.ReferMessageID
	seq.ConversationID = conv.ID
	seq.Status = models.SeqStatusRead
	seq.Extra.TopicID = opts.TopicID

	if msg.MessageType.IsChat() {
		recipients, err := b.recipients(ctx, msg)
		if err != nil {
			return nil, err
		}
		seq.ReceiveList = models.NewReceiveList(recipients)
	}

	if err := b.tx.Sequences().CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

func (b *Bound) recipients(ctx context.Context, msg *models.Message) ([]string, error) {
	if !msg.ReceiveType.IsGroupLike() {
		return []string{msg.ReceiveID}, nil
	}
	members, err := b.groupMembers(ctx, msg.ReceiveID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids, nil
}

// groupMembers lists groupID without excludeID. The first read in a Bound
// is reused by every later one.
func (b *Bound) groupMembers(ctx context.Context, groupID, excludeID string) ([]models.ObjectRef, error) {
	key := groupID + "\x00" + excludeID
	if members, ok := b.members[key]; ok {
		return members, nil
	}
	members, err := b.tx.Conversations().ListGroupMemberIDs(ctx, groupID, excludeID)
	if err != nil {
		return nil, err
	}
	b.members[key] = members
	return members, nil
}

// GenerateReceiverSequence writes the rendering of a private or agent chat
// message for its single recipient, reopening the recipient's window if hidden.
func (b *Bound) GenerateReceiverSequence(ctx context.Context, senderSeq *models.Seq, msg *models.Message) (*models.Seq, error) {
	if err := requireMessageID(msg); err != nil {
		return nil, err
	}
	receiver := models.ObjectRef{
		ID:               msg.ReceiveID,
		Type:             msg.ReceiveType.PeerObjectType(),
		OrganizationCode: msg.ReceiveOrganizationCode,
	}
	sender := msg.Sender()

	conv, err := b.tx.Conversations().GetOrCreate(ctx, receiver, sender, models.ConversationTypeFor(sender.Type))
	if err != nil {
		return nil, err
	}
	if conv.IsHidden {
		if err := b.tx.Conversations().Unhide(ctx, conv.ID); err != nil {
			return nil, err
		}
	}

	refers, err := b.translateRefer(ctx, senderSeq)
	if err != nil {
		return nil, err
	}

	seq := b.receiverSeq(receiver, senderSeq, msg, conv.ID, refers[receiver.ID])
	if err := b.tx.Sequences().CreateSequence(ctx, seq); err != nil {
		return nil, err
	}
	return seq, nil
}

// GenerateGroupFanout writes one rendering per group member except the
// sender and inserts them as one batch. The members are the ones the sender's
// receive list was built from when both run on the same Bound.
func (b *Bound) GenerateGroupFanout(ctx context.Context, senderSeq *models.Seq, msg *models.Message) ([]*models.Seq, error) {
	if err := requireMessageID(msg); err != nil {
		return nil, err
	}
	members, err := b.groupMembers(ctx, msg.ReceiveID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	refers, err := b.translateRefer(ctx, senderSeq)
	if err != nil {
		return nil, err
	}

	group := models.ObjectRef{ID: msg.ReceiveID, Type: models.ObjectTypeGroup, OrganizationCode: msg.ReceiveOrganizationCode}
	seqs := make([]*models.Seq, 0, len(members))
	for _, member := range members {
		conv, err := b.tx.Conversations().GetOrCreate(ctx, member, group, models.ConversationTypeGroup)
		if err != nil {
			return nil, err
		}
		if conv.IsHidden {
			if err := b.tx.Conversations().Unhide(ctx, conv.ID); err != nil {
				return nil, err
			}
		}
		seqs = append(seqs, b.receiverSeq(member, senderSeq, msg, conv.ID, refers[member.ID]))
	}

	if err := b.tx.Sequences().BatchCreateSeq(ctx, seqs); err != nil {
		return nil, err
	}
	b.f.log.Debug("group fanout generated",
		"delightful_message_id", msg.DelightfulMessageID,
		"group_id", msg.ReceiveID,
		"renderings", len(seqs))
	return seqs, nil
}

func (b *Bound) receiverSeq(owner models.ObjectRef, senderSeq *models.Seq, msg *models.Message, conversationID, referMessageID string) *models.Seq {
	seq := b.f.newSeq(owner, msg.MessageType)
	seq.AppMessageID = msg.AppMessageID
	seq.DelightfulMessageID = msg.DelightfulMessageID
	seq.ReferMessageID = referMessageID
	seq.ConversationID = conversationID
	seq.Status = models.SeqStatusUnread
	if senderSeq != nil {
		seq.SenderMessageID = senderSeq.MessageID
		seq.Extra.TopicID = senderSeq.Extra.TopicID
	}
	return seq
}

// translateRefer maps the sender's refer message id into every object's own
// id space through the canonical rendering of the referred message.
func (b *Bound) translateRefer(ctx context.Context, senderSeq *models.Seq) (map[string]string, error) {
	out := map[string]string{}
	if senderSeq == nil || senderSeq.ReferMessageID == "" {
		return out, nil
	}
	referred, err := b.ownRefer(ctx, senderSeq.ObjectID, senderSeq.ReferMessageID)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindValidation {
			return nil, ae.WithSeq(senderSeq.SeqID, senderSeq.MessageID)
		}
		return nil, err
	}
	if referred.DelightfulMessageID == "" {
		return out, nil
	}
	canonical, err := b.tx.Sequences().GetMinSeqListByDelightfulMessageID(ctx, referred.DelightfulMessageID)
	if err != nil {
		return nil, err
	}
	for _, seq := range canonical {
		out[seq.ObjectID] = seq.MessageID
	}
	return out, nil
}

// ownRefer loads the Seq a reply refers to. It must exist and belong to ownerID.
func (b *Bound) ownRefer(ctx context.Context, ownerID, referMessageID string) (*models.Seq, error) {
	referred, err := b.tx.Sequences().GetSeqByMessageID(ctx, referMessageID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.InvalidArgument("refer message %s not found", referMessageID)
		}
		return nil, err
	}
	if referred.ObjectID != ownerID {
		return nil, apperr.InvalidArgument("refer message %s belongs to another object", referMessageID)
	}
	return referred, nil
}

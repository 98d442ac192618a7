package control

import (
	"context"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

// MarkSeen moves each of viewer's renderings from unread to seen. Ids are
// in the viewer's own id space. Renderings past unread are left alone and
// per-message failures are logged and skipped; the applied ids are returned.
func (m *Machine) MarkSeen(ctx context.Context, referMessageIDs []string, viewer models.ObjectRef) ([]string, error) {
	return m.markAll(ctx, referMessageIDs, viewer, models.SeqStatusSeen)
}

// MarkRead is MarkSeen for the read state, reachable from unread or seen.
func (m *Machine) MarkRead(ctx context.Context, referMessageIDs []string, viewer models.ObjectRef) ([]string, error) {
	return m.markAll(ctx, referMessageIDs, viewer, models.SeqStatusRead)
}

func receiptType(to models.SeqStatus) models.MessageType {
	if to == models.SeqStatusRead {
		return models.MessageTypeReadMessages
	}
	return models.MessageTypeSeenMessages
}

func receiptContent(to models.SeqStatus, ids ...string) models.Content {
	if to == models.SeqStatusRead {
		return &models.ReadMessagesContent{ReferMessageIDs: ids}
	}
	return &models.SeenMessagesContent{ReferMessageIDs: ids}
}

func (m *Machine) markAll(ctx context.Context, ids []string, viewer models.ObjectRef, to models.SeqStatus) ([]string, error) {
	if viewer.ID == "" {
		return nil, apperr.InvalidArgument("viewer is required")
	}
	if len(ids) == 0 {
		return nil, apperr.InvalidArgument("refer_message_ids is required")
	}

	seen := make(map[string]struct{}, len(ids))
	var applied []string
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}

		ok, err := m.markOne(ctx, id, viewer, to)
		if err != nil {
			m.log.Warn("receipt skipped",
				"message_id", id,
				"viewer", viewer.ID,
				"status", string(to),
				"error", err)
			continue
		}
		if ok {
			applied = append(applied, id)
		}
	}
	return applied, nil
}

func (m *Machine) markOne(ctx context.Context, messageID string, viewer models.ObjectRef, to models.SeqStatus) (bool, error) {
	current, err := m.store.Sequences().GetSeqByMessageID(ctx, messageID)
	if err != nil {
		return false, err
	}
	if current.ObjectID != viewer.ID {
		return false, apperr.PermissionDenied("seq belongs to another viewer").WithSeq(current.SeqID, messageID)
	}
	if !current.SeqType.IsChat() {
		return false, apperr.InvalidArgument("receipts apply to chat messages only").WithSeq(current.SeqID, messageID)
	}
	if !models.CanTransition(current.Status, to) {
		return false, nil
	}

	ctrlType := receiptType(to)
	var units []dispatchUnit
	applied := false

	err = m.store.Transaction(ctx, func(tx store.Tx) error {
		seqs := tx.Sequences()
		v, err := seqs.LockSeqForUpdate(ctx, messageID)
		if err != nil {
			return err
		}
		if !models.CanTransition(v.Status, to) {
			return nil
		}
		n, err := seqs.UpdateSeqStatus(ctx, []string{messageID}, to)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		applied = true
		convType := m.conversationType(ctx, tx.Conversations(), v.ConversationID)
		// the author plus the viewer, until the receive list says otherwise
		members := 2

		if v.SenderMessageID != "" {
			sender, err := seqs.LockSeqForUpdate(ctx, v.SenderMessageID)
			if err != nil {
				return err
			}
			if sender.ReceiveList != nil {
				members = sender.ReceiveList.Len() + 1
			}
			if sender.ReceiveList != nil && sender.ReceiveList.Move(viewer.ID, to) {
				if err := seqs.UpdateReceiveList(ctx, sender.MessageID, sender.ReceiveList); err != nil {
					return err
				}
			}
			receipt := m.factory.NewControlSeq(sender.Owner(), ctrlType,
				receiptContent(to, sender.MessageID), sender.MessageID, sender.ConversationID)
			if err := seqs.CreateSequence(ctx, receipt); err != nil {
				return err
			}
			units = append(units, dispatchUnit{
				seqs:           []*models.Seq{receipt},
				convType:       m.conversationType(ctx, tx.Conversations(), sender.ConversationID),
				conversationID: sender.ConversationID,
				members:        members,
			})
		}

		// keeps the viewer's other devices in step
		syncSeq := m.factory.NewControlSeq(v.Owner(), ctrlType, receiptContent(to, v.MessageID), v.MessageID, v.ConversationID)
		syncSeq.Status = models.SeqStatusRead
		if err := seqs.CreateSequence(ctx, syncSeq); err != nil {
			return err
		}
		units = append(units, dispatchUnit{
			seqs:           []*models.Seq{syncSeq},
			convType:       convType,
			conversationID: v.ConversationID,
			members:        members,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		m.metrics.IncControl(string(ctrlType))
		m.publish(ctx, units)
	}
	return applied, nil
}

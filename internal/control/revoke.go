package control

import (
	"context"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

// Revoke withdraws a message from every viewer. referMessageID is the
// actor's own rendering; only the sender may revoke. Repeating a revoke is
// a no-op.
func (m *Machine) Revoke(ctx context.Context, referMessageID string, actor models.ObjectRef) error {
	if referMessageID == "" {
		return apperr.InvalidArgument("refer_message_id is required")
	}
	own, err := m.store.Sequences().GetSeqByMessageID(ctx, referMessageID)
	if err != nil {
		return err
	}
	if own.ObjectID != actor.ID || !own.IsSenderSide() {
		return apperr.PermissionDenied("only the sender can revoke a message").WithSeq(own.SeqID, referMessageID)
	}

	var unit *dispatchUnit
	err = lock.WithMutex(ctx, m.locks, "revoke:"+referMessageID, func(ctx context.Context) error {
		done, err := m.store.Sequences().ExistsControlSeq(ctx, actor.ID, models.MessageTypeRevokeMessage, referMessageID)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		return m.store.Transaction(ctx, func(tx store.Tx) error {
			seqs := tx.Sequences()
			renderings, err := seqs.ListByDelightfulMessageID(ctx, own.DelightfulMessageID)
			if err != nil {
				return err
			}
			ids := make([]string, len(renderings))
			for i, r := range renderings {
				ids[i] = r.MessageID
			}
			if _, err := seqs.UpdateSeqStatus(ctx, ids, models.SeqStatusRevoked); err != nil {
				return err
			}

			controls := make([]*models.Seq, 0, len(renderings))
			for _, r := range renderings {
				c := m.factory.NewControlSeq(r.Owner(), models.MessageTypeRevokeMessage,
					&models.RevokeMessageContent{ReferMessageID: r.MessageID}, r.MessageID, r.ConversationID)
				c.Status = models.SeqStatusRevoked
				controls = append(controls, c)
			}
			if err := seqs.BatchCreateSeq(ctx, controls); err != nil {
				return err
			}
			unit = &dispatchUnit{
				seqs:           controls,
				convType:       m.conversationType(ctx, tx.Conversations(), own.ConversationID),
				conversationID: own.ConversationID,
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	if unit != nil {
		m.metrics.IncControl(string(models.MessageTypeRevokeMessage))
		m.publish(ctx, []dispatchUnit{*unit})
	}
	return nil
}

package control

import (
	"context"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/lock"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

type EditRequest struct {
	// MessageID is the editor's own rendering of the message.
	MessageID   string
	Editor      models.ObjectRef
	MessageType models.MessageType
	Content     models.Content
}

// Edit appends a new version of a message and makes it current. The first
// edit also snapshots the original content as the initial version. Status
// is never touched; every rendering is marked edited and redelivered.
func (m *Machine) Edit(ctx context.Context, req EditRequest) (*models.MessageVersion, error) {
	if req.MessageID == "" {
		return nil, apperr.InvalidArgument("message_id is required")
	}
	if err := models.ValidateChatContent(req.MessageType, req.Content); err != nil {
		return nil, err
	}
	own, err := m.store.Sequences().GetSeqByMessageID(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if own.ObjectID != req.Editor.ID {
		return nil, apperr.PermissionDenied("seq belongs to another viewer").WithSeq(own.SeqID, req.MessageID)
	}
	if own.DelightfulMessageID == "" {
		return nil, apperr.InvalidArgument("only chat messages can be edited").WithSeq(own.SeqID, req.MessageID)
	}
	if own.Status == models.SeqStatusRevoked {
		return nil, apperr.InvalidArgument("message was revoked").WithSeq(own.SeqID, req.MessageID)
	}

	dm := own.DelightfulMessageID
	var (
		version    *models.MessageVersion
		renderings []*models.Seq
		receive    models.ConversationType
	)
	err = lock.WithMutex(ctx, m.locks, "edit:"+dm, func(ctx context.Context) error {
		msg, err := m.messages.GetByDelightfulMessageID(ctx, dm)
		if err != nil {
			return err
		}
		if msg.SenderID != req.Editor.ID {
			return apperr.PermissionDenied("only the sender can edit a message").WithMessage(dm)
		}
		receive = msg.ReceiveType

		versions, err := m.messages.ListVersions(ctx, dm)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			original := &models.MessageVersion{
				DelightfulMessageID: dm,
				VersionID:           m.ids.NextString(),
				MessageType:         msg.MessageType,
				Content:             msg.Content,
				CreatedAt:           msg.SendTime,
			}
			if original.CreatedAt.IsZero() {
				original.CreatedAt = m.now()
			}
			if err := m.messages.CreateVersion(ctx, original); err != nil {
				return err
			}
		}

		version = &models.MessageVersion{
			DelightfulMessageID: dm,
			VersionID:           m.ids.NextString(),
			MessageType:         req.MessageType,
			Content:             req.Content,
			CreatedAt:           m.now(),
		}
		if err := m.messages.CreateVersion(ctx, version); err != nil {
			return err
		}
		if err := m.messages.UpdateContentAndVersion(ctx, dm, req.MessageType, req.Content, version.VersionID); err != nil {
			return err
		}

		return m.store.Transaction(ctx, func(tx store.Tx) error {
			var err error
			renderings, err = tx.Sequences().ListByDelightfulMessageID(ctx, dm)
			if err != nil {
				return err
			}
			marker := &models.EditOptions{MessageVersionID: version.VersionID, EditedAt: version.CreatedAt}
			for _, r := range renderings {
				extra := r.Extra
				extra.EditOptions = marker
				if err := tx.Sequences().UpdateSeqExtra(ctx, []string{r.MessageID}, extra); err != nil {
					return err
				}
				r.Extra = extra
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	live := renderings[:0]
	for _, r := range renderings {
		if r.Status != models.SeqStatusRevoked {
			live = append(live, r)
		}
	}
	m.metrics.IncControl("edit_message")
	m.publish(ctx, []dispatchUnit{{seqs: live, convType: receive, conversationID: own.ConversationID}})
	return version, nil
}

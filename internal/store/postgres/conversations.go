package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/idgen"
	"github.com/saashqdev/delightful-im/internal/models"
)

const convColumns = `id, user_id, user_type, user_organization_code, receive_id, receive_type,
	receive_organization_code, is_hidden, created_at, updated_at`

type convRepo struct {
	q   querier
	ids idgen.Generator
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c                     models.Conversation
		userType, receiveType string
	)
	if err := row.Scan(&c.ID, &c.UserID, &userType, &c.UserOrganizationCode, &c.ReceiveID, &receiveType,
		&c.ReceiveOrganizationCode, &c.IsHidden, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.UserType = models.ObjectType(userType)
	c.ReceiveType = models.ConversationType(receiveType)
	return &c, nil
}

func (r *convRepo) GetOrCreate(ctx context.Context, owner, peer models.ObjectRef, convType models.ConversationType) (*models.Conversation, error) {
	_, err := r.q.ExecContext(ctx, `INSERT INTO delightful_conversation
		(id, user_id, user_type, user_organization_code, receive_id, receive_type, receive_organization_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, receive_id, receive_type) DO NOTHING`,
		r.ids.NextString(), owner.ID, string(owner.Type), owner.OrganizationCode,
		peer.ID, string(convType), peer.OrganizationCode)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	c, err := scanConversation(r.q.QueryRowContext(ctx, `SELECT `+convColumns+` FROM delightful_conversation
		WHERE user_id = $1 AND receive_id = $2 AND receive_type = $3`, owner.ID, peer.ID, string(convType)))
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return c, nil
}

func (r *convRepo) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	c, err := scanConversation(r.q.QueryRowContext(ctx, `SELECT `+convColumns+` FROM delightful_conversation WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("conversation not found").WithConversation(id)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return c, nil
}

func (r *convRepo) Unhide(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE delightful_conversation SET is_hidden = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_hidden`, id)
	if err != nil {
		return fmt.Errorf("unhide conversation: %w", err)
	}
	return nil
}

func (r *convRepo) ListGroupMemberIDs(ctx context.Context, groupID, excludeID string) ([]models.ObjectRef, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT user_id, user_type, organization_code FROM delightful_group_member
		WHERE group_id = $1 AND user_id <> $2 ORDER BY joined_at, user_id`, groupID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	var out []models.ObjectRef
	for rows.Next() {
		var (
			m models.ObjectRef
			t string
		)
		if err := rows.Scan(&m.ID, &t, &m.OrganizationCode); err != nil {
			return nil, err
		}
		m.Type = models.ObjectType(t)
		out = append(out, m)
	}
	return out, rows.Err()
}

// AddGroupMembers registers members of groupID. Existing members are kept.
func (s *Store) AddGroupMembers(ctx context.Context, groupID string, members ...models.ObjectRef) error {
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO delightful_group_member
			(group_id, user_id, user_type, organization_code) VALUES ($1, $2, $3, $4)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			groupID, m.ID, string(m.Type), m.OrganizationCode); err != nil {
			return fmt.Errorf("add group member %s: %w", m.ID, err)
		}
	}
	return nil
}

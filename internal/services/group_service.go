package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/store"
)

// slugify generates a URL-friendly slug from a group name.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, s)
	s = strings.Trim(s, "-")
	if s == "" {
		s = "group"
	}
	return s
}

// NewGroupID derives a readable, unique group id from a display name.
func NewGroupID(name string) string {
	return slugify(name) + "-" + uuid.NewString()[:8]
}

type GroupService struct {
	dir           store.GroupDirectory
	conversations store.ConversationStore
	log           *slog.Logger
}

func NewGroupService(dir store.GroupDirectory, conversations store.ConversationStore, log *slog.Logger) *GroupService {
	return &GroupService{dir: dir, conversations: conversations, log: logger.Or(log).With("component", "groups")}
}

// CreateGroup registers a group owned by creator with the given members and
// returns its id.
func (g *GroupService) CreateGroup(ctx context.Context, name string, creator models.ObjectRef, members []models.ObjectRef) (string, error) {
	if creator.ID == "" {
		return "", apperr.InvalidArgument("creator is required")
	}
	id := NewGroupID(name)
	all := append([]models.ObjectRef{creator}, members...)
	if err := g.dir.AddGroupMembers(ctx, id, all...); err != nil {
		return "", err
	}
	g.log.Info("group created", "group_id", id, "members", len(all))
	return id, nil
}

// AddMembers lets an existing member bring others into groupID.
func (g *GroupService) AddMembers(ctx context.Context, groupID string, actor models.ObjectRef, members []models.ObjectRef) error {
	if len(members) == 0 {
		return apperr.InvalidArgument("members are required")
	}
	ok, err := IsGroupMember(ctx, g.conversations, groupID, actor.ID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.PermissionDenied("not a member of group %s", groupID)
	}
	return g.dir.AddGroupMembers(ctx, groupID, members...)
}

// IsGroupMember reports whether userID may send to groupID.
func IsGroupMember(ctx context.Context, conversations store.ConversationStore, groupID, userID string) (bool, error) {
	members, err := conversations.ListGroupMemberIDs(ctx, groupID, "")
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

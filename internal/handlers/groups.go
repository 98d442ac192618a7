package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/services"
)

type GroupHandler struct {
	groups *services.GroupService
	log    *slog.Logger
}

func NewGroupHandler(groups *services.GroupService, log *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, log: logger.Or(log).With("component", "http.groups")}
}

type CreateGroupRequest struct {
	Name    string             `json:"name"`
	Members []models.ObjectRef `json:"members"`
}

type AddMembersRequest struct {
	Members []models.ObjectRef `json:"members"`
}

func normalizeMembers(in []models.ObjectRef, org string) ([]models.ObjectRef, error) {
	out := make([]models.ObjectRef, 0, len(in))
	for i, m := range in {
		if m.ID == "" {
			return nil, apperr.InvalidArgument("members[%d] has no id", i)
		}
		if m.Type == "" {
			m.Type = models.ObjectTypeUser
		}
		if m.Type != models.ObjectTypeUser && m.Type != models.ObjectTypeAi {
			return nil, apperr.InvalidArgument("members[%d] has invalid type %q", i, m.Type)
		}
		if m.OrganizationCode == "" {
			m.OrganizationCode = org
		}
		out = append(out, m)
	}
	return out, nil
}

// Create handles POST /api/v1/groups.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	creator, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req CreateGroupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	members, err := normalizeMembers(req.Members, creator.OrganizationCode)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	id, err := h.groups.CreateGroup(r.Context(), req.Name, creator, members)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "group_id": id})
}

// AddMembers handles POST /api/v1/groups/{groupID}/members.
func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req AddMembersRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	members, err := normalizeMembers(req.Members, actor.OrganizationCode)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.groups.AddMembers(r.Context(), chi.URLParam(r, "groupID"), actor, members); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

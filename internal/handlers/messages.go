package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/control"
	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/middleware"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/services"
)

// MessageHandler exposes ChatService over HTTP. The caller is always the
// identity set by middleware.Identity.
type MessageHandler struct {
	chat *services.ChatService
	log  *slog.Logger
}

func NewMessageHandler(chat *services.ChatService, log *slog.Logger) *MessageHandler {
	return &MessageHandler{chat: chat, log: logger.Or(log).With("component", "http.messages")}
}

type SendMessageRequest struct {
	AppMessageID            string                  `json:"app_message_id"`
	ReceiveID               string                  `json:"receive_id"`
	ReceiveType             models.ConversationType `json:"receive_type"`
	ReceiveOrganizationCode string                  `json:"receive_organization_code,omitempty"`
	MessageType             models.MessageType      `json:"message_type"`
	Content                 json.RawMessage         `json:"content"`
	ReferMessageID          string                  `json:"refer_message_id,omitempty"`
	TopicID                 string                  `json:"topic_id,omitempty"`
}

func (req *SendMessageRequest) draft(sender models.ObjectRef) (*models.MessageDraft, error) {
	content, err := models.DecodeContent(req.MessageType, req.Content)
	if err != nil {
		return nil, err
	}
	org := req.ReceiveOrganizationCode
	if org == "" {
		org = sender.OrganizationCode
	}
	return &models.MessageDraft{
		Sender:                  sender,
		ReceiveID:               req.ReceiveID,
		ReceiveType:             req.ReceiveType,
		ReceiveOrganizationCode: org,
		MessageType:             req.MessageType,
		Content:                 content,
		ReferMessageID:          req.ReferMessageID,
		TopicID:                 req.TopicID,
	}, nil
}

type StreamMessageRequest struct {
	SendMessageRequest
	Status models.StreamStatus `json:"status"`
	Fields map[string]any      `json:"fields,omitempty"`
}

type MessageIDsRequest struct {
	MessageIDs []string `json:"message_ids"`
}

type RevokeRequest struct {
	MessageID string `json:"message_id"`
}

type EditMessageRequest struct {
	MessageID   string             `json:"message_id"`
	MessageType models.MessageType `json:"message_type"`
	Content     json.RawMessage    `json:"content"`
}

func caller(r *http.Request) (models.ObjectRef, error) {
	ref, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		return models.ObjectRef{}, apperr.PermissionDenied("no caller identity")
	}
	return ref, nil
}

// Send handles POST /api/v1/messages.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	sender, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	draft, err := req.draft(sender)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	view, err := h.chat.SendMessage(r.Context(), draft, req.AppMessageID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "seq": view})
}

// Stream handles POST /api/v1/messages/stream.
func (h *MessageHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sender, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req StreamMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}

	sreq := services.StreamRequest{Caller: sender, AppMessageID: req.AppMessageID, Fields: req.Fields, Status: req.Status}
	if req.Status == models.StreamStatusStart {
		if sreq.Draft, err = req.draft(sender); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	view, err := h.chat.StreamSend(r.Context(), sreq)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	body := map[string]interface{}{"success": true}
	if view != nil {
		body["seq"] = view
	}
	writeJSON(w, http.StatusOK, body)
}

// Sent handles GET /api/v1/messages/sent?app_message_id=...&types=text,markdown.
func (h *MessageHandler) Sent(w http.ResponseWriter, r *http.Request) {
	sender, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	q := r.URL.Query()
	var types []models.MessageType
	for _, t := range strings.Split(q.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, models.MessageType(t))
		}
	}
	sent, err := h.chat.IsAlreadySent(r.Context(), sender.ID, q.Get("app_message_id"), types...)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": sent})
}

// Seen handles POST /api/v1/messages/seen.
func (h *MessageHandler) Seen(w http.ResponseWriter, r *http.Request) {
	h.receipt(w, r, h.chat.MarkSeen)
}

// Read handles POST /api/v1/messages/read.
func (h *MessageHandler) Read(w http.ResponseWriter, r *http.Request) {
	h.receipt(w, r, h.chat.MarkRead)
}

func (h *MessageHandler) receipt(w http.ResponseWriter, r *http.Request, mark func(context.Context, models.ObjectRef, []string) ([]string, error)) {
	viewer, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req MessageIDsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	applied, err := mark(r.Context(), viewer, req.MessageIDs)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if applied == nil {
		applied = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "applied": applied})
}

// Revoke handles POST /api/v1/messages/revoke.
func (h *MessageHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	actor, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req RevokeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.chat.Revoke(r.Context(), actor, req.MessageID); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Edit handles POST /api/v1/messages/edit.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	editor, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	var req EditMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	content, err := models.DecodeContent(req.MessageType, req.Content)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	version, err := h.chat.Edit(r.Context(), control.EditRequest{
		MessageID:   req.MessageID,
		Editor:      editor,
		MessageType: req.MessageType,
		Content:     content,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"version_id": version.VersionID,
	})
}

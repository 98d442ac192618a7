package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saashqdev/delightful-im/internal/logger"
	"github.com/saashqdev/delightful-im/internal/middleware"
	"github.com/saashqdev/delightful-im/internal/models"
	"github.com/saashqdev/delightful-im/internal/services"
	"github.com/saashqdev/delightful-im/internal/transport"
)

const (
	wsReadLimit    = 64 * 1024
	wsReadDeadline = 90 * time.Second
)

// ClientMessage is what devices send over the websocket.
type ClientMessage struct {
	Type       string   `json:"type"` // "ping", "seen", "read"
	MessageIDs []string `json:"message_ids,omitempty"`
}

// WebSocketHandler attaches devices to the hub. Seqs for the user arrive on
// the socket as they are dispatched; a reconnecting device catches up by seq
// id through the regular APIs.
type WebSocketHandler struct {
	hub      *transport.Hub
	chat     *services.ChatService
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWebSocketHandler(hub *transport.Hub, chat *services.ChatService, allowedOrigins []string, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:  hub,
		chat: chat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.AllowedOrigin(r.Header.Get("Origin"), allowedOrigins)
			},
		},
		log: logger.Or(log).With("component", "http.ws"),
	}
}

// ServeHTTP handles GET /ws.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		return
	}

	client := h.hub.Register(user.ID, conn)
	defer h.hub.Unregister(client)
	h.log.Debug("device connected", "user_id", user.ID, "conn_id", client.ID)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug("device disconnected", "user_id", user.ID, "conn_id", client.ID, "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.handle(r, client, user, msg)
	}
}

func (h *WebSocketHandler) handle(r *http.Request, client *transport.Client, user models.ObjectRef, msg ClientMessage) {
	var (
		event string
		data  interface{}
	)
	switch msg.Type {
	case "ping":
		event, data = transport.EventPong, map[string]interface{}{}
	case "seen", "read":
		mark := h.chat.MarkSeen
		if msg.Type == "read" {
			mark = h.chat.MarkRead
		}
		applied, err := mark(r.Context(), user, msg.MessageIDs)
		if err != nil {
			event, data = transport.EventError, map[string]interface{}{"type": msg.Type, "message": err.Error()}
			break
		}
		event, data = transport.EventAck, map[string]interface{}{"type": msg.Type, "applied": applied}
	default:
		return
	}

	payload, err := transport.EncodeEvent(event, data)
	if err != nil {
		return
	}
	h.hub.Send(client, payload)
}

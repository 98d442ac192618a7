package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/saashqdev/delightful-im/internal/logger"
)

// Conn is the minimal interface our WebSocket implementation must satisfy.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// textMessage mirrors websocket.TextMessage so Conn fakes need no import.
const textMessage = 1

const sendBuffer = 64

// Client is one device connection of a user.
type Client struct {
	ID     string
	UserID string

	conn Conn
	send chan []byte
	once sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub is the local registry of device connections, keyed by user id.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Client
	log         *slog.Logger
}

var _ Sink = (*Hub)(nil)

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]map[string]*Client),
		log:         logger.Or(log).With("component", "transport.hub"),
	}
}

// Register adds a device for userID and starts its writer. The writer ends
// when the client is unregistered or a write fails.
func (h *Hub) Register(userID string, conn Conn) *Client {
	c := &Client{ID: uuid.NewString(), UserID: userID, conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	devices, ok := h.connections[userID]
	if !ok {
		devices = make(map[string]*Client)
		h.connections[userID] = devices
	}
	devices[c.ID] = c
	h.mu.Unlock()

	go h.writePump(c)
	return c
}

func (h *Hub) writePump(c *Client) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(textMessage, msg); err != nil {
			h.log.Debug("websocket write failed", "user_id", c.UserID, "conn_id", c.ID, "error", err)
			h.Unregister(c)
			// drain so Deliver never blocks on a dead client
			for range c.send {
			}
			return
		}
	}
}

// Unregister removes a device and stops its writer.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if devices, ok := h.connections[c.UserID]; ok {
		if _, ok := devices[c.ID]; ok {
			delete(devices, c.ID)
			if len(devices) == 0 {
				delete(h.connections, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	c.close()
}

// Deliver fans payload out to every local device of userID and returns how
// many accepted it. Slow devices whose buffer is full are disconnected.
func (h *Hub) Deliver(userID string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.connections[userID]))
	for _, c := range h.connections[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if h.trySend(c, payload) {
			delivered++
			continue
		}
		h.log.Warn("dropping slow websocket client", "user_id", userID, "conn_id", c.ID)
		h.Unregister(c)
	}
	return delivered
}

func (h *Hub) trySend(c *Client, payload []byte) (ok bool) {
	// send on a client closed by a concurrent Unregister
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) PushToRecipient(ctx context.Context, objectID string, payload []byte) error {
	h.Deliver(objectID, payload)
	return nil
}

// Devices returns the number of connected devices for userID.
func (h *Hub) Devices(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID])
}

// ConnectionCount returns the number of connected devices.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, devices := range h.connections {
		n += len(devices)
	}
	return n
}

// Send queues payload for one device only, as replies to that device's own
// requests. It reports false when the device is gone or backed up.
func (h *Hub) Send(c *Client, payload []byte) bool {
	return h.trySend(c, payload)
}

// Package transport pushes rendered Seqs to connected client devices.
package transport

import (
	"context"
	"encoding/json"
	"time"
)

// Sink delivers a payload to every online device of one recipient. An
// offline recipient is not an error; clients catch up by seq id on reconnect.
type Sink interface {
	PushToRecipient(ctx context.Context, objectID string, payload []byte) error
}

// Event types sent to clients.
const (
	EventSeq            = "seq"
	EventStreamFragment = "stream_fragment"
	EventPong           = "pong"
	EventAck            = "ack"
	EventError          = "error"
)

// Event is the envelope written to websocket clients.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// EncodeEvent wraps v in an Event envelope.
func EncodeEvent(eventType string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
}

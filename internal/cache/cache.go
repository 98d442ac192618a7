// Package cache holds short-lived state shared by the engines: in-flight
// stream messages and the side-effect ledger.
package cache

import (
	"context"
	"time"

	"github.com/saashqdev/delightful-im/internal/models"
)

// StreamEntry accumulates one streamed message between its start and
// completion.
type StreamEntry struct {
	AppMessageID        string                  `json:"app_message_id"`
	DelightfulMessageID string                  `json:"delightful_message_id"`
	SenderMessageID     string                  `json:"sender_message_id"`
	SenderID            string                  `json:"sender_id"`
	ConversationID      string                  `json:"conversation_id"`
	ReceiveType         models.ConversationType `json:"receive_type"`
	MessageType         models.MessageType      `json:"message_type"`
	Fields              map[string]any          `json:"fields"`
	Recipients          []string                `json:"recipients"`
	LastFlushAt         time.Time               `json:"last_flush_at"`
	Flushes             int                     `json:"flushes"`
}

// StreamCache stores StreamEntries by app message id. Get reports a miss
// with found=false rather than an error.
type StreamCache interface {
	Get(ctx context.Context, key string) (entry *StreamEntry, found bool, err error)
	Set(ctx context.Context, key string, entry *StreamEntry) error
	Delete(ctx context.Context, key string) error
}

// Ledger remembers which side effects already ran.
type Ledger interface {
	// Mark records key and reports whether this call was the first to do so.
	Mark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

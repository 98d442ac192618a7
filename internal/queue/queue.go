// Package queue carries dispatch units between the publishing request path
// and the per-priority consumers.
package queue

import (
	"context"
	"errors"
)

var (
	ErrQueueFull   = errors.New("message queue full")
	ErrQueueClosed = errors.New("message queue closed")
)

// Delivery is one consumed queue message. Handlers call Ack once they are
// done with it; unacked deliveries may be handed out again.
type Delivery struct {
	Topic   string
	ID      string
	Payload []byte

	ack func(ctx context.Context) error
}

// NewDelivery builds a Delivery whose Ack runs ack. A nil ack makes Ack a no-op.
func NewDelivery(topic, id string, payload []byte, ack func(ctx context.Context) error) Delivery {
	return Delivery{Topic: topic, ID: id, Payload: payload, ack: ack}
}

func (d Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// MessageQueue is a topic based at-least-once queue. Consumers of the same
// topic compete for messages.
type MessageQueue interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Consume(ctx context.Context, topic string) (<-chan Delivery, error)
	Close() error
}

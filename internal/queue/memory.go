package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryQueue is a bounded in-process queue. Publish never blocks: a full
// topic returns ErrQueueFull so the caller sees back-pressure at once.
type MemoryQueue struct {
	mu       sync.Mutex
	capacity int
	topics   map[string]chan Delivery
	closed   bool

	published uint64
	dropped   uint64
}

var _ MessageQueue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding up to capacity messages per topic.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		panic("queue.NewMemoryQueue: capacity must be > 0")
	}
	return &MemoryQueue{capacity: capacity, topics: make(map[string]chan Delivery)}
}

func (q *MemoryQueue) topic(name string) chan Delivery {
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan Delivery, q.capacity)
		q.topics[name] = ch
	}
	return ch
}

func (q *MemoryQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	n := atomic.AddUint64(&q.published, 1)
	d := NewDelivery(topic, strconv.FormatUint(n, 10), append([]byte(nil), payload...), nil)
	select {
	case q.topic(topic) <- d:
		return nil
	default:
		atomic.AddUint64(&q.dropped, 1)
		return ErrQueueFull
	}
}

// Consume returns the topic channel. It is closed by Close.
func (q *MemoryQueue) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	return q.topic(topic), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for _, ch := range q.topics {
		close(ch)
	}
	return nil
}

// Len returns the number of messages waiting on topic.
func (q *MemoryQueue) Len(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.topics[topic]; ok {
		return len(ch)
	}
	return 0
}

// Cap returns the per-topic capacity.
func (q *MemoryQueue) Cap() int { return q.capacity }

// Dropped returns how many publishes were rejected as full.
func (q *MemoryQueue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }

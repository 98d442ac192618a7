package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saashqdev/delightful-im/internal/logger"
)

// RedisQueue maps topics onto redis streams read through one consumer group.
type RedisQueue struct {
	client   *redis.Client
	group    string
	consumer string
	block    time.Duration
	maxLen   int64
	// entries idle this long in another consumer's pending list are claimed
	claimIdle  time.Duration
	claimEvery time.Duration
	log        *slog.Logger
}

var _ MessageQueue = (*RedisQueue)(nil)

type RedisOptions struct {
	Group    string
	Consumer string
	Block    time.Duration
	// MaxLen caps each stream approximately; 0 keeps everything.
	MaxLen int64
	// ClaimIdle is how long an entry must sit unacked in another consumer's
	// pending list before this consumer takes it over.
	ClaimIdle time.Duration
	// ClaimEvery is the pause between sweeps for such entries.
	ClaimEvery time.Duration
}

func NewRedisQueue(client *redis.Client, opts RedisOptions, log *slog.Logger) *RedisQueue {
	if opts.Group == "" {
		opts.Group = "delightful-dispatch"
	}
	if opts.Consumer == "" {
		opts.Consumer = "consumer-1"
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = time.Minute
	}
	if opts.ClaimEvery <= 0 {
		opts.ClaimEvery = 30 * time.Second
	}
	return &RedisQueue{
		client:     client,
		group:      opts.Group,
		consumer:   opts.Consumer,
		block:      opts.Block,
		maxLen:     opts.MaxLen,
		claimIdle:  opts.ClaimIdle,
		claimEvery: opts.ClaimEvery,
		log:        logger.Or(log).With("component", "queue.redis"),
	}
}

func (q *RedisQueue) Publish(ctx context.Context, topic string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"payload": payload},
	}
	if q.maxLen > 0 {
		args.MaxLen = q.maxLen
		args.Approx = true
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context, topic string) error {
	err := q.client.XGroupCreateMkStream(ctx, topic, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group on %s: %w", topic, err)
	}
	return nil
}

// Consume first replays this consumer's pending entries, which were handed
// out before a restart but never acked, then reads new ones. Every
// claimEvery it also takes over entries that other consumers left pending
// for longer than claimIdle, e.g. because their process died.
func (q *RedisQueue) Consume(ctx context.Context, topic string) (<-chan Delivery, error) {
	if err := q.ensureGroup(ctx, topic); err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		start := "0"
		var lastClaim time.Time
		for {
			if ctx.Err() != nil {
				return
			}
			if start == ">" && time.Since(lastClaim) >= q.claimEvery {
				lastClaim = time.Now()
				if !q.claim(ctx, topic, out) {
					return
				}
			}
			args := &redis.XReadGroupArgs{
				Group:    q.group,
				Consumer: q.consumer,
				Streams:  []string{topic, start},
				Count:    32,
				Block:    q.block,
			}
			if start == "0" {
				// the whole pending list in one pass
				args.Count = 0
			}
			streams, err := q.client.XReadGroup(ctx, args).Result()
			if errors.Is(err, redis.Nil) {
				start = ">"
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.log.Warn("xreadgroup failed", "topic", topic, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					d := q.delivery(topic, msg)
					select {
					case out <- d:
					case <-ctx.Done():
						return
					}
				}
			}
			start = ">"
		}
	}()
	return out, nil
}

// claim moves stale pending entries of topic to this consumer and hands
// them out. It returns false once ctx is done.
func (q *RedisQueue) claim(ctx context.Context, topic string, out chan<- Delivery) bool {
	cursor := "0-0"
	for {
		msgs, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.claimIdle,
			Start:    cursor,
			Count:    32,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			q.log.Warn("xautoclaim failed", "topic", topic, "error", err)
			return true
		}
		if len(msgs) > 0 {
			q.log.Info("claimed stale deliveries", "topic", topic, "count", len(msgs))
		}
		for _, msg := range msgs {
			select {
			case out <- q.delivery(topic, msg):
			case <-ctx.Done():
				return false
			}
		}
		if next == "0-0" || next == "" {
			return true
		}
		cursor = next
	}
}

func (q *RedisQueue) delivery(topic string, msg redis.XMessage) Delivery {
	var payload []byte
	switch v := msg.Values["payload"].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	}
	id := msg.ID
	return NewDelivery(topic, id, payload, func(ctx context.Context) error {
		return q.client.XAck(ctx, topic, q.group, id).Err()
	})
}

// Close is a no-op; the redis client is owned by the database package.
func (q *RedisQueue) Close() error { return nil }

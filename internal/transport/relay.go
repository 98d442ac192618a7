package transport

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saashqdev/delightful-im/internal/logger"
)

const relayChannelPrefix = "delightful:push:"

// RedisRelay makes a push reach devices connected to any instance: it
// publishes on a per-recipient channel and every instance fans received
// payloads out to its local Hub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	log     *slog.Logger
	started sync.Once
}

var _ Sink = (*RedisRelay)(nil)

func NewRedisRelay(client *redis.Client, hub *Hub, log *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, hub: hub, log: logger.Or(log).With("component", "transport.relay")}
}

func (r *RedisRelay) PushToRecipient(ctx context.Context, objectID string, payload []byte) error {
	return r.client.Publish(ctx, relayChannelPrefix+objectID, payload).Err()
}

// Start ensures a single shared Redis listener per instance.
func (r *RedisRelay) Start(ctx context.Context) {
	r.started.Do(func() {
		go r.run(ctx)
	})
}

func (r *RedisRelay) run(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
			defer pubsub.Close()

			r.log.Info("push relay subscribed", "pattern", relayChannelPrefix+"*")

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					r.log.Warn("push relay receive failed", "error", err, "backoff", backoff)
					select {
					case <-ctx.Done():
					case <-time.After(backoff):
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second
				userID := strings.TrimPrefix(msg.Channel, relayChannelPrefix)
				r.hub.Deliver(userID, []byte(msg.Payload))
			}
		}()
	}
}

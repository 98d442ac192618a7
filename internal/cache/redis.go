package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamKeyPrefix is the Redis key prefix for in-flight stream messages
	StreamKeyPrefix = "delightful:stream:"
	// LedgerKeyPrefix is the Redis key prefix for side-effect markers
	LedgerKeyPrefix = "delightful:ledger:"
)

// RedisStreamCache shares stream state between processes so a stream can
// continue on another node or after a restart.
type RedisStreamCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ StreamCache = (*RedisStreamCache)(nil)

func NewRedisStreamCache(client *redis.Client, ttl time.Duration) *RedisStreamCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStreamCache{client: client, ttl: ttl}
}

func (c *RedisStreamCache) Get(ctx context.Context, key string) (*StreamEntry, bool, error) {
	val, err := c.client.Get(ctx, StreamKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e StreamEntry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (c *RedisStreamCache) Set(ctx context.Context, key string, entry *StreamEntry) error {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, StreamKeyPrefix+key, jsonData, c.ttl).Err()
}

func (c *RedisStreamCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, StreamKeyPrefix+key).Err()
}

type RedisLedger struct {
	client *redis.Client
}

var _ Ledger = (*RedisLedger)(nil)

func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client}
}

func (l *RedisLedger) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, LedgerKeyPrefix+key, 1, ttl).Result()
}

func (l *RedisLedger) Exists(ctx context.Context, key string) (bool, error) {
	count, err := l.client.Exists(ctx, LedgerKeyPrefix+key).Result()
	return count > 0, err
}

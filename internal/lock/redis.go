package lock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "delightful:lock:"

// releaseScript deletes the key only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLock struct {
	client *redis.Client
	opts   Options
}

var _ DistributedLock = (*RedisLock)(nil)

func NewRedisLock(client *redis.Client, opts Options) *RedisLock {
	return &RedisLock{client: client, opts: opts.withDefaults()}
}

func (l *RedisLock) try(key, owner string) tryFunc {
	return func(ctx context.Context) (bool, error) {
		return l.client.SetNX(ctx, keyPrefix+key, owner, l.opts.TTL).Result()
	}
}

func (l *RedisLock) SpinLock(ctx context.Context, key, owner string) error {
	return spin(ctx, key, l.opts.SpinWait, l.try(key, owner))
}

func (l *RedisLock) MutexLock(ctx context.Context, key, owner string) error {
	return backoff(ctx, key, l.opts.MutexWait, l.try(key, owner))
}

func (l *RedisLock) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{keyPrefix + key}, owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

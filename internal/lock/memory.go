package lock

import (
	"context"
	"sync"
	"time"
)

type heldLock struct {
	owner   string
	expires time.Time
}

// MemoryLock is a single-process DistributedLock with the same TTL
// semantics as the redis adapter.
type MemoryLock struct {
	mu    sync.Mutex
	held  map[string]heldLock
	opts  Options
	nowFn func() time.Time
}

var _ DistributedLock = (*MemoryLock)(nil)

func NewMemoryLock(opts Options) *MemoryLock {
	return &MemoryLock{held: make(map[string]heldLock), opts: opts.withDefaults(), nowFn: time.Now}
}

func (l *MemoryLock) try(key, owner string) tryFunc {
	return func(ctx context.Context) (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		now := l.nowFn()
		if h, ok := l.held[key]; ok && now.Before(h.expires) {
			return false, nil
		}
		l.held[key] = heldLock{owner: owner, expires: now.Add(l.opts.TTL)}
		return true, nil
	}
}

func (l *MemoryLock) SpinLock(ctx context.Context, key, owner string) error {
	return spin(ctx, key, l.opts.SpinWait, l.try(key, owner))
}

func (l *MemoryLock) MutexLock(ctx context.Context, key, owner string) error {
	return backoff(ctx, key, l.opts.MutexWait, l.try(key, owner))
}

func (l *MemoryLock) Release(ctx context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[key]; ok && h.owner == owner {
		delete(l.held, key)
	}
	return nil
}

// Held reports whether key is currently locked.
func (l *MemoryLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.held[key]
	return ok && l.nowFn().Before(h.expires)
}

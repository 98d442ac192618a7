package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryItem struct {
	raw     []byte
	expires time.Time
	stored  time.Time
}

// MemoryStreamCache bounds entries by TTL and count. A janitor goroutine
// sweeps expired entries until Close.
type MemoryStreamCache struct {
	mu         sync.Mutex
	items      map[string]memoryItem
	ttl        time.Duration
	maxEntries int
	nowFn      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

var _ StreamCache = (*MemoryStreamCache)(nil)

func NewMemoryStreamCache(ttl time.Duration, maxEntries int, sweepEvery time.Duration) *MemoryStreamCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c := &MemoryStreamCache{
		items:      make(map[string]memoryItem),
		ttl:        ttl,
		maxEntries: maxEntries,
		nowFn:      time.Now,
		stop:       make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.janitor(sweepEvery)
	}
	return c
}

func (c *MemoryStreamCache) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// Sweep drops expired entries.
func (c *MemoryStreamCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	for k, it := range c.items {
		if !now.Before(it.expires) {
			delete(c.items, k)
		}
	}
}

// Entries are stored serialized so cached state is never aliased by callers.
func (c *MemoryStreamCache) Get(ctx context.Context, key string) (*StreamEntry, bool, error) {
	c.mu.Lock()
	it, ok := c.items[key]
	if ok && !c.nowFn().Before(it.expires) {
		delete(c.items, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	var e StreamEntry
	if err := json.Unmarshal(it.raw, &e); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (c *MemoryStreamCache) Set(ctx context.Context, key string, entry *StreamEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxEntries {
		c.evictOldest()
	}
	c.items[key] = memoryItem{raw: raw, expires: now.Add(c.ttl), stored: now}
	return nil
}

func (c *MemoryStreamCache) evictOldest() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, it := range c.items {
		if oldestKey == "" || it.stored.Before(oldest) {
			oldestKey, oldest = k, it.stored
		}
	}
	delete(c.items, oldestKey)
}

func (c *MemoryStreamCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryStreamCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryStreamCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// MemoryLedger is a Ledger for single-process runs.
type MemoryLedger struct {
	mu    sync.Mutex
	keys  map[string]time.Time
	nowFn func() time.Time
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{keys: make(map[string]time.Time), nowFn: time.Now}
}

func (l *MemoryLedger) Mark(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if exp, ok := l.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.keys[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLedger) Exists(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.keys[key]
	return ok && l.nowFn().Before(exp), nil
}

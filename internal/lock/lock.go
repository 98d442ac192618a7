// Package lock provides the short spin locks and longer mutex locks that
// serialize work on one message across processes.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/saashqdev/delightful-im/internal/apperr"
	"github.com/saashqdev/delightful-im/internal/logger"
)

// ErrNotAcquired is wrapped by the LockTimeout returned when the wait budget runs out.
var ErrNotAcquired = errors.New("lock held by another owner")

// DistributedLock is a keyed lock whose holder is identified by owner.
// Release only deletes the key when owner still holds it.
type DistributedLock interface {
	SpinLock(ctx context.Context, key, owner string) error
	MutexLock(ctx context.Context, key, owner string) error
	Release(ctx context.Context, key, owner string) error
}

// Options bound how long a lock lives and how long callers wait for it.
type Options struct {
	TTL       time.Duration
	SpinWait  time.Duration
	MutexWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.SpinWait <= 0 {
		o.SpinWait = 3 * time.Second
	}
	if o.MutexWait <= 0 {
		o.MutexWait = 10 * time.Second
	}
	return o
}

const (
	spinInterval    = 5 * time.Millisecond
	mutexMinBackoff = 10 * time.Millisecond
	mutexMaxBackoff = 200 * time.Millisecond
)

// tryFunc makes one acquisition attempt.
type tryFunc func(ctx context.Context) (bool, error)

// spin retries try at a fixed short interval until wait elapses.
func spin(ctx context.Context, key string, wait time.Duration, try tryFunc) error {
	return acquire(ctx, key, wait, try, func(time.Duration) time.Duration { return spinInterval }, spinInterval)
}

// backoff retries try with doubling delays capped at mutexMaxBackoff.
func backoff(ctx context.Context, key string, wait time.Duration, try tryFunc) error {
	return acquire(ctx, key, wait, try, func(d time.Duration) time.Duration {
		d *= 2
		if d > mutexMaxBackoff {
			d = mutexMaxBackoff
		}
		return d
	}, mutexMinBackoff)
}

func acquire(ctx context.Context, key string, wait time.Duration, try tryFunc, next func(time.Duration) time.Duration, delay time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := try(ctx)
		if err != nil {
			return apperr.LockTimeout(key, err)
		}
		if ok {
			return nil
		}
		if time.Now().Add(delay).After(deadline) {
			return apperr.LockTimeout(key, ErrNotAcquired)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperr.LockTimeout(key, ctx.Err())
		case <-timer.C:
		}
		delay = next(delay)
	}
}

// NewOwner returns a fresh owner token.
func NewOwner() string {
	return uuid.NewString()
}

// WithSpinLock runs fn while holding the spin lock on key. The lock is
// released on every exit path, even when ctx is already cancelled.
func WithSpinLock(ctx context.Context, l DistributedLock, key string, fn func(ctx context.Context) error) error {
	owner := NewOwner()
	if err := l.SpinLock(ctx, key, owner); err != nil {
		return err
	}
	defer release(ctx, l, key, owner)
	return fn(ctx)
}

// WithMutex is WithSpinLock for the longer-waiting mutex lock.
func WithMutex(ctx context.Context, l DistributedLock, key string, fn func(ctx context.Context) error) error {
	owner := NewOwner()
	if err := l.MutexLock(ctx, key, owner); err != nil {
		return err
	}
	defer release(ctx, l, key, owner)
	return fn(ctx)
}

// release gives the lock back. A failure leaves key held until its TTL runs out.
func release(ctx context.Context, l DistributedLock, key, owner string) {
	if err := l.Release(context.WithoutCancel(ctx), key, owner); err != nil {
		logger.Log.Warn("lock release failed, held until ttl", "key", key, "error", err)
	}
}

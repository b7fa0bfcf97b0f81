package cache

import (
	"context"
	"time"
)

// CounterStore is a key-value counter store with per-key expiry. Counters
// are created lazily on first increment and reset when their window
// elapses; expiry is handled by the store itself, not by callers.
//
// The rate limiter depends on this interface only, so the single-process
// in-memory store and a shared Redis store are interchangeable.
type CounterStore interface {
	// Increment atomically adds one to the counter at key. When the key
	// is absent or its window has elapsed, the counter restarts at 1 and
	// the window expiry is anchored at now+ttl; subsequent increments
	// leave the expiry untouched (fixed window). Returns the new count
	// and the window expiry.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error)

	// Peek returns the current count and window expiry without touching
	// the counter. ok is false when the key is absent or expired.
	Peek(ctx context.Context, key string) (count int64, expiresAt time.Time, ok bool, err error)

	// Delete removes the counter at key.
	Delete(ctx context.Context, key string) error
}

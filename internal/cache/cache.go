// Package cache provides the short-lived coordination state the CRM keeps
// outside the database: a lock that keeps todo generation cycles from
// overlapping, and a "seen once" set for webhook event de-duplication.
// Redis backs both when configured; Memory serves single-process setups and
// tests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by Acquire when another holder owns the lock.
var ErrLockHeld = errors.New("lock held")

// Lock is a held lock. Release is safe to call more than once.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker acquires named locks with a TTL so a crashed holder cannot block
// forever.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Deduper remembers keys for a TTL. FirstSeen reports true only for the
// first caller to present a key within the TTL.
type Deduper interface {
	FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Store combines both capabilities.
type Store interface {
	Locker
	Deduper
	Ping(ctx context.Context) error
	Close() error
}

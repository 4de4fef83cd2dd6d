package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedis(Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_PingLockRelease(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	l, err := r.Acquire(ctx, "generation", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := r.Acquire(ctx, "generation", time.Minute); err != ErrLockHeld {
		t.Fatalf("second Acquire = %v, want ErrLockHeld", err)
	}
	if !mr.Exists("crm:lock:generation") {
		t.Fatalf("expected prefixed lock key in redis")
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := l.Release(ctx); err != nil {
		t.Fatalf("second Release should be a no-op: %v", err)
	}
	l2, err := r.Acquire(ctx, "generation", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	defer l2.Release(ctx)
}

func TestRedis_LockExpiresAndStaleReleaseKeepsNewOwner(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	old, err := r.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	fresh, err := r.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	// The expired holder must not delete the new owner's lock.
	if err := old.Release(ctx); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if _, err := r.Acquire(ctx, "k", time.Minute); err != ErrLockHeld {
		t.Fatalf("lock should still be held by new owner, got %v", err)
	}
	_ = fresh.Release(ctx)
}

func TestRedis_FirstSeen(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	first, err := r.FirstSeen(ctx, "ev-1", time.Hour)
	if err != nil || !first {
		t.Fatalf("FirstSeen first = %v, %v", first, err)
	}
	again, err := r.FirstSeen(ctx, "ev-1", time.Hour)
	if err != nil || again {
		t.Fatalf("FirstSeen repeat = %v, %v", again, err)
	}
	mr.FastForward(2 * time.Hour)
	if after, _ := r.FirstSeen(ctx, "ev-1", time.Hour); !after {
		t.Fatalf("key should be forgotten after TTL")
	}
}

func TestRedis_ErrorsWhenDown(t *testing.T) {
	r, mr := newRedis(t)
	mr.Close()
	ctx := context.Background()
	if err := r.Ping(ctx); err == nil {
		t.Fatalf("expected ping error")
	}
	if _, err := r.Acquire(ctx, "k", time.Second); err == nil || err == ErrLockHeld {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := r.FirstSeen(ctx, "k", time.Second); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestMemory_LockAndDedupe(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	l, err := m.Acquire(ctx, "g", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "g", time.Minute); err != ErrLockHeld {
		t.Fatalf("want ErrLockHeld, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	l2, err := m.Acquire(ctx, "g", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}
	_ = l.Release(ctx) // stale holder
	if _, err := m.Acquire(ctx, "g", time.Minute); err != ErrLockHeld {
		t.Fatalf("stale release must not free the lock, got %v", err)
	}
	_ = l2.Release(ctx)
	if _, err := m.Acquire(ctx, "g", time.Minute); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}

	if ok, _ := m.FirstSeen(ctx, "e", time.Minute); !ok {
		t.Fatalf("first FirstSeen should be true")
	}
	if ok, _ := m.FirstSeen(ctx, "e", time.Minute); ok {
		t.Fatalf("repeat FirstSeen should be false")
	}
	if m.Ping(ctx) != nil || m.Close() != nil {
		t.Fatalf("memory Ping/Close should not fail")
	}
}

var (
	_ Store = (*Redis)(nil)
	_ Store = (*Memory)(nil)
)

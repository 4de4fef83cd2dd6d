package cache

import (
	"context"
	"sync"
	"time"
)

// Memory implements Store in process. Locks and seen-keys expire like their
// Redis counterparts but are not shared between processes.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memEntry
}

type memEntry struct {
	token   uint64
	expires time.Time
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{now: time.Now, entries: make(map[string]memEntry)}
}

var memTokens struct {
	sync.Mutex
	next uint64
}

func nextToken() uint64 {
	memTokens.Lock()
	defer memTokens.Unlock()
	memTokens.next++
	return memTokens.next
}

// setNX stores key if absent or expired and returns its token.
func (m *Memory) setNX(key string, ttl time.Duration) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expires) {
		return 0, false
	}
	tok := nextToken()
	m.entries[key] = memEntry{token: tok, expires: now.Add(ttl)}
	return tok, true
}

// Acquire implements Locker.
func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	tok, ok := m.setNX("lock:"+key, ttl)
	if !ok {
		return nil, ErrLockHeld
	}
	return &memLock{m: m, key: "lock:" + key, token: tok}, nil
}

// FirstSeen implements Deduper.
func (m *Memory) FirstSeen(_ context.Context, key string, ttl time.Duration) (bool, error) {
	_, ok := m.setNX("seen:"+key, ttl)
	return ok, nil
}

// Ping implements Store.
func (m *Memory) Ping(context.Context) error { return nil }

// Close implements Store.
func (m *Memory) Close() error { return nil }

type memLock struct {
	m     *Memory
	key   string
	token uint64
}

func (l *memLock) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if e, ok := l.m.entries[l.key]; ok && e.token == l.token {
		delete(l.m.entries, l.key)
	}
	return nil
}

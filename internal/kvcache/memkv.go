package kvcache

import (
	"context"
	"sync"
	"time"
)

// MemKV is an in-memory KV for dev and tests. Entries expire lazily on read.
type MemKV struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// now is swappable in tests.
	now func() time.Time
}

type memEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// NewMem initializes an empty in-memory KV.
func NewMem() *MemKV {
	return &MemKV{
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test helper.
func (m *MemKV) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// IncrWindow implements KV.
func (m *MemKV) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || now.After(e.expiresAt) {
		e = memEntry{count: 1, expiresAt: now.Add(ttl)}
		m.entries[key] = e
		return 1, ttl, nil
	}
	e.count++
	m.entries[key] = e
	return e.count, e.expiresAt.Sub(now), nil
}

// Set implements KV.
func (m *MemKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: value, expiresAt: m.now().Add(ttl)}
	return nil
}

// Get implements KV.
func (m *MemKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// GetDel implements KV.
func (m *MemKV) GetDel(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	delete(m.entries, key)
	if !ok || m.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

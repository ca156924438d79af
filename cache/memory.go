package cache

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an unbounded in-process store. Entries leave only through lazy
// TTL expiry on lookup or through Clear.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	nowFunc func() time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		nowFunc: time.Now,
	}
}

// WithClock replaces the time source, for tests that step through TTLs.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.nowFunc = now
	m.mu.Unlock()
	return m
}

// Get returns the payload for key when the entry is live. A stale entry is
// deleted so it is not checked twice.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.Live(m.nowFunc()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return bytes.Clone(e.Payload), true, nil
}

// Set stores payload under key, replacing any previous entry.
func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = Entry{
		Payload:  bytes.Clone(payload),
		StoredAt: m.nowFunc(),
		TTL:      normalizeTTL(ttl),
	}
	m.mu.Unlock()
	return nil
}

// Clear empties the store, or drops the keys containing filter.
func (m *Memory) Clear(_ context.Context, filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if filter == "" {
		clear(m.entries)
		return nil
	}
	for k := range m.entries {
		if strings.Contains(k, filter) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Keys returns the keys currently held.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Len returns the number of entries held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

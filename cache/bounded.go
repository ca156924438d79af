package cache

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Bounded is a size-limited in-process store backed by ristretto. Unlike
// [Memory] it may drop entries under pressure; a key index mirrors what
// ristretto holds so that Clear and Keys can enumerate entries.
type Bounded struct {
	rc *ristretto.Cache[string, boundedEntry]

	mu    sync.Mutex
	index map[string]indexed
}

// indexed records the latest Set for a key.
type indexed struct {
	storedAt time.Time
	expires  time.Time
}

type boundedEntry struct {
	key string
	Entry
}

// NewBounded creates a Bounded store holding at most maxEntries entries
// (each entry has a cost of 1).
func NewBounded(maxEntries int64) (*Bounded, error) {
	b := &Bounded{
		index: make(map[string]indexed),
	}
	rc, err := ristretto.NewCache(&ristretto.Config[string, boundedEntry]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		OnEvict:     b.forget,
		OnReject:    b.forget,
	})
	if err != nil {
		return nil, err
	}
	b.rc = rc
	return b, nil
}

// forget drops an evicted or rejected item from the index unless a newer
// Set for the same key has landed since.
func (b *Bounded) forget(item *ristretto.Item[boundedEntry]) {
	if item == nil {
		return
	}
	b.mu.Lock()
	if ix, ok := b.index[item.Value.key]; ok && ix.storedAt.Equal(item.Value.StoredAt) {
		delete(b.index, item.Value.key)
	}
	b.mu.Unlock()
}

// Get returns the payload for key when the entry is live. A miss only
// drops the key from the index once its indexed entry has expired, since a
// concurrent Set may have indexed a value ristretto has not applied yet.
func (b *Bounded) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now()
	e, ok := b.rc.Get(key)
	if !ok {
		b.mu.Lock()
		if ix, found := b.index[key]; found && !now.Before(ix.expires) {
			delete(b.index, key)
		}
		b.mu.Unlock()
		return nil, false, nil
	}
	if !e.Live(now) {
		b.rc.Del(key)
		b.forget(&ristretto.Item[boundedEntry]{Value: e})
		return nil, false, nil
	}
	return bytes.Clone(e.Payload), true, nil
}

// Set stores payload under key. The write is flushed before returning so a
// following Get observes it.
func (b *Bounded) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	ttl = normalizeTTL(ttl)
	e := boundedEntry{key: key, Entry: Entry{
		Payload:  bytes.Clone(payload),
		StoredAt: time.Now(),
		TTL:      ttl,
	}}

	b.mu.Lock()
	b.index[key] = indexed{storedAt: e.StoredAt, expires: e.StoredAt.Add(ttl)}
	b.mu.Unlock()

	if !b.rc.SetWithTTL(key, e, 1, ttl) {
		// Dropped by a full set buffer; ristretto never saw it.
		b.forget(&ristretto.Item[boundedEntry]{Value: e})
		return nil
	}
	b.rc.Wait()
	return nil
}

// Clear empties the store, or drops the keys containing filter.
func (b *Bounded) Clear(_ context.Context, filter string) error {
	if filter == "" {
		b.rc.Clear()
		b.mu.Lock()
		clear(b.index)
		b.mu.Unlock()
		return nil
	}

	b.mu.Lock()
	var doomed []string
	for k := range b.index {
		if strings.Contains(k, filter) {
			doomed = append(doomed, k)
			delete(b.index, k)
		}
	}
	b.mu.Unlock()

	for _, k := range doomed {
		b.rc.Del(k)
	}
	b.rc.Wait()
	return nil
}

// Keys returns the indexed keys.
func (b *Bounded) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.index))
	for k := range b.index {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close releases ristretto's background goroutines.
func (b *Bounded) Close() {
	b.rc.Close()
}

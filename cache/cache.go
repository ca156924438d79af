// Package cache provides the response store used by the cache-aware request
// path. Payloads are raw response bodies; the store never inspects them.
//
// Three implementations are provided: [Memory] (the default, unbounded map
// with lazy TTL eviction), [Bounded] (ristretto-backed, size limited) and
// [Redis] (shared across processes). [Tiered] layers two stores.
package cache

import (
	"context"
	"time"
)

// DefaultTTL is applied when Set is called with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Entry is a single cached response.
type Entry struct {
	Payload  []byte
	StoredAt time.Time
	TTL      time.Duration
}

// Live reports whether the entry may still be served at now.
func (e Entry) Live(now time.Time) bool {
	return now.Sub(e.StoredAt) < e.TTL
}

// Store is the contract shared by every cache backend.
type Store interface {
	// Get returns the payload for key if a live entry exists. An expired
	// entry found during the lookup is removed.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set overwrites any entry for key with a fresh timestamp. A
	// non-positive TTL means DefaultTTL.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Clear removes every entry when filter is empty, otherwise every entry
	// whose key contains filter as a substring.
	Clear(ctx context.Context, filter string) error

	// Keys lists the keys currently held, live or not yet lazily evicted.
	Keys(ctx context.Context) ([]string, error)
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

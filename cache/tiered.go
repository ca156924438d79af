package cache

import (
	"context"
	"errors"
	"time"
)

// Tiered combines a fast local store with a shared one. Reads check L1
// first, then L2; an L2 hit is promoted into L1. Writes and clears go to
// both layers.
type Tiered struct {
	l1 Store
	l2 Store
}

// remainingTTL is implemented by stores that can tell how long an entry
// has left, so promotion does not extend its life.
type remainingTTL interface {
	RemainingTTL(ctx context.Context, key string) (time.Duration, bool)
}

// NewTiered creates a two-level store.
func NewTiered(l1, l2 Store) *Tiered {
	return &Tiered{l1: l1, l2: l2}
}

// Get checks L1, then L2.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.l1.Get(ctx, key); err != nil || ok {
		return v, ok, err
	}
	v, ok, err := t.l2.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	ttl := DefaultTTL
	if r, isR := t.l2.(remainingTTL); isR {
		if d, found := r.RemainingTTL(ctx, key); found {
			ttl = d
		}
	}
	_ = t.l1.Set(ctx, key, v, ttl)
	return v, true, nil
}

// Set writes to L2, then L1.
func (t *Tiered) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	_ = t.l2.Set(ctx, key, payload, ttl)
	return t.l1.Set(ctx, key, payload, ttl)
}

// Clear clears both layers.
func (t *Tiered) Clear(ctx context.Context, filter string) error {
	return errors.Join(t.l1.Clear(ctx, filter), t.l2.Clear(ctx, filter))
}

// Keys returns the union of both layers' keys.
func (t *Tiered) Keys(ctx context.Context) ([]string, error) {
	k1, err := t.l1.Keys(ctx)
	if err != nil {
		return nil, err
	}
	k2, err := t.l2.Keys(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(k1)+len(k2))
	keys := make([]string, 0, len(k1)+len(k2))
	for _, k := range append(k1, k2...) {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

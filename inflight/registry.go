// Package inflight tracks dispatched-but-unsettled requests so that
// identical concurrent requests share one network round-trip.
package inflight

import (
	"bytes"
	"context"
	"sync"
)

// Call is a pending result. It settles exactly once.
type Call struct {
	done chan struct{}
	val  []byte
	err  error
}

// NewCall returns an unsettled Call.
func NewCall() *Call {
	return &Call{done: make(chan struct{})}
}

// Settle records the outcome and releases every waiter.
func (c *Call) Settle(val []byte, err error) {
	c.val, c.err = val, err
	close(c.done)
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx is done. Abandoning the wait
// does not affect the call itself or other waiters.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	return bytes.Clone(c.val), nil
}

// Registry maps cache keys to pending calls. All methods are safe for
// concurrent use.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*Call
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

// Has reports whether a call is pending for key.
func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[key]
	return ok
}

// Get returns the pending call for key.
func (r *Registry) Get(key string) (*Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[key]
	return c, ok
}

// Set registers c under key, replacing any previous call.
func (r *Registry) Set(key string, c *Call) {
	r.mu.Lock()
	r.calls[key] = c
	r.mu.Unlock()
}

// Delete removes key. It is a no-op when nothing is registered.
func (r *Registry) Delete(key string) {
	r.mu.Lock()
	delete(r.calls, key)
	r.mu.Unlock()
}

// Join returns the pending call for key, or registers a new one. leader is
// true when the caller created the call and is responsible for settling it
// and removing it from the registry.
func (r *Registry) Join(key string) (c *Call, leader bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.calls[key]; ok {
		return c, false
	}
	c = NewCall()
	r.calls[key] = c
	return c, true
}

// Len returns the number of pending calls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

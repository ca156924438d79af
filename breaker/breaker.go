// Package breaker is a thread-safe circuit breaker that stops the client
// from hammering a backend that keeps failing.
//
// States:
//   - Closed: requests flow; consecutive failures are counted.
//   - Open: requests fail fast with ErrOpen until Cooldown has passed.
//   - HalfOpen: up to Probes requests may be in flight at once; Probes
//     successes close the breaker, any failure reopens it.
package breaker

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrOpen is returned by Allow while the breaker rejects requests.
var ErrOpen = errors.New("circuit breaker open")

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config holds the circuit breaker parameters.
type Config struct {
	// Failures is the number of consecutive failures in Closed state that
	// trips the breaker.
	Failures int

	// Cooldown is how long the breaker stays Open before letting probes
	// through.
	Cooldown time.Duration

	// Probes is both the number of concurrent requests admitted in HalfOpen
	// and the number of successes needed to close again.
	Probes int

	// IsFailure classifies the outcome of a request. Defaults to
	// DefaultIsFailure.
	IsFailure func(status int, err error) bool

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock held and must not call back into the breaker.
	OnStateChange func(from, to State)
}

// DefaultConfig trips after five consecutive failures and probes again
// after thirty seconds.
func DefaultConfig() Config {
	return Config{
		Failures: 5,
		Cooldown: 30 * time.Second,
		Probes:   1,
	}
}

// DefaultIsFailure counts transport errors and 5xx responses. A 4xx means
// the backend answered and is healthy.
func DefaultIsFailure(status int, err error) bool {
	return err != nil || status >= http.StatusInternalServerError
}

// Counts is a point-in-time view of a Breaker.
type Counts struct {
	State     State
	Failures  int // consecutive, in Closed
	Successes int // in HalfOpen
	OpenedAt  time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	state     State
	gen       uint64 // bumped on every transition; stale results are dropped
	failures  int
	successes int
	probing   int // half-open requests in flight
	openedAt  time.Time
}

// New creates a Breaker. Zero config fields take DefaultConfig's values.
func New(cfg Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if cfg.Failures <= 0 {
		cfg.Failures = def.Failures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	b := &Breaker{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current state, moving Open to HalfOpen once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldown()
	return b.state
}

// Counts returns a snapshot of the breaker.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldown()
	return Counts{
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
		OpenedAt:  b.openedAt,
	}
}

// Allow asks to send one request. On success the caller must invoke done
// exactly once with the response status (zero if none) and the transport
// error. While the breaker rejects requests it returns ErrOpen.
func (b *Breaker) Allow() (done func(status int, err error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cooldown()
	switch b.state {
	case Open:
		return nil, ErrOpen
	case HalfOpen:
		if b.probing >= b.cfg.Probes {
			return nil, ErrOpen
		}
		b.probing++
	}

	gen := b.gen
	var once sync.Once
	return func(status int, err error) {
		once.Do(func() { b.record(gen, b.cfg.IsFailure(status, err)) })
	}, nil
}

func (b *Breaker) record(gen uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.gen {
		return
	}
	switch b.state {
	case Closed:
		if !failed {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.cfg.Failures {
			b.trip()
		}
	case HalfOpen:
		b.probing--
		if failed {
			b.trip()
			return
		}
		b.successes++
		if b.successes >= b.cfg.Probes {
			b.transition(Closed)
		}
	}
}

// cooldown must be called with b.mu held.
func (b *Breaker) cooldown() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(HalfOpen)
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.now()
	b.transition(Open)
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.gen++
	b.failures = 0
	b.successes = 0
	b.probing = 0
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

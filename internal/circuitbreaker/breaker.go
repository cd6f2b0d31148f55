// Package circuitbreaker implements a per-function circuit breaker that
// protects the Gateway from hammering a worker whose RIE keeps failing.
//
// # State machine
//
//	CLOSED --(consecutive failures >= threshold)--> OPEN
//	OPEN --(now - lastFailure > recovery)--> HALF_OPEN
//	HALF_OPEN --(probe succeeds)--> CLOSED
//	HALF_OPEN --(probe fails)--> OPEN
//
// # Why a consecutive-failure counter, not a sliding window
//
// A percentage/sliding-window breaker needs enough samples to be
// statistically meaningful, which is the wrong shape for a single
// function's single worker pool: a function either is currently healthy or
// it just started failing, and we want to react on the Fth failure in a
// row, not on "30% of the last 100 calls failed" (a function invoked twice
// a minute would take a very long time to trip). The consecutive-failure
// model also makes HALF_OPEN's single-probe-decides-everything behavior
// exact instead of approximate.
//
// # Concurrency
//
// Breaker serializes state transitions behind a mutex but never holds that
// mutex while invoking the wrapped call — only around the CLOSED/OPEN/
// HALF_OPEN check before the call and the counter update after it.
//
// # Invariants
//
//   - OPEN admits no calls until the recovery window elapses.
//   - HALF_OPEN admits exactly one call; any outcome immediately resolves
//     the state (CLOSED on success, OPEN on failure) before the next
//     caller is evaluated.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call without invoking f when the breaker is OPEN
// and the recovery window has not yet elapsed, or when it is HALF_OPEN and
// its single probe call is still in flight.
var ErrOpen = errors.New("circuitbreaker: open")

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Breaker's trip threshold and recovery window.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// CLOSED -> OPEN. Must be >= 1.
	FailureThreshold int
	// RecoveryWindow is how long the breaker stays OPEN before admitting a
	// HALF_OPEN probe.
	RecoveryWindow time.Duration
}

// DefaultConfig returns the platform's default breaker tuning: 5
// consecutive failures, 30 second recovery window.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryWindow: 30 * time.Second}
}

// Breaker is a single per-function circuit breaker.
type Breaker struct {
	cfg Config

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
	probing     bool // a HALF_OPEN probe call is in flight
}

// New creates a Breaker with the given config, defaulting zero-valued
// fields to DefaultConfig's values.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = def.RecoveryWindow
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State reports the breaker's current state without side effects, other
// than the same OPEN -> HALF_OPEN transition Call would make since the
// transition depends only on elapsed time, not the call itself.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeEnterHalfOpenLocked()
	return b.state
}

// maybeEnterHalfOpenLocked transitions OPEN -> HALF_OPEN if the recovery
// window has elapsed. Caller must hold b.mu.
func (b *Breaker) maybeEnterHalfOpenLocked() {
	if b.state == Open && time.Since(b.lastFailure) > b.cfg.RecoveryWindow {
		b.state = HalfOpen
	}
}

// Call executes f through the breaker, applying the state machine above.
// ErrOpen is returned without invoking f when the breaker is tripped.
func (b *Breaker) Call(f func() error) error {
	b.mu.Lock()
	b.maybeEnterHalfOpenLocked()
	if b.state == Open || (b.state == HalfOpen && b.probing) {
		b.mu.Unlock()
		return ErrOpen
	}
	halfOpenProbe := b.state == HalfOpen
	if halfOpenProbe {
		b.probing = true
	}
	b.mu.Unlock()

	err := f()

	b.mu.Lock()
	defer b.mu.Unlock()
	if halfOpenProbe {
		b.probing = false
	}
	if err == nil {
		if halfOpenProbe {
			b.reset()
		}
		return nil
	}

	b.failures++
	b.lastFailure = time.Now()
	if halfOpenProbe || b.failures >= b.cfg.FailureThreshold {
		b.state = Open
	}
	return err
}

// reset clears the breaker back to CLOSED. Caller must hold b.mu.
func (b *Breaker) reset() {
	b.state = Closed
	b.failures = 0
}

// Registry creates and caches Breakers per function name, mirroring the
// lazy-creation pattern used by the pool.Manager.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker Registry that lazily constructs Breakers
// with the given default config for every new function name seen.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the Breaker for function, creating it on first use.
func (r *Registry) Get(function string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[function]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[function]; ok {
		return b
	}
	b = New(r.cfg)
	r.breakers[function] = b
	return b
}

// Remove deletes the breaker for function, if any.
func (r *Registry) Remove(function string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, function)
}

// Snapshot returns the current state of every known breaker.
func (r *Registry) Snapshot() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

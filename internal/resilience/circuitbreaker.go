// Package resilience keeps model-backed calls alive when a provider
// misbehaves. [CircuitBreaker] stops hammering a backend that keeps failing,
// and [FallbackGroup] routes each call to the first healthy backend of a
// configured failover chain. Callers such as the session runtime and the
// image pipeline see a single provider; the failover happens underneath.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call; failures are counted.
	StateClosed State = iota

	// StateOpen rejects every call with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values fall back to the
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is how many consecutive failures the closed state tolerates
	// before tripping. Default: 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker stays open before probing
	// again. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax bounds the probe calls allowed in the half-open state.
	// Default: 3.
	HalfOpenMax int
}

// CircuitBreaker is a three-state (closed, open, half-open) breaker guarding
// a single backend.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu         sync.Mutex
	state      State
	streak     int // consecutive failures while closed
	lastFail   time.Time
	probes     int // calls admitted while half-open
	probeFails int
}

// NewCircuitBreaker creates a breaker from cfg, substituting defaults for
// zero-value fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker admits the call, recording the outcome.
// Rejected calls return [ErrCircuitOpen] without invoking fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(err == nil, probing)
	return err
}

// admit decides whether a call may proceed, handling the open to half-open
// transition. It reports whether the admitted call counts as a probe.
func (cb *CircuitBreaker) admit() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFail) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("circuit breaker half-open", "breaker", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			// Probe budget spent; wait for an outcome.
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// record applies a call outcome to the breaker state.
func (cb *CircuitBreaker) record(ok, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		if !probing {
			cb.streak = 0
			return
		}
		if cb.probes-cb.probeFails >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.streak = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("circuit breaker closed", "breaker", cb.name)
		}
		return
	}

	cb.lastFail = time.Now()
	if probing {
		// A single failed probe re-opens immediately.
		cb.probeFails++
		cb.state = StateOpen
		cb.streak = cb.maxFailures
		slog.Warn("circuit breaker re-opened", "breaker", cb.name)
		return
	}

	cb.streak++
	if cb.streak >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"breaker", cb.name,
			"consecutive_failures", cb.streak)
	}
}

// State returns the breaker's current [State]. A breaker whose reset timeout
// has elapsed reports [StateHalfOpen] even though the stored state only
// changes on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFail) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.streak = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("circuit breaker reset", "breaker", cb.name)
}

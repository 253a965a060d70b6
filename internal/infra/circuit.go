// Package infra provides shared runtime primitives: circuit breakers and
// the worker pool used by the scheduler.
package infra

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half_open"
)

// ErrCircuitOpen is returned when a call is refused because the circuit is
// open. It is never retried locally; callers choose a degraded path.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the endpoint this breaker guards.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// ResetAfter is how long the circuit stays open before the next call
	// probes the endpoint (half-open).
	ResetAfter time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(name, from, to string)
}

// CircuitBreaker is a per-endpoint failure accumulator.
//
// The state is a function of the failure count and open timestamp: closed
// while failures stay under the threshold, open for ResetAfter once the
// threshold is crossed, then half-open so a single probe can close it
// again. RecordSuccess zeroes the count and clears the open timestamp;
// RecordFailure increments and stamps the open timestamp when the
// threshold is crossed.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewCircuitBreaker creates a breaker with the given config. Threshold
// defaults to 5 failures and the reset window to 60 seconds.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = 60 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (cb *CircuitBreaker) SetNowFunc(now func() time.Time) {
	cb.mu.Lock()
	cb.now = now
	cb.mu.Unlock()
}

// State returns the current state of the breaker.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() string {
	if cb.openedAt.IsZero() {
		return CircuitClosed
	}
	if cb.now().Sub(cb.openedAt) < cb.config.ResetAfter {
		return CircuitOpen
	}
	return CircuitHalfOpen
}

// Allow reports whether a call may proceed. It returns ErrCircuitOpen
// while the circuit is open; in half-open state the next call is allowed
// through as a probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.stateLocked() == CircuitOpen {
		return ErrCircuitOpen
	}
	return nil
}

// SpawnGate refuses a fallback spawn while the circuit is open. Callers
// that intend to spawn a sub-agent in response to a failed call must
// consult this first: if the circuit that triggered the fallback is still
// open, spawning again only feeds the cascade.
func (cb *CircuitBreaker) SpawnGate() error {
	return cb.Allow()
}

// RecordSuccess resets the breaker to closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.stateLocked()
	cb.failures = 0
	cb.openedAt = time.Time{}
	cb.mu.Unlock()

	cb.notify(from, CircuitClosed)
}

// RecordFailure increments the failure count and opens the circuit when
// the threshold is crossed. A failed half-open probe re-opens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.stateLocked()
	cb.failures++
	if cb.failures >= cb.config.FailureThreshold || from == CircuitHalfOpen {
		cb.openedAt = cb.now()
	}
	to := cb.stateLocked()
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Reset manually closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.RecordSuccess()
}

func (cb *CircuitBreaker) notify(from, to string) {
	if from == to || cb.config.OnStateChange == nil {
		return
	}
	// Called asynchronously so listeners cannot block the caller.
	go cb.config.OnStateChange(cb.config.Name, from, to)
}

// Stats is a point-in-time snapshot of a breaker.
type Stats struct {
	Name     string    `json:"name"`
	State    string    `json:"state"`
	Failures int       `json:"failures"`
	OpenedAt time.Time `json:"opened_at,omitempty"`
}

// Stats returns the breaker's current snapshot.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:     cb.config.Name,
		State:    cb.stateLocked(),
		Failures: cb.failures,
		OpenedAt: cb.openedAt,
	}
}

// CircuitBreakerRegistry holds the breaker for each named endpoint.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a registry; unseen endpoints get a
// breaker built from the default config.
func NewCircuitBreakerRegistry(defaults CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for an endpoint, creating it on first use.
func (r *CircuitBreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	config := r.defaults
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Reset closes the breaker for one endpoint. It reports whether the
// endpoint was known.
func (r *CircuitBreakerRegistry) Reset(name string) bool {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		cb.Reset()
	}
	return ok
}

// AllStats returns snapshots for every known breaker.
func (r *CircuitBreakerRegistry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]Stats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}

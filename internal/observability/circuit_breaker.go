package observability

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitBreakerState represents the state of a circuit.
type CircuitBreakerState int

const (
	// StateClosed allows calls.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
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

type circuit struct {
	state       CircuitBreakerState
	failures    int
	openedAt    time.Time
	trialActive bool
}

// CircuitBreaker tracks upstream health per name (one circuit per provider).
// Consecutive failures open the circuit; after the cooldown one trial call is
// admitted and its outcome closes or reopens it.
type CircuitBreaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	circuits    map[string]*circuit
}

// NewCircuitBreaker returns nil when maxFailures <= 0; a nil breaker admits everything.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		return nil
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		circuits:    map[string]*circuit{},
	}
}

// WithClock overrides time.Now, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	if cb != nil {
		cb.now = now
	}
	return cb
}

func (cb *CircuitBreaker) get(name string) *circuit {
	c, ok := cb.circuits[name]
	if !ok {
		c = &circuit{}
		cb.circuits[name] = c
	}
	return c
}

// Allow reports whether a call to name may proceed and, when it may not, how
// long until the next trial.
func (cb *CircuitBreaker) Allow(name string) (bool, time.Duration) {
	if cb == nil {
		return true, 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.get(name)
	switch c.state {
	case StateOpen:
		elapsed := cb.now().Sub(c.openedAt)
		if elapsed < cb.cooldown {
			return false, cb.cooldown - elapsed
		}
		c.state = StateHalfOpen
		c.trialActive = true
		slog.Info("circuit breaker transitioning to half-open", slog.String("name", name))
		return true, 0
	case StateHalfOpen:
		if c.trialActive {
			return false, 0
		}
		c.trialActive = true
		return true, 0
	default:
		return true, 0
	}
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess(name string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.get(name)
	if c.state != StateClosed {
		slog.Info("circuit breaker closed", slog.String("name", name))
	}
	*c = circuit{}
}

// RecordFailure counts a failure and opens the circuit at the threshold.
func (cb *CircuitBreaker) RecordFailure(name string) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c := cb.get(name)
	c.failures++
	c.trialActive = false
	if c.state == StateHalfOpen || c.failures >= cb.maxFailures {
		if c.state != StateOpen {
			slog.Warn("circuit breaker opened",
				slog.String("name", name),
				slog.Int("failure_count", c.failures),
				slog.Int("max_failures", cb.maxFailures))
		}
		c.state = StateOpen
		c.openedAt = cb.now()
	}
}

// State returns the current state for name.
func (cb *CircuitBreaker) State(name string) CircuitBreakerState {
	if cb == nil {
		return StateClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.get(name).state
}

package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters. Zero values use defaults
// (5 failures, 2 successes, 30s open timeout).
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	OnStateChange    func(component string, from, to State)
}

// CircuitBreaker fails fast after repeated upstream failures. It never retries:
// a rejected call returns ErrOpen immediately and the caller surfaces it.
type CircuitBreaker struct {
	mu        sync.Mutex
	cfg       Config
	state     State
	failures  int
	successes int
	openedAt  time.Time
	now       func() time.Time
}

// New creates a CircuitBreaker in the closed state.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// Execute runs fn when the circuit allows it and records the outcome.
// A nil breaker always runs fn. context.Canceled from fn is not recorded: the caller
// went away, which says nothing about the upstream.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb == nil {
		return fn()
	}
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	if errors.Is(err, context.Canceled) {
		return err
	}
	cb.record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.Timeout {
		cb.mu.Unlock()
		return ErrOpen
	}
	cb.successes = 0
	notify := cb.transitionLocked(StateHalfOpen)
	cb.mu.Unlock()
	notify()
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	notify := func() {}
	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.failures = 0
			cb.openedAt = cb.now()
			notify = cb.transitionLocked(StateOpen)
		}
	} else {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.successes = 0
				notify = cb.transitionLocked(StateClosed)
			}
		}
	}
	cb.mu.Unlock()
	notify()
}

// transitionLocked changes state and returns the callback to run after unlocking.
func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange == nil || from == to {
		return func() {}
	}
	component := cb.cfg.Component
	return func() { cb.cfg.OnStateChange(component, from, to) }
}

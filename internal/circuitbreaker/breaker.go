package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/vyrodovalexey/dbpool/internal/observability"
	"github.com/vyrodovalexey/dbpool/internal/util"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and requests are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and requests are rejected.
	StateOpen

	// StateHalfOpen indicates the cool-down elapsed and attempts are let
	// through until one succeeds or the circuit opens again.
	StateHalfOpen
)

// String returns the string representation of the state.
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

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = util.ErrCircuitOpen

// CircuitBreaker counts consecutive failures and opens once they reach the
// threshold. The failure count is reset only by a success, so a failure
// after the cool-down reopens the circuit immediately. Half-open does not
// limit concurrent attempts.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger
	now    func() time.Time

	mu    sync.Mutex
	state State

	consecutiveFails int
	nextAttemptAt    time.Time
	lastFailure      time.Time
	lastStateChange  time.Time
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(cb *CircuitBreaker) {
		cb.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config *Config, opts ...Option) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: observability.NopLogger(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.lastStateChange = cb.now()
	RecordState(name, StateClosed)

	return cb
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err == nil {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}

	return err
}

// Allow checks if a request is allowed through the circuit breaker.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	allowed := true
	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttemptAt) {
			allowed = false
		} else {
			cb.transitionTo(StateHalfOpen)
		}
	}

	RecordRequest(cb.name, allowed)

	return allowed
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	RecordSuccess(cb.name)

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure records a failure and opens the circuit once the threshold
// is reached. An already open circuit gets a fresh cool-down.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.consecutiveFails++
	cb.lastFailure = now
	RecordFailure(cb.name)

	if cb.consecutiveFails >= cb.config.FailureThreshold {
		cb.nextAttemptAt = now.Add(cb.config.Timeout)
		if cb.state != StateOpen {
			cb.transitionTo(StateOpen)
		}
	}
}

// transitionTo transitions the circuit breaker to a new state. Callers hold mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()

	RecordStateChange(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		observability.String("name", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
		observability.Int("consecutive_failures", cb.consecutiveFails),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state. An open circuit whose cool-down has
// elapsed reports StateHalfOpen.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && !cb.now().Before(cb.nextAttemptAt) {
		return StateHalfOpen
	}
	return cb.state
}

// IsOpen reports whether requests are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.nextAttemptAt = time.Time{}
	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	}

	cb.logger.Info("circuit breaker reset",
		observability.String("name", cb.name),
	)
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.currentState(),
		ConsecutiveFails: cb.consecutiveFails,
		NextAttemptAt:    cb.nextAttemptAt,
		LastFailure:      cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}

// Stats holds circuit breaker statistics.
type Stats struct {
	State            State
	ConsecutiveFails int
	NextAttemptAt    time.Time
	LastFailure      time.Time
	LastStateChange  time.Time
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arcwell-foundry/aria/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - recovery timeout elapsed, trial requests reach the dependency
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the dependency guarded by the breaker
	Name string
	// FailureThreshold is the number of failures in the closed state that trips the breaker
	FailureThreshold int
	// SuccessThreshold is the number of consecutive half-open successes needed to close
	SuccessThreshold int
	// RecoveryTimeout is how long the breaker stays open before probing
	RecoveryTimeout time.Duration
	// OnStateChange is called whenever the stored state of the breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
	// Now overrides the clock, for tests
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns the default thresholds for a dependency
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Stats is a point-in-time view of a breaker
type Stats struct {
	Name            string        `json:"name"`
	State           string        `json:"state"`
	FailureCount    int           `json:"failure_count"`
	SuccessCount    int           `json:"success_count"`
	LastStateChange time.Time     `json:"last_state_change"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
}

// CircuitBreaker is a per-dependency failure-tracking state machine.
//
// Only CLOSED and OPEN transitions are stored eagerly. HALF_OPEN is a derived
// view: an OPEN breaker whose recovery timeout has elapsed reads as HALF_OPEN
// without any timer firing. The view is computed from lastStateChange and the
// current time under the breaker's own lock, and is materialized the first
// time an outcome is recorded against it.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	onStateChange    func(name string, from CircuitState, to CircuitState)
	now              func() time.Time

	mutex           sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastStateChange time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		onStateChange:    config.OnStateChange,
		now:              config.Now,
		state:            StateClosed,
		lastStateChange:  config.Now(),
		logger:           logging.GetLogger(),
	}
}

// Execute runs the operation if the breaker admits it, records the outcome
// and returns the operation's own error unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeRequest(); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.RecordFailure()
			panic(r)
		}
	}()

	result, err := operation(ctx)
	if err != nil {
		cb.RecordFailure()
		return result, err
	}
	cb.RecordSuccess()
	return result, nil
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the effective state of the breaker at the current time
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.effectiveState(cb.now())
}

// IsOpen reports whether calls would currently be rejected
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	state := cb.effectiveState(now)
	stats := Stats{
		Name:            cb.name,
		State:           state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastStateChange: cb.lastStateChange,
	}
	if state == StateOpen {
		stats.RetryAfter = cb.retryAfter(now)
	}
	return stats
}

// RecordSuccess records a successful call against the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	switch cb.materialize(now) {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.setState(StateClosed, now)
		}
	}
}

// RecordFailure records a failed call against the breaker
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	switch cb.materialize(now) {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.failureCount++
		cb.setState(StateOpen, now)
	case StateOpen:
		// A call admitted before the breaker tripped finished late
		cb.failureCount++
	}
}

// Reset forces the breaker back to CLOSED with cleared counters
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed, cb.now())
	cb.failureCount = 0
	cb.successCount = 0
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	if cb.effectiveState(now) == StateOpen {
		return &CircuitOpenError{Name: cb.name, RetryAfter: cb.retryAfter(now)}
	}
	return nil
}

// effectiveState is a pure function of the stored state, lastStateChange and
// now. Callers must hold the mutex.
func (cb *CircuitBreaker) effectiveState(now time.Time) CircuitState {
	if cb.state == StateOpen && now.Sub(cb.lastStateChange) >= cb.recoveryTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// materialize stores the derived HALF_OPEN state before an outcome mutates
// counters. Callers must hold the mutex.
func (cb *CircuitBreaker) materialize(now time.Time) CircuitState {
	state := cb.effectiveState(now)
	if state == StateHalfOpen && cb.state != StateHalfOpen {
		cb.setState(StateHalfOpen, cb.lastStateChange.Add(cb.recoveryTimeout))
	}
	return state
}

func (cb *CircuitBreaker) retryAfter(now time.Time) time.Duration {
	remaining := cb.recoveryTimeout - now.Sub(cb.lastStateChange)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (cb *CircuitBreaker) setState(state CircuitState, at time.Time) {
	prev := cb.state
	cb.state = state
	cb.lastStateChange = at

	switch state {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
	case StateOpen, StateHalfOpen:
		cb.successCount = 0
	}

	if prev == state {
		return
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", cb.failureCount,
	)
}

// CircuitOpenError is returned when a call is rejected by an open breaker
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is OPEN (retry after %s)", e.Name, e.RetryAfter.Round(time.Millisecond))
}

// IsCircuitOpenError checks if an error is a circuit open error
func IsCircuitOpenError(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}

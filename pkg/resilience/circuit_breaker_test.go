package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mutex sync.Mutex
	now   time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

func failing(ctx context.Context) (interface{}, error) {
	return nil, errors.New("dependency failed")
}

func succeeding(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func newTestBreaker(clock *fakeClock, failures, successes int, timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		RecoveryTimeout:  timeout,
		Now:              clock.Now,
	})
}

func TestCircuitBreaker_DefaultBehavior(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 3, 2, time.Minute)

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), succeeding)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, StateClosed, cb.State())
	}
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 3, 2, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), failing)
		require.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	_, err := cb.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.False(t, IsCircuitOpenError(err), "the tripping call returns its own error")
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, 1, 30*time.Second)

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(10 * time.Second)

	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})

	require.Error(t, err)
	assert.False(t, invoked)

	var openErr *CircuitOpenError
	require.True(t, errors.As(err, &openErr))
	assert.Equal(t, "test-cb", openErr.Name)
	assert.Equal(t, 20*time.Second, openErr.RetryAfter)
	assert.Contains(t, err.Error(), "test-cb")
}

func TestCircuitBreaker_SuccessInClosedResetsFailures(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 3, 2, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Stats().FailureCount)
}

func TestCircuitBreaker_HalfOpenIsDerivedFromTime(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, 2, time.Minute)

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(59 * time.Second)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.IsOpen())

	stats := cb.Stats()
	assert.Equal(t, "HALF_OPEN", stats.State)
	assert.Zero(t, stats.RetryAfter)
}

func TestCircuitBreaker_HalfOpenNeedsSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, 3, time.Minute)

	cb.RecordFailure()
	clock.Advance(time.Minute)
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State(), "one success is not enough to close")

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())

	stats := cb.Stats()
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.SuccessCount)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, 1, 3, time.Minute)

	cb.RecordFailure()
	clock.Advance(time.Minute)

	cb.RecordSuccess()
	cb.RecordSuccess()
	require.Equal(t, 2, cb.Stats().SuccessCount)

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Zero(t, cb.Stats().SuccessCount)

	// The recovery window restarts from the reopening
	clock.Advance(30 * time.Second)
	assert.Equal(t, StateOpen, cb.State())
	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "hooked",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
		Now:              clock.Now,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	cb.RecordFailure()
	clock.Advance(time.Second)
	cb.RecordSuccess()

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
}

func TestCircuitBreaker_PanicCountsAsFailure(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 1, 1, time.Minute)

	assert.Panics(t, func() {
		_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			panic("boom")
		})
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 1, 1, time.Minute)

	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Stats().FailureCount)
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("llm_inference")
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 2, cfg.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.RecoveryTimeout)

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "zero"})
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 2, cb.successThreshold)
	assert.Equal(t, 60*time.Second, cb.recoveryTimeout)
}

func TestCircuitBreaker_ConcurrentRecording(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 1000, 1, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				cb.RecordFailure()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, cb.Stats().FailureCount)
	assert.Equal(t, StateClosed, cb.State())
}

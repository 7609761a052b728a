package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	appErrors "github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	mutex      sync.Mutex
	retries    map[string]int
	fallbacks  map[string]int
	rejections map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		retries:    map[string]int{},
		fallbacks:  map[string]int{},
		rejections: map[string]int{},
	}
}

func (o *countingObserver) RecordRetry(dependency string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.retries[dependency]++
}

func (o *countingObserver) RecordFallback(dependency string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.fallbacks[dependency]++
}

func (o *countingObserver) RecordCircuitRejection(dependency string) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.rejections[dependency]++
}

func TestResilientCall_OpenCircuitUsesFallbackWithoutInvoking(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 1, 1, time.Minute)
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	observer := newCountingObserver()
	invoked := false
	result, err := ResilientCall(context.Background(), "web_search", func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "live", nil
	}, CallOptions{
		Breaker:  cb,
		Retry:    fastRetryConfig(3),
		Fallback: EmptyFallback("web_search"),
		Observer: observer,
	})

	require.NoError(t, err)
	assert.False(t, invoked)
	assert.True(t, IsDegraded(result))
	assert.Equal(t, 1, observer.rejections["web_search"])
	assert.Equal(t, 1, observer.fallbacks["web_search"])
}

func TestResilientCall_OpenCircuitWithoutFallbackFails(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 1, 1, time.Minute)
	cb.RecordFailure()

	_, err := ResilientCall(context.Background(), "calendar", succeeding, CallOptions{Breaker: cb})

	require.Error(t, err)
	assert.True(t, IsCircuitOpenError(err))
}

func TestResilientCall_RetriesThenSucceeds(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 10, 1, time.Minute)
	observer := newCountingObserver()

	attempts := 0
	result, err := ResilientCall(context.Background(), "llm_inference", func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, appErrors.NewTimeoutError("completion")
		}
		return "answer", nil
	}, CallOptions{Breaker: cb, Retry: fastRetryConfig(3), Observer: observer})

	require.NoError(t, err)
	assert.Equal(t, "answer", result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2, observer.retries["llm_inference"])
	assert.Equal(t, StateClosed, cb.State())
}

func TestResilientCall_ExhaustedRetriesUseRegisteredFallback(t *testing.T) {
	degradation := NewDegradation()
	cb := newTestBreaker(newFakeClock(), 10, 1, time.Minute)

	attempts := 0
	result, err := ResilientCall(context.Background(), "enrichment", func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, appErrors.NewExternalError("enrichment", "503")
	}, CallOptions{Breaker: cb, Retry: fastRetryConfig(2), Degradation: degradation})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.True(t, IsDegraded(result))
	assert.Contains(t, result.(*DegradedResult).Reason, "503")
	assert.Equal(t, 3, cb.Stats().FailureCount)
}

func TestResilientCall_ExplicitFallbackWins(t *testing.T) {
	degradation := NewDegradation()

	result, err := ResilientCall(context.Background(), "crm_sync", failing, CallOptions{
		Degradation: degradation,
		Fallback: func(ctx context.Context, cause error) (interface{}, error) {
			return "explicit", nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "explicit", result)
}

func TestResilientCall_FailureWithoutFallbackReturnsError(t *testing.T) {
	_, err := ResilientCall(context.Background(), "unknown_dep", failing, CallOptions{Retry: fastRetryConfig(1)})
	require.Error(t, err)
	assert.Equal(t, "dependency failed", err.Error())
}

func TestResilientCall_TripsBreakerMidRetry(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 2, 1, time.Minute)

	attempts := 0
	_, err := ResilientCall(context.Background(), "web_search", func(ctx context.Context) (interface{}, error) {
		attempts++
		return nil, appErrors.NewExternalError("search", "down")
	}, CallOptions{Breaker: cb, Retry: fastRetryConfig(5)})

	require.Error(t, err)
	assert.True(t, IsCircuitOpenError(err))
	assert.Equal(t, 2, attempts)
}

func TestResilientCall_CancellationSkipsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fallbackUsed := false
	_, err := ResilientCall(ctx, "llm_inference", succeeding, CallOptions{
		Fallback: func(ctx context.Context, cause error) (interface{}, error) {
			fallbackUsed = true
			return nil, nil
		},
	})

	require.True(t, errors.Is(err, context.Canceled))
	assert.False(t, fallbackUsed)
}

func TestCaller_UsesRegistries(t *testing.T) {
	breakers := NewRegistry(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, nil)
	observer := newCountingObserver()
	caller := NewCaller(breakers, NewDegradation(), fastRetryConfig(0), observer)

	result, err := caller.Call(context.Background(), "llm_inference", failing, nil)
	require.NoError(t, err)
	assert.True(t, IsDegraded(result))
	assert.True(t, breakers.Get("llm_inference").IsOpen())

	invoked := false
	result, err = caller.Call(context.Background(), "llm_inference", func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "live", nil
	}, nil)
	require.NoError(t, err)
	assert.False(t, invoked)
	assert.True(t, IsDegraded(result))
	assert.Equal(t, 1, observer.rejections["llm_inference"])
	assert.Same(t, breakers, caller.Breakers())
}

func TestCaller_NilDegradation(t *testing.T) {
	caller := NewCaller(nil, nil, fastRetryConfig(0), nil)
	require.NotNil(t, caller.Degradation())

	_, err := caller.Call(context.Background(), "web_search", failing, nil)
	require.Error(t, err)
}

func TestCaller_CallStrictOnlyFallsBackOnOpenCircuit(t *testing.T) {
	breakers := NewRegistry(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}, nil)
	observer := newCountingObserver()
	caller := NewCaller(breakers, NewDegradation(), fastRetryConfig(0), observer)

	result, err := caller.CallStrict(context.Background(), "llm_inference", failing, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, "dependency failed", err.Error())
	assert.Zero(t, observer.fallbacks["llm_inference"])

	_, err = caller.CallStrict(context.Background(), "llm_inference", failing, nil)
	require.Error(t, err)
	require.True(t, breakers.Get("llm_inference").IsOpen())

	invoked := false
	result, err = caller.CallStrict(context.Background(), "llm_inference", func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "live", nil
	}, nil)
	require.NoError(t, err)
	assert.False(t, invoked)
	assert.True(t, IsDegraded(result))
	assert.Equal(t, 1, observer.fallbacks["llm_inference"])
}

func TestResilientCall_OpenCircuitOnlyFallsBackWhenTrippedMidRetry(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), 2, 1, time.Minute)

	result, err := ResilientCall(context.Background(), "web_search", func(ctx context.Context) (interface{}, error) {
		return nil, appErrors.NewExternalError("search", "down")
	}, CallOptions{Breaker: cb, Retry: fastRetryConfig(5), Degradation: NewDegradation(), OpenCircuitOnly: true})

	require.NoError(t, err)
	assert.True(t, IsDegraded(result))
}

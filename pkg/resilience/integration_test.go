package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	appErrors "github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDependency simulates an external dependency that can be switched between
// healthy and failing
type mockDependency struct {
	mutex    sync.Mutex
	name     string
	failing  bool
	requests int
}

func (m *mockDependency) setFailing(failing bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.failing = failing
}

func (m *mockDependency) requestCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requests
}

func (m *mockDependency) call(ctx context.Context) (interface{}, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.requests++
	if m.failing {
		return nil, appErrors.NewExternalError(m.name, "service unavailable")
	}
	return "result from " + m.name, nil
}

func TestIntegration_OutageAndRecovery(t *testing.T) {
	clock := newFakeClock()
	breakers := NewRegistry(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		Now:              clock.Now,
	}, nil)
	caller := NewCaller(breakers, NewDegradation(), fastRetryConfig(1), nil)
	search := &mockDependency{name: "web_search"}
	ctx := context.Background()

	// Healthy
	result, err := caller.Call(ctx, "web_search", search.call, nil)
	require.NoError(t, err)
	assert.Equal(t, "result from web_search", result)

	// Outage: the first call spends two attempts, the second trips the breaker
	search.setFailing(true)
	for i := 0; i < 2; i++ {
		result, err = caller.Call(ctx, "web_search", search.call, nil)
		require.NoError(t, err)
		assert.True(t, IsDegraded(result))
	}
	assert.Equal(t, StateOpen, breakers.Get("web_search").State())
	requestsWhenOpened := search.requestCount()

	// While open the dependency is not contacted
	for i := 0; i < 5; i++ {
		result, err = caller.Call(ctx, "web_search", search.call, nil)
		require.NoError(t, err)
		assert.True(t, IsDegraded(result))
	}
	assert.Equal(t, requestsWhenOpened, search.requestCount())

	// Recovery: trial calls succeed and close the circuit
	search.setFailing(false)
	clock.Advance(30 * time.Second)
	assert.Equal(t, StateHalfOpen, breakers.Get("web_search").State())

	for i := 0; i < 2; i++ {
		result, err = caller.Call(ctx, "web_search", search.call, nil)
		require.NoError(t, err)
		assert.Equal(t, "result from web_search", result)
	}
	assert.Equal(t, StateClosed, breakers.Get("web_search").State())
}

func TestIntegration_IndependentDependencies(t *testing.T) {
	breakers := NewRegistry(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, nil)
	caller := NewCaller(breakers, NewEmptyDegradation(), fastRetryConfig(0), nil)

	crm := &mockDependency{name: "crm_sync", failing: true}
	calendar := &mockDependency{name: "calendar"}

	_, err := caller.Call(context.Background(), "crm_sync", crm.call, nil)
	require.Error(t, err)

	result, err := caller.Call(context.Background(), "calendar", calendar.call, nil)
	require.NoError(t, err)
	assert.Equal(t, "result from calendar", result)

	assert.Equal(t, []string{"crm_sync"}, breakers.OpenCircuits())
}

func TestIntegration_ConcurrentCalls(t *testing.T) {
	breakers := NewRegistry(CircuitBreakerConfig{FailureThreshold: 1000, RecoveryTimeout: time.Minute}, nil)
	caller := NewCaller(breakers, NewDegradation(), fastRetryConfig(0), nil)
	dep := &mockDependency{name: "llm_inference"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := caller.Call(context.Background(), "llm_inference", dep.call, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, dep.requestCount())
	assert.Equal(t, StateClosed, breakers.Get("llm_inference").State())
}

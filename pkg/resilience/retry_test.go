package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	appErrors "github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	config := DefaultRetryConfig()
	config.MaxRetries = maxRetries
	config.InitialDelay = time.Millisecond
	config.MaxDelay = 5 * time.Millisecond
	config.Jitter = false
	return config
}

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig())

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_SuccessAfterRetries(t *testing.T) {
	retrier := NewRetrier(fastRetryConfig(3))

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return appErrors.NewTimeoutError("llm call timed out")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_ReturnsLastErrorUnchanged(t *testing.T) {
	retrier := NewRetrier(fastRetryConfig(2))

	var last error
	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		last = appErrors.NewExternalError("crm", "attempt failed")
		return last
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts, "one initial attempt plus two retries")
	assert.Same(t, last, err)
}

func TestRetrier_NonRetryableError(t *testing.T) {
	retrier := NewRetrier(fastRetryConfig(3))

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return appErrors.NewValidationError("bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeValidation))
}

func TestRetrier_PlainErrorsAreNotRetriedByDefault(t *testing.T) {
	retrier := NewRetrier(fastRetryConfig(3))

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("unclassified")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_RetryablePredicate(t *testing.T) {
	sentinel := errors.New("flaky")
	config := fastRetryConfig(2)
	config.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	attempts := 0
	err := NewRetrier(config).Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return sentinel
	})

	require.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_OpenCircuitIsNeverRetried(t *testing.T) {
	config := fastRetryConfig(3)
	config.Retryable = func(error) bool { return true }

	attempts := 0
	err := NewRetrier(config).Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return &CircuitOpenError{Name: "web_search", RetryAfter: time.Second}
	})

	require.Error(t, err)
	assert.True(t, IsCircuitOpenError(err))
	assert.Equal(t, 1, attempts)
}

func TestRetrier_OnRetryReportsAttempts(t *testing.T) {
	config := fastRetryConfig(2)
	var seen []int
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	}

	_ = NewRetrier(config).Execute(context.Background(), func(ctx context.Context) error {
		return appErrors.NewRateLimitError("slow down")
	})

	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetrier_ContextCancellation(t *testing.T) {
	config := fastRetryConfig(5)
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := NewRetrier(config).Execute(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return appErrors.NewTimeoutError("timed out")
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_CalculateDelay(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		MaxRetries:    5,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, retrier.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, retrier.calculateDelay(2))
	assert.Equal(t, 400*time.Millisecond, retrier.calculateDelay(3))
	assert.Equal(t, 800*time.Millisecond, retrier.calculateDelay(4))
	assert.Equal(t, time.Second, retrier.calculateDelay(5))
}

func TestRetrier_JitterStaysWithinTenPercent(t *testing.T) {
	retrier := NewRetrier(RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      time.Second,
		Jitter:        true,
	})

	for i := 0; i < 50; i++ {
		delay := retrier.calculateDelay(1)
		assert.GreaterOrEqual(t, delay, 100*time.Millisecond)
		assert.LessOrEqual(t, delay, 110*time.Millisecond)
	}
}

func TestRetry_ExecuteWithResult(t *testing.T) {
	attempts := 0
	result, err := NewRetrier(fastRetryConfig(1)).ExecuteWithResult(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts == 1 {
			return nil, appErrors.NewExternalError("search", "unavailable")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRetry_ConvenienceFunction(t *testing.T) {
	err := Retry(context.Background(), fastRetryConfig(0), func(ctx context.Context) error {
		return appErrors.NewTimeoutError("once")
	})
	require.Error(t, err)
}

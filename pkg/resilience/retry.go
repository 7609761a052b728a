package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the number of attempts made after the first one
	MaxRetries int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// BackoffFactor multiplies the delay after every retry
	BackoffFactor float64
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// Jitter adds up to 10% randomness to each delay
	Jitter bool
	// RetryOn is the allow-list of error types that are retried
	RetryOn []errors.ErrorType
	// Retryable, when set, is consulted for errors not matched by RetryOn
	Retryable func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryOn is the default allow-list: transient failures only
var DefaultRetryOn = []errors.ErrorType{
	errors.ErrorTypeTimeout,
	errors.ErrorTypeExternal,
	errors.ErrorTypeRateLimit,
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
		RetryOn:       DefaultRetryOn,
	}
}

// isRetryable reports whether err is on the allow-list. Open circuits are
// never retried: the breaker already decided not to call the dependency.
func (c RetryConfig) isRetryable(err error) bool {
	if err == nil || IsCircuitOpenError(err) {
		return false
	}
	for _, t := range c.RetryOn {
		if errors.IsType(err, t) {
			return true
		}
	}
	if c.Retryable != nil {
		return c.Retryable(err)
	}
	return false
}

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}
	if config.RetryOn == nil && config.Retryable == nil {
		config.RetryOn = DefaultRetryOn
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute executes the given function with retry logic. When every attempt
// fails, the error of the last attempt is returned as is.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error
	attempts := r.config.MaxRetries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
				)
			}
			return nil
		}

		lastErr = err

		if !r.config.isRetryable(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if attempt == attempts {
			break
		}

		delay := r.calculateDelay(attempt)

		r.logger.Warn("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_retries", r.config.MaxRetries,
			"delay", delay.String(),
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", attempts,
	)

	return lastErr
}

// ExecuteWithResult executes the given function with retry logic and returns a result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := rand.Float64() * 0.1 * delay // 10% jitter
		delay += jitter
	}

	return time.Duration(delay)
}

// Retry is a convenience function to execute an operation with the given configuration
func Retry(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, operation)
}

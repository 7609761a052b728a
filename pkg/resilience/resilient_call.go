package resilience

import (
	"context"
	"errors"
	"time"
)

// Operation is a call to an external dependency
type Operation func(ctx context.Context) (interface{}, error)

// Observer receives resilience events, typically to update metrics
type Observer interface {
	RecordRetry(dependency string)
	RecordFallback(dependency string)
	RecordCircuitRejection(dependency string)
}

// CallOptions configures a single ResilientCall
type CallOptions struct {
	// Breaker guards the dependency; nil disables circuit breaking
	Breaker *CircuitBreaker
	// Retry configures re-invocation on allow-listed failures
	Retry RetryConfig
	// Fallback takes precedence over the Degradation registry
	Fallback FallbackFunc
	// Degradation is consulted by name when no explicit Fallback is given
	Degradation *Degradation
	Observer    Observer
	// OpenCircuitOnly limits the fallback to calls the breaker rejected;
	// failures of an attempted operation are returned as is
	OpenCircuitOnly bool
}

// ResilientCall invokes operation through the breaker with retries.
//
// If the breaker is open the operation is not attempted at all: the fallback
// (explicit, else registered under name) produces the result, or the
// *CircuitOpenError is returned. If every attempt fails the fallback is
// consulted the same way before the final error is returned, unless
// OpenCircuitOnly is set. Context cancellation is returned as is and never
// triggers a fallback.
func ResilientCall(ctx context.Context, name string, operation Operation, opts CallOptions) (interface{}, error) {
	fallback := opts.Fallback
	if fallback == nil && opts.Degradation != nil {
		fallback, _ = opts.Degradation.Fallback(name)
	}

	if opts.Breaker != nil {
		if err := opts.Breaker.beforeRequest(); err != nil {
			if opts.Observer != nil {
				opts.Observer.RecordCircuitRejection(name)
			}
			return useFallback(ctx, name, fallback, err, opts.Observer)
		}
	}

	retry := opts.Retry
	onRetry := retry.OnRetry
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		if opts.Observer != nil {
			opts.Observer.RecordRetry(name)
		}
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	result, err := NewRetrier(retry).ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
		if opts.Breaker != nil {
			return opts.Breaker.Execute(ctx, operation)
		}
		return operation(ctx)
	})
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}

	open := IsCircuitOpenError(err)
	if opts.Observer != nil && open {
		opts.Observer.RecordCircuitRejection(name)
	}
	if opts.OpenCircuitOnly && !open {
		return nil, err
	}
	return useFallback(ctx, name, fallback, err, opts.Observer)
}

func useFallback(ctx context.Context, name string, fallback FallbackFunc, cause error, observer Observer) (interface{}, error) {
	if fallback == nil {
		return nil, cause
	}
	if observer != nil {
		observer.RecordFallback(name)
	}
	return fallback(ctx, cause)
}

// Caller binds the process-wide breaker and fallback registries to a default
// retry policy, so call sites only name the dependency.
type Caller struct {
	breakers    *Registry
	degradation *Degradation
	retry       RetryConfig
	observer    Observer
}

// NewCaller creates a Caller. observer may be nil.
func NewCaller(breakers *Registry, degradation *Degradation, retry RetryConfig, observer Observer) *Caller {
	if degradation == nil {
		degradation = NewEmptyDegradation()
	}
	return &Caller{
		breakers:    breakers,
		degradation: degradation,
		retry:       retry,
		observer:    observer,
	}
}

// Call runs operation against the named dependency. fallback may be nil to
// use the registry.
func (c *Caller) Call(ctx context.Context, name string, operation Operation, fallback FallbackFunc) (interface{}, error) {
	var breaker *CircuitBreaker
	if c.breakers != nil {
		breaker = c.breakers.Get(name)
	}
	return ResilientCall(ctx, name, operation, CallOptions{
		Breaker:     breaker,
		Retry:       c.retry,
		Fallback:    fallback,
		Degradation: c.degradation,
		Observer:    c.observer,
	})
}

// CallStrict is Call for work whose failures must reach the caller: the
// fallback (explicit, else registered) only stands in when the circuit is
// open.
func (c *Caller) CallStrict(ctx context.Context, name string, operation Operation, fallback FallbackFunc) (interface{}, error) {
	var breaker *CircuitBreaker
	if c.breakers != nil {
		breaker = c.breakers.Get(name)
	}
	return ResilientCall(ctx, name, operation, CallOptions{
		Breaker:         breaker,
		Retry:           c.retry,
		Fallback:        fallback,
		Degradation:     c.degradation,
		Observer:        c.observer,
		OpenCircuitOnly: true,
	})
}

// Breakers returns the breaker registry
func (c *Caller) Breakers() *Registry {
	return c.breakers
}

// Degradation returns the fallback registry
func (c *Caller) Degradation() *Degradation {
	return c.degradation
}

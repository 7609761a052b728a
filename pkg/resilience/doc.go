// Package resilience protects calls to unreliable external dependencies with
// circuit breaking, bounded retries and graceful degradation.
//
// # Circuit Breaker
//
// One breaker exists per dependency name, owned by a Registry that is created
// at startup and injected where needed:
//
//	breakers := resilience.NewRegistry(resilience.DefaultCircuitBreakerConfig(""), nil)
//	cb := breakers.Get("web_search")
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return search.Query(ctx, q)
//	})
//
// An open breaker rejects calls with *CircuitOpenError carrying the time left
// until the recovery timeout elapses. HALF_OPEN is derived from timestamps at
// read time; no timer is involved.
//
// # Retry with Exponential Backoff
//
// Only failures whose type is on the allow-list are retried. When retries are
// exhausted the last failure is returned unchanged.
//
//	err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) error {
//		return crm.Sync(ctx, record)
//	})
//
// # Graceful Degradation
//
// Degradation maps dependency names to fallbacks. NewDegradation registers an
// empty, clearly marked *DegradedResult for the known flaky dependencies.
//
// # Combined Usage
//
//	caller := resilience.NewCaller(breakers, resilience.NewDegradation(), resilience.DefaultRetryConfig(), nil)
//	result, err := caller.Call(ctx, "llm_inference", op, nil)
package resilience

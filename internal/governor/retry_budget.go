package governor

import (
	"sync"
	"sync/atomic"
)

// RetryBudget counts re-attempts per goal. Counters live in memory only and
// are reset explicitly when a goal finishes. Each goal has its own atomic
// counter, so goals never contend with each other.
type RetryBudget struct {
	max      int
	counters sync.Map // goal id -> *atomic.Int64
}

// NewRetryBudget creates a budget admitting maxRetries re-attempts per goal
func NewRetryBudget(maxRetries int) *RetryBudget {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryBudget{max: maxRetries}
}

// Max returns the per-goal limit
func (r *RetryBudget) Max() int {
	return r.max
}

// Allow reports whether goalID is still below the limit
func (r *RetryBudget) Allow(goalID string) bool {
	return r.Count(goalID) < int64(r.max)
}

// Record increments the goal's counter and returns the new count
func (r *RetryBudget) Record(goalID string) int64 {
	counter, _ := r.counters.LoadOrStore(goalID, new(atomic.Int64))
	return counter.(*atomic.Int64).Add(1)
}

// TryRecord reserves one re-attempt for goalID if the goal is still below
// the limit. The check and the increment are a single atomic step.
func (r *RetryBudget) TryRecord(goalID string) (int64, bool) {
	value, _ := r.counters.LoadOrStore(goalID, new(atomic.Int64))
	counter := value.(*atomic.Int64)
	for {
		current := counter.Load()
		if current >= int64(r.max) {
			return current, false
		}
		if counter.CompareAndSwap(current, current+1) {
			return current + 1, true
		}
	}
}

// Count returns the current count for goalID
func (r *RetryBudget) Count(goalID string) int64 {
	counter, ok := r.counters.Load(goalID)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

// Clear forgets goalID
func (r *RetryBudget) Clear(goalID string) {
	r.counters.Delete(goalID)
}

// Reset forgets every goal
func (r *RetryBudget) Reset() {
	r.counters.Range(func(key, _ interface{}) bool {
		r.counters.Delete(key)
		return true
	})
}

package resilience

import (
	"context"
	"sort"
	"sync"

	"github.com/arcwell-foundry/aria/pkg/logging"
)

// FallbackFunc produces a reduced-fidelity result for a failed operation.
// It receives the failure that triggered it.
type FallbackFunc func(ctx context.Context, cause error) (interface{}, error)

// DegradedResult is the value returned by the default fallbacks. Callers can
// detect it to mark their own output as degraded.
type DegradedResult struct {
	Degraded   bool                   `json:"degraded"`
	Dependency string                 `json:"dependency"`
	Reason     string                 `json:"reason"`
	Data       map[string]interface{} `json:"data"`
}

// IsDegraded reports whether v is a degraded result
func IsDegraded(v interface{}) bool {
	d, ok := v.(*DegradedResult)
	return ok && d != nil && d.Degraded
}

// DefaultFallbackDependencies are external dependencies known to be flaky;
// NewDegradation pre-registers an empty degraded fallback for each.
var DefaultFallbackDependencies = []string{
	"llm_inference",
	"web_search",
	"enrichment",
	"crm_sync",
	"calendar",
	"email_lookup",
}

// Degradation is a name to fallback registry
type Degradation struct {
	mutex     sync.RWMutex
	fallbacks map[string]FallbackFunc
	logger    *logging.Logger
}

// NewDegradation creates a registry with the default fallbacks registered
func NewDegradation() *Degradation {
	d := NewEmptyDegradation()
	for _, name := range DefaultFallbackDependencies {
		d.Register(name, EmptyFallback(name))
	}
	return d
}

// NewEmptyDegradation creates a registry with no fallbacks
func NewEmptyDegradation() *Degradation {
	return &Degradation{
		fallbacks: make(map[string]FallbackFunc),
		logger:    logging.GetLogger(),
	}
}

// EmptyFallback returns a fallback that yields a marked, empty result instead of failing
func EmptyFallback(name string) FallbackFunc {
	return func(ctx context.Context, cause error) (interface{}, error) {
		reason := "unavailable"
		if cause != nil {
			reason = cause.Error()
		}
		return &DegradedResult{
			Degraded:   true,
			Dependency: name,
			Reason:     reason,
			Data:       map[string]interface{}{},
		}, nil
	}
}

// Register sets the fallback for name, replacing any previous one
func (d *Degradation) Register(name string, fallback FallbackFunc) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.fallbacks[name] = fallback
}

// Unregister removes the fallback for name
func (d *Degradation) Unregister(name string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.fallbacks, name)
}

// Fallback returns the fallback registered for name
func (d *Degradation) Fallback(name string) (FallbackFunc, bool) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	fb, ok := d.fallbacks[name]
	return fb, ok
}

// Names returns the registered names in sorted order
func (d *Degradation) Names() []string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	names := make([]string, 0, len(d.fallbacks))
	for name := range d.fallbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CallWithFallback runs operation and, only if it fails, the fallback
// registered for name. Without a fallback the original error is returned.
func (d *Degradation) CallWithFallback(ctx context.Context, name string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	result, err := operation(ctx)
	if err == nil {
		return result, nil
	}

	fallback, ok := d.Fallback(name)
	if !ok {
		return nil, err
	}

	d.logger.Warn("Using fallback after failure",
		"dependency", name,
		"error", err.Error(),
	)
	return fallback(ctx, err)
}

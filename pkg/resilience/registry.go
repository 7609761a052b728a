package resilience

import (
	"sort"
	"sync"
)

// Registry owns one CircuitBreaker per dependency name.
//
// A Registry is created once at startup and injected wherever breakers are
// needed; tests and per-tenant isolation create their own or call Reset. The
// registry lock only guards the name lookup: each breaker serializes its own
// state, so traffic to different dependencies never contends on one lock.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	defaults  CircuitBreakerConfig
	overrides map[string]CircuitBreakerConfig
}

// NewRegistry creates a registry. defaults applies to every name without an
// override; its Name field is ignored.
func NewRegistry(defaults CircuitBreakerConfig, overrides map[string]CircuitBreakerConfig) *Registry {
	copied := make(map[string]CircuitBreakerConfig, len(overrides))
	for name, cfg := range overrides {
		copied[name] = cfg
	}
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults,
		overrides: copied,
	}
}

// Get returns the breaker for name, creating it on first use
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, ok := r.breakers[name]
	r.mutex.RUnlock()
	if ok {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cfg, ok := r.overrides[name]
	if !ok {
		cfg = r.defaults
	}
	if cfg.OnStateChange == nil {
		cfg.OnStateChange = r.defaults.OnStateChange
	}
	if cfg.Now == nil {
		cfg.Now = r.defaults.Now
	}
	cfg.Name = name

	cb = NewCircuitBreaker(cfg)
	r.breakers[name] = cb
	return cb
}

// Names returns the registered dependency names in sorted order
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns the stats of every registered breaker
func (r *Registry) Snapshot() map[string]Stats {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	snapshot := make(map[string]Stats, len(breakers))
	for _, cb := range breakers {
		snapshot[cb.Name()] = cb.Stats()
	}
	return snapshot
}

// OpenCircuits returns the names of breakers currently rejecting calls
func (r *Registry) OpenCircuits() []string {
	var open []string
	for name, stats := range r.Snapshot() {
		if stats.State == StateOpen.String() {
			open = append(open, name)
		}
	}
	sort.Strings(open)
	return open
}

// Reset drops every breaker. Subsequent Get calls create fresh CLOSED breakers.
func (r *Registry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.breakers = make(map[string]*CircuitBreaker)
}

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arcwell-foundry/aria/pkg/errors"
)

// ExecutorHealth tracks how a role's executor has been behaving
type ExecutorHealth struct {
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// ExecutorRegistry routes each task to the executor registered for its
// worker role, falling back to a default executor.
type ExecutorRegistry struct {
	executors map[string]TaskExecutor
	health    map[string]ExecutorHealth
	fallback  TaskExecutor
	mu        sync.RWMutex
}

var _ TaskExecutor = (*ExecutorRegistry)(nil)

// NewExecutorRegistry creates a registry. fallback may be nil.
func NewExecutorRegistry(fallback TaskExecutor) *ExecutorRegistry {
	return &ExecutorRegistry{
		executors: make(map[string]TaskExecutor),
		health:    make(map[string]ExecutorHealth),
		fallback:  fallback,
	}
}

func roleKey(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// Register adds an executor for role
func (r *ExecutorRegistry) Register(role string, executor TaskExecutor) error {
	key := roleKey(role)
	if key == "" {
		return errors.NewValidationError("executor role cannot be empty")
	}
	if executor == nil {
		return errors.NewValidationError("executor cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[key]; exists {
		return errors.NewValidationError(fmt.Sprintf("executor for %s is already registered", key))
	}
	r.executors[key] = executor
	return nil
}

// Unregister removes the executor for role
func (r *ExecutorRegistry) Unregister(role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := roleKey(role)
	if _, exists := r.executors[key]; !exists {
		return errors.NewNotFoundError("executor")
	}
	delete(r.executors, key)
	delete(r.health, key)
	return nil
}

// Get returns the executor for role, or the fallback
func (r *ExecutorRegistry) Get(role string) (TaskExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if executor, ok := r.executors[roleKey(role)]; ok {
		return executor, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("executor for role %q", role))
}

// Roles returns the registered roles, sorted
func (r *ExecutorRegistry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roles := make([]string, 0, len(r.executors))
	for role := range r.executors {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Execute implements TaskExecutor
func (r *ExecutorRegistry) Execute(ctx context.Context, req *TaskRequest) (*TaskResult, error) {
	executor, err := r.Get(req.Task.WorkerRole)
	if err != nil {
		return nil, err
	}

	result, err := executor.Execute(ctx, req)

	key := roleKey(req.Task.WorkerRole)
	r.mu.Lock()
	health := r.health[key]
	health.Runs++
	health.LastRun = time.Now()
	if err != nil {
		health.Failures++
		health.LastError = err.Error()
	} else {
		health.LastError = ""
	}
	r.health[key] = health
	r.mu.Unlock()

	return result, err
}

// Health returns a copy of per-role execution health
func (r *ExecutorRegistry) Health() map[string]ExecutorHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ExecutorHealth, len(r.health))
	for role, health := range r.health {
		out[role] = health
	}
	return out
}

// Package orchestrator executes a goal's task graph layer by layer under
// capability, budget and resilience governance.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arcwell-foundry/aria/internal/capability"
	"github.com/arcwell-foundry/aria/internal/events"
	"github.com/arcwell-foundry/aria/internal/governor"
	"github.com/arcwell-foundry/aria/internal/scheduler"
	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/metrics"
	"github.com/arcwell-foundry/aria/pkg/resilience"
	"github.com/arcwell-foundry/aria/pkg/tracing"
	"github.com/arcwell-foundry/aria/pkg/types"
)

// Config contains goal execution configuration
type Config struct {
	MaxConcurrentTasks int           `json:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `json:"task_timeout"`
	// Dependency is the breaker and fallback name executor calls go through
	Dependency string `json:"dependency"`
	// TokenTTLSeconds bounds minted capability tokens; zero uses the minter default
	TokenTTLSeconds int `json:"token_ttl_seconds"`
}

// DefaultConfig returns default orchestration configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentTasks: 8,
		TaskTimeout:        5 * time.Minute,
		Dependency:         "llm_inference",
	}
}

// Dependencies are the collaborators an Orchestrator composes. Scheduler,
// Minter, Governor, Caller and Executor are required.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Minter    *capability.Minter
	Governor  *governor.CostGovernor
	Caller    *resilience.Caller
	Executor  TaskExecutor
	Publisher *events.Publisher
	Metrics   *metrics.Metrics
	Tracing   *tracing.TracingService
	Logger    *logging.Logger
}

// Orchestrator runs goals. Each goal is one cancellable unit.
type Orchestrator struct {
	scheduler *scheduler.Scheduler
	minter    *capability.Minter
	governor  *governor.CostGovernor
	caller    *resilience.Caller
	executor  TaskExecutor
	publisher *events.Publisher
	metrics   *metrics.Metrics
	tracing   *tracing.TracingService
	logger    *logging.Logger
	config    *Config

	goals map[string]*goalRun
	mu    sync.RWMutex
}

type goalRun struct {
	goal   types.Goal
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status types.GoalStatus
	result *GoalResult
	err    error
}

func (r *goalRun) setStatus(status types.GoalStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(deps Dependencies, config *Config) (*Orchestrator, error) {
	switch {
	case deps.Minter == nil:
		return nil, errors.NewValidationError("orchestrator requires a capability minter")
	case deps.Governor == nil:
		return nil, errors.NewValidationError("orchestrator requires a cost governor")
	case deps.Caller == nil:
		return nil, errors.NewValidationError("orchestrator requires a resilience caller")
	case deps.Executor == nil:
		return nil, errors.NewValidationError("orchestrator requires a task executor")
	}

	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = DefaultConfig().MaxConcurrentTasks
	}
	if config.Dependency == "" {
		config.Dependency = DefaultConfig().Dependency
	}
	if deps.Logger == nil {
		deps.Logger = logging.GetLogger()
	}
	if deps.Scheduler == nil {
		deps.Scheduler = scheduler.New(deps.Logger)
	}
	if deps.Tracing == nil {
		deps.Tracing = tracing.NewNoopService()
	}

	return &Orchestrator{
		scheduler: deps.Scheduler,
		minter:    deps.Minter,
		governor:  deps.Governor,
		caller:    deps.Caller,
		executor:  deps.Executor,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		tracing:   deps.Tracing,
		logger:    deps.Logger,
		config:    config,
		goals:     make(map[string]*goalRun),
	}, nil
}

// ExecuteGoal runs tasks to completion and returns the result. The goal
// always reaches a terminal state; if it was cancelled the result is returned
// together with a cancelled error.
func (o *Orchestrator) ExecuteGoal(ctx context.Context, goal types.Goal, tasks []types.Task) (*GoalResult, error) {
	run, runCtx, err := o.register(ctx, goal)
	if err != nil {
		return nil, err
	}

	o.execute(runCtx, run, tasks)
	return run.result, run.err
}

// Submit starts a goal in the background. It returns the goal ID, which is
// generated when goal.ID is empty.
func (o *Orchestrator) Submit(ctx context.Context, goal types.Goal, tasks []types.Task) (string, error) {
	run, runCtx, err := o.register(context.WithoutCancel(ctx), goal)
	if err != nil {
		return "", err
	}

	go o.execute(runCtx, run, tasks)
	return run.goal.ID, nil
}

// Cancel signals a running goal to stop. It reports whether a running goal
// was signalled; unknown and finished goals are a no-op.
func (o *Orchestrator) Cancel(goalID string) bool {
	o.mu.RLock()
	run, ok := o.goals[goalID]
	o.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case <-run.done:
		return false
	default:
	}

	run.cancel()
	o.logger.Info("Goal cancellation requested", "goal_id", goalID)
	return true
}

// Wait blocks until the goal finishes or ctx is done
func (o *Orchestrator) Wait(ctx context.Context, goalID string) (*GoalResult, error) {
	o.mu.RLock()
	run, ok := o.goals[goalID]
	o.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("goal")
	}

	select {
	case <-run.done:
		return run.result, run.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the lifecycle state of a known goal
func (o *Orchestrator) Status(goalID string) (types.GoalStatus, bool) {
	o.mu.RLock()
	run, ok := o.goals[goalID]
	o.mu.RUnlock()
	if !ok {
		return "", false
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.status, true
}

// Forget drops a finished goal's result. Running goals are kept.
func (o *Orchestrator) Forget(goalID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, ok := o.goals[goalID]
	if !ok {
		return false
	}
	select {
	case <-run.done:
		delete(o.goals, goalID)
		return true
	default:
		return false
	}
}

// Shutdown cancels every running goal and waits for them to settle
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	runs := make([]*goalRun, 0, len(o.goals))
	for _, run := range o.goals {
		runs = append(runs, run)
	}
	o.mu.RUnlock()

	for _, run := range runs {
		run.cancel()
	}
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) register(ctx context.Context, goal types.Goal) (*goalRun, context.Context, error) {
	if goal.TenantID == "" {
		return nil, nil, errors.NewValidationError("goal tenant_id is required")
	}
	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &goalRun{
		goal:   goal,
		cancel: cancel,
		done:   make(chan struct{}),
		status: types.GoalStatusPending,
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.goals[goal.ID]; ok {
		select {
		case <-existing.done:
		default:
			cancel()
			return nil, nil, errors.NewValidationError("goal " + goal.ID + " is already running")
		}
	}
	o.goals[goal.ID] = run
	return run, runCtx, nil
}

// execute drives one goal through its layers. Layers run strictly in order;
// tasks within a layer run concurrently.
func (o *Orchestrator) execute(ctx context.Context, run *goalRun, tasks []types.Task) {
	defer close(run.done)
	defer run.cancel()

	goal := run.goal
	ctx = logging.WithGoalID(ctx, goal.ID)
	ctx = logging.WithTenantID(ctx, goal.TenantID)
	ctx = logging.WithCorrelationID(ctx, logging.NewCorrelationID())

	result := &GoalResult{
		GoalID:    goal.ID,
		TenantID:  goal.TenantID,
		StartedAt: time.Now().UTC(),
	}

	run.setStatus(types.GoalStatusRunning)
	o.metrics.GoalStarted()

	ctx, span := o.tracing.StartGoalSpan(ctx, goal.ID, goal.TenantID, len(tasks))
	defer span.End()

	plan := o.scheduler.Plan(tasks)
	result.Layers = len(plan.Layers)
	result.Forced = plan.Forced

	o.logger.LogGoalEvent(ctx, "started", goal.ID, logrus.Fields{
		"tenant_id": goal.TenantID,
		"tasks":     len(tasks),
		"layers":    len(plan.Layers),
	})
	o.publish(ctx, goal, events.NewEvent(events.EventGoalStarted, goal.ID).
		WithData("tasks", len(tasks)).
		WithData("layers", len(plan.Layers)))

	if plan.HasForced() {
		o.publish(ctx, goal, events.NewEvent(events.EventCycleDetected, goal.ID).
			WithMessage("tasks with unsatisfiable dependencies were force-placed in the final layer").
			WithData("tasks", plan.Forced))
	}

	for index, layer := range plan.Layers {
		if ctx.Err() != nil {
			result.Outcomes = append(result.Outcomes, skippedOutcomes(index, layer)...)
			continue
		}
		result.Outcomes = append(result.Outcomes, o.runLayer(ctx, goal, index, layer)...)
	}

	result.tally()
	result.CompletedAt = time.Now().UTC()

	status := types.GoalStatusComplete
	var err error
	if ctx.Err() != nil {
		status = types.GoalStatusCancelled
		err = errors.NewCancelledError("goal " + goal.ID).WithCause(ctx.Err())
	}
	result.Status = status

	o.governor.ClearRetryCount(goal.ID)
	o.metrics.GoalFinished(string(status))

	// ctx may already be cancelled; finalization events still go out
	finalCtx := context.WithoutCancel(ctx)
	eventType := events.EventGoalCompleted
	if status == types.GoalStatusCancelled {
		eventType = events.EventGoalCancelled
	}
	o.publish(finalCtx, goal, events.NewEvent(eventType, goal.ID).
		WithData("succeeded", result.Succeeded).
		WithData("failed", result.Failed).
		WithData("deferred", result.Deferred).
		WithData("skipped", result.Skipped))
	o.logger.LogGoalEvent(finalCtx, string(status), goal.ID, logrus.Fields{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"deferred":  result.Deferred,
		"skipped":   result.Skipped,
		"duration":  result.Duration().String(),
	})

	run.mu.Lock()
	run.status = status
	run.result = result
	run.err = err
	run.mu.Unlock()
}

// runLayer runs every task of a layer concurrently, bounded by
// MaxConcurrentTasks, and returns outcomes in layer order.
func (o *Orchestrator) runLayer(ctx context.Context, goal types.Goal, index int, layer []types.Task) []types.TaskOutcome {
	ctx, span := o.tracing.StartLayerSpan(ctx, index, len(layer))
	defer span.End()

	o.publish(ctx, goal, events.NewEvent(events.EventLayerStarted, goal.ID).
		WithData("layer", index).
		WithData("size", len(layer)))

	outcomes := make([]types.TaskOutcome, len(layer))
	sem := make(chan struct{}, o.config.MaxConcurrentTasks)
	var wg sync.WaitGroup

	for i, task := range layer {
		wg.Add(1)
		go func(i int, task types.Task) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[i] = skippedOutcome(index, task)
				return
			}

			outcomes[i] = o.runTask(ctx, goal, index, task)
		}(i, task)
	}

	wg.Wait()
	return outcomes
}

func (o *Orchestrator) publish(ctx context.Context, goal types.Goal, event events.Event) {
	if o.publisher == nil {
		return
	}
	event.TenantID = goal.TenantID
	o.publisher.Publish(ctx, event)
}

func skippedOutcome(layer int, task types.Task) types.TaskOutcome {
	return types.TaskOutcome{
		Title:      task.Title,
		WorkerRole: task.WorkerRole,
		Layer:      layer,
		Status:     types.TaskStatusSkipped,
		Effort:     task.Effort,
		Error:      "goal cancelled",
	}
}

func skippedOutcomes(layer int, tasks []types.Task) []types.TaskOutcome {
	out := make([]types.TaskOutcome, len(tasks))
	for i, task := range tasks {
		out[i] = skippedOutcome(layer, task)
	}
	return out
}

package orchestrator

import (
	"context"
	"time"

	"github.com/arcwell-foundry/aria/internal/capability"
	"github.com/arcwell-foundry/aria/internal/governor"
	"github.com/arcwell-foundry/aria/pkg/types"
)

// TaskRequest is everything a worker needs to carry out one task
type TaskRequest struct {
	Goal    types.Goal        `json:"goal"`
	Task    types.Task        `json:"task"`
	Layer   int               `json:"layer"`
	Effort  types.Effort      `json:"effort"`
	Token   *capability.Token `json:"token"`
	Attempt int               `json:"attempt"`
}

// TaskResult is what a worker produced. Usage is charged to the goal's tenant.
type TaskResult struct {
	Output interface{}       `json:"output,omitempty"`
	Usage  governor.LLMUsage `json:"usage"`
}

// TaskExecutor performs delegated work. It is only ever invoked through the
// resilience layer.
type TaskExecutor interface {
	Execute(ctx context.Context, req *TaskRequest) (*TaskResult, error)
}

// ExecutorFunc adapts a function to TaskExecutor
type ExecutorFunc func(ctx context.Context, req *TaskRequest) (*TaskResult, error)

// Execute implements TaskExecutor
func (f ExecutorFunc) Execute(ctx context.Context, req *TaskRequest) (*TaskResult, error) {
	return f(ctx, req)
}

// GoalResult summarizes a finished goal
type GoalResult struct {
	GoalID      string              `json:"goal_id"`
	TenantID    string              `json:"tenant_id"`
	Status      types.GoalStatus    `json:"status"`
	Outcomes    []types.TaskOutcome `json:"outcomes"`
	Layers      int                 `json:"layers"`
	Forced      []string            `json:"forced,omitempty"`
	Succeeded   int                 `json:"succeeded"`
	Failed      int                 `json:"failed"`
	Deferred    int                 `json:"deferred"`
	Skipped     int                 `json:"skipped"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// Duration returns how long the goal ran
func (r *GoalResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Outcome returns the outcome of the task with the given title
func (r *GoalResult) Outcome(title string) (types.TaskOutcome, bool) {
	for _, outcome := range r.Outcomes {
		if outcome.Title == title {
			return outcome, true
		}
	}
	return types.TaskOutcome{}, false
}

func (r *GoalResult) tally() {
	r.Succeeded, r.Failed, r.Deferred, r.Skipped = 0, 0, 0, 0
	for _, outcome := range r.Outcomes {
		switch outcome.Status {
		case types.TaskStatusSucceeded:
			r.Succeeded++
		case types.TaskStatusFailed:
			r.Failed++
		case types.TaskStatusDeferred:
			r.Deferred++
		case types.TaskStatusSkipped:
			r.Skipped++
		}
	}
}

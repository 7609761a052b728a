package types

import (
	"fmt"
	"strings"
	"time"
)

// Effort is the reasoning depth requested for a unit of work.
// Higher effort consumes more thinking tokens.
type Effort string

const (
	EffortRoutine  Effort = "routine"
	EffortComplex  Effort = "complex"
	EffortCritical Effort = "critical"
)

// ParseEffort converts a string to an Effort. An empty string yields routine.
func ParseEffort(s string) (Effort, error) {
	switch Effort(strings.ToLower(strings.TrimSpace(s))) {
	case "", EffortRoutine:
		return EffortRoutine, nil
	case EffortComplex:
		return EffortComplex, nil
	case EffortCritical:
		return EffortCritical, nil
	default:
		return "", fmt.Errorf("unknown effort %q", s)
	}
}

// Task is a unit of work produced by a planner. Tasks are consumed once by
// the scheduler and never mutated.
type Task struct {
	Title      string   `json:"title" yaml:"title"`
	WorkerRole string   `json:"worker_role" yaml:"worker_role"`
	DependsOn  []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Effort     Effort   `json:"effort,omitempty" yaml:"effort,omitempty"`
}

// Goal identifies the objective a set of tasks belongs to.
type Goal struct {
	ID       string `json:"id" yaml:"goal_id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
}

// GoalStatus represents the lifecycle state of a goal
type GoalStatus string

const (
	GoalStatusPending   GoalStatus = "pending"
	GoalStatusRunning   GoalStatus = "running"
	GoalStatusComplete  GoalStatus = "complete"
	GoalStatusCancelled GoalStatus = "cancelled"
)

// IsTerminal reports whether no further transitions can happen.
func (s GoalStatus) IsTerminal() bool {
	return s == GoalStatusComplete || s == GoalStatusCancelled
}

// TaskStatus represents the settled state of a task
type TaskStatus string

const (
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	// TaskStatusDeferred means the task was not attempted because the
	// tenant's daily budget was exhausted.
	TaskStatusDeferred TaskStatus = "deferred"
	// TaskStatusSkipped means the goal was cancelled before the task ran.
	TaskStatusSkipped TaskStatus = "skipped"
)

// TaskOutcome records how a single task settled.
type TaskOutcome struct {
	Title      string        `json:"title"`
	WorkerRole string        `json:"worker_role"`
	Layer      int           `json:"layer"`
	Status     TaskStatus    `json:"status"`
	Effort     Effort        `json:"effort"`
	Output     interface{}   `json:"output,omitempty"`
	Degraded   bool          `json:"degraded,omitempty"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

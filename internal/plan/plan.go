// Package plan loads goal task plans from YAML.
package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/types"
)

// GoalPlan is a goal together with the tasks a planner produced for it
type GoalPlan struct {
	Goal  types.Goal   `yaml:",inline"`
	Tasks []types.Task `yaml:"tasks"`
}

// Load reads and validates a plan file
func Load(path string) (*GoalPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to read plan %s", path)).WithCause(err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML plan. Task efforts are normalized and
// an omitted effort becomes routine.
func Parse(data []byte) (*GoalPlan, error) {
	var plan GoalPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, errors.NewValidationError("invalid plan YAML").WithCause(err)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Validate checks the plan and normalizes efforts in place. Unknown or
// circular dependencies are not errors here; the scheduler tolerates them.
func (p *GoalPlan) Validate() error {
	if strings.TrimSpace(p.Goal.ID) == "" {
		return errors.NewValidationError("plan goal_id is required")
	}
	if strings.TrimSpace(p.Goal.TenantID) == "" {
		return errors.NewValidationError("plan tenant_id is required")
	}
	if len(p.Tasks) == 0 {
		return errors.NewValidationError("plan has no tasks")
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		task := &p.Tasks[i]
		if strings.TrimSpace(task.Title) == "" {
			return errors.NewValidationError(fmt.Sprintf("task %d has no title", i))
		}
		if seen[task.Title] {
			return errors.NewValidationError(fmt.Sprintf("duplicate task title %q", task.Title)).
				WithDetail("title", task.Title)
		}
		seen[task.Title] = true

		if strings.TrimSpace(task.WorkerRole) == "" {
			return errors.NewValidationError(fmt.Sprintf("task %q has no worker_role", task.Title))
		}

		effort, err := types.ParseEffort(string(task.Effort))
		if err != nil {
			return errors.NewValidationError(fmt.Sprintf("task %q: %v", task.Title, err))
		}
		task.Effort = effort
	}

	return nil
}

// Package scheduler groups tasks into dependency layers that can run in
// parallel.
package scheduler

import (
	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/types"
)

// Plan is the layered ordering of a set of tasks.
type Plan struct {
	// Layers run strictly in order; tasks within a layer are independent.
	Layers [][]types.Task
	// Forced lists, in input order, the titles that could not be ordered
	// because of a cycle or an unknown dependency. They all sit in the last
	// layer.
	Forced []string
}

// HasForced reports whether dependency order was abandoned for any task
func (p *Plan) HasForced() bool {
	return len(p.Forced) > 0
}

// Scheduler builds layers and logs when it has to fall back to forced placement.
type Scheduler struct {
	logger *logging.Logger
}

// New creates a Scheduler. A nil logger uses the global logger.
func New(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Scheduler{logger: logger}
}

// BuildLayers returns tasks grouped into ordered layers
func (s *Scheduler) BuildLayers(tasks []types.Task) [][]types.Task {
	return s.Plan(tasks).Layers
}

// Plan layers tasks and reports force-placed titles.
//
// Each round extracts every remaining task whose dependencies were all placed
// in earlier rounds. When a round extracts nothing, every remaining task goes
// into one final layer. A dependency that names no task in the input can never
// be satisfied, so its dependents always end in that final layer.
func (s *Scheduler) Plan(tasks []types.Task) *Plan {
	plan := &Plan{Layers: [][]types.Task{}}
	if len(tasks) == 0 {
		return plan
	}

	known := make(map[string]struct{}, len(tasks))
	for _, task := range tasks {
		known[task.Title] = struct{}{}
	}

	pending := make([]int, len(tasks))
	unsatisfied := make([]map[string]struct{}, len(tasks))
	for i, task := range tasks {
		pending[i] = i
		deps := make(map[string]struct{}, len(task.DependsOn))
		for _, dep := range task.DependsOn {
			if _, ok := known[dep]; !ok {
				s.logger.Warn("Task depends on unknown task",
					"task", task.Title,
					"dependency", dep,
				)
			}
			deps[dep] = struct{}{}
		}
		unsatisfied[i] = deps
	}

	for len(pending) > 0 {
		var layer []types.Task
		var placed []string
		remaining := make([]int, 0, len(pending))

		for _, i := range pending {
			if len(unsatisfied[i]) == 0 {
				layer = append(layer, tasks[i])
				placed = append(placed, tasks[i].Title)
			} else {
				remaining = append(remaining, i)
			}
		}

		if len(layer) == 0 {
			forced := make([]types.Task, 0, len(remaining))
			for _, i := range remaining {
				forced = append(forced, tasks[i])
				plan.Forced = append(plan.Forced, tasks[i].Title)
			}
			plan.Layers = append(plan.Layers, forced)

			s.logger.Warn("Dependency cycle detected, force-placing remaining tasks",
				"tasks", plan.Forced,
				"layer", len(plan.Layers)-1,
			)
			break
		}

		plan.Layers = append(plan.Layers, layer)

		// Satisfaction only takes effect after the layer is complete, so a
		// task never shares a layer with one of its dependencies.
		for _, i := range remaining {
			for _, title := range placed {
				delete(unsatisfied[i], title)
			}
		}
		pending = remaining
	}

	return plan
}

// BuildLayers layers tasks using a scheduler with the global logger
func BuildLayers(tasks []types.Task) [][]types.Task {
	return New(nil).BuildLayers(tasks)
}

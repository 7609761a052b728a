// Package events publishes goal lifecycle events to pluggable sinks.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened
type EventType string

const (
	EventGoalStarted   EventType = "goal.started"
	EventGoalCompleted EventType = "goal.completed"
	EventGoalCancelled EventType = "goal.cancelled"
	EventLayerStarted  EventType = "layer.started"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskProgress  EventType = "task.progress"
	EventTaskFailed    EventType = "task.failed"
	EventTaskDeferred  EventType = "task.deferred"
	EventTaskDegraded  EventType = "task.degraded"
	EventBudgetReduced EventType = "budget.reduced"
	EventCycleDetected EventType = "plan.cycle_detected"
)

// Event is one progress notification for a goal
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Type      EventType              `json:"type"`
	GoalID    string                 `json:"goal_id"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	TaskTitle string                 `json:"task_title,omitempty"`
	Status    string                 `json:"status,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event stamped with a fresh ID and the current UTC time
func NewEvent(eventType EventType, goalID string) Event {
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		GoalID:    goalID,
		Timestamp: time.Now().UTC(),
	}
}

// WithTask sets the task title and status
func (e Event) WithTask(title, status string) Event {
	e.TaskTitle = title
	e.Status = status
	return e
}

// WithMessage sets a human readable message
func (e Event) WithMessage(message string) Event {
	e.Message = message
	return e
}

// WithData adds a key to the event payload
func (e Event) WithData(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

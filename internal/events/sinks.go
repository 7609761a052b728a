package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink publishes each event as JSON on a per-goal pub/sub channel
type RedisSink struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSink creates a sink publishing to "<prefix>:<goal_id>"; an empty
// prefix means "aria:events".
func NewRedisSink(client redis.UniversalClient, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "aria:events"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for a goal
func (s *RedisSink) Channel(goalID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, goalID)
}

// Send implements Sink
func (s *RedisSink) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.Channel(event.GoalID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// LogSink writes events to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Send implements Sink
func (s *LogSink) Send(ctx context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("goal_id", event.GoalID),
		zap.Time("timestamp", event.Timestamp),
	}
	if event.TaskTitle != "" {
		fields = append(fields, zap.String("task", event.TaskTitle))
	}
	if event.Status != "" {
		fields = append(fields, zap.String("status", event.Status))
	}
	if event.Message != "" {
		fields = append(fields, zap.String("message", event.Message))
	}
	if len(event.Data) > 0 {
		fields = append(fields, zap.Any("data", event.Data))
	}

	s.logger.Info(string(event.Type), fields...)
	return nil
}

// Recorder keeps every event in memory, in delivery order
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Name implements Sink
func (r *Recorder) Name() string { return "recorder" }

// Send implements Sink
func (r *Recorder) Send(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of one type
func (r *Recorder) OfType(eventType EventType) []Event {
	var out []Event
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

package events

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Sink delivers events somewhere
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Publisher fans events out to every registered sink. Delivery is best
// effort: a failing sink is logged and never blocks goal execution.
type Publisher struct {
	logger *zap.Logger
	sinks  map[string]Sink
	mu     sync.RWMutex
}

// NewPublisher creates a publisher with the given sinks
func NewPublisher(logger *zap.Logger, sinks ...Sink) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		logger: logger,
		sinks:  make(map[string]Sink, len(sinks)),
	}
	for _, sink := range sinks {
		p.RegisterSink(sink)
	}
	return p
}

// RegisterSink adds or replaces a sink by name
func (p *Publisher) RegisterSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks[sink.Name()] = sink
}

// Sinks returns the registered sink names
func (p *Publisher) Sinks() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.sinks))
	for name := range p.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish sends the event to every sink. Safe on a nil publisher.
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil {
		return
	}

	p.mu.RLock()
	sinks := make([]Sink, 0, len(p.sinks))
	for _, sink := range p.sinks {
		sinks = append(sinks, sink)
	}
	p.mu.RUnlock()

	p.logger.Debug("Publishing event",
		zap.String("type", string(event.Type)),
		zap.String("goal_id", event.GoalID),
		zap.String("task", event.TaskTitle))

	for _, sink := range sinks {
		if err := sink.Send(ctx, event); err != nil {
			p.logger.Warn("Failed to deliver event",
				zap.String("sink", sink.Name()),
				zap.String("type", string(event.Type)),
				zap.String("goal_id", event.GoalID),
				zap.Error(err))
		}
	}
}

package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/arcwell-foundry/aria/internal/capability"
	"github.com/arcwell-foundry/aria/internal/events"
	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/resilience"
	"github.com/arcwell-foundry/aria/pkg/types"
)

// runTask carries one task through minting, budget gating and resilient
// execution. It never panics and always returns a settled outcome.
func (o *Orchestrator) runTask(ctx context.Context, goal types.Goal, layer int, task types.Task) (outcome types.TaskOutcome) {
	start := time.Now()
	effort := task.Effort
	if effort == "" {
		effort = types.EffortRoutine
	}

	outcome = types.TaskOutcome{
		Title:      task.Title,
		WorkerRole: task.WorkerRole,
		Layer:      layer,
		Effort:     effort,
	}

	ctx = logging.WithTask(ctx, task.Title)
	ctx, span := o.tracing.StartTaskSpan(ctx, task.Title, task.WorkerRole, string(effort))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			o.metrics.RecordPanic("task")
			o.logger.WithContext(ctx).WithFields(logrus.Fields{
				"panic":       fmt.Sprintf("%v", r),
				"stack_trace": string(debug.Stack()),
			}).Error("Task panicked")

			outcome.Status = types.TaskStatusFailed
			outcome.Error = fmt.Sprintf("panic: %v", r)
			o.publish(ctx, goal, events.NewEvent(events.EventTaskFailed, goal.ID).
				WithTask(task.Title, string(outcome.Status)).
				WithMessage(outcome.Error))
		}

		outcome.Duration = time.Since(start)
		o.metrics.RecordTask(task.WorkerRole, string(outcome.Status), outcome.Duration)
		if outcome.Status == types.TaskStatusFailed {
			span.SetStatus(codes.Error, outcome.Error)
		}
		o.logger.LogTaskEvent(ctx, string(outcome.Status), goal.ID, task.Title, task.WorkerRole, logrus.Fields{
			"layer":    layer,
			"effort":   string(outcome.Effort),
			"attempts": outcome.Attempts,
			"degraded": outcome.Degraded,
			"duration": outcome.Duration.String(),
		})
	}()

	if ctx.Err() != nil {
		return skippedOutcome(layer, task)
	}

	token, err := o.mint(task.WorkerRole, goal.ID)
	if err != nil {
		return o.fail(ctx, goal, outcome, err)
	}

	status := o.governor.CheckBudget(ctx, goal.TenantID)
	if !status.CanProceed {
		outcome.Status = types.TaskStatusDeferred
		outcome.Error = errors.NewBudgetExhaustedError(goal.TenantID, status.UtilizationPercent).Error()
		o.publish(ctx, goal, events.NewEvent(events.EventTaskDeferred, goal.ID).
			WithTask(task.Title, string(outcome.Status)).
			WithMessage(outcome.Error).
			WithData("utilization_percent", status.UtilizationPercent))
		return outcome
	}

	outcome.Effort = o.governor.GetThinkingBudget(status, effort)
	if outcome.Effort != effort {
		o.publish(ctx, goal, events.NewEvent(events.EventBudgetReduced, goal.ID).
			WithTask(task.Title, "").
			WithData("requested", string(effort)).
			WithData("effective", string(outcome.Effort)).
			WithData("utilization_percent", status.UtilizationPercent))
	}

	o.publish(ctx, goal, events.NewEvent(events.EventTaskStarted, goal.ID).
		WithTask(task.Title, "running").
		WithData("layer", layer).
		WithData("effort", string(outcome.Effort)))

	req := &TaskRequest{
		Goal:   goal,
		Task:   task,
		Layer:  layer,
		Effort: outcome.Effort,
		Token:  token,
	}

	for {
		req.Attempt++
		outcome.Attempts = req.Attempt

		output, err := o.attempt(ctx, goal, req)
		if err == nil {
			return o.succeed(ctx, goal, outcome, output)
		}

		if !o.shouldReattempt(ctx, goal, req, err) {
			return o.fail(ctx, goal, outcome, err)
		}

		o.publish(ctx, goal, events.NewEvent(events.EventTaskProgress, goal.ID).
			WithTask(task.Title, "retrying").
			WithMessage(err.Error()).
			WithData("attempt", req.Attempt))
	}
}

// attempt makes one call through the resilience layer and charges any usage
// the executor reports. Executor failures surface as task failures; a
// registered fallback only answers for an open circuit.
func (o *Orchestrator) attempt(ctx context.Context, goal types.Goal, req *TaskRequest) (interface{}, error) {
	if !req.Token.IsValid() {
		return nil, errors.NewAuthorizationError("capability token expired").
			WithDetail("token_id", req.Token.TokenID())
	}

	operation := func(ctx context.Context) (interface{}, error) {
		callCtx := ctx
		if o.config.TaskTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.config.TaskTimeout)
			defer cancel()
		}

		result, err := o.executor.Execute(callCtx, req)
		if result != nil {
			o.governor.RecordUsage(context.WithoutCancel(ctx), goal.TenantID, result.Usage)
		}
		if err != nil {
			if ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
				return nil, errors.NewTimeoutError("task " + req.Task.Title).WithCause(err)
			}
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		return result.Output, nil
	}

	return o.caller.CallStrict(ctx, o.config.Dependency, operation, nil)
}

// shouldReattempt decides whether a failed task gets another full attempt.
// Open circuits, authorization failures and cancellation end the task;
// otherwise the goal's retry budget decides.
func (o *Orchestrator) shouldReattempt(ctx context.Context, goal types.Goal, req *TaskRequest, err error) bool {
	switch {
	case ctx.Err() != nil:
		return false
	case resilience.IsCircuitOpenError(err):
		return false
	case errors.IsType(err, errors.ErrorTypeAuthorization), errors.IsType(err, errors.ErrorTypeValidation):
		return false
	}

	count, ok := o.governor.TryRecordRetry(goal.ID)
	if !ok {
		o.logger.WithContext(ctx).WithFields(logrus.Fields{
			"task":    req.Task.Title,
			"attempt": req.Attempt,
		}).Warn("Retry budget exhausted for goal")
		return false
	}

	o.logger.WithContext(ctx).WithFields(logrus.Fields{
		"task":         req.Task.Title,
		"attempt":      req.Attempt,
		"goal_retries": count,
		"error":        err.Error(),
	}).Warn("Re-attempting task")
	return true
}

func (o *Orchestrator) mint(role, goalID string) (*capability.Token, error) {
	var opts []capability.MintOption
	if o.config.TokenTTLSeconds > 0 {
		opts = append(opts, capability.WithTimeLimit(o.config.TokenTTLSeconds))
	}

	token, err := o.minter.Mint(role, goalID, opts...)
	o.metrics.RecordMint(role, err)
	return token, err
}

func (o *Orchestrator) succeed(ctx context.Context, goal types.Goal, outcome types.TaskOutcome, output interface{}) types.TaskOutcome {
	outcome.Status = types.TaskStatusSucceeded
	outcome.Output = output
	outcome.Degraded = resilience.IsDegraded(output)

	eventType := events.EventTaskCompleted
	if outcome.Degraded {
		eventType = events.EventTaskDegraded
	}
	o.publish(ctx, goal, events.NewEvent(eventType, goal.ID).
		WithTask(outcome.Title, string(outcome.Status)).
		WithData("attempts", outcome.Attempts))
	return outcome
}

func (o *Orchestrator) fail(ctx context.Context, goal types.Goal, outcome types.TaskOutcome, err error) types.TaskOutcome {
	outcome.Status = types.TaskStatusFailed
	outcome.Error = err.Error()

	o.publish(context.WithoutCancel(ctx), goal, events.NewEvent(events.EventTaskFailed, goal.ID).
		WithTask(outcome.Title, string(outcome.Status)).
		WithMessage(outcome.Error).
		WithData("error_type", string(errors.GetType(err))).
		WithData("attempts", outcome.Attempts))
	return outcome
}

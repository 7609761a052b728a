package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingService() (*TracingService, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewServiceWithProvider(tp, "aria-test"), recorder
}

func TestTracing_DisabledIsNoop(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := ts.StartGoalSpan(context.Background(), "goal-1", "tenant-1", 3)
	span.End()

	assert.Empty(t, GetTraceID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestTracing_NestedSpans(t *testing.T) {
	ts, recorder := newRecordingService()

	ctx, goal := ts.StartGoalSpan(context.Background(), "goal-1", "tenant-1", 2)
	ctx, layer := ts.StartLayerSpan(ctx, 0, 2)
	_, task := ts.StartTaskSpan(ctx, "Find leads", "hunter", "routine")
	task.End()
	layer.End()
	goal.End()

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetSpanID(ctx))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "task.execute", spans[0].Name())
	assert.Equal(t, "layer.0", spans[1].Name())
	assert.Equal(t, "goal.execute", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}

func TestTracing_TraceableFunctionRecordsError(t *testing.T) {
	ts, recorder := newRecordingService()

	err := ts.TraceableFunction(context.Background(), "mint", func(ctx context.Context) error {
		return errors.New("unknown role")
	})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "unknown role", spans[0].Status().Description)
}

func TestTracing_NilServiceIsSafe(t *testing.T) {
	var ts *TracingService
	_, span := ts.StartSpan(context.Background(), "anything")
	span.End()
	assert.NoError(t, ts.Shutdown(context.Background()))
}

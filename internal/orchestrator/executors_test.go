package orchestrator

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/types"
)

func TestExecutorRegistry_RoutesByRole(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	require.NoError(t, registry.Register("Hunter", succeedWith("hunter")))
	require.NoError(t, registry.Register("scribe", succeedWith("scribe")))

	assert.Equal(t, []string{"hunter", "scribe"}, registry.Roles())

	result, err := registry.Execute(context.Background(), &TaskRequest{Task: types.Task{Title: "find", WorkerRole: " HUNTER "}})
	require.NoError(t, err)
	assert.Equal(t, "hunter:find", result.Output)

	_, err = registry.Execute(context.Background(), &TaskRequest{Task: types.Task{Title: "x", WorkerRole: "scout"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestExecutorRegistry_Fallback(t *testing.T) {
	registry := NewExecutorRegistry(succeedWith("default"))

	result, err := registry.Execute(context.Background(), &TaskRequest{Task: types.Task{Title: "t", WorkerRole: "anyone"}})
	require.NoError(t, err)
	assert.Equal(t, "default:t", result.Output)
}

func TestExecutorRegistry_RegistrationRules(t *testing.T) {
	registry := NewExecutorRegistry(nil)

	assert.Error(t, registry.Register("", succeedWith("x")))
	assert.Error(t, registry.Register("hunter", nil))
	require.NoError(t, registry.Register("hunter", succeedWith("x")))
	assert.Error(t, registry.Register("HUNTER", succeedWith("y")))

	require.NoError(t, registry.Unregister("hunter"))
	assert.True(t, errors.IsType(registry.Unregister("hunter"), errors.ErrorTypeNotFound))
}

func TestExecutorRegistry_TracksHealth(t *testing.T) {
	registry := NewExecutorRegistry(nil)
	require.NoError(t, registry.Register("analyst", ExecutorFunc(func(ctx context.Context, req *TaskRequest) (*TaskResult, error) {
		if req.Task.Title == "bad" {
			return nil, stderrors.New("model refused")
		}
		return &TaskResult{}, nil
	})))

	registry.Execute(context.Background(), &TaskRequest{Task: types.Task{Title: "good", WorkerRole: "analyst"}})
	registry.Execute(context.Background(), &TaskRequest{Task: types.Task{Title: "bad", WorkerRole: "analyst"}})

	health := registry.Health()["analyst"]
	assert.Equal(t, int64(2), health.Runs)
	assert.Equal(t, int64(1), health.Failures)
	assert.Equal(t, "model refused", health.LastError)
	assert.False(t, health.LastRun.IsZero())
}

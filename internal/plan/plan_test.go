package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwell-foundry/aria/pkg/errors"
	"github.com/arcwell-foundry/aria/pkg/types"
)

const samplePlan = `
goal_id: goal-42
tenant_id: acme
title: Book intro meetings
tasks:
  - title: Find leads
    worker_role: hunter
  - title: Score leads
    worker_role: analyst
    depends_on: [Find leads]
    effort: Complex
  - title: Draft outreach
    worker_role: scribe
    depends_on: [Score leads]
    effort: critical
`

func TestParse(t *testing.T) {
	plan, err := Parse([]byte(samplePlan))
	require.NoError(t, err)

	assert.Equal(t, "goal-42", plan.Goal.ID)
	assert.Equal(t, "acme", plan.Goal.TenantID)
	assert.Equal(t, "Book intro meetings", plan.Goal.Title)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, types.EffortRoutine, plan.Tasks[0].Effort)
	assert.Equal(t, types.EffortComplex, plan.Tasks[1].Effort)
	assert.Equal(t, []string{"Score leads"}, plan.Tasks[2].DependsOn)
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad yaml":        "goal_id: [",
		"missing goal":    "tenant_id: acme\ntasks: [{title: a, worker_role: hunter}]",
		"missing tenant":  "goal_id: g\ntasks: [{title: a, worker_role: hunter}]",
		"no tasks":        "goal_id: g\ntenant_id: acme\n",
		"untitled task":   "goal_id: g\ntenant_id: acme\ntasks: [{worker_role: hunter}]",
		"duplicate title": "goal_id: g\ntenant_id: acme\ntasks: [{title: a, worker_role: hunter}, {title: a, worker_role: scout}]",
		"missing role":    "goal_id: g\ntenant_id: acme\ntasks: [{title: a}]",
		"unknown effort":  "goal_id: g\ntenant_id: acme\ntasks: [{title: a, worker_role: hunter, effort: extreme}]",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
		})
	}
}

func TestParse_ToleratesCyclesAndUnknownDeps(t *testing.T) {
	doc := `
goal_id: g
tenant_id: acme
tasks:
  - {title: a, worker_role: hunter, depends_on: [b]}
  - {title: b, worker_role: hunter, depends_on: [a, ghost]}
`
	_, err := Parse([]byte(doc))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePlan), 0o600))

	plan, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoad_ExamplePlan(t *testing.T) {
	gp, err := Load(filepath.Join("..", "..", "examples", "plans", "account-research.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "tenant-demo", gp.Goal.TenantID)
	require.Len(t, gp.Tasks, 6)
	assert.Equal(t, types.EffortRoutine, gp.Tasks[0].Effort)
	assert.Equal(t, types.EffortCritical, gp.Tasks[3].Effort)
}

package main

import (
	"context"

	"github.com/arcwell-foundry/aria/internal/orchestrator"
)

// dryRunExecutor stands in for real workers: it reports what would have been
// delegated, including the scoped token, and consumes no tokens.
type dryRunExecutor struct {
	signingKey []byte
}

func newDryRunExecutor(signingKey []byte) *dryRunExecutor {
	return &dryRunExecutor{signingKey: signingKey}
}

func (e *dryRunExecutor) Execute(ctx context.Context, req *orchestrator.TaskRequest) (*orchestrator.TaskResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"task":            req.Task.Title,
		"worker_role":     req.Task.WorkerRole,
		"layer":           req.Layer,
		"effort":          string(req.Effort),
		"attempt":         req.Attempt,
		"token_id":        req.Token.TokenID(),
		"allowed_actions": req.Token.AllowedActions(),
		"dry_run":         true,
	}

	if len(e.signingKey) > 0 {
		signed, err := req.Token.Sign(e.signingKey)
		if err != nil {
			return nil, err
		}
		output["token"] = signed
	}

	return &orchestrator.TaskResult{Output: output}, nil
}

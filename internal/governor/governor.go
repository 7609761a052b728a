// Package governor gates and throttles LLM work against per-tenant daily
// token budgets and per-goal retry budgets.
package governor

import (
	"context"

	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/metrics"
	"github.com/arcwell-foundry/aria/pkg/types"
)

// Budget check outcomes reported to metrics
const (
	OutcomeFull     = "full"
	OutcomeReduced  = "reduced"
	OutcomeDenied   = "denied"
	OutcomeDisabled = "disabled"
	OutcomeFailOpen = "fail_open"
)

// Config configures a CostGovernor
type Config struct {
	Enabled bool
	// DailyTokenBudget counts input, output and thinking tokens; a
	// non-positive value means unlimited
	DailyTokenBudget int64
	// SoftLimitPercent is the utilization at which effort is reduced
	SoftLimitPercent float64
	Rates            Rates
	// MaxRetriesPerGoal bounds task re-attempts within one goal
	MaxRetriesPerGoal int
}

// DefaultConfig returns the default governance configuration
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		DailyTokenBudget:  2_000_000,
		SoftLimitPercent:  80,
		Rates:             DefaultRates(),
		MaxRetriesPerGoal: 5,
	}
}

// BudgetStatus is the result of a budget check. It is computed fresh on every
// check and never cached.
type BudgetStatus struct {
	CanProceed bool `json:"can_proceed"`
	// ShouldReduceEffort is set from the soft limit up to the budget; a
	// denied check leaves it false
	ShouldReduceEffort bool    `json:"should_reduce_effort"`
	TokensUsedToday    int64   `json:"tokens_used_today"`
	DailyBudget        int64   `json:"daily_budget"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// CostGovernor decides whether a tenant may spend more tokens today and
// records what was spent.
type CostGovernor struct {
	config  Config
	store   UsageStore
	retries *RetryBudget
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// NewCostGovernor creates a governor. retries may be nil to build one from
// config; m may be nil.
func NewCostGovernor(config Config, store UsageStore, retries *RetryBudget, m *metrics.Metrics, logger *logging.Logger) *CostGovernor {
	if config.SoftLimitPercent <= 0 || config.SoftLimitPercent > 100 {
		config.SoftLimitPercent = 80
	}
	if retries == nil {
		retries = NewRetryBudget(config.MaxRetriesPerGoal)
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &CostGovernor{
		config:  config,
		store:   store,
		retries: retries,
		metrics: m,
		logger:  logger,
	}
}

// CheckBudget reports whether tenantID may proceed and whether effort should
// be reduced.
//
// A failure to read usage fails open: the work proceeds at full effort and a
// warning is logged, so a storage outage never halts every tenant.
func (g *CostGovernor) CheckBudget(ctx context.Context, tenantID string) BudgetStatus {
	status := BudgetStatus{
		CanProceed:  true,
		DailyBudget: g.config.DailyTokenBudget,
	}

	if !g.config.Enabled {
		g.metrics.RecordBudgetCheck(OutcomeDisabled)
		return status
	}
	if g.config.DailyTokenBudget <= 0 || g.store == nil {
		g.metrics.RecordBudgetCheck(OutcomeFull)
		return status
	}

	usage, err := g.store.ReadTodayUsage(ctx, tenantID)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).
			Warn("Failed to read usage, allowing request")
		g.metrics.RecordBudgetCheck(OutcomeFailOpen)
		return status
	}

	used := usage.BudgetedTokens()
	status.TokensUsedToday = used
	status.UtilizationPercent = float64(used) * 100 / float64(g.config.DailyTokenBudget)

	switch {
	case status.UtilizationPercent >= 100:
		status.CanProceed = false
		g.metrics.RecordBudgetCheck(OutcomeDenied)
		g.logger.Warn("Daily token budget exhausted",
			"tenant_id", tenantID,
			"tokens_used", used,
			"daily_budget", g.config.DailyTokenBudget,
		)
	case status.UtilizationPercent >= g.config.SoftLimitPercent:
		status.ShouldReduceEffort = true
		g.metrics.RecordBudgetCheck(OutcomeReduced)
		g.logger.Info("Soft budget limit reached, reducing effort",
			"tenant_id", tenantID,
			"utilization_percent", status.UtilizationPercent,
		)
	default:
		g.metrics.RecordBudgetCheck(OutcomeFull)
	}

	return status
}

// RecordUsage adds usage to the tenant's daily aggregate with a single atomic
// increment. Failures are logged and never returned: the result the tokens
// paid for has already been produced.
func (g *CostGovernor) RecordUsage(ctx context.Context, tenantID string, usage LLMUsage) {
	if usage.IsZero() {
		return
	}

	cost := usage.EstimatedCost(g.config.Rates)

	g.metrics.RecordTokens("input", usage.InputTokens)
	g.metrics.RecordTokens("output", usage.OutputTokens)
	g.metrics.RecordTokens("thinking", usage.ThinkingTokens)
	g.metrics.RecordTokens("cache_read", usage.CacheReadTokens)
	g.metrics.RecordTokens("cache_creation", usage.CacheCreationTokens)
	g.metrics.RecordCost(cost)

	if g.store == nil {
		return
	}

	if err := g.store.IncrementUsage(ctx, tenantID, UsageDelta{LLMUsage: usage, EstimatedCost: cost}); err != nil {
		g.logger.WithContext(ctx).WithError(err).WithField("tenant_id", tenantID).
			Error("Failed to record usage")
		return
	}

	g.logger.Debug("Recorded usage",
		"tenant_id", tenantID,
		"total_tokens", usage.TotalTokens(),
		"estimated_cost", cost,
	)
}

// GetThinkingBudget returns the effort to use given a budget status. When the
// status asks for reduced effort, requested drops exactly one rung; otherwise
// it is returned unchanged. Effort is never raised.
func (g *CostGovernor) GetThinkingBudget(status BudgetStatus, requested types.Effort) types.Effort {
	return EffectiveEffort(status, requested)
}

// EffectiveEffort is the ladder behind GetThinkingBudget
func EffectiveEffort(status BudgetStatus, requested types.Effort) types.Effort {
	if !status.ShouldReduceEffort {
		return requested
	}

	switch requested {
	case types.EffortCritical:
		return types.EffortComplex
	case types.EffortComplex:
		return types.EffortRoutine
	default:
		return requested
	}
}

// CheckRetryBudget reports whether goalID may re-attempt work
func (g *CostGovernor) CheckRetryBudget(goalID string) bool {
	allowed := g.retries.Allow(goalID)
	if !allowed {
		g.metrics.RecordRetryBudgetDenied()
	}
	return allowed
}

// RecordRetry counts a re-attempt and returns the goal's new count
func (g *CostGovernor) RecordRetry(goalID string) int {
	return int(g.retries.Record(goalID))
}

// TryRecordRetry admits and counts a re-attempt in one atomic step, so
// concurrent tasks of one goal cannot overspend its budget. It returns the
// goal's count and whether the re-attempt was admitted.
func (g *CostGovernor) TryRecordRetry(goalID string) (int, bool) {
	count, ok := g.retries.TryRecord(goalID)
	if !ok {
		g.metrics.RecordRetryBudgetDenied()
	}
	return int(count), ok
}

// ClearRetryCount resets the goal's retry counter
func (g *CostGovernor) ClearRetryCount(goalID string) {
	g.retries.Clear(goalID)
}

// Config returns the governor configuration
func (g *CostGovernor) Config() Config {
	return g.config
}

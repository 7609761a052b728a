package governor

import "context"

const tokensPerMillion = 1_000_000.0

// Rates are dollar prices per million tokens, by token category
type Rates struct {
	InputPerMTok         float64 `json:"input_per_mtok"`
	OutputPerMTok        float64 `json:"output_per_mtok"`
	ThinkingPerMTok      float64 `json:"thinking_per_mtok"`
	CacheReadPerMTok     float64 `json:"cache_read_per_mtok"`
	CacheCreationPerMTok float64 `json:"cache_creation_per_mtok"`
}

// DefaultRates returns the default per-million-token prices
func DefaultRates() Rates {
	return Rates{
		InputPerMTok:         3.00,
		OutputPerMTok:        15.00,
		ThinkingPerMTok:      15.00,
		CacheReadPerMTok:     0.30,
		CacheCreationPerMTok: 3.75,
	}
}

// LLMUsage is the token consumption of one model call
type LLMUsage struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	ThinkingTokens      int64 `json:"thinking_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
}

// TotalTokens sums every category
func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens + u.ThinkingTokens + u.CacheReadTokens + u.CacheCreationTokens
}

// EstimatedCost prices the usage in dollars
func (u LLMUsage) EstimatedCost(r Rates) float64 {
	return (float64(u.InputTokens)*r.InputPerMTok +
		float64(u.OutputTokens)*r.OutputPerMTok +
		float64(u.ThinkingTokens)*r.ThinkingPerMTok +
		float64(u.CacheReadTokens)*r.CacheReadPerMTok +
		float64(u.CacheCreationTokens)*r.CacheCreationPerMTok) / tokensPerMillion
}

// IsZero reports whether no tokens were used
func (u LLMUsage) IsZero() bool {
	return u == LLMUsage{}
}

// DailyUsage is a tenant's aggregated usage for one UTC day
type DailyUsage struct {
	LLMUsage
	EstimatedCost float64 `json:"estimated_cost"`
	Requests      int64   `json:"requests"`
}

// BudgetedTokens returns the tokens that count against the daily budget:
// input, output and thinking. Cache traffic is priced but not budgeted.
func (d DailyUsage) BudgetedTokens() int64 {
	return d.InputTokens + d.OutputTokens + d.ThinkingTokens
}

// UsageDelta is one increment applied to a tenant's daily aggregate
type UsageDelta struct {
	LLMUsage
	EstimatedCost float64 `json:"estimated_cost"`
}

// UsageStore persists per-tenant daily usage aggregates.
//
// IncrementUsage must be atomic at the storage layer: concurrent increments
// for the same tenant and day must all be reflected. Implementations decide
// the day boundary, normally the UTC date.
type UsageStore interface {
	ReadTodayUsage(ctx context.Context, tenantID string) (DailyUsage, error)
	IncrementUsage(ctx context.Context, tenantID string, delta UsageDelta) error
}

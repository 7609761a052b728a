package usage

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/arcwell-foundry/aria/internal/governor"
	"github.com/arcwell-foundry/aria/pkg/errors"
)

const (
	selectUsageQuery = `
		SELECT input_tokens, output_tokens, thinking_tokens, cache_read_tokens,
		       cache_creation_tokens, estimated_cost, requests
		FROM usage_daily
		WHERE tenant_id = $1 AND usage_date = $2`

	incrementUsageQuery = `
		INSERT INTO usage_daily (
			tenant_id, usage_date, input_tokens, output_tokens, thinking_tokens,
			cache_read_tokens, cache_creation_tokens, estimated_cost, requests
		) VALUES (
			:tenant_id, :usage_date, :input_tokens, :output_tokens, :thinking_tokens,
			:cache_read_tokens, :cache_creation_tokens, :estimated_cost, 1
		)
		ON CONFLICT (tenant_id, usage_date) DO UPDATE SET
			input_tokens          = usage_daily.input_tokens + EXCLUDED.input_tokens,
			output_tokens         = usage_daily.output_tokens + EXCLUDED.output_tokens,
			thinking_tokens       = usage_daily.thinking_tokens + EXCLUDED.thinking_tokens,
			cache_read_tokens     = usage_daily.cache_read_tokens + EXCLUDED.cache_read_tokens,
			cache_creation_tokens = usage_daily.cache_creation_tokens + EXCLUDED.cache_creation_tokens,
			estimated_cost        = usage_daily.estimated_cost + EXCLUDED.estimated_cost,
			requests              = usage_daily.requests + 1,
			updated_at            = NOW()`
)

// usageRow maps one usage_daily row
type usageRow struct {
	TenantID            string  `db:"tenant_id"`
	UsageDate           string  `db:"usage_date"`
	InputTokens         int64   `db:"input_tokens"`
	OutputTokens        int64   `db:"output_tokens"`
	ThinkingTokens      int64   `db:"thinking_tokens"`
	CacheReadTokens     int64   `db:"cache_read_tokens"`
	CacheCreationTokens int64   `db:"cache_creation_tokens"`
	EstimatedCost       float64 `db:"estimated_cost"`
	Requests            int64   `db:"requests"`
}

// PostgresStore persists daily aggregates in the usage_daily table
type PostgresStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ governor.UsageStore = (*PostgresStore)(nil)

// NewPostgresStore creates a store over an open connection. now defaults to
// time.Now.
func NewPostgresStore(db *sqlx.DB, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

// ReadTodayUsage selects the tenant's row for the current UTC day
func (s *PostgresStore) ReadTodayUsage(ctx context.Context, tenantID string) (governor.DailyUsage, error) {
	var row usageRow
	err := s.db.GetContext(ctx, &row, selectUsageQuery, tenantID, Day(s.now()))
	if stderrors.Is(err, sql.ErrNoRows) {
		return governor.DailyUsage{}, nil
	}
	if err != nil {
		return governor.DailyUsage{}, errors.NewExternalError("postgres", "failed to read usage").WithCause(err)
	}

	return governor.DailyUsage{
		LLMUsage: governor.LLMUsage{
			InputTokens:         row.InputTokens,
			OutputTokens:        row.OutputTokens,
			ThinkingTokens:      row.ThinkingTokens,
			CacheReadTokens:     row.CacheReadTokens,
			CacheCreationTokens: row.CacheCreationTokens,
		},
		EstimatedCost: row.EstimatedCost,
		Requests:      row.Requests,
	}, nil
}

// IncrementUsage upserts the delta; the row lock taken by ON CONFLICT
// serializes concurrent writers.
func (s *PostgresStore) IncrementUsage(ctx context.Context, tenantID string, delta governor.UsageDelta) error {
	row := usageRow{
		TenantID:            tenantID,
		UsageDate:           Day(s.now()),
		InputTokens:         delta.InputTokens,
		OutputTokens:        delta.OutputTokens,
		ThinkingTokens:      delta.ThinkingTokens,
		CacheReadTokens:     delta.CacheReadTokens,
		CacheCreationTokens: delta.CacheCreationTokens,
		EstimatedCost:       delta.EstimatedCost,
	}

	if _, err := s.db.NamedExecContext(ctx, incrementUsageQuery, row); err != nil {
		return errors.NewExternalError("postgres", "failed to increment usage").WithCause(err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/arcwell-foundry/aria/internal/database"
	"github.com/arcwell-foundry/aria/internal/governor"
	"github.com/arcwell-foundry/aria/internal/usage"
	"github.com/arcwell-foundry/aria/pkg/config"
	"github.com/arcwell-foundry/aria/pkg/health"
	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/metrics"
	"github.com/arcwell-foundry/aria/pkg/resilience"
)

// backends holds the usage store and the connections behind it
type backends struct {
	store governor.UsageStore
	redis *database.RedisClient
	db    *database.DB
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

// openBackends connects the configured usage store and registers its health
// checker. The postgres store applies pending migrations before use.
func openBackends(ctx context.Context, cfg *config.Config, logger *logging.Logger, hs *health.Service) (*backends, error) {
	b := &backends{}

	switch cfg.Governance.UsageStore {
	case "redis":
		client, err := database.NewRedisClient(&cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.redis = client
		b.store = usage.NewRedisStore(client.Client())
		hs.RegisterChecker("redis", health.NewRedisChecker(client, "redis"))

	case "postgres":
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, err
		}
		b.db = db

		migrator, err := database.NewMigrator(&cfg.Database, cfg.Database.MigrationsPath)
		if err != nil {
			b.Close()
			return nil, err
		}
		err = migrator.Up()
		_ = migrator.Close()
		if err != nil {
			b.Close()
			return nil, err
		}

		b.store = usage.NewPostgresStore(db.DB, nil)
		hs.RegisterChecker("database", health.NewDatabaseChecker(db, "database"))

	case "memory", "":
		b.store = usage.NewMemoryStore(nil)

	default:
		return nil, fmt.Errorf("unsupported usage store %q", cfg.Governance.UsageStore)
	}

	if ctx.Err() != nil {
		b.Close()
		return nil, ctx.Err()
	}

	logger.Info("Usage store ready", "store", cfg.Governance.UsageStore)
	return b, nil
}

func breakerConfig(name string, cc config.CircuitConfig, m *metrics.Metrics) resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: cc.FailureThreshold,
		SuccessThreshold: cc.SuccessThreshold,
		RecoveryTimeout:  cc.RecoveryTimeout,
		OnStateChange:    m.CircuitStateHook(),
	}
}

func breakerOverrides(rc config.ResilienceConfig, m *metrics.Metrics) map[string]resilience.CircuitBreakerConfig {
	overrides := make(map[string]resilience.CircuitBreakerConfig, len(rc.CircuitOverrides))
	for name, cc := range rc.CircuitOverrides {
		overrides[name] = breakerConfig(name, cc, m)
	}
	return overrides
}

// newCaller builds the dependency caller over the configured breakers with the
// default fallback set.
func newCaller(cfg *config.Config, m *metrics.Metrics, logger *logging.Logger) (*resilience.Caller, *resilience.Registry) {
	breakers := resilience.NewRegistry(
		breakerConfig("", cfg.Resilience.Circuit, m),
		breakerOverrides(cfg.Resilience, m),
	)
	return resilience.NewCaller(breakers, resilience.NewDegradation(), retryConfig(cfg.Resilience, logger), m), breakers
}

func retryConfig(rc config.ResilienceConfig, logger *logging.Logger) resilience.RetryConfig {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = rc.MaxRetries
	retry.InitialDelay = rc.InitialDelay
	retry.BackoffFactor = rc.BackoffFactor
	retry.MaxDelay = rc.MaxDelay
	retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("Retrying dependency call", "attempt", attempt, "delay", delay.String(), "error", err.Error())
	}
	return retry
}

func governorConfig(gc config.GovernanceConfig) governor.Config {
	return governor.Config{
		Enabled:          gc.Enabled,
		DailyTokenBudget: gc.DailyTokenBudget,
		SoftLimitPercent: gc.SoftLimitPercent,
		Rates: governor.Rates{
			InputPerMTok:         gc.InputCostPerMTok,
			OutputPerMTok:        gc.OutputCostPerMTok,
			ThinkingPerMTok:      gc.ThinkingCostPerMTok,
			CacheReadPerMTok:     gc.CacheReadCostPerMTok,
			CacheCreationPerMTok: gc.CacheCreationCostPerMTok,
		},
		MaxRetriesPerGoal: gc.MaxRetriesPerGoal,
	}
}

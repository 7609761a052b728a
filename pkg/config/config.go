package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Tracing      TracingConfig      `json:"tracing"`
	Governance   GovernanceConfig   `json:"governance"`
	Resilience   ResilienceConfig   `json:"resilience"`
	Capability   CapabilityConfig   `json:"capability"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Events       EventsConfig       `json:"events"`
}

// ServerConfig contains the ops endpoint (health, metrics) configuration
type ServerConfig struct {
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Enabled bool   `json:"enabled"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	MigrationsPath  string        `json:"migrations_path"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Environment    string  `json:"environment"`
}

// GovernanceConfig contains the cost governor configuration
type GovernanceConfig struct {
	Enabled          bool    `json:"enabled"`
	DailyTokenBudget int64   `json:"daily_token_budget"`
	SoftLimitPercent float64 `json:"soft_limit_percent"`
	// Per-million-token cost rates, by token category
	InputCostPerMTok         float64 `json:"input_cost_per_mtok"`
	OutputCostPerMTok        float64 `json:"output_cost_per_mtok"`
	ThinkingCostPerMTok      float64 `json:"thinking_cost_per_mtok"`
	CacheReadCostPerMTok     float64 `json:"cache_read_cost_per_mtok"`
	CacheCreationCostPerMTok float64 `json:"cache_creation_cost_per_mtok"`
	MaxRetriesPerGoal        int     `json:"max_retries_per_goal"`
	// UsageStore selects the usage persistence backend: memory, redis or postgres
	UsageStore string `json:"usage_store"`
}

// CircuitConfig holds thresholds for a single dependency's circuit breaker
type CircuitConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
}

// ResilienceConfig contains circuit breaker and retry defaults
type ResilienceConfig struct {
	Circuit          CircuitConfig            `json:"circuit"`
	CircuitOverrides map[string]CircuitConfig `json:"circuit_overrides"`
	MaxRetries       int                      `json:"max_retries"`
	InitialDelay     time.Duration            `json:"initial_delay"`
	BackoffFactor    float64                  `json:"backoff_factor"`
	MaxDelay         time.Duration            `json:"max_delay"`
}

// CapabilityConfig contains capability token configuration
type CapabilityConfig struct {
	DefaultTTLSeconds int    `json:"default_ttl_seconds"`
	SigningKey        string `json:"-"`
}

// OrchestratorConfig contains goal execution configuration
type OrchestratorConfig struct {
	MaxConcurrentTasks int           `json:"max_concurrent_tasks"`
	TaskTimeout        time.Duration `json:"task_timeout"`
	Dependency         string        `json:"dependency"`
}

// EventsConfig contains progress event delivery configuration
type EventsConfig struct {
	RedisPrefix string `json:"redis_prefix"`
	// WebhookURL, when set, receives events of WebhookTypes (all when empty)
	WebhookURL   string   `json:"webhook_url"`
	WebhookTypes []string `json:"webhook_types"`
}

// LoadWithDotenv loads variables from the given .env file (if present)
// before reading the environment.
func LoadWithDotenv(path string) (*Config, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return Load()
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	overrides, err := parseCircuitOverrides(getEnvString("CIRCUIT_OVERRIDES", ""))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:    getEnvString("OPS_HOST", "0.0.0.0"),
			Port:    getEnvInt("OPS_PORT", 9090),
			Enabled: getEnvBool("OPS_ENABLED", true),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "aria"),
			User:            getEnvString("DB_USER", "aria"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsPath:  getEnvString("DB_MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "aria"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
		Governance: GovernanceConfig{
			Enabled:                  getEnvBool("GOVERNANCE_ENABLED", true),
			DailyTokenBudget:         getEnvInt64("DAILY_TOKEN_BUDGET", 2_000_000),
			SoftLimitPercent:         getEnvFloat("BUDGET_SOFT_LIMIT_PERCENT", 80),
			InputCostPerMTok:         getEnvFloat("COST_INPUT_PER_MTOK", 3.00),
			OutputCostPerMTok:        getEnvFloat("COST_OUTPUT_PER_MTOK", 15.00),
			ThinkingCostPerMTok:      getEnvFloat("COST_THINKING_PER_MTOK", 15.00),
			CacheReadCostPerMTok:     getEnvFloat("COST_CACHE_READ_PER_MTOK", 0.30),
			CacheCreationCostPerMTok: getEnvFloat("COST_CACHE_CREATION_PER_MTOK", 3.75),
			MaxRetriesPerGoal:        getEnvInt("MAX_RETRIES_PER_GOAL", 5),
			UsageStore:               strings.ToLower(getEnvString("USAGE_STORE", "memory")),
		},
		Resilience: ResilienceConfig{
			Circuit: CircuitConfig{
				FailureThreshold: getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvInt("CIRCUIT_SUCCESS_THRESHOLD", 2),
				RecoveryTimeout:  getEnvDuration("CIRCUIT_RECOVERY_TIMEOUT", 60*time.Second),
			},
			CircuitOverrides: overrides,
			MaxRetries:       getEnvInt("RETRY_MAX_RETRIES", 3),
			InitialDelay:     getEnvDuration("RETRY_INITIAL_DELAY", 500*time.Millisecond),
			BackoffFactor:    getEnvFloat("RETRY_BACKOFF_FACTOR", 2.0),
			MaxDelay:         getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		},
		Capability: CapabilityConfig{
			DefaultTTLSeconds: getEnvInt("CAPABILITY_DEFAULT_TTL", 3600),
			SigningKey:        getEnvString("CAPABILITY_SIGNING_KEY", ""),
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentTasks: getEnvInt("ORCHESTRATOR_MAX_CONCURRENT_TASKS", 8),
			TaskTimeout:        getEnvDuration("ORCHESTRATOR_TASK_TIMEOUT", 10*time.Minute),
			Dependency:         getEnvString("ORCHESTRATOR_DEPENDENCY", "llm_inference"),
		},
		Events: EventsConfig{
			RedisPrefix:  getEnvString("EVENTS_REDIS_PREFIX", "aria:events"),
			WebhookURL:   getEnvString("EVENTS_WEBHOOK_URL", ""),
			WebhookTypes: getEnvList("EVENTS_WEBHOOK_TYPES"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	g := c.Governance
	if g.Enabled && g.DailyTokenBudget <= 0 {
		return fmt.Errorf("daily token budget must be positive when governance is enabled")
	}
	if g.SoftLimitPercent <= 0 || g.SoftLimitPercent > 100 {
		return fmt.Errorf("budget soft limit must be in (0, 100], got %v", g.SoftLimitPercent)
	}
	for name, rate := range map[string]float64{
		"input":          g.InputCostPerMTok,
		"output":         g.OutputCostPerMTok,
		"thinking":       g.ThinkingCostPerMTok,
		"cache_read":     g.CacheReadCostPerMTok,
		"cache_creation": g.CacheCreationCostPerMTok,
	} {
		if rate < 0 {
			return fmt.Errorf("%s cost rate cannot be negative", name)
		}
	}
	if g.MaxRetriesPerGoal < 0 {
		return fmt.Errorf("max retries per goal cannot be negative")
	}
	switch g.UsageStore {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported usage store %q", g.UsageStore)
	}
	if g.UsageStore == "postgres" && c.Database.Password == "" {
		return fmt.Errorf("database password is required for the postgres usage store")
	}

	if err := c.Resilience.Circuit.validate("default"); err != nil {
		return err
	}
	for name, cc := range c.Resilience.CircuitOverrides {
		if err := cc.validate(name); err != nil {
			return err
		}
	}
	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("retry max retries cannot be negative")
	}

	if c.Capability.DefaultTTLSeconds <= 0 {
		return fmt.Errorf("capability default TTL must be positive")
	}
	if c.Orchestrator.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("orchestrator max concurrent tasks must be positive")
	}

	return nil
}

func (cc CircuitConfig) validate(name string) error {
	if cc.FailureThreshold < 1 || cc.SuccessThreshold < 1 {
		return fmt.Errorf("circuit %s: thresholds must be at least 1", name)
	}
	if cc.RecoveryTimeout <= 0 {
		return fmt.Errorf("circuit %s: recovery timeout must be positive", name)
	}
	return nil
}

// CircuitFor returns the circuit configuration for a dependency, falling
// back to the defaults.
func (r ResilienceConfig) CircuitFor(name string) CircuitConfig {
	if cc, ok := r.CircuitOverrides[name]; ok {
		return cc
	}
	return r.Circuit
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parseCircuitOverrides parses "name:failures:successes:timeout" entries
// separated by commas, e.g. "web_search:3:1:30s,crm_sync:10:2:2m".
func parseCircuitOverrides(raw string) (map[string]CircuitConfig, error) {
	overrides := make(map[string]CircuitConfig)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return overrides, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 || parts[0] == "" {
			return nil, fmt.Errorf("invalid circuit override %q", entry)
		}
		failures, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid failure threshold in %q: %w", entry, err)
		}
		successes, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid success threshold in %q: %w", entry, err)
		}
		timeout, err := time.ParseDuration(parts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid recovery timeout in %q: %w", entry, err)
		}
		overrides[parts[0]] = CircuitConfig{
			FailureThreshold: failures,
			SuccessThreshold: successes,
			RecoveryTimeout:  timeout,
		}
	}
	return overrides, nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

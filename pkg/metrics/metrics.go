package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcwell-foundry/aria/pkg/resilience"
)

// Metrics holds all Prometheus metrics. A nil *Metrics, or one created with
// metrics disabled, silently drops every observation.
type Metrics struct {
	// Execution metrics
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
	GoalsTotal   *prometheus.CounterVec
	ActiveGoals  prometheus.Gauge

	// Governance metrics
	BudgetChecksTotal   *prometheus.CounterVec
	TokensRecordedTotal *prometheus.CounterVec
	CostRecordedTotal   prometheus.Counter
	RetryBudgetDenied   prometheus.Counter

	// Resilience metrics
	CircuitBreakerState    *prometheus.GaugeVec
	CircuitRejectionsTotal *prometheus.CounterVec
	RetriesTotal           *prometheus.CounterVec
	FallbacksTotal         *prometheus.CounterVec

	// Capability metrics
	TokensMintedTotal *prometheus.CounterVec
	MintFailuresTotal prometheus.Counter
	PanicsTotal       *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "aria",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics and registers them with registerer. A nil
// registerer uses a fresh private registry.
func NewMetrics(config *Config, registerer prometheus.Registerer) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	var gatherer prometheus.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer = registry
		gatherer = registry
	} else if g, ok := registerer.(prometheus.Gatherer); ok {
		gatherer = g
	}

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		TasksTotal: counterVec("tasks_total", "Total number of tasks executed by outcome", "role", "status"),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
			},
			[]string{"role"},
		),
		GoalsTotal: counterVec("goals_total", "Total number of goals finished by status", "status"),
		ActiveGoals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "active_goals",
			Help:      "Number of goals currently executing",
		}),

		BudgetChecksTotal:   counterVec("budget_checks_total", "Budget checks by outcome", "outcome"),
		TokensRecordedTotal: counterVec("tokens_recorded_total", "LLM tokens recorded by category", "category"),
		CostRecordedTotal:   counter("cost_recorded_dollars_total", "Estimated LLM spend recorded in dollars"),
		RetryBudgetDenied:   counter("retry_budget_denied_total", "Task re-attempts refused by the per-goal retry budget"),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"name"},
		),
		CircuitRejectionsTotal: counterVec("circuit_rejections_total", "Calls rejected by an open circuit", "name"),
		RetriesTotal:           counterVec("retries_total", "Retry attempts per dependency", "name"),
		FallbacksTotal:         counterVec("fallbacks_total", "Fallback invocations per dependency", "name"),

		TokensMintedTotal: counterVec("capability_tokens_minted_total", "Capability tokens minted by role", "role"),
		MintFailuresTotal: counter("capability_mint_failures_total", "Capability token mint failures"),
		PanicsTotal:       counterVec("panics_total", "Recovered panics by component", "component"),

		gatherer: gatherer,
	}

	registerer.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.GoalsTotal,
		m.ActiveGoals,
		m.BudgetChecksTotal,
		m.TokensRecordedTotal,
		m.CostRecordedTotal,
		m.RetryBudgetDenied,
		m.CircuitBreakerState,
		m.CircuitRejectionsTotal,
		m.RetriesTotal,
		m.FallbacksTotal,
		m.TokensMintedTotal,
		m.MintFailuresTotal,
		m.PanicsTotal,
	)

	return m
}

func (m *Metrics) enabled() bool {
	return m != nil && m.TasksTotal != nil
}

// RecordTask records a finished task
func (m *Metrics) RecordTask(role, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}

	m.TasksTotal.WithLabelValues(role, status).Inc()
	m.TaskDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// GoalStarted increments the active goal gauge
func (m *Metrics) GoalStarted() {
	if !m.enabled() {
		return
	}
	m.ActiveGoals.Inc()
}

// GoalFinished records a goal reaching a terminal status
func (m *Metrics) GoalFinished(status string) {
	if !m.enabled() {
		return
	}

	m.ActiveGoals.Dec()
	m.GoalsTotal.WithLabelValues(status).Inc()
}

// RecordBudgetCheck records the outcome of a budget check: full, reduced or denied
func (m *Metrics) RecordBudgetCheck(outcome string) {
	if !m.enabled() {
		return
	}
	m.BudgetChecksTotal.WithLabelValues(outcome).Inc()
}

// RecordTokens records token usage by category
func (m *Metrics) RecordTokens(category string, tokens int64) {
	if !m.enabled() || tokens <= 0 {
		return
	}
	m.TokensRecordedTotal.WithLabelValues(category).Add(float64(tokens))
}

// RecordCost records estimated spend
func (m *Metrics) RecordCost(dollars float64) {
	if !m.enabled() || dollars <= 0 {
		return
	}
	m.CostRecordedTotal.Add(dollars)
}

// RecordRetryBudgetDenied records a refused re-attempt
func (m *Metrics) RecordRetryBudgetDenied() {
	if !m.enabled() {
		return
	}
	m.RetryBudgetDenied.Inc()
}

// SetCircuitState publishes the state of a breaker
func (m *Metrics) SetCircuitState(name string, state resilience.CircuitState) {
	if !m.enabled() {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// CircuitStateHook returns a breaker OnStateChange hook updating the state gauge
func (m *Metrics) CircuitStateHook() func(name string, from, to resilience.CircuitState) {
	return func(name string, from, to resilience.CircuitState) {
		m.SetCircuitState(name, to)
	}
}

// RecordRetry implements resilience.Observer
func (m *Metrics) RecordRetry(dependency string) {
	if !m.enabled() {
		return
	}
	m.RetriesTotal.WithLabelValues(dependency).Inc()
}

// RecordFallback implements resilience.Observer
func (m *Metrics) RecordFallback(dependency string) {
	if !m.enabled() {
		return
	}
	m.FallbacksTotal.WithLabelValues(dependency).Inc()
}

// RecordCircuitRejection implements resilience.Observer
func (m *Metrics) RecordCircuitRejection(dependency string) {
	if !m.enabled() {
		return
	}
	m.CircuitRejectionsTotal.WithLabelValues(dependency).Inc()
}

// RecordMint records a capability token mint attempt
func (m *Metrics) RecordMint(role string, err error) {
	if !m.enabled() {
		return
	}
	if err != nil {
		m.MintFailuresTotal.Inc()
		return
	}
	m.TokensMintedTotal.WithLabelValues(role).Inc()
}

// RecordPanic records a recovered panic
func (m *Metrics) RecordPanic(component string) {
	if !m.enabled() {
		return
	}
	m.PanicsTotal.WithLabelValues(component).Inc()
}

// Handler returns the Prometheus metrics HTTP handler for this instance's registry
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// GinHandler wraps Handler for gin routers
func (m *Metrics) GinHandler() gin.HandlerFunc {
	return gin.WrapH(m.Handler())
}

var _ resilience.Observer = (*Metrics)(nil)

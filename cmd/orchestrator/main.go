package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arcwell-foundry/aria/internal/capability"
	"github.com/arcwell-foundry/aria/internal/events"
	"github.com/arcwell-foundry/aria/internal/governor"
	"github.com/arcwell-foundry/aria/internal/middleware"
	"github.com/arcwell-foundry/aria/internal/orchestrator"
	"github.com/arcwell-foundry/aria/internal/plan"
	"github.com/arcwell-foundry/aria/internal/scheduler"
	"github.com/arcwell-foundry/aria/pkg/config"
	"github.com/arcwell-foundry/aria/pkg/health"
	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/metrics"
	"github.com/arcwell-foundry/aria/pkg/resilience"
	"github.com/arcwell-foundry/aria/pkg/tracing"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// run wires the orchestrator and returns the process exit code
func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	planFile := flag.String("plan", "", "goal plan (YAML) to execute")
	serve := flag.Bool("serve", false, "keep the ops server running after the plan finishes")
	flag.Parse()

	if *planFile == "" && !*serve {
		log.Fatalf("Nothing to do: pass -plan <file> and/or -serve")
	}

	cfg, err := config.LoadWithDotenv(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "aria-orchestrator",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	}, prometheus.DefaultRegisterer)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "aria-orchestrator",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	healthService := health.NewService(logger, nil)

	deps, err := openBackends(ctx, cfg, logger, healthService)
	if err != nil {
		log.Fatalf("Failed to open usage store: %v", err)
	}
	defer deps.Close()

	caller, breakers := newCaller(cfg, m, logger)
	healthService.RegisterChecker("circuits", health.NewCircuitChecker(breakers, "circuits"))

	gov := governor.NewCostGovernor(governorConfig(cfg.Governance), deps.store,
		governor.NewRetryBudget(cfg.Governance.MaxRetriesPerGoal), m, logger)

	minter := capability.NewMinter(capability.MinterConfig{
		DefaultTimeLimit: cfg.Capability.DefaultTTLSeconds,
	}, logger)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create event logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	publisher := events.NewPublisher(zapLogger, events.NewLogSink(zapLogger))
	if deps.redis != nil {
		publisher.RegisterSink(events.NewRedisSink(deps.redis.Client(), cfg.Events.RedisPrefix))
	}
	if cfg.Events.WebhookURL != "" {
		eventTypes := make([]events.EventType, 0, len(cfg.Events.WebhookTypes))
		for _, t := range cfg.Events.WebhookTypes {
			eventTypes = append(eventTypes, events.EventType(t))
		}
		publisher.RegisterSink(events.NewWebhookSink(cfg.Events.WebhookURL, nil, eventTypes...))
	}

	executors := orchestrator.NewExecutorRegistry(newDryRunExecutor([]byte(cfg.Capability.SigningKey)))

	orch, err := orchestrator.NewOrchestrator(orchestrator.Dependencies{
		Scheduler: scheduler.New(logger),
		Minter:    minter,
		Governor:  gov,
		Caller:    caller,
		Executor:  executors,
		Publisher: publisher,
		Metrics:   m,
		Tracing:   tracer,
		Logger:    logger,
	}, &orchestrator.Config{
		MaxConcurrentTasks: cfg.Orchestrator.MaxConcurrentTasks,
		TaskTimeout:        cfg.Orchestrator.TaskTimeout,
		Dependency:         cfg.Orchestrator.Dependency,
		TokenTTLSeconds:    cfg.Capability.DefaultTTLSeconds,
	})
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	var server *http.Server
	if cfg.Server.Enabled {
		server = startOpsServer(cfg, healthService, m, breakers, orch, logger)
	}

	exitCode := 0
	if *planFile != "" {
		if err := runPlan(ctx, orch, *planFile); err != nil {
			logger.WithError(err).Error("Goal execution failed")
			exitCode = 1
		}
	}

	if *serve {
		logger.Info("Serving ops endpoints until interrupted")
		<-ctx.Done()
	}

	logger.Info("Shutting down orchestrator")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Goals did not finish before shutdown deadline")
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Ops server forced to shutdown")
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Failed to flush traces")
	}

	logger.Info("Orchestrator exited")
	return exitCode
}

// runPlan executes a plan file synchronously and prints the result as JSON
func runPlan(ctx context.Context, orch *orchestrator.Orchestrator, path string) error {
	gp, err := plan.Load(path)
	if err != nil {
		return err
	}

	result, err := orch.ExecuteGoal(ctx, gp.Goal, gp.Tasks)
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil {
			return encErr
		}
	}
	return err
}

func startOpsServer(cfg *config.Config, hs *health.Service, m *metrics.Metrics, breakers *resilience.Registry, orch *orchestrator.Orchestrator, logger *logging.Logger) *http.Server {
	if cfg.Tracing.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logger, m), middleware.LoggingMiddleware(logger))
	router.GET("/health", hs.Handler())
	router.GET("/live", hs.LivenessHandler())
	router.GET("/metrics", m.GinHandler())
	router.GET("/circuits", func(c *gin.Context) {
		c.JSON(http.StatusOK, breakers.Snapshot())
	})
	router.GET("/goals/:id", func(c *gin.Context) {
		status, ok := orch.Status(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "goal not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"goal_id": c.Param("id"), "status": status})
	})

	server := &http.Server{
		Addr:              cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Ops server failed")
		}
	}()

	return server
}

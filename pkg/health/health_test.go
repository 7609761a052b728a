package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcwell-foundry/aria/pkg/resilience"
)

type fakeDB struct {
	err   error
	stats sql.DBStats
}

func (f *fakeDB) PingContext(ctx context.Context) error { return f.err }
func (f *fakeDB) Stats() sql.DBStats                  { return f.stats }

type fakeRedis struct {
	err error
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func (f *fakeRedis) PoolStats() *redis.PoolStats {
	return &redis.PoolStats{TotalConns: 4, IdleConns: 3}
}

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	healthy := NewDatabaseChecker(&fakeDB{stats: sql.DBStats{OpenConnections: 2, MaxOpenConnections: 10}}, "postgres").Check(ctx)
	assert.Equal(t, StatusHealthy, healthy.Status)
	assert.Equal(t, "2", healthy.Metadata["open_connections"])

	saturated := NewDatabaseChecker(&fakeDB{stats: sql.DBStats{OpenConnections: 9, MaxOpenConnections: 10}}, "postgres").Check(ctx)
	assert.Equal(t, StatusDegraded, saturated.Status)

	down := NewDatabaseChecker(&fakeDB{err: errors.New("connection refused")}, "postgres").Check(ctx)
	assert.Equal(t, StatusUnhealthy, down.Status)
	assert.Equal(t, "connection refused", down.Error)

	missing := NewDatabaseChecker(nil, "postgres").Check(ctx)
	assert.Equal(t, StatusUnhealthy, missing.Status)
}

func TestRedisChecker(t *testing.T) {
	ctx := context.Background()

	up := NewRedisChecker(&fakeRedis{}, "redis").Check(ctx)
	assert.Equal(t, StatusHealthy, up.Status)
	assert.Equal(t, "4", up.Metadata["total_connections"])

	down := NewRedisChecker(&fakeRedis{err: errors.New("i/o timeout")}, "redis").Check(ctx)
	assert.Equal(t, StatusUnhealthy, down.Status)
}

func TestCircuitChecker(t *testing.T) {
	registry := resilience.NewRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 1}, nil)
	registry.Get("calendar")

	check := NewCircuitChecker(registry, "circuits").Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	registry.Get("web_search").RecordFailure()
	check = NewCircuitChecker(registry, "circuits").Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Message, "web_search")
	assert.Equal(t, "OPEN", check.Metadata["web_search"])
	assert.Equal(t, "CLOSED", check.Metadata["calendar"])
}

func TestService_WorstStatusWins(t *testing.T) {
	service := NewService(nil, nil)
	service.RegisterChecker("ok", NewCustomChecker("ok", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "fine", nil
	}))
	service.RegisterChecker("slow", NewCustomChecker("slow", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "slow", nil
	}))

	assert.Equal(t, StatusDegraded, service.CheckHealth(context.Background()).Status)

	service.RegisterChecker("broken", NewCustomChecker("broken", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "", errors.New("broken")
	}))
	response := service.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, response.Status)
	assert.Equal(t, "broken", response.Checks["broken"].Error)

	service.UnregisterChecker("broken")
	assert.Equal(t, StatusDegraded, service.CheckHealth(context.Background()).Status)
}

func TestService_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	service := NewService(nil, nil)
	service.RegisterChecker("redis", NewRedisChecker(&fakeRedis{err: errors.New("down")}, "redis"))

	router := gin.New()
	router.GET("/health", service.Handler())
	router.GET("/live", service.LivenessHandler())

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	require.Contains(t, body.Checks, "redis")

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

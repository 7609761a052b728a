// Package middleware holds gin middleware for the ops server
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/arcwell-foundry/aria/pkg/logging"
	"github.com/arcwell-foundry/aria/pkg/metrics"
)

// CorrelationHeader carries the correlation ID in and out of the ops server
const CorrelationHeader = "X-Correlation-ID"

// LoggingMiddleware attaches a correlation ID to the request context and logs
// each request once it completes
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(CorrelationHeader)
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(CorrelationHeader, correlationID)

		c.Next()

		entry := logger.WithContext(ctx).WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
			"duration":  time.Since(start).String(),
		})
		if len(c.Errors) > 0 {
			entry.WithField("errors", c.Errors.String()).Warn("Ops request completed with errors")
			return
		}
		entry.Debug("Ops request completed")
	}
}

// RecoveryMiddleware recovers from handler panics, counts them and answers 500
func RecoveryMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		m.RecordPanic("ops_server")
		logger.WithContext(c.Request.Context()).WithFields(logrus.Fields{
			"panic":       fmt.Sprintf("%v", recovered),
			"stack_trace": string(debug.Stack()),
		}).Error("Ops request panic recovered")

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":          "Internal server error",
			"correlation_id": logging.GetCorrelationID(c.Request.Context()),
		})
	})
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pytake/pytake-go/internal/logger"
)

// RequestLogging logs one structured line per request, trimmed from the
// teacher's StructuredLogging to the fields this domain's requests (JSON
// task submissions, stats reads) actually carry.
func RequestLogging(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", float64(duration.Nanoseconds()) / 1e6,
			"ip", c.ClientIP(),
			"request_id", c.GetString("request_id"),
		}

		switch {
		case status >= 500:
			log.Error("http request completed with server error", fields...)
		case status >= 400:
			log.Warn("http request completed with client error", fields...)
		default:
			log.Info("http request completed", fields...)
		}
	}
}

package app

import (
	"log/slog"
	"time"

	"toolcustody/metrics"

	"github.com/gin-gonic/gin"
)

// RequestLog logs each request and records it in the HTTP metrics.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		metrics.RecordRequest(c.Request.Method, c.FullPath(), status, dur.Seconds())

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", dur.Milliseconds(),
			"ip", c.ClientIP(),
		}
		if s, ok := CurrentSession(c); ok {
			attrs = append(attrs, "user", s.User.ID)
		}
		if status >= 500 {
			slog.Error("request", attrs...)
			return
		}
		slog.Info("request", attrs...)
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"tenant-auth-service/internal/logging"
	"tenant-auth-service/internal/metrics"
)

// RequestLogger stores the client IP on the request context, then logs and
// times every request. Unmatched routes are labelled "unmatched".
func RequestLogger(log logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		d := time.Since(start)
		m.ObserveRequest(c.Request.Method, route, status, d)

		args := []any{"method", c.Request.Method, "route", route, "status", status, "duration_ms", d.Milliseconds()}
		ctx := c.Request.Context()
		switch {
		case status >= 500:
			log.Error(ctx, "http request", args...)
		case status >= 400:
			log.Warn(ctx, "http request", args...)
		default:
			log.Info(ctx, "http request", args...)
		}
	}
}

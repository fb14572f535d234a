package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klangwerk/lessonledger-api/internal/service"
)

// Metrics observes every request's method, route, status, and latency.
// The route template keeps label cardinality bounded; only unmatched
// requests fall back to the raw URL path.
func Metrics(metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metrics == nil {
			c.Next()
			return
		}
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		metrics.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

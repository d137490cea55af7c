package middleware

import (
	"strconv"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request count and latency per route template.
// Unmatched routes are grouped under "unmatched" to keep label cardinality low.
// A nil Collector records nothing.
func Metrics(m *metrics.Collector) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/reqtrail/reqtrail/internal/metrics"
)

// PrometheusMiddleware times each request and counts it by method,
// route, and status.
//
// The route label is the registered pattern ("/api/changes/:id"), not
// the raw URL; labeling by raw URL would mint a metric series per
// object ID.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		elapsed := time.Since(start).Seconds()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(elapsed)
		metrics.RequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
	}
}

package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fulfillment/internal/monitor"
)

// Metrics records request counts and latency per route template
func Metrics(mc *monitor.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		mc.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

package middleware

import (
	"time"

	"github.com/finsight/api-governor/internal/metrics"
	"github.com/gin-gonic/gin"
)

// RequestMetrics records one metric per completed request. Recording is
// fire-and-forget relative to the response: the collector only buffers
// in memory, all I/O happens later in the flusher.
func RequestMetrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		collector.Record(metrics.Metric{
			Timestamp:   start,
			CallerID:    c.GetString("caller_id"),
			Tier:        c.GetString("caller_tier"),
			Method:      c.Request.Method,
			Endpoint:    metrics.NormalizePath(c.Request.URL.Path),
			StatusCode:  status,
			Duration:    duration,
			Millis:      duration.Milliseconds(),
			Provider:    c.GetString("provider"),
			Bytes:       int64(c.Writer.Size()),
			ErrorType:   metrics.ClassifyStatus(status),
			CacheStatus: c.GetString("cache_status"),
			IP:          c.ClientIP(),
		})
	}
}

package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger writes one line per completed request, carrying the identity
// and routing labels the governor resolves on the way through: caller
// tier from admission and the upstream provider from the proxy.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		requestID := c.GetString("request_id")

		line := fmt.Sprintf("[%s] %s %s - %d - %v - %s",
			requestID,
			method,
			path,
			statusCode,
			latency,
			c.ClientIP(),
		)
		if tier := c.GetString("caller_tier"); tier != "" {
			line += " - tier=" + tier
		}
		if provider := c.GetString("provider"); provider != "" {
			line += " - provider=" + provider
		}

		log.Print(line)
	}
}

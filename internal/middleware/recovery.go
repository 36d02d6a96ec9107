package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery converts handler panics into a 500 in the same JSON register
// as the governor's other error bodies. Panics inside admission never
// reach here; that path has its own recover and fails open instead.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")
				log.Printf("[%s] PANIC: %v", requestID, err)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_error",
					"message": "The server hit an unexpected condition handling this request.",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

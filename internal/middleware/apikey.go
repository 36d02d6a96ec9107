package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/finsight/api-governor/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// KeyResolver is the slice of the API-key service admission needs.
type KeyResolver interface {
	Validate(ctx context.Context, key string) (*models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID)
}

// APIKeyValidator resolves the caller behind X-API-Key. A missing key is
// the anonymous path, not an error: the caller proceeds on the free tier
// keyed by network address.
func APIKeyValidator(keys KeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if header == "" {
			c.Next()
			return
		}

		apiKey, err := keys.Validate(c.Request.Context(), header)

		if err != nil || apiKey == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid API key",
			})
			c.Abort()
			return
		}

		c.Set("api_key", apiKey)
		c.Set("api_key_id", apiKey.ID)
		c.Set("api_key_tier", apiKey.Tier)

		// Fire-and-forget on a detached context: gin cancels the request
		// context as soon as the handler returns, which would kill the
		// write mid-flight.
		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			keys.UpdateLastUsed(ctx, id)
		}(apiKey.ID)

		c.Next()
	}
}

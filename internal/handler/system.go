package handler

import (
	"net/http"

	"github.com/finsight/api-governor/internal/proxy"
	"github.com/gin-gonic/gin"
)

// SystemHandler exposes operational status for the providers.
type SystemHandler struct {
	providers map[string]*proxy.Provider
}

func NewSystemHandler(providers map[string]*proxy.Provider) *SystemHandler {
	return &SystemHandler{
		providers: providers,
	}
}

// Handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handles GET /admin/providers - breaker state and mirror health per provider
func (h *SystemHandler) ProviderStatus(c *gin.Context) {
	statuses := make(map[string]interface{}, len(h.providers))

	for name, p := range h.providers {
		statuses[name] = gin.H{
			"circuit_state": p.BreakerState().String(),
			"mirrors":       p.MirrorStatuses(),
		}
	}

	c.JSON(http.StatusOK, statuses)
}

// Handles POST /admin/providers/:name/reset - manually closes the breaker
func (h *SystemHandler) ResetProvider(c *gin.Context) {
	name := c.Param("name")

	p, exists := h.providers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not found"})
		return
	}

	p.Reset()

	c.JSON(http.StatusOK, gin.H{
		"message":  "Circuit breaker reset successfully",
		"provider": name,
	})
}

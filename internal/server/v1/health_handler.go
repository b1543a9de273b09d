package v1

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/version"
)

type HealthHandler struct {
	service gateway.Service
	started time.Time
}

func NewHealthHandler(service gateway.Service) *HealthHandler {
	return &HealthHandler{service: service, started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
	providers := h.service.Providers(c.Request.Context())
	ready := 0
	for _, p := range providers {
		if p.KeyConfigured {
			ready++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   version.Current,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"providers": len(providers),
		"ready":     ready,
	})
}

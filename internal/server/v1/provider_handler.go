package v1

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/gateway"
)

type ProviderHandler struct {
	service gateway.Service
}

func NewProviderHandler(service gateway.Service) *ProviderHandler {
	return &ProviderHandler{service: service}
}

// List serves GET /api/providers, optionally filtered by ?category=.
func (h *ProviderHandler) List(c *gin.Context) {
	category := c.Query("category")

	providers := h.service.Providers(c.Request.Context())
	if category != "" {
		filtered := providers[:0]
		for _, p := range providers {
			if strings.EqualFold(p.Category, category) {
				filtered = append(filtered, p)
			}
		}
		providers = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   providers,
	})
}

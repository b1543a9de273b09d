package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/pkg/api"
)

type UsageHandler struct {
	service analytics.Service
}

func NewUsageHandler(service analytics.Service) *UsageHandler {
	return &UsageHandler{
		service: service,
	}
}

// GetUsage serves GET /api/usage?provider=&user=&since=RFC3339.
func (h *UsageHandler) GetUsage(c *gin.Context) {
	var filter api.UsageFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		_ = c.Error(api.BadRequestError("Invalid usage filter: " + err.Error()))
		return
	}

	stats, err := h.service.Usage(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to fetch usage", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   stats,
	})
}

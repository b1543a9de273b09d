package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/server/validator"
	"github.com/nulzo/prism-router/pkg/api"
)

// ProxyHandler serves POST /api/llm/:provider.
type ProxyHandler struct {
	service   gateway.Service
	validator *validator.Validator
}

func NewProxyHandler(service gateway.Service, v *validator.Validator) *ProxyHandler {
	return &ProxyHandler{
		service:   service,
		validator: v,
	}
}

func (h *ProxyHandler) Complete(c *gin.Context) {
	var req api.ProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	name := c.Param("provider")
	resp, err := h.service.Proxy(c.Request.Context(), name, req.Prompt)
	if err != nil {
		_ = c.Error(providerProblem(name, err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

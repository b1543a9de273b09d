package v1

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/server/middleware"
	"github.com/nulzo/prism-router/internal/server/validator"
	"github.com/nulzo/prism-router/pkg/api"
)

type RouteHandler struct {
	service   gateway.Service
	history   analytics.Service
	validator *validator.Validator
}

func NewRouteHandler(service gateway.Service, history analytics.Service, v *validator.Validator) *RouteHandler {
	return &RouteHandler{
		service:   service,
		history:   history,
		validator: v,
	}
}

// Route serves POST /api/route.
func (h *RouteHandler) Route(c *gin.Context) {
	var req api.RoutingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	if req.UserID == "" {
		req.UserID = c.GetString(middleware.UserIDKey)
	}

	resp, err := h.service.Route(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(routerProblem(err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

// History serves GET /api/route?user=&limit=. The user defaults to the
// X-User-ID caller, then to the anonymous user.
func (h *RouteHandler) History(c *gin.Context) {
	var filter api.HistoryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		_ = c.Error(api.BadRequestError("Invalid history filter: " + err.Error()))
		return
	}
	if filter.UserID == "" {
		filter.UserID = c.GetString(middleware.UserIDKey)
	}
	if filter.UserID == "" {
		filter.UserID = gateway.AnonymousUser
	}

	routes, err := h.history.History(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(api.InternalError("Failed to load route history", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   routes,
	})
}

// Get serves GET /api/route/:id from persisted outcomes.
func (h *RouteHandler) Get(c *gin.Context) {
	id := c.Param("id")

	resp, err := h.history.Route(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, analytics.ErrRouteNotFound) {
			_ = c.Error(api.NotFoundError("no completed route with id " + id))
			return
		}
		_ = c.Error(api.InternalError("Failed to load route", err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

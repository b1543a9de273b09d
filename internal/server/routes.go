package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/server/middleware"
	v1 "github.com/nulzo/prism-router/internal/server/v1"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))
	if s.config.Tracing.Enabled {
		s.router.Use(middleware.Tracing(s.config.Tracing.ServiceName))
	}
	s.router.Use(middleware.ErrorHandler(s.logger))
	s.router.Use(middleware.Identity())

	// public
	healthHandler := v1.NewHealthHandler(s.service)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	api.Use(middleware.Auth(s.config.Server.APIKeys))
	api.Use(s.limiter.Middleware())
	{
		proxyHandler := v1.NewProxyHandler(s.service, s.validator)
		api.POST("/llm/:provider", proxyHandler.Complete)

		routeHandler := v1.NewRouteHandler(s.service, s.analytics, s.validator)
		api.POST("/route", routeHandler.Route)
		api.GET("/route", routeHandler.History)
		api.GET("/route/:id", routeHandler.Get)

		providerHandler := v1.NewProviderHandler(s.service)
		api.GET("/providers", providerHandler.List)

		usageHandler := v1.NewUsageHandler(s.analytics)
		api.GET("/usage", usageHandler.GetUsage)
	}
}

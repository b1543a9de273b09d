package server

import (
	"context"
	"errors"
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/config"
	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/server/middleware"
	"github.com/nulzo/prism-router/internal/server/validator"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    *zap.Logger
	service   gateway.Service
	analytics analytics.Service
	gatherer  prometheus.Gatherer
	validator *validator.Validator
	limiter   *middleware.RateLimiter
	http      *http.Server
}

type Option func(*Server)

// WithGatherer sets the registry exposed on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func New(cfg *config.Config, logger *zap.Logger, service gateway.Service, stats analytics.Service, opts ...Option) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// panics are logged with their stack and answered with 500
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))

	s := &Server{
		router:    engine,
		service:   service,
		analytics: stats,
		logger:    logger,
		config:    cfg,
		gatherer:  prometheus.DefaultGatherer,
		validator: validator.New(),
		limiter:   middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks until the server stops. http.ErrServerClosed is not an error.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         ":" + s.config.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Limiter exposes the per-IP limiter so idle clients can be swept.
func (s *Server) Limiter() *middleware.RateLimiter {
	return s.limiter
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nulzo/prism-router/internal/analytics"
	"github.com/nulzo/prism-router/internal/cli"
	"github.com/nulzo/prism-router/internal/config"
	"github.com/nulzo/prism-router/internal/gateway"
	"github.com/nulzo/prism-router/internal/llm"
	"github.com/nulzo/prism-router/internal/platform/logger"
	"github.com/nulzo/prism-router/internal/platform/otel"
	"github.com/nulzo/prism-router/internal/server"
	"github.com/nulzo/prism-router/internal/store/cache"
	"github.com/nulzo/prism-router/internal/store/sqlite"
	"github.com/nulzo/prism-router/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return config.LoadConfigFile(path)
	}
	return config.LoadConfig()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Initialize(cfg.Log)
	log := logger.Get()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(cli.Gradient("prism-router "+version.Current, cli.BrandBlue, cli.BrandPurple, 0.5))
	go checkForUpdates(ctx)

	if cfg.Tracing.Enabled {
		shutdown, err := otel.InitTracer(ctx, otel.TracerConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version.Current,
			SampleRatio:    cfg.Tracing.SampleRatio,
			Pretty:         !cfg.IsProduction(),
		}, log)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		_ = repo.Close()
	}()

	metrics := analytics.NewMetrics("prism", prometheus.DefaultRegisterer)
	ingestor := analytics.NewIngestor(log, repo, analytics.WithMetrics(metrics))
	// stopped explicitly after the HTTP server drains
	ingestor.Start(context.Background())
	defer ingestor.Stop()

	stats := analytics.NewService(repo)

	results, closeResults, err := resultStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeResults()

	// one shared encoder, loaded before the first request
	tokens := llm.LoadTokenCounter(log)
	providers, err := gateway.BootstrapProviders(cfg.ProvidersFile, log, llm.WithTokenCounter(tokens))
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}

	router := gateway.NewRouter(log, providers, routerConfig(cfg),
		gateway.WithResultStore(results),
		gateway.WithIngestor(ingestor),
		gateway.WithHistory(stats),
	)

	srv := server.New(cfg, log, router, stats)
	go housekeeping(ctx, srv, results)

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("%s Listening on :%s", cli.Arrow(), cfg.Server.Port),
			zap.String("env", cfg.Server.Env),
			zap.Int("providers", providers.Registry().Len()),
		)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		logger.Error("Server stopped unexpectedly", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// resultStore picks Redis when enabled, falling back to memory if it is unreachable.
func resultStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (cache.CacheService, func(), error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), func() {}, nil
	}

	rc, err := cache.NewRedisCache(ctx, cache.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Warn("Redis unavailable, using in-memory result store", zap.Error(err))
		return cache.NewMemoryCache(), func() {}, nil
	}

	log.Info(fmt.Sprintf("%s Redis result store at %s", cli.CheckMark(), cfg.Redis.Addr))
	return rc, func() { _ = rc.Close() }, nil
}

func routerConfig(cfg *config.Config) gateway.Config {
	rules := make([]gateway.Rule, 0, len(cfg.Router.Routes))
	for _, r := range cfg.Router.Routes {
		rules = append(rules, gateway.Rule{
			Name:       r.Name,
			Topics:     r.Topics,
			TaskTypes:  r.TaskTypes,
			Complexity: r.Complexity,
			Vision:     r.Vision,
			Chain:      r.Chain,
		})
	}

	return gateway.Config{
		MaxRetries: cfg.Router.MaxRetries,
		Backoff: gateway.BackoffConfig{
			Initial:    cfg.Router.Backoff.Initial,
			Max:        cfg.Router.Backoff.Max,
			Multiplier: cfg.Router.Backoff.Multiplier,
			Jitter:     cfg.Router.Backoff.Jitter,
		},
		ResultTTL: cfg.Router.ResultTTL,
		Deadline:  cfg.RouteDeadline(),
		Policy: gateway.Policy{
			Rules:        rules,
			DefaultChain: cfg.Router.DefaultChain,
			Category:     cfg.Router.Category,
		},
	}
}

// housekeeping drops idle rate limiters and expired in-memory results.
func housekeeping(ctx context.Context, srv *server.Server, results cache.CacheService) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept := srv.Limiter().Sweep()
			purged := 0
			if mc, ok := results.(*cache.MemoryCache); ok {
				purged = mc.Purge()
			}
			logger.Debug("Housekeeping done", zap.Int("limiters_swept", swept), zap.Int("results_purged", purged))
		}
	}
}

func checkForUpdates(ctx context.Context) {
	latest, outdated, err := version.CheckForUpdates(ctx, nil, version.ReleasesURL)
	if err != nil {
		logger.Debug("Update check skipped", zap.Error(err))
		return
	}
	if outdated {
		logger.Warn(fmt.Sprintf("%s You are running an outdated version", cli.WarningSign()),
			zap.String("current", version.Current),
			zap.String("latest", latest),
		)
	}
}

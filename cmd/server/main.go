// Package main is the entrypoint for the OpsLoop incident-response server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/opsloop/internal/ai"
	"github.com/kiranshivaraju/opsloop/internal/api"
	"github.com/kiranshivaraju/opsloop/internal/api/handler"
	mw "github.com/kiranshivaraju/opsloop/internal/api/middleware"
	"github.com/kiranshivaraju/opsloop/internal/cache"
	"github.com/kiranshivaraju/opsloop/internal/config"
	"github.com/kiranshivaraju/opsloop/internal/ledger"
	"github.com/kiranshivaraju/opsloop/internal/logging"
	"github.com/kiranshivaraju/opsloop/internal/metrics"
	"github.com/kiranshivaraju/opsloop/internal/pipeline"
	"github.com/kiranshivaraju/opsloop/internal/scheduler"
	"github.com/kiranshivaraju/opsloop/internal/toolgateway"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config; fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Logger with in-memory ring and optional rotating file
	logger, ring, logCloser := logging.New(cfg.Log)
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("config loaded",
		"env", cfg.Server.Env,
		"ledger_backend", cfg.Ledger.Backend,
		"ai_provider", cfg.AI.Provider,
		"auth_keys", len(cfg.Auth.APIKeys),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Metrics
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// 4. Incident ledger
	incidents, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	// 5. Cache
	store, err := openCache(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// 6. Tool gateway
	tools := toolgateway.NewManager(ctx, cfg.Tools.Services(),
		toolgateway.WithTimeout(cfg.Tools.Timeout),
		toolgateway.WithRetryPolicy(cfg.Tools.MaxRetries, cfg.Tools.BaseBackoff),
		toolgateway.WithLogger(logger),
	)
	logger.Info("tool gateway ready", "services", tools.Services())

	// 7. Fix provider
	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	fixes := ai.NewFixService(provider, cfg.AI.InferenceTimeout, logger)
	logger.Info("AI provider initialized", "provider", provider.Name())

	// 8. Pipeline
	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.Monitor.StatusURL != "" {
		pipeOpts = append(pipeOpts, pipeline.WithStatusSource(pipeline.NewHTTPStatusSource(cfg.Monitor.StatusURL)))
	}
	pipe := pipeline.New(tools, incidents, fixes, pipeline.NewConfig(cfg), pipeOpts...)

	// 9. Scheduler
	sched := scheduler.New(pipe, cfg.Scheduler,
		scheduler.WithCache(store),
		scheduler.WithLogger(logger),
	)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		sched.Loop(ctx)
	}()

	// 10. Build router with dependencies
	router := newRouter(cfg, logger, ring, incidents, store, sched)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		stop()
		<-loopDone
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	<-loopDone
	sched.Wait()

	logger.Info("server stopped gracefully")
	return nil
}

// openLedger builds the ledger on the configured backend. The returned
// function releases the backend.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledger.Ledger, func(), error) {
	loc, err := time.LoadLocation(cfg.Ledger.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("load ledger timezone: %w", err)
	}

	var (
		persister ledger.Persister
		release   = func() {}
	)
	switch cfg.Ledger.Backend {
	case "postgres":
		pool, err := ledger.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := ledger.RunMigrations(cfg.Database.URL); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database connected, migrations applied")
		persister = ledger.NewPostgresPersister(pool, cfg.Ledger.DocumentID)
		release = pool.Close
	default:
		fp, err := ledger.NewFilePersister(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger file: %w", err)
		}
		persister = fp
	}

	l, err := ledger.New(ctx, persister, ledger.WithLocation(loc), ledger.WithLogger(logger))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("load ledger: %w", err)
	}
	return l, release, nil
}

// openCache connects to Redis when configured and falls back to an
// in-process cache otherwise.
func openCache(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (cache.Cache, error) {
	if cfg.URL == "" {
		logger.Info("redis not configured, using in-memory cache")
		return cache.NewMemoryCache(), nil
	}

	redisCache, err := cache.NewRedisCache(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := redisCache.Ping(ctx); err != nil {
		redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")
	return redisCache, nil
}

func newRouter(
	cfg *config.Config,
	logger *slog.Logger,
	logs handler.LogSource,
	incidents *ledger.Ledger,
	store cache.Cache,
	sched *scheduler.Scheduler,
) http.Handler {
	auth := mw.NewAuth(mw.NewStaticKeys(cfg.Auth.APIKeys))
	if !auth.Enabled() {
		logger.Warn("no API keys configured, authentication disabled")
	}

	return api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(store, cfg.RateLimit.RequestsPerMinute),
		Logger:    logger,

		Health:  handler.NewHealthHandler(incidents, store),
		Metrics: promhttp.Handler(),

		TriggerRun: handler.NewTriggerRunHandler(sched),
		LastRun:    handler.NewLastRunHandler(sched),

		AgentStatus: handler.NewAgentStatusHandler(sched),
		SetAutoRun:  handler.NewSetAutoRunHandler(sched),

		ListIncidents:   handler.NewListIncidentsHandler(incidents),
		GetIncident:     handler.NewGetIncidentHandler(incidents),
		ResolveIncident: handler.NewResolveIncidentHandler(incidents),
		RestartCounts:   handler.NewRestartCountsHandler(incidents),

		RecentLogs: handler.NewRecentLogsHandler(logs),
	})
}

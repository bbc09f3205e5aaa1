/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the monthly ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load environment configuration, apply flag overrides
  2. Initialize SQLite store
  3. Choose per-school locking: Redis when REDIS_ADDR is set, else in-process
  4. Create service, metrics registry, API handler and router
  5. Start the resync scheduler (queued via asynq when Redis is configured)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr    HTTP listen address (overrides APP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the resync scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and Redis connections

SEE ALSO:
  - api/server.go: Router configuration
  - cmd/worker/main.go: Queue consumer for resync jobs
*/
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/BilalTali/mdmseva-sub000/api"
	"github.com/BilalTali/mdmseva-sub000/config"
	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/jobs"
	"github.com/BilalTali/mdmseva-sub000/mdm"
	"github.com/BilalTali/mdmseva-sub000/observability"
	"github.com/BilalTali/mdmseva-sub000/store/redislock"
	"github.com/BilalTali/mdmseva-sub000/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Flags
	addr := flag.String("addr", cfg.AppAddr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	cfg.AppAddr = *addr
	cfg.DBPath = *dbPath

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("initialize database", slog.String("path", cfg.DBPath), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	var (
		locker     generic.Locker
		dispatcher api.Dispatcher
		extra      func(r chi.Router)
	)

	svcCfg := mdm.ServiceConfig{LockWait: cfg.LockWait}

	if cfg.UsesRedis() {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis ping", slog.Any("error", err))
		}
		locker = redislock.New(redisClient, redislock.WithTTL(cfg.LockTTL))

		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobsClient := jobs.NewClient(redisOpts)
		defer jobsClient.Close()
		inspector := asynq.NewInspector(redisOpts)
		defer inspector.Close()

		jobsHandler := jobs.NewHandler(inspector, logger)
		extra = func(r chi.Router) {
			r.Route("/jobs", jobsHandler.MountRoutes)
		}
		dispatcher = jobsClient
	}

	svc := mdm.NewService(store, locker, logger, svcCfg)
	if dispatcher == nil {
		dispatcher = api.InlineDispatcher{Service: svc}
	}

	var metrics *observability.Metrics
	if cfg.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	handler := api.NewHandler(svc, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:  cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Production:      cfg.IsProduction(),
		Metrics:         metrics,
		Extra:           extra,
	})

	scheduler := api.NewResyncScheduler(svc, dispatcher, logger)
	scheduler.CheckInterval = cfg.ResyncInterval
	scheduler.Enabled = cfg.ResyncEnabled
	scheduler.Metrics = metrics
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.AppAddr),
			slog.String("db", cfg.DBPath),
			slog.Bool("redis", cfg.UsesRedis()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped")
}

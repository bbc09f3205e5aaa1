// Command worker consumes ledger resync jobs from the asynq queue.
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

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/BilalTali/mdmseva-sub000/config"
	"github.com/BilalTali/mdmseva-sub000/jobs"
	"github.com/BilalTali/mdmseva-sub000/mdm"
	"github.com/BilalTali/mdmseva-sub000/observability"
	"github.com/BilalTali/mdmseva-sub000/store/redislock"
	"github.com/BilalTali/mdmseva-sub000/store/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	concurrency := flag.Int("concurrency", 5, "concurrent jobs")
	flag.Parse()
	cfg.DBPath = *dbPath

	logger := config.NewLogger(cfg)
	if !cfg.UsesRedis() {
		logger.Error("REDIS_ADDR is required for the worker")
		os.Exit(1)
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Error("initialize database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	// Server and worker share the Redis lock so a queued resync never
	// interleaves with an API mutation of the same school.
	locker := redislock.New(redisClient, redislock.WithTTL(cfg.LockTTL))
	svc := mdm.NewService(store, locker, logger, mdm.ServiceConfig{LockWait: cfg.LockWait})
	resyncJob := jobs.NewResyncJob(svc, logger)

	if cfg.MetricsEnabled && cfg.WorkerMetricsAddr != "" {
		metrics := observability.NewMetrics()
		resyncJob.Metrics = metrics
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: *concurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerResync, Handler: resyncJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("db", cfg.DBPath))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

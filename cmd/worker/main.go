package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/techstore-pos/techstore/internal/app"
	jobmetrics "github.com/techstore-pos/techstore/internal/jobs"
	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/platform/cache"
	"github.com/techstore-pos/techstore/internal/platform/db"
	"github.com/techstore-pos/techstore/internal/shared"
	"github.com/techstore-pos/techstore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	metrics := jobmetrics.NewMetrics(nil)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerCache := ledger.NewCache(redisClient, cfg.LedgerCacheTTL)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, ledgerCache, logger)
	reconciler := ledger.NewReconciler(ledgerRepo, logger)

	integrityHandler := jobs.NewLedgerIntegrityHandler(ledgerService, metrics, logger)
	reconcileHandler := jobs.NewLedgerReconcileHandler(reconciler, ledgerCache, jobs.ReconcileJobConfig{
		BatchLimit:  cfg.ReconcileBatchLimit,
		Parallelism: cfg.ReconcileParallel,
		LockLease:   cfg.ReconcileLockLease,
	}, metrics, logger)

	integrityTask, err := jobs.NewLedgerIntegrityTask(time.Now().UTC())
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityHandler},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileHandler},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/techstore-pos/techstore/internal/app"
	"github.com/techstore-pos/techstore/internal/customers"
	"github.com/techstore-pos/techstore/internal/ledger"
	"github.com/techstore-pos/techstore/internal/observability"
	"github.com/techstore-pos/techstore/internal/platform/db"
	"github.com/techstore-pos/techstore/internal/repairs"
	"github.com/techstore-pos/techstore/internal/sales"
	"github.com/techstore-pos/techstore/internal/shared"
	"github.com/techstore-pos/techstore/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerCache := ledger.NewCache(redisClient, cfg.LedgerCacheTTL)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, ledgerCache, logger)
	ledgerPolicy := ledger.NewPolicy(ledgerService)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, ledgerPolicy)

	customersRepo := customers.NewRepository(dbpool)
	customersService := customers.NewService(customersRepo, ledgerPolicy, auditLogger, logger)
	customersHandler := customers.NewHandler(logger, customersService)

	salesRepo := sales.NewRepository(dbpool)
	salesService := sales.NewService(salesRepo, ledgerService, ledgerPolicy, idempotencyStore, auditLogger, logger)
	salesHandler := sales.NewHandler(logger, salesService)

	repairsRepo := repairs.NewRepository(dbpool)
	repairsService := repairs.NewService(repairsRepo, ledgerService, salesService, auditLogger, logger)
	repairsHandler := repairs.NewHandler(logger, repairsService)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             dbpool,
		Metrics:          metrics,
		LedgerHandler:    ledgerHandler,
		CustomersHandler: customersHandler,
		SalesHandler:     salesHandler,
		RepairsHandler:   repairsHandler,
		JobsHandler:      jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

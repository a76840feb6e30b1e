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

	"github.com/odyssey-erp/inventory-ledger/internal/adjustments"
	"github.com/odyssey-erp/inventory-ledger/internal/app"
	"github.com/odyssey-erp/inventory-ledger/internal/counts"
	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
	"github.com/odyssey-erp/inventory-ledger/internal/observability"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/cache"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
	"github.com/odyssey-erp/inventory-ledger/internal/qc"
	"github.com/odyssey-erp/inventory-ledger/internal/receiving"
	"github.com/odyssey-erp/inventory-ledger/internal/transfers"
	"github.com/odyssey-erp/inventory-ledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, uom cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, pool, redisClient, logger, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               pool,
		InventoryHandler:   inventory.NewHandler(logger, services.Inventory, services.Reconciler, cfg.AdminRateLimit),
		ReceivingHandler:   receiving.NewHandler(logger, services.Receiving),
		AdjustmentsHandler: adjustments.NewHandler(logger, services.Adjustments),
		CountsHandler:      counts.NewHandler(logger, services.Counts),
		QCHandler:          qc.NewHandler(logger, services.QC),
		TransfersHandler:   transfers.NewHandler(logger, services.Transfers),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
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

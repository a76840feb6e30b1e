package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/inventory-ledger/internal/app"
	jobmetrics "github.com/odyssey-erp/inventory-ledger/internal/jobs"
	"github.com/odyssey-erp/inventory-ledger/internal/outbox"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/cache"
	"github.com/odyssey-erp/inventory-ledger/internal/platform/db"
	"github.com/odyssey-erp/inventory-ledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	services := app.NewServices(cfg, pool, redisClient, logger, nil)
	metrics := jobmetrics.NewMetrics(nil)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	queueClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	relay := outbox.NewRelay(outbox.NewRepository(pool), queueClient, outbox.Config{
		BatchSize: cfg.Outbox.BatchSize,
		Queue:     jobs.QueueCritical,
	}, logger)
	relayJob := jobs.NewOutboxRelayJob(relay, logger, metrics)
	reconcileJob := &jobs.ReconcileJob{
		Reconciler: services.Reconciler,
		Tenants:    services.InventoryRepo,
		Locker:     redislock.New(redisClient),
		LockTTL:    cfg.Reconcile.LockTTL,
		AutoRepair: cfg.Reconcile.AutoRepair,
		Epsilon:    cfg.Ledger.BalanceEpsilon,
		MaxRows:    cfg.Ledger.RepairMaxRows,
		Logger:     logger,
		Metrics:    metrics,
	}
	movementJob := &jobs.MovementPostedJob{Movements: services.InventoryRepo, Logger: logger, Metrics: metrics}
	cleanupJob := &jobs.IdempotencyCleanupJob{Store: services.Idempotency, Retention: cfg.IdempotencyRetention, Logger: logger, Metrics: metrics}

	reconcileTask, err := jobs.NewReconcileTask(jobs.ReconcilePayload{})
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOutboxRelay, Handler: relayJob.Handle},
			{Type: jobs.TaskReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskMovementPosted, Handler: movementJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.Outbox.Cron, Task: jobs.NewOutboxRelayTask(), Options: []asynq.Option{asynq.Queue(jobs.QueueCritical), asynq.MaxRetry(0), asynq.Unique(30 * time.Second)}},
			{Spec: cfg.Reconcile.Cron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "30 4 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
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

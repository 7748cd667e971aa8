package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/felicita-pe/felicita-core/internal/app"
	"github.com/felicita-pe/felicita-core/internal/platform/db"
	"github.com/felicita-pe/felicita-core/internal/shared"
	"github.com/felicita-pe/felicita-core/jobs"
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

	reconciler := jobs.NewInventoryReconciler(pool, logger)
	integrity := jobs.NewLedgerIntegrityChecker(pool, logger)
	cleaner := jobs.NewIdempotencyCleaner(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, logger)

	now := time.Now().UTC()
	reconcileTask, err := jobs.NewInventoryReconcileTask(now)
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewLedgerIntegrityTask(now)
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskInventoryReconcile, Handler: reconciler.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrity.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleaner.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask},
			{Spec: cfg.IntegrityCron, Task: integrityTask},
			{Spec: cfg.IdempotencyCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started",
		slog.String("reconcile_cron", cfg.ReconcileCron),
		slog.String("integrity_cron", cfg.IntegrityCron),
		slog.String("idempotency_cron", cfg.IdempotencyCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

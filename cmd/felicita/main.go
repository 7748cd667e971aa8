package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/felicita-pe/felicita-core/internal/app"
	"github.com/felicita-pe/felicita-core/internal/catalog"
	"github.com/felicita-pe/felicita-core/internal/integration"
	"github.com/felicita-pe/felicita-core/internal/inventory"
	"github.com/felicita-pe/felicita-core/internal/ledger"
	"github.com/felicita-pe/felicita-core/internal/platform/cache"
	"github.com/felicita-pe/felicita-core/internal/platform/db"
	"github.com/felicita-pe/felicita-core/internal/shared"
	"github.com/felicita-pe/felicita-core/jobs"
)

func main() {
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

	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogSvc := catalog.NewService(catalog.NewRepository(pool), logger)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{
		Repo:   ledger.NewRepository(pool),
		Logger: logger,
		Audit:  audit,
	})

	snapshotCache := inventory.NewSnapshotCache(redisClient, cfg.SnapshotCacheTTL)
	inventorySvc := inventory.NewService(inventory.ServiceParams{
		Repo:        inventory.NewRepository(pool),
		Logger:      logger,
		Audit:       audit,
		Idempotency: idempotency,
		Cache:       snapshotCache,
	})
	inventorySvc.RegisterIntegration(integration.NewPostingBridge(ledgerSvc, integration.NewMappings(pool), logger))

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("create job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		CatalogHandler:   catalog.NewHandler(catalogSvc, logger),
		InventoryHandler: inventory.NewHandler(inventorySvc, logger),
		LedgerHandler:    ledger.NewHandler(ledgerSvc, logger),
		JobHandler:       jobs.NewHandler(jobClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
}

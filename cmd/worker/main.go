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
	"github.com/joho/godotenv"

	"github.com/lattice-pm/lattice/internal/app"
	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/docs"
	jobmetrics "github.com/lattice-pm/lattice/internal/jobs"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/payments"
	"github.com/lattice-pm/lattice/internal/platform/cache"
	"github.com/lattice-pm/lattice/internal/platform/db"
	"github.com/lattice-pm/lattice/internal/shared"
	"github.com/lattice-pm/lattice/jobs"
)

const generationLockTTL = 5 * time.Minute

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

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

	metrics := jobmetrics.NewMetrics(nil)

	dirRepo := directory.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	billingRepo := billing.NewRepository(pool, ledgerRepo)
	lockFactory := func(buildingID int64, period string) billing.Locker {
		return cache.NewMutex(redisClient, shared.ChargeGenerationLockKey(buildingID, period), generationLockTTL)
	}
	generator := billing.NewGenerator(billingRepo, dirRepo, lockFactory, logger)
	generationJob := jobs.NewChargeGenerationJob(dirRepo, generator, logger, metrics)

	payRepo := payments.NewRepository(pool, ledgerRepo)
	docsClient := docs.New(docs.Config{BaseURL: cfg.DocsBaseURL, APIKey: cfg.DocsAPIKey})
	receiptIssuer := payments.NewReceiptIssuer(payRepo, docsClient, nil, logger)
	receiptJob := jobs.NewReceiptIssueJob(receiptIssuer, logger, metrics)

	generateTask, err := jobs.NewGenerateChargesTask("")
	if err != nil {
		logger.Error("build generation task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeGenerateCharges, Handler: generationJob.Handle},
			{Type: jobs.TaskTypeIssueReceipt, Handler: receiptJob.Handle},
			{Type: jobs.TaskTypeWebhookCleanup, Handler: func(ctx context.Context, t *asynq.Task) error {
				return jobs.CleanupWebhookLog(ctx, pool, logger)
			}},
		},
		Cron: []jobs.CronRegistration{
			// first of the month, after midnight UTC
			{Spec: "0 3 1 * *", Task: generateTask, Options: []asynq.Option{asynq.MaxRetry(5)}},
			{Spec: "30 4 * * *", Task: jobs.NewWebhookCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

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
	"github.com/joho/godotenv"

	"github.com/lattice-pm/lattice/internal/app"
	"github.com/lattice-pm/lattice/internal/billing"
	"github.com/lattice-pm/lattice/internal/directory"
	"github.com/lattice-pm/lattice/internal/docs"
	"github.com/lattice-pm/lattice/internal/ledger"
	"github.com/lattice-pm/lattice/internal/notify"
	"github.com/lattice-pm/lattice/internal/observability"
	"github.com/lattice-pm/lattice/internal/payments"
	"github.com/lattice-pm/lattice/internal/payments/gateway"
	"github.com/lattice-pm/lattice/internal/platform/cache"
	"github.com/lattice-pm/lattice/internal/platform/db"
	"github.com/lattice-pm/lattice/internal/shared"
	"github.com/lattice-pm/lattice/jobs"
)

// generationLockTTL bounds how long a crashed generation run can block the
// next one.
const generationLockTTL = 5 * time.Minute

func buildRegistry(cfg *app.Config) *gateway.Registry {
	var gws []gateway.Gateway
	if cfg.LocalProviderEnabled {
		gws = append(gws, gateway.NewLocal())
	}
	if cfg.PayPlusConfigured() {
		gws = append(gws, gateway.NewPayPlus(gateway.PayPlusConfig{
			BaseURL:   cfg.PayPlusBaseURL,
			APIKey:    cfg.PayPlusAPIKey,
			SecretKey: cfg.PayPlusSecretKey,
			PageUID:   cfg.PayPlusPageUID,
		}))
	}
	if cfg.CardcomConfigured() {
		gws = append(gws, gateway.NewCardcom(gateway.CardcomConfig{
			BaseURL:        cfg.CardcomBaseURL,
			TerminalNumber: cfg.CardcomTerminal,
			APIName:        cfg.CardcomAPIName,
			WebhookSecret:  cfg.CardcomWebhookSecret,
		}))
	}
	return gateway.NewRegistry(gws...)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	dirRepo := directory.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerHandler := ledger.NewHandler(logger, ledgerRepo)

	billingRepo := billing.NewRepository(pool, ledgerRepo)
	billingService := billing.NewService(billingRepo, auditLogger)
	lockFactory := func(buildingID int64, period string) billing.Locker {
		return cache.NewMutex(redisClient, shared.ChargeGenerationLockKey(buildingID, period), generationLockTTL)
	}
	generator := billing.NewGenerator(billingRepo, dirRepo, lockFactory, logger)
	docsClient := docs.New(docs.Config{BaseURL: cfg.DocsBaseURL, APIKey: cfg.DocsAPIKey})
	invoiceIssuer := billing.NewInvoiceIssuer(billingRepo, dirRepo, docsClient, logger)
	billingHandler := billing.NewHandler(logger, billingService, generator, invoiceIssuer)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	registry := buildRegistry(cfg)
	payRepo := payments.NewRepository(pool, ledgerRepo)
	notifier := notify.NewService(jobsClient, dirRepo, logger)
	allocator := payments.NewAllocator(payRepo, notifier, jobsClient, logger)
	paymentsService := payments.NewService(payRepo, billingService, dirRepo, registry, allocator, auditLogger,
		payments.ServiceConfig{PublicBaseURL: cfg.PublicBaseURL}, logger)
	standingOrders := payments.NewStandingOrderManager(payRepo, dirRepo, registry, logger)
	webhookProcessor := payments.NewWebhookProcessor(registry, payRepo, allocator, paymentsService, standingOrders, metrics, logger)
	receiptIssuer := payments.NewReceiptIssuer(payRepo, docsClient, metrics, logger)
	paymentsHandler := payments.NewHandler(logger, paymentsService, webhookProcessor, standingOrders, receiptIssuer)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		BillingHandler:  billingHandler,
		LedgerHandler:   ledgerHandler,
		PaymentsHandler: paymentsHandler,
		JobHandler:      jobHandler,
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

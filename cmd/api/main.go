package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/leadsense-ai/platform/cmd/mainconfig"
	"github.com/leadsense-ai/platform/internal/api/router"
	appconfig "github.com/leadsense-ai/platform/internal/config"
	"github.com/leadsense-ai/platform/internal/crm"
	"github.com/leadsense-ai/platform/internal/dispatch"
	"github.com/leadsense-ai/platform/internal/flow"
	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/internal/notify"
	"github.com/leadsense-ai/platform/internal/observability/metrics"
	"github.com/leadsense-ai/platform/internal/salesiq"
	"github.com/leadsense-ai/platform/internal/session"
	"github.com/leadsense-ai/platform/internal/webchat"
	"github.com/leadsense-ai/platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting leadsense platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, conversationMetrics := setupMetrics()

	// Session storage
	store, storeCleanup := setupSessionStore(cfg, logger)
	defer storeCleanup()

	// AWS config is only needed for the SQS queue and SES email paths.
	var sesClient *sesv2.Client
	var sqsClient *sqs.Client
	if cfg.EmailProvider == "ses" || !cfg.UseMemoryQueue {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		sesClient = sesv2.NewFromConfig(awsCfg)
		sqsClient = sqs.NewFromConfig(awsCfg)
	}

	notifier := notify.NewService(setupEmailSender(cfg, sesClient, logger), cfg.SalesRecipients(), logger)

	// Lead persistence
	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	leadsRepo := setupLeadsRepo(pool)

	crmClient := crm.NewClient(crm.Config{
		BaseURL:      cfg.CRMBaseURL,
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		RefreshToken: cfg.CRMRefreshToken,
		Timeout:      cfg.CRMTimeout,
	}, logger)
	if crmClient == nil {
		logger.Warn("CRM push disabled: CRM_BASE_URL not configured")
	}

	publisher, worker := setupDispatch(cfg, sqsClient, leadsRepo, crmClient, notifier, logger)
	worker.Start(ctx)

	engine := flow.NewEngine(flow.Config{
		OTPDelivery:    cfg.OTPDelivery,
		OTPMaxAttempts: cfg.OTPMaxAttempts,
		OTPExpiry:      cfg.OTPExpiry,
	}, flow.DefaultScript(), notifier, publisher, conversationMetrics, logger)

	routerCfg := &router.Config{
		Logger:               logger,
		SalesIQWebhook:       salesiq.NewWebhookHandler(store, engine, conversationMetrics, logger),
		WebchatHandler:       webchat.NewHandler(store, engine, conversationMetrics, logger),
		LeadsHandler:         leads.NewHandler(leadsRepo, logger),
		MetricsHandler:       metricsHandler,
		AdminAuthSecret:      cfg.AdminJWTSecret,
		CORSAllowedOrigins:   cfg.CORSOrigins(),
		WebhookRatePerSecond: 20,
		WebhookBurst:         40,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Drain the lead workers after the HTTP surface stops accepting work.
	cancel()
	worker.Wait()

	logger.Info("server stopped")
}

func setupMetrics() (http.Handler, *metrics.ConversationMetrics) {
	registry := prometheus.NewRegistry()
	conversationMetrics := metrics.NewConversationMetrics(registry)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), conversationMetrics
}

func setupSessionStore(cfg *appconfig.Config, logger *logging.Logger) (session.Store, func()) {
	if cfg.SessionBackend == "redis" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)
		logger.Info("using redis session store", "addr", cfg.RedisAddr, "ttl", cfg.SessionTTL)
		return session.NewRedisStore(client, cfg.SessionTTL), func() { _ = client.Close() }
	}

	logger.Info("using in-memory session store", "ttl", cfg.SessionTTL)
	store := session.NewMemoryStore(cfg.SessionTTL)
	return store, store.Close
}

func setupEmailSender(cfg *appconfig.Config, sesClient *sesv2.Client, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected but not configured, falling back to stub sender")
	case "ses":
		if sender := notify.NewSESSender(sesClient, notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("ses selected but not configured, falling back to stub sender")
	}
	return notify.NewStubEmailSender(logger)
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres unreachable, leads fall back to memory", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func setupLeadsRepo(pool *pgxpool.Pool) leads.Repository {
	if pool != nil {
		return leads.NewPostgresRepository(pool)
	}
	return leads.NewInMemoryRepository()
}

func setupDispatch(cfg *appconfig.Config, sqsClient *sqs.Client, repo leads.Repository, crmClient *crm.Client, notifier *notify.Service, logger *logging.Logger) (*dispatch.Publisher, *dispatch.Worker) {
	var publisher *dispatch.Publisher
	var worker *dispatch.Worker

	opts := []dispatch.WorkerOption{dispatch.WithWorkerCount(cfg.WorkerCount)}

	// a nil *crm.Client must not reach the worker as a non-nil interface
	var upserter dispatch.CRMUpserter
	if crmClient != nil {
		upserter = crmClient
	}

	if cfg.UseMemoryQueue {
		queue := dispatch.NewMemoryQueue(256)
		publisher = dispatch.NewPublisher(queue, logger)
		worker = dispatch.NewWorker(queue, repo, upserter, notifier, logger, append(opts, dispatch.WithReceiveWaitSeconds(0))...)
		logger.Info("using in-memory lead queue", "workers", cfg.WorkerCount)
		return publisher, worker
	}

	queue := dispatch.NewSQSQueue(sqsClient, cfg.LeadQueueURL)
	publisher = dispatch.NewPublisher(queue, logger)
	worker = dispatch.NewWorker(queue, repo, upserter, notifier, logger, opts...)
	logger.Info("using SQS lead queue", "queue_url", cfg.LeadQueueURL, "workers", cfg.WorkerCount)
	return publisher, worker
}

package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/callvault/quosync/cmd/mainconfig"
	"github.com/callvault/quosync/internal/api/router"
	appconfig "github.com/callvault/quosync/internal/config"
	"github.com/callvault/quosync/internal/crm"
	"github.com/callvault/quosync/internal/http/handlers"
	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/observability/metrics"
	"github.com/callvault/quosync/internal/phonecache"
	"github.com/callvault/quosync/internal/process"
	"github.com/callvault/quosync/internal/queue"
	"github.com/callvault/quosync/internal/quo"
	"github.com/callvault/quosync/internal/sync"
	"github.com/callvault/quosync/internal/webhooks"
	"github.com/callvault/quosync/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting quosync API server", "env", cfg.Env, "port", cfg.Port)

	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	syncQueue := newSyncQueue(cfg, sqsClient)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	processStore := process.NewDynamoStore(dynamoClient, cfg.ProcessTable, logger)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	integrationStore := integration.NewPostgresStore(pool)

	quoClient, err := quo.New(quo.Config{
		BaseURL: cfg.QuoBaseURL,
		APIKey:  cfg.QuoAPIKey,
		Logger:  logger.Logger,
	})
	if err != nil {
		logger.Error("failed to build quo client", "error", err)
		os.Exit(1)
	}

	redisClient := newRedisClient(cfg)
	phones := phonecache.New(redisClient, quoClient,
		phonecache.WithTTL(cfg.PhoneCacheTTL),
		phonecache.WithLogger(logger))

	manager := webhooks.NewManager(quoClient,
		webhooks.WithPhoneLister(phones),
		webhooks.WithManagerLogger(logger))
	updater := webhooks.NewUpdater(integrationStore, manager, cfg.QuoWebhookURL,
		webhooks.WithCacheInvalidator(phones),
		webhooks.WithUpdaterLogger(logger))

	// Vendor adapter packages register themselves here.
	registry := crm.NewRegistry()
	orchestrator := sync.NewOrchestrator(processStore, syncQueue, registry, integrationStore, logger)

	syncMetrics := metrics.NewSyncMetrics(nil)
	adminHandler := handlers.NewAdminSyncHandler(handlers.AdminSyncConfig{
		Processes: processStore,
		Updater:   updater,
		Syncs:     orchestrator,
		Metrics:   syncMetrics,
		Logger:    logger,
	})

	r := router.New(&router.Config{
		Logger:          logger,
		AdminSync:       adminHandler,
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  promhttp.Handler(),
	})

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newSyncQueue(cfg *appconfig.Config, sqsClient *sqs.Client) queue.Publisher {
	if cfg.UseMemoryQueue {
		return queue.NewMemoryQueue(1024)
	}
	return queue.NewSQSQueue(sqsClient, cfg.SyncQueueURL)
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

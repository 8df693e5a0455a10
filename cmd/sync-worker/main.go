package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/callvault/quosync/cmd/mainconfig"
	"github.com/callvault/quosync/internal/activity"
	"github.com/callvault/quosync/internal/archive"
	appconfig "github.com/callvault/quosync/internal/config"
	"github.com/callvault/quosync/internal/crm"
	"github.com/callvault/quosync/internal/integration"
	"github.com/callvault/quosync/internal/mapping"
	"github.com/callvault/quosync/internal/notify"
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
	logger.Info("starting quosync worker", "env", cfg.Env, "workers", cfg.WorkerCount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	syncQueue := queue.NewSQSQueue(sqsClient, cfg.SyncQueueURL)

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	processStore := process.NewDynamoStore(dynamoClient, cfg.ProcessTable, logger)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	integrationStore := integration.NewPostgresStore(pool)
	mappingRepo := mapping.NewPostgresRepository(pool)

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

	upserter := sync.NewUpserter(quoClient, mappingRepo,
		sync.WithReadbackDelay(cfg.QuoReadbackDelay),
		sync.WithUpserterLogger(logger))

	engineOpts := []sync.EngineOption{
		sync.WithCompletionDelay(cfg.CompletionDelay),
		sync.WithEngineLogger(logger),
	}

	syncMetrics := metrics.NewSyncMetrics(nil)
	engineOpts = append(engineOpts,
		sync.WithCompletionHook(syncMetrics),
		sync.WithFailureHook(syncMetrics))

	if cfg.ArchiveEnabled && cfg.ArchiveBucket != "" {
		archiveStore := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)
		engineOpts = append(engineOpts,
			sync.WithCompletionHook(archiveStore),
			sync.WithFailureHook(archiveStore))
	}

	if notifier := newNotifier(cfg, awsCfg, logger); notifier != nil {
		engineOpts = append(engineOpts,
			sync.WithCompletionHook(notifier),
			sync.WithFailureHook(notifier))
	}

	engine := sync.NewEngine(processStore, syncQueue, registry, integrationStore, upserter, engineOpts...)

	orchestrator := sync.NewOrchestrator(processStore, syncQueue, registry, integrationStore, logger)
	lifecycle := integration.NewLifecycle(integrationStore, syncQueue,
		integration.WithSetupDelay(cfg.OnCreateDelay),
		integration.WithLifecycleLogger(logger))
	lifecycle.BindSetupHandlers(updater, orchestrator)

	projector := activity.NewProjector(mappingRepo, registry, integrationStore, logger)

	worker := sync.NewWorker(syncQueue, engine, logger,
		sync.WithWorkerCount(cfg.WorkerCount),
		sync.WithHandlerTimeout(cfg.HandlerTimeout),
		sync.WithSetupHandler(lifecycle),
		sync.WithActivityHandler(projector))

	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down sync worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("sync worker stopped")
	case <-doneCtx.Done():
		logger.Error("sync worker shutdown timed out", "error", doneCtx.Err())
	}
}

func newNotifier(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *notify.Service {
	if cfg.FailureAlertEmail == "" {
		return nil
	}

	var sender notify.EmailSender
	switch cfg.EmailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			sender = s
		}
	default:
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger); s != nil {
			sender = s
		}
	}
	if sender == nil {
		logger.Warn("failure alerts configured but no email sender available")
		return nil
	}
	return notify.NewService(sender, []string{cfg.FailureAlertEmail}, logger)
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

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kursadbilgin/notification-relay/internal/config"
	"github.com/kursadbilgin/notification-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/notification-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notification-relay/internal/infra/redis"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/provider"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"github.com/kursadbilgin/notification-relay/internal/repository"
	"github.com/kursadbilgin/notification-relay/internal/service"
	"github.com/kursadbilgin/notification-relay/internal/template"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	retryStore, err := infraredis.NewRetryStore(rdb, cfg.RetryPolicy(), logger)
	if err != nil {
		logger.Fatal("retry store initialization failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec, cfg.ChannelRateLimits())
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	var (
		attempts  repository.AttemptRepository
		templates template.TemplateLookup
	)
	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}
		defer postgresql.Close(db) //nolint:errcheck

		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
		attempts = repository.NewGormAttemptRepo(db)
		templates = repository.NewGormTemplateRepo(db)
	} else {
		logger.Info("DATABASE_DSN not set; attempt audit and stored templates disabled")
	}

	registry := provider.NewRegistry(ctx, cfg.RegistryConfig(), logger)
	chains := make([]provider.Chain, 0, len(cfg.ChainConfigs()))
	for _, chainCfg := range cfg.ChainConfigs() {
		chains = append(chains, registry.Chain(chainCfg))
	}

	recorder := service.NewAttemptRecorder(attempts, metrics, logger)
	orchestrator, err := service.NewOrchestrator(chains, cfg.ProviderTimeout(), recorder, logger)
	if err != nil {
		logger.Fatal("provider chains are invalid", zap.Error(err))
	}

	renderer := template.NewRenderer(templates, logger)
	dispatchService, err := service.NewDispatchService(renderer, orchestrator, retryStore, metrics, logger)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.QueuePrefetch, logger)
	publisher := queue.NewRabbitMQPublisher(rabbit)

	workerService, err := service.NewWorkerService(consumer, dispatchService, rateLimiter, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	workerService.SetMetrics(metrics)

	expiry := service.NewDeadLetterReporter(publisher, metrics, logger)
	scheduler, err := service.NewRetryScheduler(retryStore, orchestrator, expiry, metrics, logger)
	if err != nil {
		logger.Fatal("retry scheduler initialization failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerService.Start(groupCtx)
	})
	g.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	g.Go(func() error {
		return metrics.ServeMetrics(groupCtx, cfg.MetricsPort, logger)
	})

	logger.Info("notification-relay worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("rateLimitPerSec", cfg.RateLimitPerSec),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("notification-relay worker stopped")
}

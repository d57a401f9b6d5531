package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/kursadbilgin/notification-relay/internal/config"
	"github.com/kursadbilgin/notification-relay/internal/handler"
	"github.com/kursadbilgin/notification-relay/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/notification-relay/internal/infra/redis"
	"github.com/kursadbilgin/notification-relay/internal/observability"
	"github.com/kursadbilgin/notification-relay/internal/provider"
	"github.com/kursadbilgin/notification-relay/internal/queue"
	"github.com/kursadbilgin/notification-relay/internal/repository"
	"github.com/kursadbilgin/notification-relay/internal/service"
	"github.com/kursadbilgin/notification-relay/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "notification-relay"
	shutdownTimeout = 10 * time.Second
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	retryStore, err := infraredis.NewRetryStore(rdb, cfg.RetryPolicy(), logger)
	if err != nil {
		logger.Fatal("retry store initialization failed", zap.Error(err))
	}

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	metrics := observability.NewMetrics()

	notificationService, err := service.NewNotificationService(publisher, logger)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}
	notificationService.SetMetrics(metrics)

	// The api never delivers; the chains are built only to report them.
	registry := provider.NewRegistry(ctx, cfg.RegistryConfig(), logger)
	chains := make([]provider.Chain, 0, len(cfg.ChainConfigs()))
	for _, chainCfg := range cfg.ChainConfigs() {
		chains = append(chains, registry.Chain(chainCfg))
	}
	orchestrator, err := service.NewOrchestrator(chains, cfg.ProviderTimeout(), nil, logger)
	if err != nil {
		logger.Fatal("provider chains are invalid", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      serviceName,
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware())

	checks := []handler.ReadinessCheck{
		handler.RedisCheck(rdb),
		handler.RabbitMQCheck(rabbit.Ping),
	}
	if cfg.DatabaseDSN != "" {
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}
		defer postgresql.Close(db) //nolint:errcheck

		sqlDB, err := db.DB()
		if err != nil {
			logger.Fatal("postgres underlying db init failed", zap.Error(err))
		}
		checks = append(checks, handler.PostgresCheck(sqlDB))

		if err := handler.RegisterAuditRoutes(app, repository.NewGormAttemptRepo(db), repository.NewGormTemplateRepo(db)); err != nil {
			logger.Fatal("route registration failed", zap.Error(err))
		}
	}

	handler.RegisterHealthRoutes(app, checks...)
	handler.RegisterInfoRoutes(app, retryStore, orchestrator, handler.InfoOptions{
		Service: serviceName,
		Version: version,
	})
	if err := handler.RegisterNotificationRoutes(app, notificationService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("notification-relay api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down api")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return metrics.ServeMetrics(groupCtx, cfg.MetricsPort, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
	logger.Info("notification-relay api stopped")
}

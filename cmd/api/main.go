package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/kursadbilgin/onboard-engine/internal/catalog"
	"github.com/kursadbilgin/onboard-engine/internal/config"
	"github.com/kursadbilgin/onboard-engine/internal/handler"
	"github.com/kursadbilgin/onboard-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/onboard-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/onboard-engine/internal/infra/redis"
	"github.com/kursadbilgin/onboard-engine/internal/observability"
	"github.com/kursadbilgin/onboard-engine/internal/platform"
	"github.com/kursadbilgin/onboard-engine/internal/queue"
	"github.com/kursadbilgin/onboard-engine/internal/registry"
	"github.com/kursadbilgin/onboard-engine/internal/repository"
	"github.com/kursadbilgin/onboard-engine/internal/service"
	"github.com/kursadbilgin/onboard-engine/internal/setup"
	"github.com/kursadbilgin/onboard-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.ExecutorConcurrency, logger)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	registryClient, err := registry.NewHTTPClient(cfg.RegistryAPIURL)
	if err != nil {
		logger.Fatal("registry client initialization failed", zap.Error(err))
	}

	setupRunner, err := setup.NewHTTPRunner(cfg.SetupServiceURL)
	if err != nil {
		logger.Fatal("setup runner initialization failed", zap.Error(err))
	}

	platformClient, err := platform.NewHTTPClient(cfg.PlatformAPIURL)
	if err != nil {
		logger.Fatal("platform client initialization failed", zap.Error(err))
	}

	batchRepo := repository.NewGormBatchRepo(db)
	jobRepo := repository.NewGormJobRepo(db)

	cat := catalog.Default()
	metrics := observability.NewMetrics()

	machine, err := service.NewJobStepMachine(cat, logger)
	if err != nil {
		logger.Fatal("step machine initialization failed", zap.Error(err))
	}
	graph, err := service.NewSubStepGraph(cat, logger)
	if err != nil {
		logger.Fatal("sub-step graph initialization failed", zap.Error(err))
	}
	resolver, err := service.NewCompanyResolver(registryClient, machine, rateLimiter, logger)
	if err != nil {
		logger.Fatal("company resolver initialization failed", zap.Error(err))
	}
	resolver.SetMetrics(metrics)

	bundler, err := service.NewConfigurationBundler(machine, graph, publisher, logger)
	if err != nil {
		logger.Fatal("configuration bundler initialization failed", zap.Error(err))
	}

	coordinator, err := service.NewBatchCoordinator(batchRepo, jobRepo, machine, publisher, cat, logger)
	if err != nil {
		logger.Fatal("batch coordinator initialization failed", zap.Error(err))
	}
	coordinator.SetMetrics(metrics)

	jobService, err := service.NewJobService(jobRepo, resolver, bundler, graph, coordinator, logger)
	if err != nil {
		logger.Fatal("job service initialization failed", zap.Error(err))
	}

	executor, err := service.NewSetupExecutor(
		jobRepo,
		coordinator,
		machine,
		graph,
		setupRunner,
		consumer,
		cat,
		cfg.ExecutorConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("setup executor initialization failed", zap.Error(err))
	}
	executor.SetMetrics(metrics)

	provisioner, err := service.NewProvisionExecutor(
		jobRepo,
		coordinator,
		machine,
		platformClient,
		consumer,
		cat,
		cfg.ExecutorConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("provision executor initialization failed", zap.Error(err))
	}
	provisioner.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:      "onboard-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: utils.UUIDv4}))
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterBatchRoutes(app, coordinator); err != nil {
		logger.Fatal("failed to register batch routes", zap.Error(err))
	}
	if err := handler.RegisterJobRoutes(app, jobService); err != nil {
		logger.Fatal("failed to register job routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("onboard-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		return provisioner.Start(groupCtx)
	})

	g.Go(func() error {
		return executor.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown with error", zap.Error(err))
	}
}

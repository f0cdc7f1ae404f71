package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/campaign-engine/internal/activity"
	"github.com/kursadbilgin/campaign-engine/internal/candidate"
	"github.com/kursadbilgin/campaign-engine/internal/config"
	"github.com/kursadbilgin/campaign-engine/internal/handler"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/campaign-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/campaign-engine/internal/infra/redis"
	"github.com/kursadbilgin/campaign-engine/internal/linktrack"
	"github.com/kursadbilgin/campaign-engine/internal/observability"
	"github.com/kursadbilgin/campaign-engine/internal/provider"
	"github.com/kursadbilgin/campaign-engine/internal/queue"
	"github.com/kursadbilgin/campaign-engine/internal/repository"
	"github.com/kursadbilgin/campaign-engine/internal/service"
	"github.com/kursadbilgin/campaign-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout    = 15 * time.Second
	rateLimiterScope   = "provider"
	schedulerScanLimit = 100
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("campaign-engine stopped with error", zap.Error(err))
	}
	logger.Info("campaign-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.DispatchConcurrency*2)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer mq.Close()

	metrics := observability.NewMetrics()

	campaigns := repository.NewGormCampaignRepo(db)
	blasts := repository.NewGormBlastRepo(db)
	sends := repository.NewGormSendRepo(db)
	links := repository.NewGormTrackedLinkRepo(db)
	replies := repository.NewGormReplyRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	candidates, err := candidate.NewClient(cfg.CandidateServiceURL)
	if err != nil {
		return err
	}
	source, err := candidate.NewCachedSource(candidates, rdb, cfg.SmartlistCacheTTL, logger)
	if err != nil {
		return err
	}
	activities, err := activity.NewClient(cfg.ActivityServiceURL, logger)
	if err != nil {
		return err
	}
	sender, err := provider.NewHTTPProvider(provider.HTTPProviderConfig{
		Endpoint:  cfg.ProviderURL,
		AccountID: cfg.ProviderAccountID,
		AuthToken: cfg.ProviderAuthToken,
		Sender:    cfg.ProviderSender,
	})
	if err != nil {
		return err
	}
	limiter, err := infraredis.NewRedisRateLimiter(rdb, rateLimiterScope+":"+cfg.ProviderAccountID, cfg.RateLimitPerSec, nil)
	if err != nil {
		return err
	}

	signer, err := linktrack.NewSigner(cfg.RedirectSigningKey, cfg.PublicBaseURL, cfg.RedirectLinkTTL)
	if err != nil {
		return err
	}
	rewriter, err := linktrack.NewRewriter(links, signer, logger)
	if err != nil {
		return err
	}

	accumulator, err := service.NewBlastAccumulator(blasts)
	if err != nil {
		return err
	}
	resolver, err := service.NewRecipientResolver(campaigns, source, logger)
	if err != nil {
		return err
	}
	dispatcher, err := service.NewDispatcher(service.DispatcherDeps{
		Campaigns:   campaigns,
		Sends:       sends,
		Attempts:    attempts,
		Resolver:    resolver,
		Rewriter:    rewriter,
		Accumulator: accumulator,
		Provider:    sender,
		RateLimiter: limiter,
		Activities:  activities,
	}, cfg.DispatchConcurrency, logger)
	if err != nil {
		return err
	}
	dispatcher.SetMetrics(metrics)

	publisher := queue.NewRabbitMQPublisher(mq)
	campaignService, err := service.NewCampaignService(campaigns, accumulator, dispatcher, publisher, cfg.AsyncDispatch(), logger)
	if err != nil {
		return err
	}
	campaignService.SetMetrics(metrics)

	reportService, err := service.NewReportService(campaigns, blasts, sends, replies, attempts)
	if err != nil {
		return err
	}
	redirectService, err := service.NewRedirectService(signer, links, sends, campaigns, accumulator, activities, logger)
	if err != nil {
		return err
	}
	redirectService.SetMetrics(metrics)

	ingestor, err := service.NewReplyIngestor(sends, replies, campaigns, accumulator, candidates, activities, logger)
	if err != nil {
		return err
	}
	ingestor.SetMetrics(metrics)

	scheduler, err := service.NewScheduler(campaigns, publisher, cfg.SchedulerInterval, schedulerScanLimit, logger)
	if err != nil {
		return err
	}
	scheduler.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(mq, cfg.DispatchConcurrency, logger)
	worker, err := service.NewDispatchWorker(consumer, dispatcher, cfg.DispatchConcurrency, logger)
	if err != nil {
		return err
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "campaign-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.RegisterHealthRoutes(app,
		handler.PostgresCheck(sqlDB),
		handler.RedisCheck(rdb),
		handler.ReadinessCheck{Name: "rabbitmq", Ping: mq.Ping},
	)
	if err := handler.RegisterCampaignRoutes(app, campaignService); err != nil {
		return err
	}
	if err := handler.RegisterReportRoutes(app, reportService); err != nil {
		return err
	}
	if err := handler.RegisterRedirectRoutes(app, redirectService); err != nil {
		return err
	}
	if err := handler.RegisterWebhookRoutes(app, ingestor, logger); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("campaign-engine api started",
			zap.String("addr", addr),
			zap.String("dispatchMode", cfg.DispatchMode),
		)
		return app.Listen(addr)
	})
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/elevate-api/internal/config"
	"github.com/noah-isme/elevate-api/internal/database"
	"github.com/noah-isme/elevate-api/internal/handler"
	"github.com/noah-isme/elevate-api/internal/middleware"
	"github.com/noah-isme/elevate-api/internal/repository"
	"github.com/noah-isme/elevate-api/internal/router"
	"github.com/noah-isme/elevate-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if cfg.AutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Warn().Err(err).Msg("nats unavailable, ledger events fall back to redis")
		} else {
			defer natsConn.Close()
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	txManager := repository.NewTxManager(db)
	userRepo := repository.NewUserRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	eventRepo := repository.NewExternalEventRepository(db)
	badgeRepo := repository.NewBadgeRepository(db)
	aggregateRepo := repository.NewAggregateRepository(db)

	policy := service.NewCatalogPolicy(cfg.PointsAdjustmentBand, cfg.PointsMaxAward)
	ledgerEvents := service.NewLedgerEventPublisher(redisClient, natsConn, cfg.EventChannel, logger)
	auditService := service.NewAuditService(auditRepo, validate, logger)

	submissionService := service.NewSubmissionService(txManager, submissionRepo, activityRepo, policy, validate, logger)
	reviewService := service.NewReviewService(service.ReviewDependencies{
		Tx:          txManager,
		Submissions: submissionRepo,
		Users:       userRepo,
		Activities:  activityRepo,
		Ledger:      ledgerRepo,
		Audit:       auditService,
		Policy:      policy,
		Events:      ledgerEvents,
		Validator:   validate,
		Logger:      logger,
	})
	ingestService := service.NewIngestService(service.IngestDependencies{
		Tx:          txManager,
		Events:      eventRepo,
		Users:       userRepo,
		Activities:  activityRepo,
		Submissions: submissionRepo,
		Ledger:      ledgerRepo,
		Audit:       auditService,
		Policy:      policy,
		Publisher:   ledgerEvents,
		Validator:   validate,
		Logger:      logger,
	})
	aggregateService := service.NewAggregateService(service.AggregateDependencies{
		Aggregates: aggregateRepo,
		Ledger:     ledgerRepo,
		Users:      userRepo,
		Cache:      redisClient,
		CacheTTL:   cfg.AggregateCacheTTL,
		Staleness:  cfg.AggregateStaleness,
		Validator:  validate,
		Logger:     logger,
	})
	adminUserService := service.NewAdminUserService(service.AdminUserDependencies{
		Tx:        txManager,
		Users:     userRepo,
		Badges:    badgeRepo,
		Ledger:    ledgerRepo,
		Audit:     auditService,
		Events:    ledgerEvents,
		Validator: validate,
		Logger:    logger,
	})

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		ReviewHandler:     handler.NewReviewHandler(reviewService, logger),
		WebhookHandler:    handler.NewWebhookHandler(ingestService, logger),
		AggregateHandler:  handler.NewAggregateHandler(aggregateService, logger),
		AuditHandler:      handler.NewAuditHandler(auditService, logger),
		AdminUserHandler:  handler.NewAdminUserHandler(adminUserService, logger),
		LedgerStream:      handler.NewLedgerStreamHandler(ledgerEvents, logger),
		HealthProbes:      handler.DependencyProbes(db, redisClient, natsConn),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	scheduler := service.NewRefreshScheduler(aggregateService, ledgerEvents, cfg.AggregateRefreshPeriod, logger)
	go scheduler.Run(runCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app, cancelRun)
}

func waitForShutdown(app *fiber.App, stopBackground context.CancelFunc) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}

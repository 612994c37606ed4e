package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kidoxdavid/eazyfoods-sub001/internal/audience"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/auth"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/geo"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/handler"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/payment"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/pricing"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/repositories"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/router"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/service"
	"github.com/kidoxdavid/eazyfoods-sub001/internal/worker"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/database"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/envconfig"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/flags"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/logger"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/ratelimit"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/shutdownsetup"
	"github.com/kidoxdavid/eazyfoods-sub001/pkg/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:           "eazyfoods",
		Short:         "EAZyfoods marketplace API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.RegisterPersistent(root)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE:  runServe,
	}
	flags.Register(serve)

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE:  runMigrate,
	}

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and opens the logger and database.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*envconfig.Config, flags.Config, *logger.Logger, *database.DB, error) {
	flagConfig, err := flags.Parse(cmd)
	if err != nil {
		return nil, flagConfig, nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	cfg, err := envconfig.Load(flagConfig.ConfigFile)
	if err != nil {
		return nil, flagConfig, nil, nil, err
	}
	if flagConfig.Port != "" {
		cfg.HTTP.Port = flagConfig.Port
	}

	appLogger := logger.New(cfg.Log)
	appLogger.Info("Starting EAZyfoods",
		"environment", cfg.Environment,
		"log_level", cfg.Log.Level)

	db, err := database.NewConnection(ctx, cfg.Database, appLogger)
	if err != nil {
		appLogger.Error("Failed to establish database connection", "error", err)
		return nil, flagConfig, nil, nil, err
	}
	if err := db.HealthCheck(ctx); err != nil {
		appLogger.Error("Database health check failed", "error", err)
		db.Close()
		return nil, flagConfig, nil, nil, err
	}
	appLogger.Info("Database connection established successfully")
	return cfg, flagConfig, appLogger, db, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	_, _, appLogger, db, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		appLogger.Error("Migration failed", "error", err)
		return err
	}
	appLogger.Info("Migrations applied")
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, flagConfig, appLogger, db, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Failed to close database connection", "error", err)
		}
	}()

	if flagConfig.Migrate {
		if err := db.Migrate(ctx); err != nil {
			appLogger.Error("Migration failed", "error", err)
			return err
		}
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Environment,
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	// collaborators
	var limiter ratelimit.Limiter = ratelimit.Noop{}
	var redisLimiter *ratelimit.RedisLimiter
	if cfg.RedisURL != "" {
		redisLimiter, err = ratelimit.NewRedisLimiter(ctx, cfg.RedisURL, appLogger)
		if err != nil {
			return err
		}
		limiter = redisLimiter
	} else {
		appLogger.Warn("REDIS_URL not set, location throttling relies on the database only")
	}

	var gateway payment.Gateway
	if cfg.Payment.GatewayKey == "" {
		appLogger.Warn("PAYMENT_GATEWAY_KEY not set, using the sandbox payment gateway")
		gateway = payment.NewSandboxGateway()
	} else {
		gateway = payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.GatewayKey, cfg.HTTP.OutboundTimeout, appLogger)
	}

	var directions geo.DirectionsProvider = geo.StraightLine{}
	if cfg.Directions.APIKey != "" {
		directions = geo.NewGoogleDirections(cfg.Directions.BaseURL, cfg.Directions.APIKey, cfg.HTTP.OutboundTimeout, appLogger)
	}

	fallbackTax, err := decimal.NewFromString(cfg.Tax.DefaultPercent)
	if err != nil {
		return fmt.Errorf("invalid TAX_DEFAULT_PERCENT %q: %w", cfg.Tax.DefaultPercent, err)
	}
	var taxes pricing.TaxResolver = pricing.FlatTax(fallbackTax)
	if cfg.Tax.RatesFile != "" {
		table, err := pricing.LoadTaxTable(cfg.Tax.RatesFile, fallbackTax)
		if err != nil {
			return err
		}
		taxes = table
	}

	// repositories
	actorRepo := repositories.NewActorRepository(db, appLogger)
	catalogRepo := repositories.NewCatalogRepository(db, appLogger)
	productRepo := repositories.NewProductRepository(db, appLogger)
	cuisineRepo := repositories.NewCuisineRepository(db, appLogger)
	stockRepo := repositories.NewStockRepository(db, appLogger)
	cartRepo := repositories.NewCartRepository(db, appLogger)
	orderRepo := repositories.NewOrderRepository(db, appLogger)
	promotionRepo := repositories.NewPromotionRepository(db, appLogger)
	deliveryRepo := repositories.NewDeliveryRepository(db, appLogger)
	driverRepo := repositories.NewDriverRepository(db, appLogger)
	offerRepo := repositories.NewOfferRepository(db, appLogger)
	outboxRepo := repositories.NewOutboxRepository(db, appLogger)
	notificationRepo := repositories.NewNotificationRepository(db, appLogger)
	payoutRepo := repositories.NewPayoutRepository(db, appLogger)
	audienceRepo := repositories.NewAudienceRepository(db, appLogger)
	chatRepo := repositories.NewChatRepository(db, appLogger)
	ticketRepo := repositories.NewTicketRepository(db, appLogger)
	aggregationRepo := repositories.NewAggregationRepository(db, appLogger)

	// services
	tokens := auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	authenticator := auth.NewAuthenticator(tokens, actorRepo, appLogger)
	verifier := auth.NewGoogleVerifier(cfg.Auth.TokenInfoURL, cfg.Auth.GoogleClientID, cfg.HTTP.OutboundTimeout, appLogger)

	authService := service.NewAuthService(actorRepo, tokens, verifier, cfg.Auth.BcryptCost, appLogger)
	catalogService := service.NewCatalogService(productRepo, cuisineRepo, stockRepo, appLogger)
	cartService := service.NewCartService(cartRepo, catalogRepo, appLogger)
	audienceService := service.NewAudienceService(audienceRepo, audience.NewCompiler(appLogger), appLogger)
	promotionService := service.NewPromotionService(promotionRepo, orderRepo, cartRepo, catalogRepo, audienceService, appLogger)
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		Tx:         db,
		Carts:      cartRepo,
		Catalog:    catalogRepo,
		Orders:     orderRepo,
		Stock:      stockRepo,
		Promotions: promotionRepo,
		Deliveries: deliveryRepo,
		Outbox:     outboxRepo,
		Promos:     promotionService,
		Gateway:    gateway,
		Tax:        taxes,
		Currency:   cfg.Payment.Currency,
	}, appLogger)
	orderService := service.NewOrderService(db, orderRepo, stockRepo, promotionRepo, deliveryRepo, offerRepo, outboxRepo,
		cfg.Orders.AcceptTimeout, appLogger)
	deliveryService := service.NewDeliveryService(db, orderRepo, orderService, deliveryRepo, driverRepo, offerRepo, outboxRepo,
		limiter, directions, service.DeliveryConfig{
			OfferTimeout:         cfg.Dispatch.OfferTimeout,
			MaxRounds:            cfg.Dispatch.MaxRounds,
			MinLocationInterval:  cfg.Tracking.MinLocationInterval,
			RouteRefreshInterval: cfg.Tracking.RouteRefreshInterval,
			RouteRefreshDistance: cfg.Tracking.RouteRefreshDistance,
		}, appLogger)
	chatService := service.NewChatService(chatRepo, actorRepo, appLogger)
	supportService := service.NewSupportService(db, ticketRepo, actorRepo, appLogger)
	notificationService := service.NewNotificationService(notificationRepo, appLogger)
	reportService := service.NewReportService(aggregationRepo, appLogger)
	eventHandlers := service.NewEventHandlers(orderRepo, notificationRepo, payoutRepo, gateway, deliveryService, appLogger)

	// handlers
	mux := router.NewRouter(router.Handlers{
		Auth:          handler.NewAuthHandler(authService, appLogger),
		Catalog:       handler.NewCatalogHandler(catalogService, appLogger),
		Cart:          handler.NewCartHandler(cartService, checkoutService, appLogger),
		Orders:        handler.NewOrderHandler(orderService, appLogger),
		Deliveries:    handler.NewDeliveryHandler(deliveryService, appLogger),
		Promotions:    handler.NewPromotionHandler(promotionService, appLogger),
		Audiences:     handler.NewAudienceHandler(audienceService, appLogger),
		Chat:          handler.NewChatHandler(chatService, appLogger),
		Support:       handler.NewSupportHandler(supportService, appLogger),
		Notifications: handler.NewNotificationHandler(notificationService, appLogger),
		Reports:       handler.NewReportHandler(reportService, appLogger),
	}, handler.NewMiddleware(authenticator, appLogger), appLogger, cfg.HTTP.HandlerTimeout)

	// background workers
	var workers sync.WaitGroup
	if cfg.Workers.Enabled {
		dispatcher := worker.NewDispatcher(outboxRepo, eventHandlers, worker.DispatcherConfig{
			Interval:    cfg.Workers.OutboxInterval,
			BatchSize:   cfg.Workers.OutboxBatchSize,
			MaxAttempts: cfg.Workers.OutboxMaxAttempt,
		}, appLogger)
		sweeper := worker.NewSweeper(orderService, deliveryService, cfg.Workers.SweeperInterval, appLogger)

		workers.Add(2)
		go func() { defer workers.Done(); dispatcher.Run(ctx) }()
		go func() { defer workers.Done(); sweeper.Run(ctx) }()
	} else {
		appLogger.Warn("Background workers disabled")
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Host + ":" + cfg.HTTP.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTP.HandlerTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Server error", "error", err)
			serverErrors <- err
			cancel()
		}
	}()

	shutdownsetup.SetupGracefulShutdown(ctx, server, appLogger,
		shutdownsetup.Hook{Name: "workers", Fn: func(context.Context) error {
			cancel()
			workers.Wait()
			return nil
		}},
		shutdownsetup.Hook{Name: "redis", Fn: func(context.Context) error {
			if redisLimiter == nil {
				return nil
			}
			return redisLimiter.Close()
		}},
		shutdownsetup.Hook{Name: "telemetry", Fn: tel.Shutdown},
	)

	select {
	case err := <-serverErrors:
		return err
	default:
		return nil
	}
}

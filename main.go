package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"foodorder/internal/config"
	"foodorder/internal/handlers"
	"foodorder/internal/middleware"
	"foodorder/internal/repositories"
	"foodorder/internal/services"
	"foodorder/pkg/cache"
	"foodorder/pkg/paymentgw"
	"foodorder/pkg/rabbitmq"
)

func setupLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "foodorder").Logger()
}

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	// --- Database ---
	db, err := repositories.OpenDB(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	if err := repositories.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate database")
	}

	orderRepo := repositories.NewGORMOrderRepository(db)
	menuRepo := repositories.NewGORMMenuRepository(db)

	// --- Status events ---
	// Events are best effort; without a broker they are dropped.
	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.RabbitMQURL != "" {
		mqClient, err := rabbitmq.NewClient(rabbitmq.Config{URL: cfg.RabbitMQURL, Exchange: cfg.RabbitMQExchange})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize RabbitMQ client")
		}
		defer mqClient.Close()
		notifier = services.NewEventNotifier(mqClient)
	} else {
		log.Warn().Msg("RABBITMQ_URL is not set, status events are disabled")
	}

	// --- Stats cache ---
	statsCache := cache.NewNoopCache()
	if cfg.RedisAddr != "" {
		statsCache = cache.NewRedisCache(cfg.RedisAddr, "foodorder")
	}

	if cfg.PaymentGatewayURL == "" {
		log.Warn().Msg("PAYMENT_GATEWAY_URL is not set, card payments will fail")
	}
	gateway := paymentgw.NewClient(paymentgw.Config{
		BaseURL: cfg.PaymentGatewayURL,
		APIKey:  cfg.PaymentGatewayKey,
		Timeout: cfg.PaymentGatewayTimeout,
	})

	// --- Initialize Services ---
	tokens := services.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	stats := services.NewDriverStatsAggregator(orderRepo, statsCache, cfg.StatsCacheTTL)
	pricing := services.NewPricingReconciler(menuRepo, services.PricingConfig{
		TaxRate:            cfg.TaxRate,
		DefaultDeliveryFee: cfg.DefaultDeliveryFee,
		Tolerance:          cfg.PriceTolerance,
	})
	payments := services.NewPaymentCoordinator(gateway, cfg.Currency)
	orderService := services.NewOrderService(orderRepo, pricing, payments, notifier, stats)
	orderService.SetRefundLease(cfg.RefundLease)
	deliveryService := services.NewDeliveryService(orderRepo, notifier, stats)
	menuService := services.NewMenuService(menuRepo)

	// --- Initialize Fiber App ---
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(logger.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		status := "healthy"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status = "degraded"
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": status,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// --- API Routes ---
	apiV1 := app.Group("/api/v1", middleware.AuthRequired(tokens))
	handlers.NewAuthHandler(tokens).RegisterRoutes(apiV1)
	handlers.NewOrderHandler(orderService).RegisterRoutes(apiV1)
	handlers.NewDeliveryHandler(deliveryService).RegisterRoutes(apiV1)
	handlers.NewDriverHandler(stats).RegisterRoutes(apiV1)
	handlers.NewMenuHandler(menuService).RegisterRoutes(apiV1)

	// --- Background jobs ---
	ctx, cancel := context.WithCancel(context.Background())
	jobs, jobsCtx := errgroup.WithContext(ctx)
	jobs.Go(func() error {
		return every(jobsCtx, cfg.RefundRetryInterval, func(ctx context.Context) {
			if _, err := orderService.RetryFailedRefunds(ctx); err != nil {
				log.Error().Err(err).Msg("refund retry pass failed")
			}
		})
	})
	jobs.Go(func() error {
		return every(jobsCtx, cfg.StatsCacheTTL, func(ctx context.Context) {
			if _, err := stats.ReconcileAll(ctx); err != nil {
				log.Error().Err(err).Msg("driver stats reconciliation failed")
			}
		})
	})

	// --- Start HTTP Server ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.AppPort).Msg("Starting server")
		if err := app.Listen(cfg.AppPort); err != nil {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-quit
	log.Info().Msg("Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Error during Fiber shutdown")
	}
	cancel()
	if err := jobs.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Background job stopped with error")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("Server gracefully stopped")
}

// every runs fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}

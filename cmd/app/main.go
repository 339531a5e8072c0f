package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"

	"tradeflow/configs"
	"tradeflow/internal/adapter/broker"
	"tradeflow/internal/adapter/telegram"
	"tradeflow/internal/database"
	deliveryhttp "tradeflow/internal/delivery/http"
	"tradeflow/internal/domain"
	"tradeflow/internal/infra"
	"tradeflow/internal/observability"
	"tradeflow/internal/repository"
	"tradeflow/internal/service"
	"tradeflow/internal/usecase"
	"tradeflow/internal/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	// Load configuration
	cfg := configs.Load()

	if err := utils.SetMarketLocation(cfg.Scheduler.MarketTZ); err != nil {
		log.Fatalf("Failed to set market timezone: %v", err)
	}

	ctx := context.Background()

	// Initialize database
	db, err := infra.NewDatabase(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	signalRepo := repository.NewSignalRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	executionRepo := repository.NewExecutionRepository(db)
	confirmationRepo := repository.NewConfirmationRepository(db)
	externalExitRepo := repository.NewExternalExitRepository(db)
	validationRepo := repository.NewValidationRepository(db)

	// Initialize broker gateway
	vault, err := broker.NewCredentialVault(cfg.Broker.CredentialsKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}
	gateway := broker.NewClient(cfg.Broker.BaseURL, userRepo, vault)

	// Exit lease: Redis when configured, in-process otherwise
	var lease domain.ExitLease
	if cfg.Redis.URL != "" {
		redisLease, err := infra.NewRedisExitLease(ctx, cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisLease.Close()
		lease = redisLease
		log.Println("[OK] Redis exit lease initialized")
	} else {
		lease = infra.NewLocalExitLease()
		log.Println("WARNING: REDIS_URL not set, using in-process exit lease")
	}

	notifier := telegram.NewNotificationService(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	metrics := observability.NewDefaultMetrics()

	// Initialize services
	positionManager := service.NewPositionManager(positionRepo, executionRepo, metrics)
	confirmations := service.NewConfirmationService(gateway, confirmationRepo, executionRepo, cfg.Confirmation, metrics)
	validator := service.NewValidatorService(
		gateway, positionRepo, executionRepo, externalExitRepo, validationRepo,
		positionManager, confirmations, lease, cfg.Scheduler.ExitLeaseTTL, notifier, metrics,
	)
	monitor := service.NewMonitorService(
		gateway, confirmationRepo, executionRepo, positionRepo,
		positionManager, notifier, cfg.Monitor, cfg.Scheduler.DefaultExitTime, metrics,
	)

	// Initialize auto-exit scheduler and recover timers from the store
	exitScheduler := infra.NewExitScheduler(validator, positionRepo, cfg.Scheduler, metrics)
	if err := exitScheduler.Initialize(ctx); err != nil {
		log.Fatalf("Failed to recover auto-exit timers: %v", err)
	}
	defer exitScheduler.Teardown()

	// Initialize trading service
	tradingService := usecase.NewTradingService(
		signalRepo, positionRepo, executionRepo, userRepo,
		gateway, positionManager, confirmations, validator,
		exitScheduler, cfg.Scheduler.DefaultExitTime, metrics,
	)

	// Background jobs: monitor sweep and daily cleanup
	cronScheduler := cron.New()

	sweepSpec := fmt.Sprintf("@every %s", cfg.Monitor.Interval)
	if _, err := cronScheduler.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Monitor.Interval)
		defer cancel()
		if err := monitor.Sweep(ctx); err != nil {
			log.Printf("ERROR: Monitor sweep failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to add monitor cron job: %v", err)
	}

	cleanupHour, cleanupMinute, err := utils.ParseTimeOfDay(cfg.Scheduler.DailyCleanupTime)
	if err != nil {
		log.Fatalf("Invalid DAILY_CLEANUP_TIME: %v", err)
	}
	cleanupSpec := fmt.Sprintf("CRON_TZ=%s %d %d * * *", cfg.Scheduler.MarketTZ, cleanupMinute, cleanupHour)
	if _, err := cronScheduler.AddFunc(cleanupSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		tradingService.ResetDailyCounters()
		if err := exitScheduler.DailyCleanup(ctx); err != nil {
			log.Printf("ERROR: Daily cleanup failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("Failed to add cleanup cron job: %v", err)
	}

	cronScheduler.Start()
	defer cronScheduler.Stop()

	nextCleanup := utils.NextOccurrence(utils.GetMarketTime(), cleanupHour, cleanupMinute)
	log.Println("[OK] Background jobs initialized:")
	log.Printf("  - Order monitor: every %s", cfg.Monitor.Interval)
	log.Printf("  - Daily cleanup: %s %s (next run %s)",
		cfg.Scheduler.DailyCleanupTime, cfg.Scheduler.MarketTZ, nextCleanup.Format(time.RFC3339))

	// Initialize API server
	e := echo.New()
	e.HideBanner = true

	deliveryhttp.SetupRoutes(e, &deliveryhttp.RouterConfig{
		AuthHandler:     deliveryhttp.NewAuthHandler(userRepo, vault),
		SignalHandler:   deliveryhttp.NewSignalHandler(tradingService),
		PositionHandler: deliveryhttp.NewPositionHandler(tradingService, validator, positionRepo, exitScheduler),
		AdminHandler:    deliveryhttp.NewAdminHandler(confirmationRepo, positionRepo, executionRepo),
		WebhookSecret:   cfg.Server.WebhookSecret,
	})

	// Operational server: health probe and Prometheus scrape endpoint
	opsServer := infra.NewOpsServer(cfg.Server.OpsPort, db)
	go func() {
		log.Printf("Ops server listening on :%s", cfg.Server.OpsPort)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start ops server: %v", err)
		}
	}()

	go func() {
		log.Printf("API server listening on :%s (%s)", cfg.Server.Port, cfg.Server.Env)
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start API server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: API server forced to shutdown: %v", err)
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: Ops server forced to shutdown: %v", err)
	}

	log.Println("[OK] Server exited gracefully")
}

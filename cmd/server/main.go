package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/strava-sync/internal/api"
	"github.com/Kamar-Folarin/strava-sync/internal/config"
	"github.com/Kamar-Folarin/strava-sync/internal/db"
	"github.com/Kamar-Folarin/strava-sync/internal/engine"
	"github.com/Kamar-Folarin/strava-sync/internal/events"
	"github.com/Kamar-Folarin/strava-sync/internal/models"
	"github.com/Kamar-Folarin/strava-sync/internal/ratelimit"
	"github.com/Kamar-Folarin/strava-sync/internal/strava"
	"github.com/Kamar-Folarin/strava-sync/internal/webhook"
)

// @title Strava Sync API
// @version 1.0
// @description Webhook receiver and read API for synchronized Strava activities
// @contact.name API Support
// @contact.url http://github.com/Kamar-Folarin
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetOutput(os.Stdout)

	// Load configuration with defaults
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seedAccounts(ctx, store, cfg.Accounts); err != nil {
		logger.Fatalf("Failed to seed tracked accounts: %v", err)
	}

	// One limiter for every account and for both token refreshes and API calls
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		WindowLimit: cfg.Strava.RateLimit.WindowLimit,
		Window:      cfg.Strava.RateLimit.Window,
		DailyLimit:  cfg.Strava.RateLimit.DailyLimit,
	}, logger)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	tokens := strava.NewTokenManager(strava.OAuthConfig{
		ClientID:      cfg.Strava.ClientID,
		ClientSecret:  cfg.Strava.ClientSecret,
		TokenURL:      cfg.Strava.TokenURL,
		RefreshMargin: cfg.Strava.RefreshMargin,
	}, store, limiter, logger, strava.WithTokenHTTPClient(httpClient))

	client := strava.NewClient(limiter, tokens, logger,
		strava.WithBaseURL(cfg.Strava.APIBaseURL),
		strava.WithHTTPClient(httpClient),
		strava.WithRetryConfig(cfg.Strava.Retry.MaxRetries, cfg.Strava.Retry.InitialBackoff, cfg.Strava.Retry.MaxBackoff),
		strava.WithBreaker(cfg.Strava.Breaker.FailureThreshold, cfg.Strava.Breaker.OpenTimeout),
	)

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	syncEngine := engine.NewEngine(client, store, engine.NewStatusManager(store), publisher, cfg.Sync, logger)
	syncEngine.Start(ctx)

	ingestor := webhook.NewIngestor(cfg.Webhook.VerifyToken, syncEngine, store, logger,
		webhook.WithCoalesceWindow(cfg.Webhook.CoalesceWindow))

	scheduler := engine.NewScheduler(syncEngine, store, cfg.Sync.Interval, logger)
	scheduler.Start(ctx)

	handler := api.NewHandler(store, syncEngine, ingestor, limiter, logger)
	router := api.SetupRouter(handler, logger)
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	cancel()
	scheduler.Wait()
	syncEngine.Stop()
	logger.Info("Server exited properly")
}

func openStore(cfg *config.Config, logger *logrus.Logger) (db.Store, error) {
	if cfg.StoreBackend == "memory" {
		logger.Warn("Using in-memory store; data is lost on exit")
		return db.NewMemoryStore(), nil
	}

	store, err := db.NewPostgresStore(cfg.DBConnectionString, logger)
	if err != nil {
		return nil, err
	}

	// Run migrations with retry logic
	if err := retry(3, 5*time.Second, func() error {
		return store.Migrate()
	}); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func seedAccounts(ctx context.Context, store db.AccountStore, accounts []config.AccountConfig) error {
	for _, a := range accounts {
		err := store.SeedAccount(ctx, &models.Account{
			ID:    a.AthleteID,
			Name:  a.Name,
			Email: a.Email,
			Credential: models.Credential{
				AccessToken:  a.AccessToken,
				RefreshToken: a.RefreshToken,
				ExpiresAt:    a.TokenExpires,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func newPublisher(cfg *config.Config, logger *logrus.Logger) events.Publisher {
	publishers := []events.Publisher{events.NewLogPublisher(logger)}
	if len(cfg.Events.KafkaBrokers) > 0 {
		logger.WithFields(logrus.Fields{
			"brokers": cfg.Events.KafkaBrokers,
			"topic":   cfg.Events.Topic,
		}).Info("Publishing ingestion events to Kafka")
		publishers = append(publishers, events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic, logger))
	}
	return events.NewMulti(publishers...)
}

// retry retries a function up to a certain number of attempts with a delay between attempts
func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}

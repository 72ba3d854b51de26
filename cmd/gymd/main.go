package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"gym-telemetry-backend/config"
	"gym-telemetry-backend/internal/api"
	"gym-telemetry-backend/internal/booking"
	"gym-telemetry-backend/internal/command"
	"gym-telemetry-backend/internal/db"
	"gym-telemetry-backend/internal/notification"
	"gym-telemetry-backend/internal/registry"
	"gym-telemetry-backend/internal/sprint"
	"gym-telemetry-backend/internal/store"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "gym-backend ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device registry and its liveness janitor
	reg := registry.New(registry.ParsePolicy(cfg.Registry.IPMismatchPolicy))
	logger.Printf("device registry initialized (ip mismatch policy: %s)", cfg.Registry.IPMismatchPolicy)

	// Alert worker pool for operator web push notifications
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	workerPool.Start(ctx)

	janitor := registry.NewJanitor(reg, cfg.Registry.SweepInterval, cfg.Registry.InactiveAfter, cfg.Registry.DeleteAfter, workerPool)
	go janitor.Run(ctx)

	// Create the store layer and the services on top of it
	appStore := store.NewGormStore(gormDB)
	aggregator := sprint.NewAggregator(appStore, reg)
	bookings := booking.NewService(appStore)
	logger.Println("data store initialized")

	// Cached slot results, invalidated on terminal batches and recalculation
	results := cache.New(cfg.Server.ResultsTTL, 2*cfg.Server.ResultsTTL)

	router := api.NewRouter(api.Deps{
		Store:      appStore,
		Registry:   reg,
		Aggregator: aggregator,
		Bookings:   bookings,
		Publisher:  command.LogPublisher{},
		Webpush:    &webpushOptions,
		Results:    results,
		Alerts:     workerPool,
		Commands:   cfg.Commands,
	}, rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateBurst, cfg.Server.ResultsTTL)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

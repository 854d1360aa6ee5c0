/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the abstraction billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Build the logger and register metrics
  3. Initialize SQLite store
  4. Create bill run processor, scheduler and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: $BILLING_CONFIG)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config
           Use ":memory:" for in-memory database

ENVIRONMENT:
  BILLING_PORT, BILLING_DB, BILLING_LOG_LEVEL, BILLING_LOG_FORMAT,
  BILLING_BATCH_SIZE, BILLING_CORS_ORIGINS, BILLING_METRICS,
  BILLING_SCHEDULER_INTERVAL. A .env file in the working directory is
  loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the bill run scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/billing.db"
  BILLING_LOG_FORMAT=text ./server -port=3000

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/abstraction-billing/api"
	"github.com/warp/abstraction-billing/billrun"
	"github.com/warp/abstraction-billing/config"
	"github.com/warp/abstraction-billing/metrics"
	"github.com/warp/abstraction-billing/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if cfg.Metrics {
		metrics.Init()
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	// Initialize processing
	processor := billrun.NewProcessor(store, log, cfg.BatchSize)
	scheduler := billrun.NewScheduler(processor)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerInterval > 0
	scheduler.Start()

	handler := api.NewHandler(processor)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     cfg.Metrics,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port": cfg.Port,
			"db":   cfg.DBPath,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

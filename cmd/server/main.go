// Package main provides the API server entry point for the vitalsync service.
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

	"github.com/vitalsync/internal/analytics"
	"github.com/vitalsync/internal/api"
	"github.com/vitalsync/internal/config"
	"github.com/vitalsync/internal/logging"
	"github.com/vitalsync/internal/provider"
	"github.com/vitalsync/internal/ratelimit"
	"github.com/vitalsync/internal/security"
	"github.com/vitalsync/internal/service"
	"github.com/vitalsync/internal/storage"
	"github.com/vitalsync/internal/worker"
)

func main() {
	fmt.Println("VitalSync API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Connect to ClickHouse
	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Initialize repositories
	userRepo := storage.NewUserRepository(postgres)
	syncLogRepo := storage.NewSyncLogRepository(postgres)

	// Initialize the ClickHouse archive writer
	archive := storage.NewSyncLogArchive(clickhouse)
	archive.Start()
	defer archive.Stop()

	// Initialize the token vault
	vault, err := security.NewTokenVault(cfg.Security.TokenEncryptionKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token vault")
	}

	// Initialize the upstream quota tracker
	tracker, err := ratelimit.NewTracker(&ratelimit.TrackerConfig{
		CallsPerSyncEstimate: cfg.RateLimit.CallsPerSyncEstimate,
		SafetyBufferPercent:  cfg.RateLimit.SafetyBufferPercent,
		DefaultBatchSize:     cfg.RateLimit.DefaultBatchSize,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize quota tracker")
	}

	// Initialize services
	logger.Info("Initializing services...")

	providerClient := provider.NewClient(cfg.Provider)

	orchestrator := service.NewSyncOrchestrator(cfg, service.OrchestratorDeps{
		Users:     userRepo,
		Logs:      syncLogRepo,
		Vault:     vault,
		Provider:  providerClient,
		Tracker:   tracker,
		Analytics: analytics.NewNoopAnalytics(),
		Cache:     redis,
		Archive:   archive,
	})

	scheduler, err := worker.NewSyncScheduler(&cfg.Sync, orchestrator)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start sync scheduler")
	}

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		APIKey:          cfg.API.Key,
		FreeTierRPS:     cfg.API.FreeTierRPS,
		PaidTierRPS:     cfg.API.PaidTierRPS,
	}

	server := api.NewServer(serverConfig, orchestrator, scheduler, userRepo, vault)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	// Stop the scheduler before the HTTP server so no cycle outlives the process
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Sync scheduler did not stop cleanly")
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

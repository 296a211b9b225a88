package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/fhenergy-api/internal/config"
	"github.com/ksred/fhenergy-api/internal/server"
)

// configureLogging sets up zerolog from the loaded configuration
// Outside production it enables pretty printing with timestamps
func configureLogging(cfg *config.Config) {
	if !cfg.IsProduction() {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the energy market API server with graceful shutdown support
// It opens the configured ledger, sets up all services and API routes, and
// starts the reconcile processor in the background
func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize ledger
	l, closeLedger, err := server.OpenLedger(cfg.Ledger)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer func() {
		if err := closeLedger(); err != nil {
			zlog.Error().Err(err).Msg("Failed to close ledger")
		}
	}()

	// Initialize services and handlers
	srv, err := server.New(cfg, l, time.Now())
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize services")
	}
	session := srv.Session()
	zlog.Info().
		Str("contract", session.ContractAddress).
		Int64("network_id", session.NetworkID).
		Time("expires_at", session.ExpiresAt()).
		Msg("Decryption session started")

	// Start reconcile processor
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go srv.Reconciler().Start(processorCtx)

	// Create server
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Handler(),
	}

	// Graceful shutdown setup
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	zlog.Info().Str("port", cfg.Port).Str("ledger", cfg.Ledger.Backend).Msg("Server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")
	processorCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yusufsallam64/diagnosure/internal/capture"
	"github.com/yusufsallam64/diagnosure/internal/config"
	"github.com/yusufsallam64/diagnosure/internal/gateway"
	"github.com/yusufsallam64/diagnosure/internal/observability"
	"github.com/yusufsallam64/diagnosure/internal/realtime"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("transport", cfg.RealtimeTransport).
		Str("model", cfg.RealtimeModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Diagnosure voice service starting")

	// Initialize the audio backend
	audioCtx, err := capture.NewContext()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize audio backend")
	}
	defer audioCtx.Close()

	manager := realtime.NewManager(cfg, audioCtx, logger)

	// Create HTTP server
	mux := http.NewServeMux()

	// Session control endpoints
	mux.HandleFunc("/api/session/start", gateway.HandleSessionStart(manager, logger))
	mux.HandleFunc("/api/session/stop", gateway.HandleSessionStop(manager, logger))
	mux.HandleFunc("/api/session/transcript", gateway.HandleTranscript(manager))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"transcription": func(ctx context.Context) (bool, error) {
			return manager.Transcriber().HealthCheck(ctx)
		},
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// End the live session first so its report is submitted
	if s := manager.Current(); s != nil {
		s.Stop()
		select {
		case <-s.Done():
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("Session teardown timed out")
		}
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

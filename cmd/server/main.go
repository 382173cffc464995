package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/callbob/internal/catalog"
	"github.com/lexiqai/callbob/internal/config"
	"github.com/lexiqai/callbob/internal/history"
	"github.com/lexiqai/callbob/internal/observability"
	"github.com/lexiqai/callbob/internal/relay"
	"github.com/lexiqai/callbob/internal/resilience"
	"github.com/lexiqai/callbob/internal/stream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env", ".env", "path to a .env file loaded before the environment")
	logLevel := pflag.String("log-level", "", "override LOG_LEVEL")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("upstream_url", cfg.OpenAIBaseURL).
		Str("model", relay.Model).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Call relay service starting")

	// Upstream completion behind the circuit breaker
	breaker := resilience.NewCircuitBreaker(
		"openai",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	completer := relay.NewBreakerCompleter(relay.NewOpenAICompleter(cfg), breaker)
	calls := history.NewStore(cfg.HistoryLimit)

	// Create HTTP server
	mux := http.NewServeMux()

	mux.Handle(relay.MessagePath, observability.Recover("relay", relay.Handler(completer), relay.SoftFailure))
	mux.HandleFunc("/api/conversation/ideas", catalog.IdeasHandler())
	mux.HandleFunc(history.Path, history.Handler(calls))
	mux.HandleFunc(history.Path+"/", history.Handler(calls))

	// Browser call sessions use the relay in-process
	mux.Handle(stream.Path, stream.NewHandler(cfg, relay.NewLocal(completer), calls))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	upstreamCheck := observability.DependencyCheck{Name: "upstream", Check: completer.Healthy}
	mux.HandleFunc("/ready", observability.ReadinessHandler(upstreamCheck))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. The relay waits on upstream, so the
	// write timeout must outlast it.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      observability.AccessLog(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: time.Duration(cfg.RelayTimeout)*time.Second + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Optional gRPC health service
	var grpcHealth *observability.GRPCHealth
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("Failed to listen for gRPC health")
		}
		grpcHealth = observability.NewGRPCHealth(upstreamCheck)
		go grpcHealth.Watch(ctx, 10*time.Second)
		go func() {
			logger.Info().Str("port", cfg.GRPCPort).Msg("gRPC health service listening")
			if err := grpcHealth.Server.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("gRPC health service stopped")
			}
		}()
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s%s", cfg.Port, stream.Path)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if grpcHealth != nil {
		grpcHealth.Shutdown()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

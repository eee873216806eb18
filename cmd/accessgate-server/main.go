// Package main is the entrypoint for the accessgate server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MacJediWizard/accessgate/internal/api"
	"github.com/MacJediWizard/accessgate/internal/app"
	"github.com/MacJediWizard/accessgate/internal/auth"
	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/MacJediWizard/accessgate/internal/metrics"
	"github.com/MacJediWizard/accessgate/internal/payments"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if os.Getenv("ENV") != string(config.EnvProduction) {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.LoadServerConfig(".env")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return 1
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("env", string(cfg.Environment)).
		Msg("Starting accessgate server")

	location, err := cfg.GrantLocation()
	if err != nil {
		logger.Error().Err(err).Msg("Invalid GRANT_TIMEZONE")
		return 1
	}

	// Connect to the grant store
	store, err := app.OpenStore(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open store")
		return 1
	}
	defer store.Close()

	// Package catalog for purchase grants
	var catalog *payments.Catalog
	if cfg.PackageCatalog != "" {
		catalog, err = payments.LoadCatalog(cfg.PackageCatalog)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load package catalog")
			return 1
		}
		logger.Info().Int("packages", len(catalog.Packages())).Msg("Package catalog loaded")
	} else {
		logger.Warn().Msg("PACKAGE_CATALOG not set - payment events will be rejected")
	}

	// Shared rate limit cache (optional)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid REDIS_URL")
			return 1
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("Redis not reachable at startup")
		}
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewMetrics(registry)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return 1
	}

	verifier, err := auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize token verifier")
		return 1
	}

	services := app.NewServices(store, app.Options{
		Location:          location,
		PointsPerQuestion: cfg.PointsPerQuestion,
		ExpirySchedule:    cfg.ExpirySchedule,
		Catalog:           catalog,
		Metrics:           m,
	}, logger)

	router, err := api.NewRouter(cfg, api.VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}, services.API(verifier, registry, redisClient), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start grant expiry scheduler
	if err := services.Expiry.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start expiry scheduler")
		return 1
	}
	defer services.Expiry.Stop()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
		return 1
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return 1
	}

	logger.Info().Msg("Server stopped gracefully")
	return 0
}

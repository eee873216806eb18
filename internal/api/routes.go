// Package api provides the HTTP API for the accessgate server.
package api

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/accessgate/internal/api/handlers"
	"github.com/MacJediWizard/accessgate/internal/api/middleware"
	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/MacJediWizard/accessgate/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// VersionInfo is served on /version.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// Store is what the router needs from the grant store directly.
type Store interface {
	handlers.DatabaseHealthChecker
	handlers.GrantReader
}

// Allocator starts redemptions and force-completes seats.
type Allocator interface {
	handlers.SeatStarter
	handlers.SeatCompleter
}

// Services bundles the components the router dispatches to.
type Services struct {
	Store     Store
	Validator handlers.CodeChecker
	Allocator Allocator
	Issuer    handlers.GrantIssuer
	Submitter handlers.LevelSubmitter
	Progress  handlers.ProgressReader
	Evaluator handlers.CompletionEvaluator
	Payments  handlers.PaymentProcessor
	Catalog   handlers.PackageLister
	// Sweeper is optional; without it the manual expiry route is absent.
	Sweeper  handlers.ExpirySweeper
	Verifier middleware.TokenVerifier
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// Redis is optional; without it rate limit counters stay in memory.
	Redis *redis.Client
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg config.ServerConfig, version VersionInfo, svc Services, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	cors, err := middleware.CORS(cfg.CORSOrigins, cfg.Environment, logger)
	if err != nil {
		return nil, err
	}
	rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitPeriod, svc.Redis)
	if err != nil {
		return nil, err
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.SecurityHeaders())
	r.Engine.Use(middleware.RequestLogger(logger))
	if svc.Metrics != nil {
		r.Engine.Use(middleware.MetricsMiddleware(svc.Metrics))
	}
	r.Engine.Use(cors)
	r.Engine.Use(middleware.BodyLimitMiddleware(cfg.MaxBodyBytes))
	r.Engine.Use(rateLimiter)

	// Health, metrics and version endpoints (no auth required)
	var cache handlers.CacheHealthChecker
	if svc.Redis != nil {
		cache = redisPinger{svc.Redis}
	}
	handlers.NewHealthHandler(svc.Store, cache, logger).RegisterPublicRoutes(r.Engine)
	if svc.Gatherer != nil {
		handlers.NewMetricsHandler(svc.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	}
	r.Engine.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version)
	})

	codesHandler := handlers.NewCodesHandler(svc.Validator, svc.Allocator, logger)

	// Public API routes. The redemption check uses the caller's identity
	// when a valid token is present.
	public := r.Engine.Group("/api/v1")
	public.Use(middleware.OptionalAuthMiddleware(svc.Verifier, logger))
	codesHandler.RegisterPublicRoutes(public)
	handlers.NewPaymentsHandler(svc.Payments, svc.Catalog, cfg.PaymentWebhookSecret, logger).RegisterPublicRoutes(public)

	// API v1 routes (auth required)
	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(svc.Verifier, logger))

	codesHandler.RegisterRoutes(apiV1)
	handlers.NewProgressHandler(svc.Submitter, svc.Progress, svc.Evaluator, logger).RegisterRoutes(apiV1)

	admin := apiV1.Group("/admin")
	admin.Use(middleware.RequireRole(cfg.AdminRole, logger))
	handlers.NewGrantsHandler(svc.Issuer, svc.Store, svc.Allocator, svc.Sweeper, logger).RegisterRoutes(admin)

	r.logger.Info().Msg("API router initialized")

	return r, nil
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Engine.ServeHTTP(w, req)
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

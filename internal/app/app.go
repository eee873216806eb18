// Package app opens a grant store and wires the accessgate services on it.
// The server and the operator CLI share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/MacJediWizard/accessgate/internal/api"
	"github.com/MacJediWizard/accessgate/internal/api/middleware"
	"github.com/MacJediWizard/accessgate/internal/assessment"
	"github.com/MacJediWizard/accessgate/internal/completion"
	"github.com/MacJediWizard/accessgate/internal/config"
	"github.com/MacJediWizard/accessgate/internal/db"
	"github.com/MacJediWizard/accessgate/internal/db/sqlite"
	"github.com/MacJediWizard/accessgate/internal/grants"
	"github.com/MacJediWizard/accessgate/internal/maintenance"
	"github.com/MacJediWizard/accessgate/internal/metrics"
	"github.com/MacJediWizard/accessgate/internal/payments"
	"github.com/MacJediWizard/accessgate/internal/progress"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Store is implemented by both the PostgreSQL and the SQLite store.
type Store interface {
	grants.Store
	progress.Store
	payments.Store
	maintenance.ExpiryStore
	Ping(ctx context.Context) error
	Health() map[string]any
	Close()
}

var (
	_ Store = (*db.DB)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// OpenStore connects to the database named by databaseURL and brings its
// schema up to date.
func OpenStore(ctx context.Context, databaseURL string, logger zerolog.Logger) (Store, error) {
	driver, dsn, err := config.ParseDatabaseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	switch driver {
	case config.DriverPostgres:
		database, err := db.New(ctx, db.DefaultConfig(dsn), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return database, nil
	default:
		store, err := sqlite.Open(ctx, dsn, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
}

// Options configures NewServices.
type Options struct {
	Location          *time.Location
	PointsPerQuestion int
	ExpirySchedule    string
	// Catalog lists purchasable packages; nil means none are sold.
	Catalog *payments.Catalog
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Services holds every component built on one store.
type Services struct {
	Store     Store
	Validator *grants.Validator
	Allocator *grants.Allocator
	Issuer    *grants.Issuer
	Progress  *progress.Service
	Evaluator *completion.Evaluator
	Submitter *assessment.Submitter
	Payments  *payments.Processor
	Catalog   *payments.Catalog
	Expiry    *maintenance.ExpiryScheduler
	Metrics   *metrics.Metrics
}

// NewServices builds the services on store.
func NewServices(store Store, opts Options, logger zerolog.Logger) *Services {
	grantOpts := grants.Options{Location: opts.Location}
	progressOpts := progress.Options{PointsPerQuestion: opts.PointsPerQuestion}
	var paymentRecorder payments.Recorder
	var expiryRecorder maintenance.ExpiryRecorder
	if opts.Metrics != nil {
		grantOpts.Recorder = opts.Metrics
		progressOpts.Recorder = opts.Metrics
		paymentRecorder = opts.Metrics
		expiryRecorder = opts.Metrics
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = &payments.Catalog{}
	}

	allocator := grants.NewAllocator(store, logger, grantOpts)
	issuer := grants.NewIssuer(store, logger, grantOpts)
	progressSvc := progress.NewService(store, logger, progressOpts)
	evaluator := completion.NewEvaluator(store)

	return &Services{
		Store:     store,
		Validator: grants.NewValidator(store, logger, grantOpts),
		Allocator: allocator,
		Issuer:    issuer,
		Progress:  progressSvc,
		Evaluator: evaluator,
		Submitter: assessment.NewSubmitter(store, progressSvc, evaluator, allocator, logger),
		Payments:  payments.NewProcessor(store, issuer, catalog, paymentRecorder, logger),
		Catalog:   catalog,
		Expiry:    maintenance.NewExpiryScheduler(store, opts.ExpirySchedule, expiryRecorder, logger),
		Metrics:   opts.Metrics,
	}
}

// API returns the router's view of the services.
func (s *Services) API(verifier middleware.TokenVerifier, gatherer prometheus.Gatherer, redisClient *redis.Client) api.Services {
	return api.Services{
		Store:     s.Store,
		Validator: s.Validator,
		Allocator: s.Allocator,
		Issuer:    s.Issuer,
		Submitter: s.Submitter,
		Progress:  s.Progress,
		Evaluator: s.Evaluator,
		Payments:  s.Payments,
		Catalog:   s.Catalog,
		Sweeper:   s.Expiry,
		Verifier:  verifier,
		Metrics:   s.Metrics,
		Gatherer:  gatherer,
		Redis:     redisClient,
	}
}

// Package config provides configuration management for accessgate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Store drivers selected by DATABASE_URL.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Defaults applied when a value is unset or out of range.
const (
	DefaultPort              = 8080
	DefaultRateLimitRequests = 100
	DefaultRateLimitPeriod   = time.Minute
	DefaultPointsPerQuestion = 10
	DefaultMaxBodyBytes      = 1 << 20
	DefaultExpirySchedule    = "@hourly"
	DefaultDatabaseURL       = "sqlite://accessgate.db"
)

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment          Environment   `env:"ENV" envDefault:"development"`
	DatabaseURL          string        `env:"DATABASE_URL" envDefault:"sqlite://accessgate.db"`
	ListenAddr           string        `env:"LISTEN_ADDR"`
	Port                 int           `env:"PORT" envDefault:"8080"`
	LogLevel             string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret            string        `env:"JWT_SECRET"`
	JWTIssuer            string        `env:"JWT_ISSUER"`
	AdminRole            string        `env:"ADMIN_ROLE" envDefault:"admin"`
	PaymentWebhookSecret string        `env:"PAYMENT_WEBHOOK_SECRET"`
	PackageCatalog       string        `env:"PACKAGE_CATALOG"`
	RateLimitRequests    int64         `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	RateLimitPeriod      time.Duration `env:"RATE_LIMIT_PERIOD" envDefault:"1m"`
	RedisURL             string        `env:"REDIS_URL"`
	CORSOrigins          []string      `env:"CORS_ORIGINS" envSeparator:","`
	ExpirySchedule       string        `env:"EXPIRY_SWEEP_SCHEDULE" envDefault:"@hourly"`
	PointsPerQuestion    int           `env:"POINTS_PER_QUESTION" envDefault:"10"`
	GrantTimezone        string        `env:"GRANT_TIMEZONE" envDefault:"UTC"`
	MaxBodyBytes         int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// LoadServerConfig loads .env files, then reads server configuration from
// environment variables. Variables already set in the environment win over
// .env entries. Values that do not parse are reported as errors; values
// that parse but are out of range fall back to their defaults.
func LoadServerConfig(dotenvFiles ...string) (ServerConfig, error) {
	if err := loadDotenv(dotenvFiles...); err != nil {
		return ServerConfig{}, err
	}

	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func (c *ServerConfig) normalize() {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		c.Environment = EnvDevelopment
	}

	if c.Port <= 0 || c.Port > 65535 {
		c.Port = DefaultPort
	}
	if c.RateLimitRequests <= 0 {
		c.RateLimitRequests = DefaultRateLimitRequests
	}
	if c.RateLimitPeriod <= 0 {
		c.RateLimitPeriod = DefaultRateLimitPeriod
	}
	if c.PointsPerQuestion <= 0 {
		c.PointsPerQuestion = DefaultPointsPerQuestion
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if strings.TrimSpace(c.ExpirySchedule) == "" {
		c.ExpirySchedule = DefaultExpirySchedule
	}
	if c.AdminRole == "" {
		c.AdminRole = "admin"
	}

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
}

// Addr returns the address the HTTP server listens on.
func (c ServerConfig) Addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// IsProduction reports whether the server runs in production.
func (c ServerConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GrantLocation returns the timezone used to extend grant end dates to end-of-day.
func (c ServerConfig) GrantLocation() (*time.Location, error) {
	loc, err := time.LoadLocation(c.GrantTimezone)
	if err != nil {
		return nil, fmt.Errorf("load grant timezone %q: %w", c.GrantTimezone, err)
	}
	return loc, nil
}

// StoreDriver returns the store driver and its data source for DATABASE_URL.
func (c ServerConfig) StoreDriver() (driver, dsn string, err error) {
	return ParseDatabaseURL(c.DatabaseURL)
}

// ParseDatabaseURL picks the store driver from a database URL:
// postgres:// and postgresql:// select PostgreSQL, sqlite:// and file:
// select SQLite with the remainder as the file path.
func ParseDatabaseURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, url, nil
	case strings.HasPrefix(url, "sqlite://"):
		dsn = strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "file:"):
		dsn = strings.TrimPrefix(url, "file:")
	default:
		return "", "", fmt.Errorf("unsupported database URL %q", url)
	}
	if dsn == "" {
		return "", "", fmt.Errorf("database URL %q has no file path", url)
	}
	return DriverSQLite, dsn, nil
}

// Validate checks settings that have no safe default.
func (c ServerConfig) Validate() error {
	if _, _, err := c.StoreDriver(); err != nil {
		return err
	}
	if _, err := c.GrantLocation(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return errors.New("JWT_SECRET must be at least 32 characters in production")
	}
	return nil
}

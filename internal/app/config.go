package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SQLitePath  string `default:"orders.db" usage:"SQLite database file" flag:"sqlite-path"`
	SeedFile    string `usage:"Fixture file (.json or .json.gz) loaded at startup for the memory and sqlite drivers" flag:"seed-file"`
	Storage     StorageConfig
	Placement   PlacementConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// StorageConfig selects the store backing customers, products and orders.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Storage driver: postgres, sqlite or memory"`
}

// PlacementConfig tunes order placement.
type PlacementConfig struct {
	CommitTimeout time.Duration `default:"5s" usage:"Upper bound on the commit transaction (0 disables)" flag:"commit-timeout"`
}

// IdempotencyConfig controls Idempotency-Key handling. Without a Redis
// address keys are kept in process memory.
type IdempotencyConfig struct {
	RedisAddr  string        `usage:"Redis address for idempotency keys" flag:"redis-addr"`
	PendingTTL time.Duration `default:"30s" usage:"How long a claim of an unfinished placement blocks its key" flag:"idempotency-pending-ttl"`
	TTL        time.Duration `default:"24h" usage:"How long idempotency keys of placed orders are remembered" flag:"idempotency-ttl"`
}

// RateLimitConfig controls the per-client sliding window rate limiters: one
// over every API route and a stricter one over order placement.
type RateLimitConfig struct {
	Max       int           `default:"100" usage:"Max API requests per window"`
	Window    time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Placement PlacementLimitConfig
}

// PlacementLimitConfig limits POST /api/order per client.
type PlacementLimitConfig struct {
	Max    int           `default:"20" usage:"Max order placements per window"`
	Window time.Duration `default:"1m" usage:"Placement rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks option combinations that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Idempotency.PendingTTL <= c.Placement.CommitTimeout {
		return errors.New("idempotency pending TTL must exceed the commit timeout")
	}
	if c.Idempotency.TTL < c.Idempotency.PendingTTL {
		return errors.New("idempotency TTL must not be shorter than the pending TTL")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if c.RateLimit.Placement.Max <= 0 || c.RateLimit.Placement.Window <= 0 {
		return errors.New("placement rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

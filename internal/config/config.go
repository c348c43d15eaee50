// Package config loads runtime configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Sales id strategies.
const (
	SalesIDScan    = "scan"
	SalesIDCounter = "counter"
)

// Config holds runtime configuration for the server, worker and seeder.
type Config struct {
	AppEnv  string `envconfig:"APP_ENV" default:"development"`
	AppPort string `envconfig:"APP_PORT" default:"8080"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver  string `envconfig:"STORE_DRIVER" default:"memory"`
	SnapshotPath string `envconfig:"SNAPSHOT_PATH"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`

	// NodeID names this replica in checkpoints and replication tokens.
	NodeID            string        `envconfig:"NODE_ID" default:"branch-node"`
	RemoteURL         string        `envconfig:"REMOTE_URL"`
	ReplicationSecret string        `envconfig:"REPLICATION_SECRET"`
	LiveSync          bool          `envconfig:"LIVE_SYNC" default:"false"`
	SyncInterval      time.Duration `envconfig:"SYNC_INTERVAL" default:"30s"`
	SyncBatchSize     int           `envconfig:"SYNC_BATCH_SIZE" default:"200"`

	SalesIDStrategy string `envconfig:"SALES_ID_STRATEGY" default:"scan"`

	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	CacheTTL       time.Duration `envconfig:"CACHE_TTL" default:"1m"`
	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.SalesIDStrategy {
	case SalesIDScan, SalesIDCounter:
	default:
		return fmt.Errorf("unsupported SALES_ID_STRATEGY %q", c.SalesIDStrategy)
	}

	if c.RemoteURL != "" && c.ReplicationSecret == "" {
		return errors.New("REPLICATION_SECRET is required when REMOTE_URL is set")
	}
	if c.LiveSync && c.RemoteURL == "" {
		return errors.New("LIVE_SYNC requires REMOTE_URL")
	}
	if c.SyncInterval <= 0 {
		return errors.New("SYNC_INTERVAL must be positive")
	}
	return nil
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// HasRemote reports whether a replication peer is configured.
func (c *Config) HasRemote() bool {
	return c.RemoteURL != ""
}

package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults not already set by defaultConfig/YAML/env and
// validates the result.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	return c.validate()
}

func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "storage.database_url is required for backend \"postgres\"")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required for backend \"mongodb\"")
		}
		if c.Storage.MongoDBDatabase == "" {
			c.Storage.MongoDBDatabase = "webhookd"
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend: unsupported backend %q", c.Storage.Backend))
	}

	if c.Dispatch.RetryMaxAttempts < 1 {
		errs = append(errs, "dispatch.retry_max_attempts must be >= 1")
	}
	if c.Dispatch.Timeout.Duration <= 0 {
		errs = append(errs, "dispatch.timeout must be > 0")
	}

	if c.DLQ.BatchSize < 1 || c.DLQ.BatchSize > 100 {
		errs = append(errs, "dlq.batch_size must be between 1 and 100")
	}
	if c.DLQ.Enabled && c.DLQ.SweepInterval.Duration <= 0 {
		errs = append(errs, "dlq.sweep_interval must be > 0 when dlq.enabled is true")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// normalizeRoutePrefix ensures a configured route prefix starts with / and
// does not end with /.
func normalizeRoutePrefix(prefix string) string {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}

// ApplyPostgresPoolSettings configures a *sql.DB's connection pool, applying
// sensible defaults when the config leaves fields at zero.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := pool.ConnMaxLifetime.Duration
	if lifetime == 0 {
		lifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
}

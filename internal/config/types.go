package config

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration to accept either a Go duration string
// ("10s") or a bare numeric numbers-of-seconds value in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler, accepting both string and
// numeric forms.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}

	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", v, err)
		}
		d.Duration = parsed
	case int:
		d.Duration = time.Duration(v) * time.Second
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	default:
		return fmt.Errorf("unsupported duration type %T", raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config is the root configuration for the webhook ingestion service.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Logging         LoggingConfig         `yaml:"logging"`
	APIKey          APIKeyConfig          `yaml:"api_key"`
	CircuitBreaker  CircuitBreakerConfig  `yaml:"circuit_breaker"`
	Storage         StorageConfig         `yaml:"storage"`
	Dispatch        DispatchConfig        `yaml:"dispatch"`
	DLQ             DLQConfig             `yaml:"dlq"`
	ProcessingSweep ProcessingSweepConfig `yaml:"processing_sweep"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit"`
	Idempotency     IdempotencyConfig     `yaml:"idempotency"`

	// Secrets maps provider name (lowercase) to its configured signing
	// secret, populated from WEBHOOK_{PROVIDER}_SECRET environment
	// variables rather than the YAML file.
	Secrets map[string]string `yaml:"-"`
}

// Secret implements provider.SecretSource.
func (c *Config) Secret(provider string) (string, bool) {
	s, ok := c.Secrets[provider]
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ServerConfig controls the HTTP listener and router.
type ServerConfig struct {
	Address             string   `yaml:"address"`
	ReadTimeout          Duration `yaml:"read_timeout"`
	WriteTimeout         Duration `yaml:"write_timeout"`
	IdleTimeout          Duration `yaml:"idle_timeout"`
	ShutdownGracePeriod  Duration `yaml:"shutdown_grace_period"`
	RoutePrefix          string   `yaml:"route_prefix"`
	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	AdminAPIKey          string   `yaml:"admin_api_key"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"` // "json" or "console"
	Service     string `yaml:"service"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// APIKeyConfig maps X-API-Key values to rate-limit tiers. The admin routes
// are gated separately by ServerConfig.AdminAPIKey.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"`
	Keys    map[string]string `yaml:"keys"` // key -> tier label
}

// CircuitBreakerConfig controls the breaker wrapping the outbound dispatch
// call.
type CircuitBreakerConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Webhook BreakerServiceConfig `yaml:"webhook"`
}

// BreakerServiceConfig mirrors internal/circuitbreaker.BreakerConfig.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}

// StorageConfig selects and configures the Event Repository / DLQ backend.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres", "mongodb"
	DatabaseURL     string             `yaml:"database_url"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	MongoDBURL      string             `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string             `yaml:"mongodb_database"` // MongoDB database name
}

// PostgresPoolConfig tunes the shared database/sql pool.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// DispatchConfig controls the outbound delivery to the downstream consumer.
type DispatchConfig struct {
	URL               string   `yaml:"url"`                 // JOURNEY_SERVICE_URL
	ServiceToken      string   `yaml:"service_token"`        // SERVICE_TO_SERVICE_TOKEN
	Timeout           Duration `yaml:"timeout"`              // DISPATCH_TIMEOUT_SECONDS
	RetryMaxAttempts  int      `yaml:"retry_max_attempts"`   // RETRY_MAX_ATTEMPTS
	RetryInitialDelay Duration `yaml:"retry_initial_delay"`  // RETRY_INITIAL_DELAY_SECONDS
	RetryMaxDelay     Duration `yaml:"retry_max_delay"`      // RETRY_MAX_DELAY_SECONDS
}

// DLQConfig controls dead-letter queue behavior. MaxRetries is parsed and
// defaulted, but the DLQ stores do not read it: every entry is created with
// dlq.DefaultMaxRetries (3).
type DLQConfig struct {
	Enabled       bool     `yaml:"enabled"`     // DLQ_ENABLED
	MaxRetries    int      `yaml:"max_retries"` // DLQ_MAX_RETRIES
	BatchSize     int      `yaml:"batch_size"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ProcessingSweepConfig holds settings for events stuck in the "processing"
// state. The values are parsed and defaulted, but no component reads them:
// no sweep of stuck "processing" events runs.
type ProcessingSweepConfig struct {
	Interval       Duration `yaml:"interval"`
	StuckThreshold Duration `yaml:"stuck_threshold"`
}

// RateLimitConfig controls per-IP rate limiting on the fast path.
type RateLimitConfig struct {
	Enabled bool     `yaml:"enabled"`
	Limit   int      `yaml:"limit"`
	Window  Duration `yaml:"window"`
}

// IdempotencyConfig controls the optional Idempotency-Key response cache on
// the webhook ingestion route. This is a transport-layer defense against a
// producer's own retry-on-timeout behavior, distinct from the event store's
// (provider, external_id) dedup which catches the same case once the first
// attempt's response never reached the sender.
type IdempotencyConfig struct {
	Enabled bool     `yaml:"enabled"`
	TTL     Duration `yaml:"ttl"`
}

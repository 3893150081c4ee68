package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from an optional YAML file, applies environment
// overrides on top (env always wins), and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cfg.parseFile(path); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:             ":8080",
			ReadTimeout:         Duration{15 * time.Second},
			WriteTimeout:        Duration{15 * time.Second},
			IdleTimeout:         Duration{60 * time.Second},
			ShutdownGracePeriod: Duration{15 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Service:     "webhookd",
			Environment: "development",
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    map[string]string{},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled: true,
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{60 * time.Second},
				Timeout:             Duration{60 * time.Second},
				ConsecutiveFailures: 10,
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
		Storage: StorageConfig{
			Backend: "memory",
			PostgresPool: PostgresPoolConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: Duration{5 * time.Minute},
			},
		},
		Dispatch: DispatchConfig{
			Timeout:           Duration{10 * time.Second},
			RetryMaxAttempts:  3,
			RetryInitialDelay: Duration{1 * time.Second},
			RetryMaxDelay:     Duration{60 * time.Second},
		},
		DLQ: DLQConfig{
			Enabled:       true,
			MaxRetries:    3,
			BatchSize:     10,
			SweepInterval: Duration{1 * time.Minute},
		},
		ProcessingSweep: ProcessingSweepConfig{
			Interval:       Duration{10 * time.Minute},
			StuckThreshold: Duration{10 * time.Minute},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   100,
			Window:  Duration{1 * time.Minute},
		},
		Idempotency: IdempotencyConfig{
			Enabled: true,
			TTL:     Duration{24 * time.Hour},
		},
		Secrets: map[string]string{},
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return yaml.Unmarshal(data, c)
}

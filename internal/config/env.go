package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "SERVER_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminAPIKey, "ADMIN_API_KEY")

	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "ENVIRONMENT")

	setIfEnv(&c.Storage.Backend, "STORAGE_BACKEND")
	setIfEnv(&c.Storage.DatabaseURL, "DATABASE_URL")
	setIfEnv(&c.Storage.MongoDBURL, "MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "MONGODB_DATABASE")

	setIfEnv(&c.Dispatch.URL, "JOURNEY_SERVICE_URL")
	setIfEnv(&c.Dispatch.ServiceToken, "SERVICE_TO_SERVICE_TOKEN")
	setSecondsIfEnv(&c.Dispatch.Timeout, "DISPATCH_TIMEOUT_SECONDS")
	setIntIfEnv(&c.Dispatch.RetryMaxAttempts, "RETRY_MAX_ATTEMPTS")
	setSecondsIfEnv(&c.Dispatch.RetryInitialDelay, "RETRY_INITIAL_DELAY_SECONDS")
	setSecondsIfEnv(&c.Dispatch.RetryMaxDelay, "RETRY_MAX_DELAY_SECONDS")

	setBoolIfEnv(&c.DLQ.Enabled, "DLQ_ENABLED")
	setIntIfEnv(&c.DLQ.MaxRetries, "DLQ_MAX_RETRIES")
	setSecondsIfEnv(&c.DLQ.SweepInterval, "DLQ_SWEEP_INTERVAL_SECONDS")

	setBoolIfEnv(&c.Idempotency.Enabled, "IDEMPOTENCY_ENABLED")

	// Per-provider webhook secrets: WEBHOOK_{PROVIDER}_SECRET=value.
	// Mirrors the teacher's CALLBACK_HEADER_* dynamic-prefix scan, keeping
	// the set of configured providers decoupled from the registration list.
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "WEBHOOK_") || !strings.HasSuffix(env, "_SECRET") {
			continue
		}
		key, value, found := strings.Cut(env, "=")
		if !found || value == "" {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, "WEBHOOK_"), "_SECRET")
		if name == "" {
			continue
		}
		if c.Secrets == nil {
			c.Secrets = make(map[string]string)
		}
		c.Secrets[strings.ToLower(name)] = value
	}
}

func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

// setSecondsIfEnv parses a bare numeric-seconds env var (matching the
// original system's FLOAT env vars like RETRY_INITIAL_DELAY_SECONDS=1.0)
// into a Duration.
func setSecondsIfEnv(target *Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if seconds, err := strconv.ParseFloat(v, 64); err == nil {
		target.Duration = time.Duration(seconds * float64(time.Second))
		return
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		target.Duration = parsed
	}
}

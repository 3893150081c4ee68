package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CedrosPay/server/internal/apikey"
	"github.com/CedrosPay/server/internal/metrics"
	"github.com/go-chi/httprate"
)

// Config holds rate limiting configuration for the inbound webhook surface.
// Unlike the teacher's three-tier wallet/global/IP scheme, webhook producers
// carry no wallet identity, so this collapses to a single per-IP limiter.
type Config struct {
	Enabled bool
	Limit   int
	Window  time.Duration

	// Metrics collector (optional)
	Metrics *metrics.Metrics
}

// rateLimitResponse represents the JSON error response for rate limit exceeded.
type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns sensible default rate limits.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Limit:   100,
		Window:  1 * time.Minute,
	}
}

// IPLimiter creates a per-IP rate limiter middleware. Enterprise and Partner
// tier API keys (per internal/apikey) bypass the limit entirely, matching
// the teacher's exemption rule for trusted callers.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiter := httprate.Limit(
		cfg.Limit,
		cfg.Window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(rateLimitHandler(int(cfg.Window.Seconds()), cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

func rateLimitHandler(windowSeconds int, metricsCollector *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if metricsCollector != nil {
			metricsCollector.ObserveRateLimit("per_ip", r.RemoteAddr)
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           "Rate limit exceeded. Please try again later.",
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

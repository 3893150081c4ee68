package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the webhook ingestion pipeline.
type Metrics struct {
	// Ingestion metrics
	WebhooksReceivedTotal  *prometheus.CounterVec
	WebhooksRejectedTotal  *prometheus.CounterVec
	IngestionDuration      *prometheus.HistogramVec

	// Dispatch metrics
	DispatchAttemptsTotal  *prometheus.CounterVec
	DispatchDuration       *prometheus.HistogramVec
	DispatchRetriesTotal   *prometheus.CounterVec

	// DLQ metrics
	DLQEnqueuedTotal *prometheus.CounterVec
	DLQResolvedTotal *prometheus.CounterVec
	DLQAbandonedTotal *prometheus.CounterVec
	DLQDepth         prometheus.Gauge

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		WebhooksReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_webhooks_received_total",
				Help: "Total number of inbound webhook requests accepted for ingestion",
			},
			[]string{"provider", "event_type"},
		),
		WebhooksRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_webhooks_rejected_total",
				Help: "Total number of inbound webhook requests rejected during ingestion",
			},
			[]string{"provider", "reason"},
		),
		IngestionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookd_ingestion_duration_seconds",
				Help:    "Time taken for the fast ingestion path (verify, parse, persist, enqueue)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"provider"},
		),

		DispatchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_dispatch_attempts_total",
				Help: "Total number of outbound dispatch attempts to the downstream consumer",
			},
			[]string{"provider", "status"},
		),
		DispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookd_dispatch_duration_seconds",
				Help:    "Duration of outbound dispatch calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		),
		DispatchRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_dispatch_retries_total",
				Help: "Total number of dispatch retry attempts",
			},
			[]string{"provider", "attempt"},
		),

		DLQEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_dlq_enqueued_total",
				Help: "Total number of events enqueued to the dead-letter queue",
			},
			[]string{"provider"},
		),
		DLQResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_dlq_resolved_total",
				Help: "Total number of dead-letter entries resolved by a successful retry",
			},
			[]string{"provider"},
		),
		DLQAbandonedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_dlq_abandoned_total",
				Help: "Total number of dead-letter entries abandoned after exhausting retries",
			},
			[]string{"provider"},
		),
		DLQDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookd_dlq_depth",
				Help: "Current number of entries pending retry in the dead-letter queue",
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhookd_rate_limit_hits_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"limit_type", "identifier"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhookd_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webhookd_db_connections_active",
				Help: "Number of active database connections",
			},
		),

		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "webhookd_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
	}
}

// ObserveIngestion records an inbound webhook request and its outcome.
func (m *Metrics) ObserveIngestion(provider, eventType string, duration time.Duration, accepted bool, rejectReason string) {
	m.IngestionDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if accepted {
		m.WebhooksReceivedTotal.WithLabelValues(provider, eventType).Inc()
		return
	}
	m.WebhooksRejectedTotal.WithLabelValues(provider, rejectReason).Inc()
}

// ObserveDispatch records an outbound dispatch attempt.
func (m *Metrics) ObserveDispatch(provider, status string, duration time.Duration, attempt int) {
	m.DispatchAttemptsTotal.WithLabelValues(provider, status).Inc()
	m.DispatchDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if attempt > 1 {
		m.DispatchRetriesTotal.WithLabelValues(provider, formatAttempt(attempt)).Inc()
	}
}

// ObserveDLQEnqueue records an event being sent to the dead-letter queue.
func (m *Metrics) ObserveDLQEnqueue(provider string) {
	m.DLQEnqueuedTotal.WithLabelValues(provider).Inc()
}

// ObserveDLQResolved records a dead-letter entry resolved by a successful retry.
func (m *Metrics) ObserveDLQResolved(provider string) {
	m.DLQResolvedTotal.WithLabelValues(provider).Inc()
}

// ObserveDLQAbandoned records a dead-letter entry abandoned after exhausting retries.
func (m *Metrics) ObserveDLQAbandoned(provider string) {
	m.DLQAbandonedTotal.WithLabelValues(provider).Inc()
}

// SetDLQDepth updates the current dead-letter queue depth gauge.
func (m *Metrics) SetDLQDepth(depth int) {
	m.DLQDepth.Set(float64(depth))
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetCircuitBreakerState records the current state of a named circuit breaker.
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return strings.TrimSpace(string(rune('0' + attempt)))
	}
	return "5+"
}

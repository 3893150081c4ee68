// Package dispatcher delivers normalized webhook events to the downstream
// consumer service: one retrying goroutine per event on the fast path, plus
// a ticker-driven batch sweep of the dead-letter queue for events that
// exhausted those retries.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CedrosPay/server/internal/circuitbreaker"
	"github.com/CedrosPay/server/internal/config"
	"github.com/CedrosPay/server/internal/dlq"
	"github.com/CedrosPay/server/internal/eventstore"
	"github.com/CedrosPay/server/internal/httputil"
	"github.com/CedrosPay/server/internal/metrics"
	"github.com/CedrosPay/server/internal/provider"
	"github.com/rs/zerolog"
)

// Dispatcher sends normalized events to the downstream consumer with
// exponential-backoff retries, falling back to the dead-letter queue once
// retries are exhausted.
type Dispatcher struct {
	cfg        config.DispatchConfig
	dlqCfg     config.DLQConfig
	store      eventstore.Store
	dlqStore   dlq.Store
	breaker    *circuitbreaker.Manager
	httpClient *http.Client
	metrics    *metrics.Metrics
	log        zerolog.Logger

	stopChan chan struct{}
	doneChan chan struct{}
}

// New builds a Dispatcher wired to the event store, DLQ store, and circuit
// breaker manager that guard the single downstream egress.
func New(cfg config.DispatchConfig, dlqCfg config.DLQConfig, store eventstore.Store, dlqStore dlq.Store, breaker *circuitbreaker.Manager, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:        cfg,
		dlqCfg:     dlqCfg,
		store:      store,
		dlqStore:   dlqStore,
		breaker:    breaker,
		httpClient: httputil.NewClient(timeout),
		metrics:    m,
		log:        log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
}

// Enqueue implements internal/ingestion.Dispatch: it schedules the event for
// async delivery and returns immediately. Every dispatch runs as its own
// goroutine with no state shared across events.
func (d *Dispatcher) Enqueue(eventID string, event provider.CanonicalEvent) {
	go d.dispatchWithRetry(context.Background(), eventID, event)
}

// dispatchWithRetry mirrors the fast path's per-event retry loop: mark
// processing, up to RetryMaxAttempts POSTs with exponential backoff, mark
// processed on success or failed + DLQ-enqueue on exhaustion.
func (d *Dispatcher) dispatchWithRetry(ctx context.Context, eventID string, event provider.CanonicalEvent) {
	if err := d.store.MarkProcessing(ctx, eventID); err != nil {
		d.log.Warn().Err(err).Str("event_id", eventID).Msg("dispatcher.mark_processing_failed")
	}

	maxAttempts := d.cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := d.cfg.RetryInitialDelay.Duration
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	maxDelay := d.cfg.RetryMaxDelay.Duration
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := d.send(ctx, event)
		d.observe(event.Source, time.Since(start), attempt, err)

		if err == nil {
			if markErr := d.store.MarkProcessed(ctx, eventID); markErr != nil {
				d.log.Warn().Err(markErr).Str("event_id", eventID).Msg("dispatcher.mark_processed_failed")
			}
			d.log.Info().Str("event_id", eventID).Int("attempt", attempt).Msg("dispatcher.delivered")
			return
		}

		lastErr = err
		d.log.Warn().Err(err).Str("event_id", eventID).Int("attempt", attempt).Int("max_attempts", maxAttempts).
			Msg("dispatcher.attempt_failed")

		if attempt < maxAttempts {
			delay := backoff(baseDelay, maxDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}

	errMsg := "unknown dispatch error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	if err := d.store.MarkFailed(ctx, eventID, errMsg); err != nil {
		d.log.Warn().Err(err).Str("event_id", eventID).Msg("dispatcher.mark_failed_failed")
	}
	d.log.Error().Str("event_id", eventID).Int("attempts", maxAttempts).Str("error", errMsg).
		Msg("dispatcher.exhausted")

	if d.dlqCfg.Enabled && d.dlqStore != nil {
		if _, err := d.dlqStore.Enqueue(ctx, eventID, errMsg); err != nil {
			d.log.Error().Err(err).Str("event_id", eventID).Msg("dispatcher.dlq_enqueue_failed")
		} else if d.metrics != nil {
			d.metrics.ObserveDLQEnqueue(event.Source)
		}
	}
}

// backoff returns min(base*2^(attempt-1), max), the same schedule the
// original retry loop computes.
func backoff(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// send performs a single dispatch attempt, wrapped in the shared circuit
// breaker so a failing downstream trips open instead of piling up retries.
func (d *Dispatcher) send(ctx context.Context, event provider.CanonicalEvent) error {
	if d.cfg.URL == "" {
		d.log.Warn().Msg("dispatcher.no_downstream_url_configured")
		return nil
	}

	_, err := d.breaker.Execute(circuitbreaker.ServiceDownstreamConsumer, func() (interface{}, error) {
		return nil, d.post(ctx, event)
	})
	return err
}

func (d *Dispatcher) post(ctx context.Context, event provider.CanonicalEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Source", "webhook_service")
	if d.cfg.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.ServiceToken)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("downstream consumer returned status %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) timeout() time.Duration {
	if d.cfg.Timeout.Duration > 0 {
		return d.cfg.Timeout.Duration
	}
	return 10 * time.Second
}

func (d *Dispatcher) observe(source string, duration time.Duration, attempt int, err error) {
	if d.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	d.metrics.ObserveDispatch(source, status, duration, attempt)
}

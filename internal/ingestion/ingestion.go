// Package ingestion implements the fast path of the webhook pipeline: read
// the request body once, verify and normalize it, persist it, and hand it
// off to the dispatcher without ever blocking the HTTP response on the
// downstream delivery.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CedrosPay/server/internal/eventstore"
	apierrors "github.com/CedrosPay/server/internal/errors"
	"github.com/CedrosPay/server/internal/logger"
	"github.com/CedrosPay/server/internal/metrics"
	"github.com/CedrosPay/server/internal/provider"
	"github.com/rs/zerolog"
)

// Dispatch schedules the normalized event for async delivery. Implemented
// by internal/dispatcher; kept as an interface here to avoid an import
// cycle between ingestion and dispatcher.
type Dispatch interface {
	Enqueue(eventID string, event provider.CanonicalEvent)
}

// Result is returned to the HTTP surface on a successful ingest.
type Result struct {
	TraceID   string `json:"trace_id"`
	Provider  string `json:"provider"`
	EventType string `json:"event_type"`
}

// Pipeline wires together the provider registry, event store, and dispatcher
// queue behind the single Ingest operation the HTTP surface calls.
type Pipeline struct {
	registry *provider.Registry
	store    eventstore.Store
	dispatch Dispatch
	metrics  *metrics.Metrics
}

// New builds an ingestion pipeline.
func New(registry *provider.Registry, store eventstore.Store, dispatch Dispatch, m *metrics.Metrics) *Pipeline {
	return &Pipeline{registry: registry, store: store, dispatch: dispatch, metrics: m}
}

// Ingest runs the 7-step fast path: resolve provider, read body once, verify,
// parse, normalize, persist, enqueue dispatch. It never returns a 5xx-shaped
// error to the caller for a downstream/persistence failure; only provider
// resolution, signature, and payload-format problems are surfaced as errors.
func (p *Pipeline) Ingest(ctx context.Context, providerName string, r *http.Request) (*Result, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	prov, ok := p.registry.Get(providerName)
	if !ok {
		p.observeRejected(providerName, "provider_not_found", start)
		return nil, apierrors.New(apierrors.ErrCodeProviderNotFound,
			fmt.Sprintf("unknown provider %q, available providers: %s", providerName, strings.Join(p.registry.ListNames(), ", ")))
	}

	if _, configured := prov.Secret(); !configured {
		p.observeRejected(providerName, "provider_not_configured", start)
		return nil, apierrors.New(apierrors.ErrCodeProviderNotConfigured, fmt.Sprintf("provider %q has no signing secret configured", providerName))
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.observeRejected(providerName, "invalid_payload", start)
		return nil, apierrors.New(apierrors.ErrCodeInvalidPayload, "failed to read request body")
	}

	if !prov.Verify(r.Header, body) {
		log.Warn().Str("provider", providerName).Msg("ingestion.signature_invalid")
		p.observeRejected(providerName, "unauthorized", start)
		return nil, apierrors.New(apierrors.ErrCodeUnauthorized, "invalid webhook signature")
	}

	raw, err := prov.Parse(body)
	if err != nil {
		log.Error().Err(err).Str("provider", providerName).Msg("ingestion.parse_failed")
		p.observeRejected(providerName, "invalid_payload", start)
		return nil, apierrors.New(apierrors.ErrCodeInvalidPayload, "malformed webhook payload")
	}

	normalized := prov.Normalize(raw)

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		rawJSON = json.RawMessage("{}")
	}
	normalizedJSON, err := json.Marshal(normalized)
	if err != nil {
		normalizedJSON = json.RawMessage("{}")
	}

	eventID := p.persist(ctx, providerName, normalized, rawJSON, normalizedJSON, log)

	p.dispatch.Enqueue(eventID, normalized)

	if p.metrics != nil {
		p.metrics.ObserveIngestion(providerName, normalized.EventType, time.Since(start), true, "")
	}

	return &Result{
		TraceID:   eventID,
		Provider:  providerName,
		EventType: normalized.EventType,
	}, nil
}

// persist writes the event to the store, falling back to a degraded trace id
// synthesized from the event's own external_id when persistence itself
// fails (or "unknown" when the provider didn't supply one). Persistence
// failures are never surfaced to the webhook producer: the pipeline still
// dispatches from the in-memory normalized event and logs loudly instead.
func (p *Pipeline) persist(ctx context.Context, providerName string, normalized provider.CanonicalEvent, rawJSON, normalizedJSON json.RawMessage, log zerolog.Logger) string {
	event, err := p.store.CreateEvent(ctx, providerName, normalized.EventType, rawJSON, normalizedJSON,
		normalized.ExternalID, normalized.UserIdentifier, normalized.OrganizationID)
	if err != nil {
		log.Error().Err(err).Str("provider", providerName).Msg("ingestion.persist_failed_degraded_mode")
		externalID := normalized.ExternalID
		if externalID == "" {
			externalID = "unknown"
		}
		return "degraded_" + externalID
	}
	return event.ID
}

func (p *Pipeline) observeRejected(providerName, reason string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveIngestion(providerName, "", time.Since(start), false, reason)
	}
}

package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CedrosPay/server/internal/circuitbreaker"
	"github.com/CedrosPay/server/internal/config"
	"github.com/CedrosPay/server/internal/dispatcher"
	"github.com/CedrosPay/server/internal/dlq"
	"github.com/CedrosPay/server/internal/eventstore"
	"github.com/CedrosPay/server/internal/ingestion"
	"github.com/CedrosPay/server/internal/metrics"
	"github.com/CedrosPay/server/internal/provider"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type testSecrets struct{ secrets map[string]string }

func (s testSecrets) Secret(name string) (string, bool) {
	v, ok := s.secrets[name]
	return v, ok && v != ""
}

func newTestRouter(t *testing.T, adminKey string) chi.Router {
	t.Helper()

	secrets := testSecrets{secrets: map[string]string{"form": "shhh"}}
	registry := provider.NewRegistry(provider.NewFormProvider("form", "Typeform-Signature", secrets))

	store := eventstore.NewMemoryStore()
	dlqStore := dlq.NewMemoryStore()
	log := zerolog.Nop()
	breaker := circuitbreaker.NewManager(circuitbreaker.Config{Enabled: false}, &log)
	m := metrics.New(prometheus.NewRegistry())

	dispatch := dispatcher.New(config.DispatchConfig{}, config.DLQConfig{Enabled: true, MaxRetries: 3}, store, dlqStore, breaker, m, log)
	pipeline := ingestion.New(registry, store, dispatch, m)

	cfg := &config.Config{}
	cfg.Server.AdminAPIKey = adminKey
	cfg.RateLimit.Enabled = false

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, registry, pipeline, dispatch, m, log)
	return router
}

func TestHealth_NoAuthRequired(t *testing.T) {
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestProviders_RequiresAdminKeyWhenConfigured(t *testing.T) {
	router := newTestRouter(t, "secret-admin-key")

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/providers", nil)
	req.Header.Set("X-API-Key", "secret-admin-key")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid key, got %d: %s", w.Code, w.Body.String())
	}
}

func TestIngestWebhook_UnknownProviderReturns404(t *testing.T) {
	router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/nosuch", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRetryDLQ_RequiresAdminKeyWhenConfigured(t *testing.T) {
	router := newTestRouter(t, "secret-admin-key")

	req := httptest.NewRequest(http.MethodPost, "/dlq/retry", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", w.Code)
	}
}

package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/CedrosPay/server/internal/errors"
)

// ingestWebhook handles POST /webhooks/{provider}: the fast path. The
// pipeline reads the body exactly once, verifies, normalizes, persists, and
// schedules dispatch before this handler ever writes a response.
func (h *handlers) ingestWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	result, err := h.ingestion.Ingest(r.Context(), providerName, r)
	if err != nil {
		apierrors.WriteFlatError(w, err)
		return
	}

	apierrors.WriteSuccess(w, http.StatusOK, "webhook accepted", result)
}

// listProviders handles GET /providers: an operator-facing inventory of
// which providers are registered and whether each has a signing secret
// configured, without revealing the secret itself.
func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	apierrors.WriteSuccess(w, http.StatusOK, "", h.registry.Status())
}

// retryDLQ handles POST /dlq/retry?batch_size=N: an admin-triggered drain of
// the dead-letter queue, one dispatch attempt per entry.
func (h *handlers) retryDLQ(w http.ResponseWriter, r *http.Request) {
	batchSize := parseBatchSize(r.URL.Query().Get("batch_size"))

	result, err := h.dispatcher.RetryDLQBatch(r.Context(), batchSize)
	if err != nil {
		apierrors.WriteFlatError(w, apierrors.New(apierrors.ErrCodeDatabaseError, "failed to read dead-letter queue"))
		return
	}

	apierrors.WriteSuccess(w, http.StatusOK, "dlq retry batch complete", map[string]any{
		"processed": result.Processed,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
	})
}

func parseBatchSize(raw string) int {
	const (
		defaultBatchSize = 10
		maxBatchSize     = 100
	)
	if raw == "" {
		return defaultBatchSize
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return defaultBatchSize
		}
		n = n*10 + int(c-'0')
		if n > maxBatchSize {
			return maxBatchSize
		}
	}
	if n < 1 {
		return defaultBatchSize
	}
	return n
}

// health reports a static "ok" status and the process uptime for operators
// and load balancer probes.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(serverStartTime)
	apierrors.WriteSuccess(w, http.StatusOK, "", map[string]any{
		"status": "ok",
		"uptime": uptime.String(),
	})
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}

	if m.WebhooksReceivedTotal == nil {
		t.Error("WebhooksReceivedTotal should be initialized")
	}
	if m.WebhooksRejectedTotal == nil {
		t.Error("WebhooksRejectedTotal should be initialized")
	}
	if m.DispatchAttemptsTotal == nil {
		t.Error("DispatchAttemptsTotal should be initialized")
	}
	if m.DLQEnqueuedTotal == nil {
		t.Error("DLQEnqueuedTotal should be initialized")
	}
	if m.CircuitBreakerState == nil {
		t.Error("CircuitBreakerState should be initialized")
	}
}

func TestObserveIngestion(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveIngestion("form", "form_response", 10*time.Millisecond, true, "")
	count := promtest.ToFloat64(m.WebhooksReceivedTotal.WithLabelValues("form", "form_response"))
	if count != 1 {
		t.Errorf("expected 1 accepted webhook, got %.0f", count)
	}

	m.ObserveIngestion("form", "", 5*time.Millisecond, false, "invalid_payload")
	rejected := promtest.ToFloat64(m.WebhooksRejectedTotal.WithLabelValues("form", "invalid_payload"))
	if rejected != 1 {
		t.Errorf("expected 1 rejected webhook, got %.0f", rejected)
	}
}

func TestObserveDispatch(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDispatch("payment", "success", 50*time.Millisecond, 1)
	count := promtest.ToFloat64(m.DispatchAttemptsTotal.WithLabelValues("payment", "success"))
	if count != 1 {
		t.Errorf("expected 1 dispatch attempt, got %.0f", count)
	}

	m.ObserveDispatch("payment", "failure", 50*time.Millisecond, 2)
	retries := promtest.ToFloat64(m.DispatchRetriesTotal.WithLabelValues("payment", "2"))
	if retries != 1 {
		t.Errorf("expected 1 retry recorded for attempt 2, got %.0f", retries)
	}
}

func TestObserveDLQLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveDLQEnqueue("video")
	m.ObserveDLQResolved("video")
	m.ObserveDLQAbandoned("video")
	m.SetDLQDepth(3)

	if v := promtest.ToFloat64(m.DLQEnqueuedTotal.WithLabelValues("video")); v != 1 {
		t.Errorf("expected 1 enqueue, got %.0f", v)
	}
	if v := promtest.ToFloat64(m.DLQResolvedTotal.WithLabelValues("video")); v != 1 {
		t.Errorf("expected 1 resolved, got %.0f", v)
	}
	if v := promtest.ToFloat64(m.DLQAbandonedTotal.WithLabelValues("video")); v != 1 {
		t.Errorf("expected 1 abandoned, got %.0f", v)
	}
	if v := promtest.ToFloat64(m.DLQDepth); v != 3 {
		t.Errorf("expected depth 3, got %.0f", v)
	}
}

func TestMeasureDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	done := MeasureDBQuery(m, "get_event", "postgres")
	done()
	// MeasureDBQuery records into a HistogramVec; this test only confirms it
	// does not panic when m is non-nil.

	MeasureDBQuery(nil, "get_event", "postgres")()
}

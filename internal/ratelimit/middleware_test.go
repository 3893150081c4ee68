package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("expected rate limiting to be enabled by default")
	}
	if cfg.Limit != 100 {
		t.Errorf("expected limit 100, got %d", cfg.Limit)
	}
	if cfg.Window != 1*time.Minute {
		t.Errorf("expected 1 minute window, got %v", cfg.Window)
	}
}

func TestIPLimiter_Disabled(t *testing.T) {
	cfg := Config{Enabled: false}
	limiter := IPLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 20; i++ {
		req := httptest.NewRequest("POST", "/webhooks/form", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestIPLimiter_EnforcesLimit(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Limit:   3,
		Window:  1 * time.Minute,
	}
	limiter := IPLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var lastCode int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/webhooks/form", nil)
		req.RemoteAddr = "203.0.113.7:12345"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		lastCode = w.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Errorf("expected the request past the limit to be rejected with 429, got %d", lastCode)
	}
}

func TestIPLimiter_DifferentIPsAreIndependent(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Limit:   1,
		Window:  1 * time.Minute,
	}
	limiter := IPLimiter(cfg)

	handler := limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("POST", "/webhooks/form", nil)
	req1.RemoteAddr = "203.0.113.7:12345"
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Errorf("expected first IP's first request to succeed, got %d", w1.Code)
	}

	req2 := httptest.NewRequest("POST", "/webhooks/form", nil)
	req2.RemoteAddr = "198.51.100.9:54321"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("expected a different IP's first request to succeed, got %d", w2.Code)
	}
}

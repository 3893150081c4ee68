package apikey

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"
)

// RequireAdminKey returns middleware that blocks requests to operator-facing
// admin routes (provider introspection, DLQ retry) unless they present the
// configured admin key via X-API-Key. Unlike Middleware, which silently
// defaults unrecognized keys to TierFree, this gate rejects the request
// outright. An empty adminKey disables the gate entirely (e.g. local dev).
func RequireAdminKey(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if adminKey == "" {
			return next
		}
		expected := sha256.Sum256([]byte(adminKey))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := strings.TrimSpace(r.Header.Get("X-API-Key"))
			got := sha256.Sum256([]byte(supplied))
			if supplied == "" || !hmac.Equal(got[:], expected[:]) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"success":false,"error":{"code":"unauthorized","message":"missing or invalid admin API key"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

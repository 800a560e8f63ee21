package api

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per minute, keyed by API key and falling back
// to the client IP for unauthenticated calls.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(keyByAPIKeyOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, map[string]errorBody{"error": {Code: "RATE_LIMITED", Message: "too many requests"}})
		}),
	)
}

func keyByAPIKeyOrIP(r *http.Request) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return "key:" + key, nil
	}
	return httprate.KeyByRealIP(r)
}

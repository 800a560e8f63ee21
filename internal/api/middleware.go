package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const actorKey ctxKey = iota

// ActorFrom returns the authenticated caller, "anonymous" outside /api/v1.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey).(string); ok {
		return a
	}
	return "anonymous"
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// LoggingMiddleware logs one line per request and counts it by route.
func LoggingMiddleware(next http.Handler) http.Handler {
	log := logger.With("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.APIRequestsTotal.WithLabelValues(routePattern(r), strconv.Itoa(status)).Inc()
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// AuthMiddleware checks X-API-Key and puts the key's actor in the context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]errorBody{"error": {Code: "UNAUTHORIZED", Message: "missing X-API-Key header"}})
			return
		}
		_, actor, err := h.Auth.VerifyApiKey(key)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]errorBody{"error": {Code: "UNAUTHORIZED", Message: "invalid X-API-Key"}})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuditMiddleware records every mutating call in the audit log.
func (h *Handler) AuditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || h.Audit == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		entry := &core.AuditLog{
			Timestamp:  start.UTC(),
			Actor:      ActorFrom(r.Context()),
			Action:     r.Method + " " + routePattern(r),
			Target:     r.URL.Path,
			DurationMs: time.Since(start).Milliseconds(),
			Status:     "success",
		}
		if ww.Status() >= 400 {
			entry.Status = "failed"
			entry.ErrorMessage = http.StatusText(ww.Status())
		}
		if err := h.Audit.Create(entry); err != nil {
			logger.Warn().Err(err).Str("action", entry.Action).Msg("audit write failed")
		}
	})
}

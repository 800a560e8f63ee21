package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dbinventory/internal/classify"
	"dbinventory/internal/core"
	"dbinventory/internal/scheduler"
	"dbinventory/internal/service"
	"dbinventory/internal/syncer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Deps struct {
	Auth         *service.AuthService
	Registry     *service.Registry
	Orchestrator *syncer.Orchestrator
	Locks        *syncer.LockRegistry
	Engine       *classify.Engine
	Rules        *classify.RuleStore
	Scheduler    *scheduler.Scheduler
	Audit        core.AuditRepository
	// RateLimitPerMin caps requests per API key, or per IP without one.
	// Zero disables the limit.
	RateLimitPerMin int
}

type Handler struct {
	Deps
	docs *DocHandler
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, docs: NewDocHandler()}
}

// Routes builds the router. Everything under /api/v1 needs X-API-Key;
// docs, health and metrics are public.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware)
	if h.RateLimitPerMin > 0 {
		r.Use(RateLimit(h.RateLimitPerMin))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/docs", h.docs.ServeSwaggerUI)
	r.Get("/api/docs/openapi.json", h.docs.GetOpenAPISpec)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Use(h.AuditMiddleware)

		r.Post("/sync/one", h.SyncOne)
		r.Post("/sync/many", h.SyncMany)
		r.Post("/sync/all", h.SyncAll)
		r.Post("/sync/cancel", h.CancelSync)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Get("/locks", h.ListLocks)

		r.Post("/classify", h.Classify)
		r.Get("/classify/batches", h.ListBatches)
		r.Get("/classify/batches/{id}", h.GetBatch)
		r.Get("/classifications", h.ListClassifications)
		r.Post("/classifications", h.CreateClassification)
		r.Get("/classifications/{id}", h.GetClassification)
		r.Put("/classifications/{id}", h.UpdateClassification)
		r.Delete("/classifications/{id}", h.DeleteClassification)
		r.Get("/rules", h.ListRules)
		r.Post("/rules", h.CreateRule)
		r.Get("/rules/{id}", h.GetRule)
		r.Put("/rules/{id}", h.UpdateRule)
		r.Delete("/rules/{id}", h.DeleteRule)

		r.Get("/accounts", h.ListAccounts)
		r.Get("/accounts/{id}", h.GetAccount)
		r.Post("/accounts/{id}/classifications", h.AssignManual)
		r.Delete("/accounts/{id}/classifications/{cid}", h.Unassign)

		r.Get("/instances", h.ListInstances)
		r.Post("/instances", h.CreateInstance)
		r.Get("/instances/{id}", h.GetInstance)
		r.Put("/instances/{id}", h.UpdateInstance)
		r.Delete("/instances/{id}", h.DeleteInstance)
		r.Get("/credentials", h.ListCredentials)
		r.Post("/credentials", h.CreateCredential)
		r.Put("/credentials/{id}", h.RotateCredential)
		r.Delete("/credentials/{id}", h.DeleteCredential)

		r.Get("/jobs", h.ListJobs)
		r.Post("/jobs", h.RegisterJob)
		r.Post("/jobs/{id}/pause", h.PauseJob)
		r.Post("/jobs/{id}/resume", h.ResumeJob)
		r.Post("/jobs/{id}/run", h.RunJob)
		r.Delete("/jobs/{id}", h.RemoveJob)

		r.Get("/audit", h.AuditLogs)
		r.Get("/users", h.ListUsers)
	})
	return r
}

type errorBody struct {
	Code    core.Code `json:"code"`
	Message string    `json:"message"`
}

func statusFor(code core.Code) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeLocked, core.CodeCancelled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a core error code to a status. Untyped errors are 500.
func writeError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	msg := err.Error()
	if errors.Is(err, core.ErrNotFound) {
		msg = "not found"
	}
	writeJSON(w, statusFor(code), map[string]errorBody{"error": {Code: code, Message: msg}})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeError(w, core.Errorf(core.CodeValidation, "", format, args...))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid request body: %v", err)
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid %s", name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && v >= 0 {
		return v
	}
	return def
}

func queryInt64(r *http.Request, name string) int64 {
	v, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return v
}

// syncOverrides are the per-session knobs a sync request may set.
type syncOverrides struct {
	PoolSize         int `json:"pool_size,omitempty"`
	BatchSize        int `json:"batch_size,omitempty"`
	ConnectTimeoutMs int `json:"connect_timeout_ms,omitempty"`
	QueryTimeoutMs   int `json:"query_timeout_ms,omitempty"`
	LockTTLMs        int `json:"lock_ttl_ms,omitempty"`
	DelayMs          int `json:"delay_ms,omitempty"`
}

func (o syncOverrides) options() syncer.SyncOptions {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return syncer.SyncOptions{Options: syncer.Options{
		PoolSize:       o.PoolSize,
		BatchSize:      o.BatchSize,
		ConnectTimeout: ms(o.ConnectTimeoutMs),
		QueryTimeout:   ms(o.QueryTimeoutMs),
		LockTTL:        ms(o.LockTTLMs),
		Delay:          ms(o.DelayMs),
	}}
}

func splitIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

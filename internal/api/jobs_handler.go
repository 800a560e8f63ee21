package api

import (
	"errors"
	"net/http"

	"dbinventory/internal/core"
	"dbinventory/internal/scheduler"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Scheduler.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) RegisterJob(w http.ResponseWriter, r *http.Request) {
	var j core.ScheduledJob
	if !decode(w, r, &j) {
		return
	}
	saved, err := h.Scheduler.Register(r.Context(), j)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *Handler) PauseJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Pause(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

type runResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RunJob runs a job in the request and reports its outcome. A failing
// action is a 200 with status "failed"; the run is recorded either way.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	err := h.Scheduler.RunNow(r.Context(), chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, runResult{Status: "success"})
	case errors.Is(err, scheduler.ErrJobRunning):
		writeError(w, core.E(core.CodeLocked, "job.run", err))
	case errors.Is(err, core.ErrNotFound), errors.Is(err, scheduler.ErrStopped):
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, runResult{Status: "failed", Error: err.Error()})
	}
}

func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

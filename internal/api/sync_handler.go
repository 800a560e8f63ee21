package api

import (
	"net/http"

	"dbinventory/internal/core"

	"github.com/go-chi/chi/v5"
)

type syncOneRequest struct {
	InstanceID int64 `json:"instance_id"`
	syncOverrides
}

type syncManyRequest struct {
	InstanceIDs []int64 `json:"instance_ids"`
	syncOverrides
}

type sessionAccepted struct {
	SessionID string `json:"session_id"`
}

func (h *Handler) SyncOne(w http.ResponseWriter, r *http.Request) {
	var req syncOneRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Orchestrator.SyncOne(r.Context(), req.InstanceID, ActorFrom(r.Context()), req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionAccepted{SessionID: id})
}

func (h *Handler) SyncMany(w http.ResponseWriter, r *http.Request) {
	var req syncManyRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Orchestrator.SyncMany(r.Context(), req.InstanceIDs, ActorFrom(r.Context()), req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionAccepted{SessionID: id})
}

func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	var req syncOverrides
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	id, err := h.Orchestrator.SyncAllActive(r.Context(), ActorFrom(r.Context()), req.options())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionAccepted{SessionID: id})
}

func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	var req sessionAccepted
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		badRequest(w, "session_id is required")
		return
	}
	ok, err := h.Orchestrator.CancelSession(r.Context(), req.SessionID, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := h.Orchestrator.Sessions(r.Context(), core.SessionFilter{
		Status:   core.SessionStatus(q.Get("status")),
		Kind:     core.SyncKind(q.Get("kind")),
		Category: core.SyncCategory(q.Get("category")),
		Limit:    queryInt(r, "limit", 50),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type sessionDetail struct {
	*core.SyncSession
	Records []core.SyncRecord `json:"records"`
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, recs, err := h.Orchestrator.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{SyncSession: s, Records: recs})
}

func (h *Handler) ListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.Locks.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, locks)
}

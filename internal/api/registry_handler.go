package api

import (
	"net/http"

	"dbinventory/internal/core"
)

func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := h.Registry.ListInstances(r.Context(), r.URL.Query().Get("include_deleted") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	inst, err := h.Registry.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var inst core.Instance
	if !decode(w, r, &inst) {
		return
	}
	inst.ID = 0
	if err := h.Registry.CreateInstance(r.Context(), &inst); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (h *Handler) UpdateInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var inst core.Instance
	if !decode(w, r, &inst) {
		return
	}
	inst.ID = id
	if err := h.Registry.UpdateInstance(r.Context(), &inst); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *Handler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Registry.DeleteInstance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type credentialRequest struct {
	Name        string `json:"name"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Description string `json:"description"`
}

func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	list, err := h.Registry.ListCredentials(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Registry.CreateCredential(r.Context(), req.Name, req.Username, req.Password, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// RotateCredential replaces the password; a non-empty username replaces it too.
func (h *Handler) RotateCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req credentialRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Password == "" {
		badRequest(w, "password is required")
		return
	}
	c, err := h.Registry.RotateCredential(r.Context(), id, req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Registry.DeleteCredential(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.Audit.GetRecent(queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Auth.ListUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

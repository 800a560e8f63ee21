package api

import (
	"net/http"

	"dbinventory/internal/classify"
	"dbinventory/internal/core"

	"github.com/go-chi/chi/v5"
)

// Classify runs a batch synchronously. A batch that ran but failed is
// still returned with 200; its status says so.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var scope classify.Scope
	if r.ContentLength > 0 && !decode(w, r, &scope) {
		return
	}
	b, err := h.Engine.Classify(r.Context(), scope, ActorFrom(r.Context()))
	if b == nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.Engine.Batches(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Batch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) ListClassifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.Rules.ListClassifications(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetClassification(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	c, err := h.Rules.GetClassification(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) CreateClassification(w http.ResponseWriter, r *http.Request) {
	var c core.Classification
	if !decode(w, r, &c) {
		return
	}
	c.ID = 0
	if err := h.Rules.CreateClassification(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateClassification(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var c core.Classification
	if !decode(w, r, &c) {
		return
	}
	c.ID = id
	if err := h.Rules.UpdateClassification(r.Context(), &c); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteClassification(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Rules.DeleteClassification(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Rules.ListRules(r.Context(), core.Vendor(r.URL.Query().Get("vendor")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	rule, err := h.Rules.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule core.ClassificationRule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = 0
	if err := h.Rules.CreateRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var rule core.ClassificationRule
	if !decode(w, r, &rule) {
		return
	}
	rule.ID = id
	if err := h.Rules.UpdateRule(r.Context(), &rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.Rules.DeleteRule(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	ids, err := splitIDs(r.URL.Query().Get("ids"))
	if err != nil {
		badRequest(w, "invalid ids")
		return
	}
	views, err := h.Engine.Accounts(r.Context(), core.AccountFilter{
		InstanceID: queryInt64(r, "instance_id"),
		AccountIDs: ids,
		Vendor:     core.Vendor(r.URL.Query().Get("vendor")),
		Limit:      queryInt(r, "limit", 100),
		Offset:     queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	v, err := h.Engine.Account(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type assignRequest struct {
	ClassificationID int64 `json:"classification_id"`
}

func (h *Handler) AssignManual(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Engine.AssignManual(r.Context(), id, req.ClassificationID, ActorFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) Unassign(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	cid, ok := idParam(w, r, "cid")
	if !ok {
		return
	}
	if err := h.Engine.Unassign(r.Context(), id, cid, ActorFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

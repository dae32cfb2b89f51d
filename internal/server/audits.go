package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/invoice-reconciler/internal/services/audit"
)

func (h *Handler) auditRoutes(r chi.Router) {
	r.Route("/audits", func(r chi.Router) {
		r.Post("/", h.startAudit)
		r.Get("/", h.listAudits)
		r.Get("/{id}", h.getAudit)
		r.Post("/{id}/counts", h.submitCounts)
		r.Post("/{id}/complete", h.completeAudit)
		r.Post("/{id}/approve", h.approveAudit)
		r.Post("/{id}/reject", h.rejectAudit)
	})
}

type startAuditRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

type countsRequest struct {
	Counts []audit.Count `json:"counts" validate:"required,dive"`
}

func (h *Handler) startAudit(w http.ResponseWriter, r *http.Request) {
	var req startAuditRequest
	// the body is optional
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	a, err := h.d.Audits.StartAudit(r.Context(), tenantOf(r), req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, a)
}

func (h *Handler) listAudits(w http.ResponseWriter, r *http.Request) {
	audits, err := h.d.Audits.ListAudits(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"audits": audits})
}

func (h *Handler) getAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.d.Audits.GetAudit(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, a)
}

func (h *Handler) submitCounts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req countsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.d.Audits.RecordCounts(r.Context(), tenantOf(r), id, req.Counts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (h *Handler) completeAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := h.d.Audits.CompleteAudit(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, sum)
}

func (h *Handler) approveAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.d.Audits.Approve(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (h *Handler) rejectAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, err := h.d.Audits.Reject(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, a)
}

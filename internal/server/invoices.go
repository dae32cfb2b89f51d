package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
	"github.com/joseph-ayodele/invoice-reconciler/internal/pipeline"
)

func (h *Handler) invoiceRoutes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", h.uploadInvoice)              // POST /api/v1/invoices (multipart "file")
		r.Get("/", h.listInvoices)                // GET  /api/v1/invoices?status=completed
		r.Get("/{id}", h.getInvoice)              // GET  /api/v1/invoices/{id}
		r.Post("/{id}/resume", h.resumeInvoice)   // POST /api/v1/invoices/{id}/resume
		r.Post("/{id}/commit", h.commitInvoice)   // POST /api/v1/invoices/{id}/commit
		r.Post("/{id}/matches", h.suggestMatches) // POST /api/v1/invoices/{id}/matches
	})
}

type uploadResponse struct {
	InvoiceID   string                  `json:"invoice_id"`
	Status      constants.InvoiceStatus `json:"status"`
	TotalPages  int                     `json:"total_pages"`
	PollAfterMS int64                   `json:"poll_after_ms"`
}

func (h *Handler) uploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.d.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, common.InvalidInputf("upload exceeds %d bytes", h.d.MaxUploadBytes))
			return
		}
		writeError(w, r, common.InvalidInputf("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, common.InvalidInputf("read upload: %v", err))
		return
	}

	inv, err := h.d.Invoices.Upload(r.Context(), tenantOf(r), header.Filename, content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusAccepted, uploadResponse{
		InvoiceID:   inv.ID.String(),
		Status:      inv.Status,
		TotalPages:  inv.TotalPages,
		PollAfterMS: pipeline.PollAfter.Milliseconds(),
	})
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.d.Invoices.GetInvoiceStatus(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, v)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	status := constants.InvoiceStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, common.InvalidInputf("unknown invoice status %q", status))
		return
	}
	invoices, err := h.d.Invoices.ListInvoices(r.Context(), tenantOf(r), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (h *Handler) resumeInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.d.Invoices.Resume(r.Context(), tenantOf(r), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusAccepted, v)
}

// itemsRequest is the reviewer's edited line-item list. Items are decoded
// loosely so older clients' key spellings are accepted.
type itemsRequest struct {
	Items []map[string]any `json:"items"`
}

func (h *Handler) commitInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req itemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items, err := decodeItems(req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.d.Commit.Commit(r.Context(), tenantOf(r), id, items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, res)
}

func (h *Handler) suggestMatches(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req itemsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items, err := decodeItems(req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// An empty body matches the invoice's own extracted items.
	if len(items) == 0 {
		v, err := h.d.Invoices.GetInvoiceStatus(r.Context(), tenantOf(r), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		items = v.LineItems
	}
	suggestions, err := h.d.Matching.Suggest(r.Context(), tenantOf(r), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"invoice_id": id, "suggestions": suggestions})
}

var amountKeys = []string{"quantity", "unit_cost", "total_price"}

// decodeItems maps loosely keyed item objects onto line items.
func decodeItems(raw []map[string]any) ([]entity.LineItem, error) {
	items := make([]entity.LineItem, 0, len(raw))
	for i, m := range raw {
		if m == nil {
			return nil, itemError(i, "must be an object")
		}
		llm.NormalizeItemKeys(m)
		for _, k := range amountKeys {
			s, ok := m[k].(string)
			if !ok {
				continue
			}
			d, ok := llm.ParseAmount(s)
			if !ok {
				return nil, itemError(i, k+" is not a number")
			}
			m[k] = json.Number(d.String())
		}
		if v, ok := m["expiry"]; ok {
			if d, ok := llm.NormalizeDate(v); ok {
				m["expiry"] = d + "T00:00:00Z"
			} else {
				delete(m, "expiry")
			}
		}
		if s, ok := m["product_id"].(string); ok && s == "" {
			delete(m, "product_id")
		}

		b, err := json.Marshal(m)
		if err != nil {
			return nil, itemError(i, err.Error())
		}
		var it entity.LineItem
		if err := json.Unmarshal(b, &it); err != nil {
			return nil, itemError(i, err.Error())
		}
		items = append(items, it)
	}
	return items, nil
}

func itemError(i int, msg string) error {
	return common.NewAppError("VALIDATION_ERROR", fmt.Sprintf("items[%d]: %s", i, msg), common.ErrValidation)
}

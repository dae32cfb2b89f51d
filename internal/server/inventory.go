package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/inventory"
)

func (h *Handler) inventoryRoutes(r chi.Router) {
	r.Route("/inventory", func(r chi.Router) {
		r.Get("/", h.listInventory)               // GET /api/v1/inventory?active=true
		r.Put("/", h.upsertInventory)             // PUT /api/v1/inventory
		r.Get("/{id}/movements", h.listMovements) // GET /api/v1/inventory/{id}/movements
	})
	r.Route("/vendors", func(r chi.Router) {
		r.Get("/", h.listVendors)
		r.Get("/{name}", h.getVendor)
	})
}

func (h *Handler) listInventory(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, common.InvalidInputf("active must be a boolean"))
			return
		}
		activeOnly = b
	}
	recs, err := h.d.Inventory.ListInventory(r.Context(), tenantOf(r), activeOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"inventory": recs})
}

func (h *Handler) upsertInventory(w http.ResponseWriter, r *http.Request) {
	var req inventory.UpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.d.Inventory.UpsertInventory(r.Context(), tenantOf(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, rec)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	moves, err := h.d.Inventory.ListMovements(r.Context(), tenantOf(r), &id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"movements": moves})
}

func (h *Handler) listVendors(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.d.Vendors.ListVendorProfiles(r.Context(), tenantOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"vendors": profiles})
}

func (h *Handler) getVendor(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, common.InvalidInputf("malformed vendor name"))
		return
	}
	p, err := h.d.Vendors.GetVendorProfile(r.Context(), tenantOf(r), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, p)
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// exportWorkbook streams the tenant workbook. from/to are optional
// YYYY-MM-DD bounds on the movements sheet.
func (h *Handler) exportWorkbook(w http.ResponseWriter, r *http.Request) {
	from, err := queryDate(r, "from")
	if err != nil {
		writeError(w, r, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if from != nil && to != nil && to.Before(*from) {
		writeError(w, r, common.InvalidInputf("to must not be before from"))
		return
	}
	b, err := h.d.Export.ExportWorkbook(r.Context(), tenantOf(r), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="inventory-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func queryDate(r *http.Request, key string) (*time.Time, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, common.InvalidInputf("%s must be YYYY-MM-DD", key)
	}
	return &t, nil
}

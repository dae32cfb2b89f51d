// Package server exposes the reconciler over HTTP with chi.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/export"
	"github.com/joseph-ayodele/invoice-reconciler/internal/pipeline"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/audit"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/commit"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/inventory"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/matching"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/vendor"
)

// TenantHeader carries the caller's tenant on every /api request.
const TenantHeader = "X-Tenant-ID"

const defaultMaxUploadBytes = 25 << 20

// Deps are the services the handlers call.
type Deps struct {
	Invoices  *pipeline.Processor
	Commit    *commit.Service
	Matching  *matching.Service
	Audits    *audit.Service
	Vendors   *vendor.Service
	Inventory *inventory.Service
	Export    *export.Service

	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Handler struct {
	d      Deps
	logger *slog.Logger
}

// NewRouter builds the full HTTP surface.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = defaultMaxUploadBytes
	}
	h := &Handler{d: d, logger: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(requireTenant)
		h.invoiceRoutes(r)
		h.auditRoutes(r)
		h.inventoryRoutes(r)
		r.Get("/export.xlsx", h.exportWorkbook)
	})
	return r
}

// requestLogger attaches a request-scoped slog logger and logs each request
// once it completes.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := common.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		log := common.LoggerFromContext(ctx, h.logger)
		ctx = common.WithLogger(ctx, log)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		log.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(TenantHeader)) == "" {
			writeError(w, r, common.InvalidInputf("%s header is required", TenantHeader))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps domain sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrAlreadyCommitted),
		errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrNotReviewable):
		return http.StatusConflict
	case errors.Is(err, common.ErrProductUnresolved):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: errorDetail{Code: common.ErrorCode(err), Message: err.Error()}}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body.Error.Message = appErr.Message
	}
	if status == http.StatusInternalServerError {
		common.LoggerFromContext(r.Context(), nil).Error("http.request.failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		body.Error.Message = "internal error"
	}
	respond(w, status, body)
}

// decodeJSON reads a JSON body into v and runs struct validation on it.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return common.InvalidInputf("request body is required")
		}
		return common.InvalidInputf("malformed JSON body: %v", err)
	}
	return common.ValidateStruct(v)
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.InvalidInputf("%s %q is not a valid UUID", name, raw)
	}
	return id, nil
}

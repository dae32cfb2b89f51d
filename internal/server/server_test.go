package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/document"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/export"
	"github.com/joseph-ayodele/invoice-reconciler/internal/ingest"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
	"github.com/joseph-ayodele/invoice-reconciler/internal/lock"
	"github.com/joseph-ayodele/invoice-reconciler/internal/pipeline"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository/memory"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/audit"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/commit"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/inventory"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/matching"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/vendor"
)

const tenant = "store-1"

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type fixedExtractor struct{}

func (fixedExtractor) Extract(_ context.Context, _ llm.Page) (entity.Extraction, []byte, error) {
	return entity.Extraction{
		Vendor:   entity.VendorContact{Name: "Fresh Valley Dairy Co.", Phone: "555-0100"},
		Metadata: entity.InvoiceMetadata{InvoiceNumber: "INV-100", TotalAmount: decimal.RequireFromString("27.50")},
		Items: []entity.LineItem{
			{ProductName: "Milk", Quantity: decimal.NewFromInt(5), UnitCost: decimal.RequireFromString("1.50")},
			{ProductName: "Bread", Quantity: decimal.NewFromInt(10), UnitCost: decimal.RequireFromString("2.00")},
		},
		Source: constants.SourceLive,
	}, nil, nil
}

type testServer struct {
	srv   *httptest.Server
	store *memory.Store
	proc  *pipeline.Processor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	blobs, err := ingest.NewBlobStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	proc := pipeline.NewProcessor(nil, pipeline.Config{PageConcurrency: 1, LeaseTTL: time.Minute},
		store, blobs, document.NewPaginator(document.Config{}, nil), fixedExtractor{}, lock.NewMemory())

	h := NewRouter(Deps{
		Invoices:  proc,
		Commit:    commit.NewService(store, nil),
		Matching:  matching.NewService(store.Inventory(), nil),
		Audits:    audit.NewService(store, nil),
		Vendors:   vendor.NewService(store.Invoices(), nil),
		Inventory: inventory.NewService(store, nil),
		Export:    export.NewService(store, nil),

		MaxUploadBytes: 1 << 20,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, proc: proc}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(TenantHeader, tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, out
}

func (ts *testServer) upload(t *testing.T, name string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(content)
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/v1/invoices", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(TenantHeader, tenant)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return ts.send(t, req)
}

// processed uploads an image invoice and runs the processing job inline.
func (ts *testServer) processed(t *testing.T) string {
	t.Helper()
	resp, body := ts.upload(t, "invoice.png", pngBytes)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload status = %d, body %v", resp.StatusCode, body)
	}
	id := body["invoice_id"].(string)
	if err := ts.proc.Advance(context.Background(), tenant, uuid.MustParse(id)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	return id
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthzNeedsNoTenant(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/v1/invoices", nil)
	resp, body := ts.send(t, req)
	if resp.StatusCode != http.StatusBadRequest || errorCode(body) != "INVALID_INPUT" {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
}

func TestInvoiceUploadCommitFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.processed(t)

	resp, view := ts.do(t, http.MethodGet, "/api/v1/invoices/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	if view["status"] != string(constants.InvoiceStatusCompleted) {
		t.Fatalf("status = %v", view["status"])
	}
	if items, _ := view["line_items"].([]any); len(items) != 2 {
		t.Fatalf("line_items = %v", view["line_items"])
	}

	resp, matches := ts.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/matches", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("matches status = %d, body %v", resp.StatusCode, matches)
	}
	if s, _ := matches["suggestions"].([]any); len(s) != 2 {
		t.Fatalf("suggestions = %v", matches["suggestions"])
	}

	// alias keys from older clients are accepted
	items := []map[string]any{
		{"name": "Milk", "qty": 5, "price": "1.50"},
		{"product_name": "Bread", "quantity": "10", "unit_cost": 2},
	}
	resp, res := ts.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/commit", map[string]any{"items": items})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("commit status = %d, body %v", resp.StatusCode, res)
	}
	if res["items_applied"] != float64(2) {
		t.Fatalf("items_applied = %v", res["items_applied"])
	}

	resp, res = ts.do(t, http.MethodPost, "/api/v1/invoices/"+id+"/commit", map[string]any{"items": items})
	if resp.StatusCode != http.StatusConflict || errorCode(res) != "ALREADY_COMMITTED" {
		t.Fatalf("second commit = %d %v", resp.StatusCode, res)
	}

	recs, err := ts.store.ListInventory(context.Background(), tenant, false)
	if err != nil {
		t.Fatalf("list inventory: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 inventory records, got %d", len(recs))
	}

	resp, vendors := ts.do(t, http.MethodGet, "/api/v1/vendors/fresh%20valley%20dairy%20co", nil)
	if resp.StatusCode != http.StatusOK || vendors["phone"] != "555-0100" {
		t.Fatalf("vendor = %d %v", resp.StatusCode, vendors)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	done := ts.processed(t)

	_, pending := ts.upload(t, "second.png", append(pngBytes, 1))
	pendingID := pending["invoice_id"].(string)

	_, started := ts.do(t, http.MethodPost, "/api/v1/audits", map[string]any{"notes": "weekly"})
	auditID := started["audit_id"].(string)

	unknown := uuid.NewString()
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown invoice", http.MethodGet, "/api/v1/invoices/" + unknown, nil, http.StatusNotFound, "NOT_FOUND"},
		{"malformed id", http.MethodGet, "/api/v1/invoices/not-a-uuid", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad status filter", http.MethodGet, "/api/v1/invoices?status=bogus", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing body", http.MethodPost, "/api/v1/invoices/" + done + "/commit", nil, http.StatusBadRequest, "INVALID_INPUT"},
		{"empty items", http.MethodPost, "/api/v1/invoices/" + done + "/commit",
			map[string]any{"items": []any{}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"non-numeric quantity", http.MethodPost, "/api/v1/invoices/" + done + "/commit",
			map[string]any{"items": []any{map[string]any{"name": "Milk", "qty": "lots"}}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unresolved product", http.MethodPost, "/api/v1/invoices/" + done + "/commit",
			map[string]any{"items": []any{map[string]any{"product_id": unknown, "quantity": 1, "unit_cost": 1}}},
			http.StatusUnprocessableEntity, "PRODUCT_UNRESOLVED"},
		{"not reviewable", http.MethodPost, "/api/v1/invoices/" + pendingID + "/commit",
			map[string]any{"items": []any{map[string]any{"name": "Milk", "quantity": 1, "unit_cost": 1}}},
			http.StatusConflict, "NOT_REVIEWABLE"},
		{"approve pending audit", http.MethodPost, "/api/v1/audits/" + auditID + "/approve", nil, http.StatusConflict, "INVALID_TRANSITION"},
		{"unknown audit", http.MethodGet, "/api/v1/audits/" + unknown, nil, http.StatusNotFound, "NOT_FOUND"},
		{"invalid upsert", http.MethodPut, "/api/v1/inventory", map[string]any{"cost_price": -1}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown vendor", http.MethodGet, "/api/v1/vendors/nobody", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad export window", http.MethodGet, "/api/v1/export.xlsx?from=2025-02-01&to=2025-01-01", nil, http.StatusBadRequest, "INVALID_INPUT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.do(t, tc.method, tc.path, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d (body %v)", resp.StatusCode, tc.status, body)
			}
			if got := errorCode(body); got != tc.code {
				t.Fatalf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

func TestUploadRejectsUnsupportedFile(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.upload(t, "notes.txt", []byte("hello"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
}

func TestAuditFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	resp, rec := ts.do(t, http.MethodPut, "/api/v1/inventory", map[string]any{
		"name": "Milk", "quantity_on_hand": 10, "cost_price": "1.50",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upsert = %d %v", resp.StatusCode, rec)
	}
	productID := rec["inventory_id"].(string)

	_, started := ts.do(t, http.MethodPost, "/api/v1/audits", nil)
	auditID := started["audit_id"].(string)

	resp, counted := ts.do(t, http.MethodPost, "/api/v1/audits/"+auditID+"/counts", map[string]any{
		"counts": []any{
			map[string]any{"product_id": productID, "actual_quantity": 8},
			map[string]any{"product_id": uuid.NewString(), "actual_quantity": 1},
		},
	})
	if resp.StatusCode != http.StatusOK || counted["recorded"] != float64(1) {
		t.Fatalf("counts = %d %v", resp.StatusCode, counted)
	}
	if rejected, _ := counted["rejected"].([]any); len(rejected) != 1 {
		t.Fatalf("rejected = %v", counted["rejected"])
	}

	resp, sum := ts.do(t, http.MethodPost, "/api/v1/audits/"+auditID+"/complete", nil)
	if resp.StatusCode != http.StatusOK || sum["total_loss"] != float64(2) {
		t.Fatalf("complete = %d %v", resp.StatusCode, sum)
	}

	resp, approved := ts.do(t, http.MethodPost, "/api/v1/audits/"+auditID+"/approve", nil)
	if resp.StatusCode != http.StatusOK || approved["status"] != string(constants.AuditStatusApproved) {
		t.Fatalf("approve = %d %v", resp.StatusCode, approved)
	}

	resp, moves := ts.do(t, http.MethodGet, "/api/v1/inventory/"+productID+"/movements", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("movements = %d", resp.StatusCode)
	}
	if list, _ := moves["movements"].([]any); len(list) != 1 {
		t.Fatalf("movements = %v", moves["movements"])
	}

	resp, body := ts.do(t, http.MethodPost, "/api/v1/audits/"+auditID+"/reject", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("reject after approve = %d %v", resp.StatusCode, body)
	}
}

func TestAuditCountsRequireQuantity(t *testing.T) {
	ts := newTestServer(t)
	_, rec := ts.do(t, http.MethodPut, "/api/v1/inventory", map[string]any{
		"name": "Milk", "quantity_on_hand": 10, "cost_price": "1.50",
	})
	productID := rec["inventory_id"].(string)
	_, started := ts.do(t, http.MethodPost, "/api/v1/audits", nil)
	auditID := started["audit_id"].(string)

	tests := []struct {
		name  string
		count map[string]any
	}{
		{"null quantity", map[string]any{"product_id": productID, "actual_quantity": nil}},
		{"omitted quantity", map[string]any{"product_id": productID}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/v1/audits/"+auditID+"/counts", map[string]any{
				"counts": []any{tc.count},
			})
			if resp.StatusCode != http.StatusBadRequest || errorCode(body) != "VALIDATION_ERROR" {
				t.Fatalf("counts = %d %v, want 400 VALIDATION_ERROR", resp.StatusCode, body)
			}
		})
	}

	_, got := ts.do(t, http.MethodGet, "/api/v1/audits/"+auditID, nil)
	items, _ := got["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", got["items"])
	}
	if q := items[0].(map[string]any)["actual_quantity"]; q != nil {
		t.Fatalf("rejected submission recorded a count: %v", q)
	}

	resp, sum := ts.do(t, http.MethodPost, "/api/v1/audits/"+auditID+"/complete", nil)
	if resp.StatusCode != http.StatusOK || sum["total_loss"] != float64(0) || sum["counted_items"] != float64(0) {
		t.Fatalf("complete = %d %v", resp.StatusCode, sum)
	}
}

func TestExportWorkbookServesXLSX(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/v1/export.xlsx?from=2025-01-01", nil)
	req.Header.Set(TenantHeader, tenant)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != xlsxContentType {
		t.Fatalf("status = %d, content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !bytes.HasPrefix(buf.Bytes(), []byte("PK")) {
		t.Fatalf("body is not a zip archive")
	}
}

func TestDecodeItemsNormalizesKeys(t *testing.T) {
	id := uuid.New()
	items, err := decodeItems([]map[string]any{{
		"description":        "Whole Milk",
		"qty":                json.Number("12"),
		"unit_price":         "$1,250.00",
		"expiration_date":    "03/15/2026",
		"matched_product_id": id.String(),
	}})
	if err != nil {
		t.Fatalf("decodeItems: %v", err)
	}
	it := items[0]
	if it.ProductName != "Whole Milk" || !it.Quantity.Equal(decimal.NewFromInt(12)) ||
		!it.UnitCost.Equal(decimal.RequireFromString("1250")) {
		t.Fatalf("unexpected item: %+v", it)
	}
	if it.Expiry == nil || it.Expiry.Format("2006-01-02") != "2026-03-15" {
		t.Fatalf("expiry = %v", it.Expiry)
	}
	if it.ProductID == nil || *it.ProductID != id {
		t.Fatalf("product_id = %v", it.ProductID)
	}
}

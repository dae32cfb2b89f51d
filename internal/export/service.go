package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/vendor"
)

const (
	sheetInventory = "Inventory"
	sheetVendors   = "Vendors"
	sheetAudits    = "Audits"
	sheetMovements = "Movements"
)

// Service produces XLSX workbooks of a tenant's stock, suppliers, audits and
// ledger. Money columns are written as fixed two-decimal text.
type Service struct {
	store  repository.Store
	logger *slog.Logger
}

func NewService(store repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportWorkbook returns the workbook bytes. from/to bound the Movements sheet:
// only from -> from..today (inclusive); only to -> beginning..to (inclusive);
// neither -> the whole ledger. The other sheets are always complete.
func (s *Service) ExportWorkbook(ctx context.Context, tenant string, from, to *time.Time) ([]byte, error) {
	start := time.Now()
	fromDate, toDate := window(from, to)

	recs, err := s.store.Inventory().ListInventory(ctx, tenant, false)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	invs, err := s.store.Invoices().ListInvoices(ctx, tenant, repository.InvoiceFilter{Status: constants.InvoiceStatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	audits, err := s.store.Audits().ListAudits(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	moves, err := s.store.Inventory().ListMovements(ctx, tenant, nil)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetInventory); err != nil {
		return nil, err
	}
	for _, name := range []string{sheetVendors, sheetAudits, sheetMovements} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	names := make(map[string]string, len(recs))
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		names[r.ID.String()] = r.Name
		rows = append(rows, []any{
			r.Name, r.SKU, r.UPC, r.Category, r.QuantityOnHand,
			r.CostPrice.StringFixed(2), r.SellingPrice.StringFixed(2),
			r.ReorderLevel, r.Active, r.UpdatedAt.Format(time.RFC3339),
		})
	}
	if err := writeSheet(f, sheetInventory,
		[]string{"Product", "SKU", "UPC", "Category", "On Hand", "Cost Price", "Selling Price", "Reorder Level", "Active", "Updated"},
		rows, map[string]float64{"A": 32, "B:C": 16, "D": 16, "J": 22}); err != nil {
		return nil, err
	}

	profiles := vendor.Fold(invs)
	rows = rows[:0]
	for _, p := range profiles {
		rows = append(rows, []any{
			p.Name, p.EIN, p.Email, p.Phone, p.ShippingAddress, p.InvoiceCount,
			p.TotalSpend.StringFixed(2), dateOrBlank(p.LastOrderDate),
		})
	}
	if err := writeSheet(f, sheetVendors,
		[]string{"Vendor", "EIN", "Email", "Phone", "Shipping Address", "Invoices", "Total Spend", "Last Order"},
		rows, map[string]float64{"A": 32, "C": 28, "E": 40, "H": 14}); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, a := range audits {
		rows = append(rows, []any{
			a.ID.String(), string(a.Status), a.StartedAt.Format(time.RFC3339),
			timeOrBlank(a.CompletedAt), timeOrBlank(a.DecidedAt),
			a.TotalGain, a.TotalLoss, a.NetVarianceValue.StringFixed(2), a.Notes,
		})
	}
	if err := writeSheet(f, sheetAudits,
		[]string{"Audit", "Status", "Started", "Completed", "Decided", "Gain", "Loss", "Net Value", "Notes"},
		rows, map[string]float64{"A": 38, "C:E": 22, "I": 48}); err != nil {
		return nil, err
	}

	rows = rows[:0]
	for _, m := range moves {
		if !inWindow(m.CreatedAt, fromDate, toDate) {
			continue
		}
		rows = append(rows, []any{
			m.CreatedAt.Format(time.RFC3339), names[m.InventoryID.String()], string(m.Kind),
			m.Delta, m.QuantityAfter, m.Reference.String(),
		})
	}
	if err := writeSheet(f, sheetMovements,
		[]string{"Date", "Product", "Kind", "Delta", "Quantity After", "Reference"},
		rows, map[string]float64{"A": 22, "B": 32, "C": 18, "F": 38}); err != nil {
		return nil, err
	}
	movementRows := len(rows)

	idx, _ := f.GetSheetIndex(sheetInventory)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"tenant_id", tenant,
		"inventory", len(recs),
		"vendors", len(profiles),
		"audits", len(audits),
		"movements", movementRows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, widths map[string]float64) error {
	head := make([]any, len(headers))
	for i, h := range headers {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	for cols, w := range widths {
		lo, hi := cols, cols
		if len(cols) == 3 && cols[1] == ':' {
			lo, hi = cols[:1], cols[2:]
		}
		_ = f.SetColWidth(sheet, lo, hi, w)
	}
	return nil
}

// window normalizes the optional bounds to UTC dates.
func window(from, to *time.Time) (*time.Time, *time.Time) {
	day := func(t time.Time) *time.Time {
		d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &d
	}
	var f, t *time.Time
	if from != nil {
		f = day(*from)
	}
	if to != nil {
		t = day(*to)
	}
	if f != nil && t == nil {
		t = day(time.Now().UTC())
	}
	return f, t
}

func inWindow(ts time.Time, from, to *time.Time) bool {
	ts = ts.UTC()
	if from != nil && ts.Before(*from) {
		return false
	}
	if to != nil && !ts.Before(to.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func dateOrBlank(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func timeOrBlank(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

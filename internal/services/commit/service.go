// Package commit applies reviewed invoice line items to inventory.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

// maxLineQuantity bounds a single committed line. Anything larger is a
// review mistake, and it keeps IntPart and the stock sum inside int64.
var maxLineQuantity = decimal.NewFromInt(1_000_000_000)

// Service handles the inventory commit of reviewed invoices.
type Service struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new commit service.
func NewService(store repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Result summarizes one applied commit.
type Result struct {
	InvoiceID       uuid.UUID   `json:"invoice_id"`
	ItemsApplied    int         `json:"items_applied"`
	CreatedProducts []uuid.UUID `json:"created_products"`
	UpdatedProducts []uuid.UUID `json:"updated_products"`
	CommittedAt     time.Time   `json:"committed_at"`
}

// Commit applies items to the tenant's stock. Every item is applied or none
// is: an unresolvable product match aborts the whole commit and leaves the
// invoice committable. A second commit of the same invoice fails with
// ErrAlreadyCommitted and changes nothing.
func (s *Service) Commit(ctx context.Context, tenant string, invoiceID uuid.UUID, items []entity.LineItem) (*Result, error) {
	start := time.Now()
	if err := validateItems(items); err != nil {
		return nil, err
	}
	items = append([]entity.LineItem(nil), items...)
	for i := range items {
		if items[i].Position == 0 {
			items[i].Position = i + 1
		}
	}

	inv, err := s.store.Invoices().GetInvoice(ctx, tenant, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Committed() {
		return nil, alreadyCommitted(invoiceID)
	}
	if inv.Status != constants.InvoiceStatusCompleted {
		return nil, common.NewAppError("NOT_REVIEWABLE",
			fmt.Sprintf("invoice %s is %s, only completed invoices can be committed", invoiceID, inv.Status), common.ErrNotReviewable)
	}

	now := s.now().UTC()
	res := &Result{
		InvoiceID:       invoiceID,
		CreatedProducts: []uuid.UUID{},
		UpdatedProducts: []uuid.UUID{},
		CommittedAt:     now,
	}
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Invoices().MarkCommitted(ctx, tenant, invoiceID, now)
		if err != nil {
			return err
		}
		if !ok {
			return alreadyCommitted(invoiceID)
		}
		for _, it := range items {
			id, created, err := s.apply(ctx, tx, inv, it, now)
			if err != nil {
				return err
			}
			if created {
				res.CreatedProducts = append(res.CreatedProducts, id)
			} else {
				res.UpdatedProducts = append(res.UpdatedProducts, id)
			}
			res.ItemsApplied++
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("commit.rejected", "tenant_id", tenant, "invoice_id", invoiceID, "error", err)
		return nil, err
	}

	s.logger.Info("commit.applied",
		"tenant_id", tenant, "invoice_id", invoiceID, "items", res.ItemsApplied,
		"created", len(res.CreatedProducts), "updated", len(res.UpdatedProducts),
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

// apply resolves one item to an inventory record, creating one when the
// reviewer did not match it, and receives the quantity into stock.
func (s *Service) apply(ctx context.Context, tx repository.Store, inv *entity.Invoice, it entity.LineItem, now time.Time) (uuid.UUID, bool, error) {
	qty := it.Quantity.IntPart()
	cost := it.UnitCost.Round(2)

	var (
		rec     *entity.InventoryRecord
		created bool
	)
	if it.ProductID != nil {
		r, err := tx.Inventory().GetInventory(ctx, inv.TenantID, *it.ProductID)
		if errors.Is(err, common.ErrNotFound) {
			return uuid.Nil, false, common.NewAppError("PRODUCT_UNRESOLVED",
				fmt.Sprintf("line %d (%s): product %s not found", it.Position, it.ProductName, *it.ProductID), common.ErrProductUnresolved)
		}
		if err != nil {
			return uuid.Nil, false, err
		}
		rec = r
	} else {
		r, err := createRecord(ctx, tx, inv.TenantID, it, now)
		if err != nil {
			return uuid.Nil, false, err
		}
		rec, created = r, true
	}

	after, err := tx.Inventory().AddStock(ctx, inv.TenantID, rec.ID, qty, cost)
	if err != nil {
		return uuid.Nil, false, err
	}
	if qty == 0 {
		return rec.ID, created, nil
	}

	invoiceID := inv.ID
	if err := tx.Inventory().CreateBatch(ctx, &entity.Batch{
		ID:          uuid.New(),
		InventoryID: rec.ID,
		InvoiceID:   &invoiceID,
		BatchNumber: batchNumber(inv, it),
		Quantity:    qty,
		CostPerUnit: cost,
		Expiry:      it.Expiry,
		Status:      constants.BatchStatusReceived,
		ReceivedAt:  now,
	}); err != nil {
		return uuid.Nil, false, err
	}
	if err := tx.Inventory().AppendMovement(ctx, &entity.StockMovement{
		ID:            uuid.New(),
		TenantID:      inv.TenantID,
		InventoryID:   rec.ID,
		Kind:          constants.MovementInvoiceIn,
		Delta:         qty,
		QuantityAfter: after,
		Reference:     inv.ID,
		CreatedAt:     now,
	}); err != nil {
		return uuid.Nil, false, err
	}
	return rec.ID, created, nil
}

func createRecord(ctx context.Context, tx repository.Store, tenant string, it entity.LineItem, now time.Time) (*entity.InventoryRecord, error) {
	category := strings.TrimSpace(it.Category)
	if c, ok := constants.Canonicalize(category); ok {
		category = string(c)
	}
	prod := &entity.Product{
		ID:       uuid.New(),
		Name:     strings.TrimSpace(it.ProductName),
		SKU:      strings.TrimSpace(it.VendorCode),
		UPC:      strings.TrimSpace(it.UPC),
		Category: category,
	}
	if err := tx.Inventory().CreateProduct(ctx, prod); err != nil {
		return nil, err
	}
	rec := &entity.InventoryRecord{
		ID:           uuid.New(),
		TenantID:     tenant,
		ProductID:    prod.ID,
		Name:         prod.Name,
		SKU:          prod.SKU,
		UPC:          prod.UPC,
		Category:     prod.Category,
		CostPrice:    it.UnitCost.Round(2),
		SellingPrice: decimal.Zero,
		Active:       true,
		UpdatedAt:    now,
	}
	if err := tx.Inventory().CreateInventory(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func batchNumber(inv *entity.Invoice, it entity.LineItem) string {
	ref := inv.Metadata.InvoiceNumber
	if ref == "" {
		ref = strings.ToUpper(inv.ID.String()[:8])
	}
	return fmt.Sprintf("%s-%d", ref, it.Position)
}

func alreadyCommitted(id uuid.UUID) error {
	return common.NewAppError("ALREADY_COMMITTED", fmt.Sprintf("invoice %s was already committed", id), common.ErrAlreadyCommitted)
}

// validateItems checks the reviewed items before anything is read or written.
// Stock is counted in whole units, so fractional quantities are refused.
func validateItems(items []entity.LineItem) error {
	if len(items) == 0 {
		return common.NewAppError("VALIDATION_ERROR", "at least one line item is required", common.ErrValidation)
	}
	var problems []string
	for i, it := range items {
		line := it.Position
		if line == 0 {
			line = i + 1
		}
		if strings.TrimSpace(it.ProductName) == "" && it.ProductID == nil {
			problems = append(problems, fmt.Sprintf("line %d: product_name or product_id is required", line))
		}
		if it.Quantity.IsNegative() {
			problems = append(problems, fmt.Sprintf("line %d: quantity must be >= 0", line))
		} else if !it.Quantity.Equal(it.Quantity.Truncate(0)) {
			problems = append(problems, fmt.Sprintf("line %d: quantity %s must be a whole number", line, it.Quantity))
		} else if it.Quantity.GreaterThan(maxLineQuantity) {
			problems = append(problems, fmt.Sprintf("line %d: quantity %s must be <= %s", line, it.Quantity, maxLineQuantity))
		}
		if it.UnitCost.IsNegative() {
			problems = append(problems, fmt.Sprintf("line %d: unit_cost must be >= 0", line))
		}
	}
	if len(problems) > 0 {
		return common.NewAppError("VALIDATION_ERROR", strings.Join(problems, "; "), common.ErrValidation)
	}
	return nil
}

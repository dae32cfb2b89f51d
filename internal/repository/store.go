package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// InvoiceRef identifies an invoice across tenants, used by the resume sweep.
type InvoiceRef struct {
	TenantID string
	ID       uuid.UUID
}

// InvoiceFilter narrows ListInvoices. Zero value lists everything for the tenant.
type InvoiceFilter struct {
	Status constants.InvoiceStatus
}

// InvoiceRepository persists invoices, their per-page extraction results and
// final line items. Methods returning (bool, error) are conditional updates:
// false means the guard did not match and nothing was written.
type InvoiceRepository interface {
	CreateInvoice(ctx context.Context, inv *entity.Invoice) error
	GetInvoice(ctx context.Context, tenant string, id uuid.UUID) (*entity.Invoice, error)
	ListInvoices(ctx context.Context, tenant string, filter InvoiceFilter) ([]*entity.Invoice, error)
	ListUnfinished(ctx context.Context) ([]InvoiceRef, error)

	TransitionInvoice(ctx context.Context, tenant string, id uuid.UUID, from, to constants.InvoiceStatus) (bool, error)
	AdvancePagesScanned(ctx context.Context, tenant string, id uuid.UUID, scanned int) (bool, error)
	CompleteInvoice(ctx context.Context, inv *entity.Invoice) (bool, error)
	FailInvoice(ctx context.Context, tenant string, id uuid.UUID, reason string) (bool, error)
	MarkCommitted(ctx context.Context, tenant string, id uuid.UUID, at time.Time) (bool, error)

	SavePageResult(ctx context.Context, res entity.PageResult) error
	ListPageResults(ctx context.Context, invoiceID uuid.UUID) ([]entity.PageResult, error)
	DeletePageResults(ctx context.Context, invoiceID uuid.UUID) error
}

// InventoryRepository persists the catalog, per-tenant stock, batches and the
// stock ledger. Quantity changes are single-statement updates.
type InventoryRepository interface {
	CreateProduct(ctx context.Context, p *entity.Product) error
	CreateInventory(ctx context.Context, rec *entity.InventoryRecord) error
	SaveInventory(ctx context.Context, rec *entity.InventoryRecord) error
	GetInventory(ctx context.Context, tenant string, id uuid.UUID) (*entity.InventoryRecord, error)
	ListInventory(ctx context.Context, tenant string, activeOnly bool) ([]*entity.InventoryRecord, error)

	// AddStock adds delta to quantity_on_hand, sets cost_price, and returns the new quantity.
	AddStock(ctx context.Context, tenant string, id uuid.UUID, delta int64, cost decimal.Decimal) (int64, error)
	// SetStock overwrites quantity_on_hand and returns the quantity it replaced.
	SetStock(ctx context.Context, tenant string, id uuid.UUID, qty int64) (int64, error)

	CreateBatch(ctx context.Context, b *entity.Batch) error
	ListOpenBatches(ctx context.Context, inventoryID uuid.UUID) ([]*entity.Batch, error)
	UpdateBatch(ctx context.Context, id uuid.UUID, qty int64, status constants.BatchStatus) error

	AppendMovement(ctx context.Context, m *entity.StockMovement) error
	ListMovements(ctx context.Context, tenant string, inventoryID *uuid.UUID) ([]*entity.StockMovement, error)
}

// AuditRepository persists physical-count sessions.
type AuditRepository interface {
	CreateAudit(ctx context.Context, s *entity.AuditSession) error
	GetAudit(ctx context.Context, tenant string, id uuid.UUID) (*entity.AuditSession, error)
	ListAudits(ctx context.Context, tenant string) ([]*entity.AuditSession, error)

	// LockAudit succeeds only while the session is in status; inside a
	// transaction it serializes writers of the same session.
	LockAudit(ctx context.Context, tenant string, id uuid.UUID, status constants.AuditStatus) (bool, error)
	RecordCount(ctx context.Context, auditID, productID uuid.UUID, actual int64, reason string) (bool, error)
	CompleteAudit(ctx context.Context, s *entity.AuditSession) (bool, error)
	DecideAudit(ctx context.Context, tenant string, id uuid.UUID, to constants.AuditStatus, at time.Time) (bool, error)
}

// Store groups the repositories over one connection. Repositories obtained
// from the Store passed to fn run inside the transaction.
type Store interface {
	Invoices() InvoiceRepository
	Inventory() InventoryRepository
	Audits() AuditRepository
	InTx(ctx context.Context, fn func(tx Store) error) error
}


// Package memory is an in-process repository.Store for tests and demos.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

type pageKey struct {
	invoice uuid.UUID
	index   int
}

type data struct {
	invoices  map[uuid.UUID]entity.Invoice
	pages     map[pageKey]entity.PageResult
	products  map[uuid.UUID]entity.Product
	inventory map[uuid.UUID]entity.InventoryRecord
	batches   map[uuid.UUID]entity.Batch
	movements []entity.StockMovement
	audits    map[uuid.UUID]entity.AuditSession
}

func newData() data {
	return data{
		invoices:  make(map[uuid.UUID]entity.Invoice),
		pages:     make(map[pageKey]entity.PageResult),
		products:  make(map[uuid.UUID]entity.Product),
		inventory: make(map[uuid.UUID]entity.InventoryRecord),
		batches:   make(map[uuid.UUID]entity.Batch),
		audits:    make(map[uuid.UUID]entity.AuditSession),
	}
}

// clone copies every map and the slices nested in stored values. Pointer
// fields (timestamps) are shared; stored values never mutate through them.
func (d data) clone() data {
	c := newData()
	for k, v := range d.invoices {
		v.LineItems = append([]entity.LineItem(nil), v.LineItems...)
		c.invoices[k] = v
	}
	for k, v := range d.pages {
		c.pages[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.inventory {
		c.inventory[k] = v
	}
	for k, v := range d.batches {
		c.batches[k] = v
	}
	c.movements = append([]entity.StockMovement(nil), d.movements...)
	for k, v := range d.audits {
		v.Items = append([]entity.AuditItem(nil), v.Items...)
		c.audits[k] = v
	}
	return c
}

// Store keeps everything in maps behind one mutex. InTx serializes
// transactions and restores a snapshot when fn fails.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	d    data
	now  func() time.Time
}

func New() *Store {
	return &Store{d: newData(), now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Invoices() repository.InvoiceRepository   { return s }
func (s *Store) Inventory() repository.InventoryRepository { return s }
func (s *Store) Audits() repository.AuditRepository       { return s }

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.d = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func copyInvoice(inv entity.Invoice) *entity.Invoice {
	inv.LineItems = append([]entity.LineItem(nil), inv.LineItems...)
	return &inv
}

func (s *Store) CreateInvoice(_ context.Context, inv *entity.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.invoices[inv.ID]; ok {
		return common.InvalidInputf("invoice %s already exists", inv.ID)
	}
	s.d.invoices[inv.ID] = *copyInvoice(*inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, tenant string, id uuid.UUID) (*entity.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.d.invoices[id]
	if !ok || inv.TenantID != tenant {
		return nil, common.NotFoundf("invoice %s not found", id)
	}
	return copyInvoice(inv), nil
}

func (s *Store) ListInvoices(_ context.Context, tenant string, filter repository.InvoiceFilter) ([]*entity.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Invoice
	for _, inv := range s.d.invoices {
		if inv.TenantID != tenant || (filter.Status != "" && inv.Status != filter.Status) {
			continue
		}
		header := inv
		header.LineItems = nil
		out = append(out, &header)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListUnfinished(_ context.Context) ([]repository.InvoiceRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var invs []entity.Invoice
	for _, inv := range s.d.invoices {
		if !inv.Status.Terminal() {
			invs = append(invs, inv)
		}
	}
	sort.Slice(invs, func(i, j int) bool { return invs[i].CreatedAt.Before(invs[j].CreatedAt) })
	out := make([]repository.InvoiceRef, len(invs))
	for i, inv := range invs {
		out[i] = repository.InvoiceRef{TenantID: inv.TenantID, ID: inv.ID}
	}
	return out, nil
}

// updateInvoice applies fn to the tenant's invoice when guard accepts it.
func (s *Store) updateInvoice(tenant string, id uuid.UUID, guard func(entity.Invoice) bool, fn func(*entity.Invoice)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.d.invoices[id]
	if !ok || inv.TenantID != tenant || !guard(inv) {
		return false
	}
	fn(&inv)
	inv.UpdatedAt = s.now()
	s.d.invoices[id] = inv
	return true
}

func (s *Store) TransitionInvoice(_ context.Context, tenant string, id uuid.UUID, from, to constants.InvoiceStatus) (bool, error) {
	return s.updateInvoice(tenant, id,
		func(inv entity.Invoice) bool { return inv.Status == from },
		func(inv *entity.Invoice) { inv.Status = to }), nil
}

func (s *Store) AdvancePagesScanned(_ context.Context, tenant string, id uuid.UUID, scanned int) (bool, error) {
	return s.updateInvoice(tenant, id,
		func(inv entity.Invoice) bool {
			return inv.Status == constants.InvoiceStatusProcessing && inv.PagesScanned <= scanned
		},
		func(inv *entity.Invoice) { inv.PagesScanned = scanned }), nil
}

func (s *Store) CompleteInvoice(_ context.Context, in *entity.Invoice) (bool, error) {
	return s.updateInvoice(in.TenantID, in.ID,
		func(inv entity.Invoice) bool { return inv.Status == constants.InvoiceStatusProcessing },
		func(inv *entity.Invoice) {
			inv.Status = constants.InvoiceStatusCompleted
			inv.PagesScanned = in.PagesScanned
			inv.Vendor = in.Vendor
			inv.Metadata = in.Metadata
			inv.Source = in.Source
			inv.LineItems = append([]entity.LineItem(nil), in.LineItems...)
		}), nil
}

func (s *Store) FailInvoice(_ context.Context, tenant string, id uuid.UUID, reason string) (bool, error) {
	return s.updateInvoice(tenant, id,
		func(inv entity.Invoice) bool { return !inv.Status.Terminal() },
		func(inv *entity.Invoice) {
			inv.Status = constants.InvoiceStatusFailed
			inv.FailureReason = reason
		}), nil
}

func (s *Store) MarkCommitted(_ context.Context, tenant string, id uuid.UUID, at time.Time) (bool, error) {
	return s.updateInvoice(tenant, id,
		func(inv entity.Invoice) bool {
			return inv.Status == constants.InvoiceStatusCompleted && inv.CommittedAt == nil
		},
		func(inv *entity.Invoice) {
			t := at.UTC()
			inv.CommittedAt = &t
		}), nil
}

func (s *Store) SavePageResult(_ context.Context, res entity.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pageKey{invoice: res.InvoiceID, index: res.PageIndex}
	if _, ok := s.d.pages[key]; !ok {
		s.d.pages[key] = res
	}
	return nil
}

func (s *Store) ListPageResults(_ context.Context, invoiceID uuid.UUID) ([]entity.PageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.PageResult
	for k, v := range s.d.pages {
		if k.invoice == invoiceID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageIndex < out[j].PageIndex })
	return out, nil
}

func (s *Store) DeletePageResults(_ context.Context, invoiceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.d.pages {
		if k.invoice == invoiceID {
			delete(s.d.pages, k)
		}
	}
	return nil
}

func (s *Store) CreateProduct(_ context.Context, p *entity.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.products[p.ID] = *p
	return nil
}

func (s *Store) CreateInventory(_ context.Context, rec *entity.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.inventory[rec.ID]; ok {
		return common.InvalidInputf("inventory record %s already exists", rec.ID)
	}
	if _, ok := s.d.products[rec.ProductID]; !ok {
		return common.InvalidInputf("product %s does not exist", rec.ProductID)
	}
	s.d.inventory[rec.ID] = *rec
	return nil
}

func (s *Store) SaveInventory(_ context.Context, rec *entity.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.d.products[rec.ProductID]; !ok {
		return common.InvalidInputf("product %s does not exist", rec.ProductID)
	}
	s.d.inventory[rec.ID] = *rec
	return nil
}

func (s *Store) GetInventory(_ context.Context, tenant string, id uuid.UUID) (*entity.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.d.inventory[id]
	if !ok || rec.TenantID != tenant {
		return nil, common.NotFoundf("inventory record %s not found", id)
	}
	return &rec, nil
}

func (s *Store) ListInventory(_ context.Context, tenant string, activeOnly bool) ([]*entity.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.InventoryRecord
	for _, rec := range s.d.inventory {
		if rec.TenantID != tenant || (activeOnly && !rec.Active) {
			continue
		}
		r := rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) AddStock(_ context.Context, tenant string, id uuid.UUID, delta int64, cost decimal.Decimal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.d.inventory[id]
	if !ok || rec.TenantID != tenant {
		return 0, common.NotFoundf("inventory record %s not found", id)
	}
	if rec.QuantityOnHand+delta < 0 {
		return 0, common.InvalidInputf("quantity_on_hand would go negative for %s", id)
	}
	rec.QuantityOnHand += delta
	rec.CostPrice = cost.Round(2)
	rec.UpdatedAt = s.now()
	s.d.inventory[id] = rec
	return rec.QuantityOnHand, nil
}

func (s *Store) SetStock(_ context.Context, tenant string, id uuid.UUID, qty int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.d.inventory[id]
	if !ok || rec.TenantID != tenant {
		return 0, common.NotFoundf("inventory record %s not found", id)
	}
	before := rec.QuantityOnHand
	rec.QuantityOnHand = qty
	rec.UpdatedAt = s.now()
	s.d.inventory[id] = rec
	return before, nil
}

func (s *Store) CreateBatch(_ context.Context, b *entity.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.batches[b.ID] = *b
	return nil
}

func (s *Store) ListOpenBatches(_ context.Context, inventoryID uuid.UUID) ([]*entity.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.Batch
	for _, b := range s.d.batches {
		if b.InventoryID == inventoryID && b.Status != constants.BatchStatusDepleted && b.Quantity > 0 {
			bt := b
			out = append(out, &bt)
		}
	}
	repository.SortBatchesFIFO(out)
	return out, nil
}

func (s *Store) UpdateBatch(_ context.Context, id uuid.UUID, qty int64, status constants.BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.d.batches[id]
	if !ok {
		return common.NotFoundf("batch %s not found", id)
	}
	b.Quantity = qty
	b.Status = status
	s.d.batches[id] = b
	return nil
}

// Batches returns every batch of an inventory record, depleted ones included.
func (s *Store) Batches(inventoryID uuid.UUID) []entity.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Batch
	for _, b := range s.d.batches {
		if b.InventoryID == inventoryID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

func (s *Store) AppendMovement(_ context.Context, m *entity.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.movements = append(s.d.movements, *m)
	return nil
}

func (s *Store) ListMovements(_ context.Context, tenant string, inventoryID *uuid.UUID) ([]*entity.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.StockMovement
	for _, m := range s.d.movements {
		if m.TenantID != tenant || (inventoryID != nil && m.InventoryID != *inventoryID) {
			continue
		}
		mv := m
		out = append(out, &mv)
	}
	return out, nil
}

func copyAudit(a entity.AuditSession) *entity.AuditSession {
	a.Items = append([]entity.AuditItem(nil), a.Items...)
	for i := range a.Items {
		a.Items[i].ActualQuantity = cloneInt(a.Items[i].ActualQuantity)
		a.Items[i].Discrepancy = cloneInt(a.Items[i].Discrepancy)
	}
	return &a
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

func (s *Store) CreateAudit(_ context.Context, a *entity.AuditSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyAudit(*a)
	sort.SliceStable(c.Items, func(i, j int) bool { return c.Items[i].ProductName < c.Items[j].ProductName })
	s.d.audits[a.ID] = *c
	return nil
}

func (s *Store) GetAudit(_ context.Context, tenant string, id uuid.UUID) (*entity.AuditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.audits[id]
	if !ok || a.TenantID != tenant {
		return nil, common.NotFoundf("audit %s not found", id)
	}
	return copyAudit(a), nil
}

func (s *Store) ListAudits(_ context.Context, tenant string) ([]*entity.AuditSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.AuditSession
	for _, a := range s.d.audits {
		if a.TenantID == tenant {
			h := a
			h.Items = nil
			out = append(out, &h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *Store) LockAudit(_ context.Context, tenant string, id uuid.UUID, status constants.AuditStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.audits[id]
	return ok && a.TenantID == tenant && a.Status == status, nil
}

func (s *Store) RecordCount(_ context.Context, auditID, productID uuid.UUID, actual int64, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.audits[auditID]
	if !ok {
		return false, nil
	}
	for i := range a.Items {
		if a.Items[i].ProductID == productID {
			a.Items[i].ActualQuantity = &actual
			a.Items[i].Reason = reason
			s.d.audits[auditID] = a
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CompleteAudit(_ context.Context, in *entity.AuditSession) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.audits[in.ID]
	if !ok || a.TenantID != in.TenantID || a.Status != constants.AuditStatusPending {
		return false, nil
	}
	disc := make(map[uuid.UUID]*int64, len(in.Items))
	for _, it := range in.Items {
		disc[it.ProductID] = cloneInt(it.Discrepancy)
	}
	for i := range a.Items {
		if d, ok := disc[a.Items[i].ProductID]; ok && d != nil {
			a.Items[i].Discrepancy = d
		}
	}
	a.Status = constants.AuditStatusCompleted
	a.CompletedAt = in.CompletedAt
	a.TotalGain = in.TotalGain
	a.TotalLoss = in.TotalLoss
	a.NetVarianceValue = in.NetVarianceValue.Round(2)
	s.d.audits[in.ID] = a
	return true, nil
}

func (s *Store) DecideAudit(_ context.Context, tenant string, id uuid.UUID, to constants.AuditStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.d.audits[id]
	if !ok || a.TenantID != tenant || a.Status != constants.AuditStatusCompleted {
		return false, nil
	}
	if !to.Terminal() {
		return false, fmt.Errorf("decide audit: %q is not a decision", to)
	}
	t := at.UTC()
	a.Status = to
	a.DecidedAt = &t
	s.d.audits[id] = a
	return true, nil
}

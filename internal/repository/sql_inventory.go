package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

const (
	productsTable  = "products"
	inventoryTable = "inventory"
	batchesTable   = "batches"
	movementsTable = "stock_movements"

	// setStockAttempts bounds the compare-and-set loop in SetStock.
	setStockAttempts = 5
)

var inventoryColumns = []string{
	"id", "tenant_id", "product_id", "name", "sku", "upc", "category",
	"quantity_on_hand", "cost_price", "selling_price", "reorder_level", "active", "updated_at",
}

var batchColumns = []string{
	"id", "inventory_id", "invoice_id", "batch_number", "quantity", "cost_per_unit", "expiry", "status", "received_at",
}

var movementColumns = []string{
	"id", "tenant_id", "inventory_id", "kind", "delta", "quantity_after", "reference", "created_at",
}

type inventoryRepo struct {
	s *sqlStore
}

func (r *inventoryRepo) byID(tenant string, id uuid.UUID) *entsql.Predicate {
	return entsql.And(entsql.EQ("tenant_id", tenant), entsql.EQ("id", id))
}

func (r *inventoryRepo) CreateProduct(ctx context.Context, p *entity.Product) error {
	ins := r.s.builder().Insert(productsTable).
		Columns("id", "name", "sku", "upc", "category", "created_at").
		Values(p.ID, p.Name, p.SKU, p.UPC, p.Category, r.s.now())
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("create product", err, "product_id", p.ID)
	}
	return nil
}

func inventoryValues(rec *entity.InventoryRecord) []any {
	return []any{
		rec.ID, rec.TenantID, rec.ProductID, rec.Name, rec.SKU, rec.UPC, rec.Category,
		rec.QuantityOnHand, rec.CostPrice.Round(2), rec.SellingPrice.Round(2), rec.ReorderLevel, rec.Active, rec.UpdatedAt.UTC(),
	}
}

func (r *inventoryRepo) CreateInventory(ctx context.Context, rec *entity.InventoryRecord) error {
	ins := r.s.builder().Insert(inventoryTable).Columns(inventoryColumns...).Values(inventoryValues(rec)...)
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("create inventory", err, "inventory_id", rec.ID)
	}
	return nil
}

func (r *inventoryRepo) SaveInventory(ctx context.Context, rec *entity.InventoryRecord) error {
	ins := r.s.builder().Insert(inventoryTable).
		Columns(inventoryColumns...).
		Values(inventoryValues(rec)...).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues())
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("save inventory", err, "inventory_id", rec.ID)
	}
	return nil
}

func scanInventory(row rowScanner) (*entity.InventoryRecord, error) {
	var rec entity.InventoryRecord
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.ProductID, &rec.Name, &rec.SKU, &rec.UPC, &rec.Category,
		&rec.QuantityOnHand, &rec.CostPrice, &rec.SellingPrice, &rec.ReorderLevel, &rec.Active, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (r *inventoryRepo) GetInventory(ctx context.Context, tenant string, id uuid.UUID) (*entity.InventoryRecord, error) {
	b := r.s.builder()
	sel := b.Select(inventoryColumns...).From(b.Table(inventoryTable)).Where(r.byID(tenant, id))
	rec, err := scanInventory(r.s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("inventory record %s not found", id)
	}
	if err != nil {
		return nil, r.s.dbError("get inventory", err, "inventory_id", id)
	}
	return rec, nil
}

func (r *inventoryRepo) ListInventory(ctx context.Context, tenant string, activeOnly bool) ([]*entity.InventoryRecord, error) {
	b := r.s.builder()
	where := entsql.EQ("tenant_id", tenant)
	if activeOnly {
		where = entsql.And(where, entsql.EQ("active", true))
	}
	sel := b.Select(inventoryColumns...).From(b.Table(inventoryTable)).Where(where).OrderBy("name", "id")
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list inventory", err, "tenant_id", tenant)
	}
	defer rows.Close()

	var out []*entity.InventoryRecord
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, r.s.dbError("scan inventory", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list inventory", err, "tenant_id", tenant)
	}
	return out, nil
}

func (r *inventoryRepo) quantity(ctx context.Context, tenant string, id uuid.UUID) (int64, error) {
	b := r.s.builder()
	sel := b.Select("quantity_on_hand").From(b.Table(inventoryTable)).Where(r.byID(tenant, id))
	var qty int64
	err := r.s.queryRow(ctx, sel).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.NotFoundf("inventory record %s not found", id)
	}
	if err != nil {
		return 0, r.s.dbError("read quantity", err, "inventory_id", id)
	}
	return qty, nil
}

func (r *inventoryRepo) AddStock(ctx context.Context, tenant string, id uuid.UUID, delta int64, cost decimal.Decimal) (int64, error) {
	upd := r.s.builder().Update(inventoryTable).
		Add("quantity_on_hand", delta).
		Set("cost_price", cost.Round(2)).
		Set("updated_at", r.s.now()).
		Where(r.byID(tenant, id))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return 0, r.s.dbError("add stock", err, "inventory_id", id, "delta", delta)
	}
	if !ok {
		return 0, common.NotFoundf("inventory record %s not found", id)
	}
	return r.quantity(ctx, tenant, id)
}

func (r *inventoryRepo) SetStock(ctx context.Context, tenant string, id uuid.UUID, qty int64) (int64, error) {
	for attempt := 0; attempt < setStockAttempts; attempt++ {
		before, err := r.quantity(ctx, tenant, id)
		if err != nil {
			return 0, err
		}
		upd := r.s.builder().Update(inventoryTable).
			Set("quantity_on_hand", qty).
			Set("updated_at", r.s.now()).
			Where(entsql.And(r.byID(tenant, id), entsql.EQ("quantity_on_hand", before)))
		ok, err := r.s.affected(ctx, upd)
		if err != nil {
			return 0, r.s.dbError("set stock", err, "inventory_id", id, "quantity", qty)
		}
		if ok {
			return before, nil
		}
		r.s.logger.Debug("set stock raced, retrying", "inventory_id", id, "attempt", attempt+1)
	}
	return 0, common.NewAppError("DATABASE_ERROR", fmt.Sprintf("set stock %s: quantity kept changing", id), common.ErrDatabase)
}

func (r *inventoryRepo) CreateBatch(ctx context.Context, bt *entity.Batch) error {
	invoiceID := uuid.NullUUID{}
	if bt.InvoiceID != nil {
		invoiceID = uuid.NullUUID{UUID: *bt.InvoiceID, Valid: true}
	}
	ins := r.s.builder().Insert(batchesTable).
		Columns(batchColumns...).
		Values(bt.ID, bt.InventoryID, invoiceID, bt.BatchNumber, bt.Quantity, bt.CostPerUnit.Round(2),
			nullTime(bt.Expiry), string(bt.Status), bt.ReceivedAt.UTC())
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("create batch", err, "batch_id", bt.ID, "inventory_id", bt.InventoryID)
	}
	return nil
}

func (r *inventoryRepo) ListOpenBatches(ctx context.Context, inventoryID uuid.UUID) ([]*entity.Batch, error) {
	b := r.s.builder()
	sel := b.Select(batchColumns...).
		From(b.Table(batchesTable)).
		Where(entsql.And(
			entsql.EQ("inventory_id", inventoryID),
			entsql.NEQ("status", string(constants.BatchStatusDepleted)),
			entsql.GT("quantity", 0),
		))
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list batches", err, "inventory_id", inventoryID)
	}
	defer rows.Close()

	var out []*entity.Batch
	for rows.Next() {
		var (
			bt        entity.Batch
			invoiceID uuid.NullUUID
			expiry    sql.NullTime
			status    string
		)
		if err := rows.Scan(&bt.ID, &bt.InventoryID, &invoiceID, &bt.BatchNumber, &bt.Quantity,
			&bt.CostPerUnit, &expiry, &status, &bt.ReceivedAt); err != nil {
			return nil, r.s.dbError("scan batch", err, "inventory_id", inventoryID)
		}
		if invoiceID.Valid {
			id := invoiceID.UUID
			bt.InvoiceID = &id
		}
		bt.Expiry = timePtr(expiry)
		bt.Status = constants.BatchStatus(status)
		bt.ReceivedAt = bt.ReceivedAt.UTC()
		out = append(out, &bt)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list batches", err, "inventory_id", inventoryID)
	}
	SortBatchesFIFO(out)
	return out, nil
}

func (r *inventoryRepo) UpdateBatch(ctx context.Context, id uuid.UUID, qty int64, status constants.BatchStatus) error {
	upd := r.s.builder().Update(batchesTable).
		Set("quantity", qty).
		Set("status", string(status)).
		Where(entsql.EQ("id", id))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return r.s.dbError("update batch", err, "batch_id", id)
	}
	if !ok {
		return common.NotFoundf("batch %s not found", id)
	}
	return nil
}

func (r *inventoryRepo) AppendMovement(ctx context.Context, m *entity.StockMovement) error {
	ins := r.s.builder().Insert(movementsTable).
		Columns(movementColumns...).
		Values(m.ID, m.TenantID, m.InventoryID, string(m.Kind), m.Delta, m.QuantityAfter, m.Reference, m.CreatedAt.UTC())
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("append movement", err, "inventory_id", m.InventoryID)
	}
	return nil
}

func (r *inventoryRepo) ListMovements(ctx context.Context, tenant string, inventoryID *uuid.UUID) ([]*entity.StockMovement, error) {
	b := r.s.builder()
	where := entsql.EQ("tenant_id", tenant)
	if inventoryID != nil {
		where = entsql.And(where, entsql.EQ("inventory_id", *inventoryID))
	}
	sel := b.Select(movementColumns...).From(b.Table(movementsTable)).Where(where).OrderBy("created_at")
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list movements", err, "tenant_id", tenant)
	}
	defer rows.Close()

	var out []*entity.StockMovement
	for rows.Next() {
		var (
			m    entity.StockMovement
			kind string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.InventoryID, &kind, &m.Delta, &m.QuantityAfter, &m.Reference, &m.CreatedAt); err != nil {
			return nil, r.s.dbError("scan movement", err)
		}
		m.Kind = constants.MovementKind(kind)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list movements", err, "tenant_id", tenant)
	}
	return out, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

const (
	invoicesTable     = "invoices"
	invoiceItemsTable = "invoice_items"
	invoicePagesTable = "invoice_pages"
)

var invoiceColumns = []string{
	"id", "tenant_id", "status", "document_kind", "file_name", "content_hash",
	"total_pages", "pages_scanned",
	"vendor_name", "vendor_ein", "vendor_website", "vendor_email", "vendor_phone",
	"vendor_fax", "vendor_shipping_address", "vendor_warehouse_address", "vendor_poc_name",
	"invoice_number", "invoice_date", "total_tax", "total_transport", "total_amount",
	"extraction_source", "failure_reason", "committed_at", "created_at", "updated_at",
}

var invoiceItemColumns = []string{
	"invoice_id", "position", "product_name", "vendor_code", "upc",
	"quantity", "unit_cost", "total_price", "category", "expiry", "notes",
}

type invoiceRepo struct {
	s *sqlStore
}

func (r *invoiceRepo) byID(tenant string, id uuid.UUID) *entsql.Predicate {
	return entsql.And(entsql.EQ("tenant_id", tenant), entsql.EQ("id", id))
}

func (r *invoiceRepo) CreateInvoice(ctx context.Context, inv *entity.Invoice) error {
	v, m := inv.Vendor, inv.Metadata
	ins := r.s.builder().Insert(invoicesTable).
		Columns(invoiceColumns...).
		Values(
			inv.ID, inv.TenantID, string(inv.Status), string(inv.Kind), inv.FileName, inv.ContentHash,
			inv.TotalPages, inv.PagesScanned,
			v.Name, v.EIN, v.Website, v.Email, v.Phone,
			v.Fax, v.ShippingAddress, v.WarehouseAddress, v.POCName,
			m.InvoiceNumber, nullTime(m.InvoiceDate), m.TotalTax.Round(2), m.TotalTransport.Round(2), m.TotalAmount.Round(2),
			string(inv.Source), inv.FailureReason, nullTime(inv.CommittedAt), inv.CreatedAt.UTC(), inv.UpdatedAt.UTC(),
		)
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("create invoice", err, "invoice_id", inv.ID)
	}
	return r.insertItems(ctx, inv.ID, inv.LineItems)
}

func (r *invoiceRepo) insertItems(ctx context.Context, invoiceID uuid.UUID, items []entity.LineItem) error {
	if len(items) == 0 {
		return nil
	}
	ins := r.s.builder().Insert(invoiceItemsTable).Columns(invoiceItemColumns...)
	for _, it := range items {
		ins.Values(
			invoiceID, it.Position, it.ProductName, it.VendorCode, it.UPC,
			it.Quantity.Round(3), it.UnitCost.Round(2), it.TotalPrice.Round(2), it.Category, nullTime(it.Expiry), it.Notes,
		)
	}
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("insert invoice items", err, "invoice_id", invoiceID, "items", len(items))
	}
	return nil
}

func scanInvoice(row rowScanner) (*entity.Invoice, error) {
	var (
		inv                      entity.Invoice
		status, kind, source     string
		invoiceDate, committedAt sql.NullTime
	)
	v, m := &inv.Vendor, &inv.Metadata
	err := row.Scan(
		&inv.ID, &inv.TenantID, &status, &kind, &inv.FileName, &inv.ContentHash,
		&inv.TotalPages, &inv.PagesScanned,
		&v.Name, &v.EIN, &v.Website, &v.Email, &v.Phone,
		&v.Fax, &v.ShippingAddress, &v.WarehouseAddress, &v.POCName,
		&m.InvoiceNumber, &invoiceDate, &m.TotalTax, &m.TotalTransport, &m.TotalAmount,
		&source, &inv.FailureReason, &committedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = constants.InvoiceStatus(status)
	inv.Kind = constants.DocumentKind(kind)
	inv.Source = constants.ExtractionSource(source)
	m.InvoiceDate = timePtr(invoiceDate)
	inv.CommittedAt = timePtr(committedAt)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

func (r *invoiceRepo) GetInvoice(ctx context.Context, tenant string, id uuid.UUID) (*entity.Invoice, error) {
	b := r.s.builder()
	sel := b.Select(invoiceColumns...).From(b.Table(invoicesTable)).Where(r.byID(tenant, id))
	inv, err := scanInvoice(r.s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("invoice %s not found", id)
	}
	if err != nil {
		return nil, r.s.dbError("get invoice", err, "invoice_id", id)
	}

	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	inv.LineItems = items
	return inv, nil
}

func (r *invoiceRepo) listItems(ctx context.Context, invoiceID uuid.UUID) ([]entity.LineItem, error) {
	b := r.s.builder()
	sel := b.Select(invoiceItemColumns[1:]...).
		From(b.Table(invoiceItemsTable)).
		Where(entsql.EQ("invoice_id", invoiceID)).
		OrderBy("position")
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list invoice items", err, "invoice_id", invoiceID)
	}
	defer rows.Close()

	items := make([]entity.LineItem, 0, 16)
	for rows.Next() {
		var (
			it     entity.LineItem
			expiry sql.NullTime
		)
		if err := rows.Scan(&it.Position, &it.ProductName, &it.VendorCode, &it.UPC,
			&it.Quantity, &it.UnitCost, &it.TotalPrice, &it.Category, &expiry, &it.Notes); err != nil {
			return nil, r.s.dbError("scan invoice item", err, "invoice_id", invoiceID)
		}
		it.Expiry = timePtr(expiry)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list invoice items", err, "invoice_id", invoiceID)
	}
	return items, nil
}

func (r *invoiceRepo) ListInvoices(ctx context.Context, tenant string, filter InvoiceFilter) ([]*entity.Invoice, error) {
	b := r.s.builder()
	where := entsql.EQ("tenant_id", tenant)
	if filter.Status != "" {
		where = entsql.And(where, entsql.EQ("status", string(filter.Status)))
	}
	sel := b.Select(invoiceColumns...).From(b.Table(invoicesTable)).Where(where).OrderBy(entsql.Desc("created_at"))
	return r.listHeaders(ctx, sel)
}

func (r *invoiceRepo) listHeaders(ctx context.Context, sel *entsql.Selector) ([]*entity.Invoice, error) {
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list invoices", err)
	}
	defer rows.Close()

	var out []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, r.s.dbError("scan invoice", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list invoices", err)
	}
	return out, nil
}

func (r *invoiceRepo) ListUnfinished(ctx context.Context) ([]InvoiceRef, error) {
	b := r.s.builder()
	sel := b.Select("tenant_id", "id").
		From(b.Table(invoicesTable)).
		Where(entsql.In("status", string(constants.InvoiceStatusPending), string(constants.InvoiceStatusProcessing))).
		OrderBy("created_at")
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list unfinished invoices", err)
	}
	defer rows.Close()

	var out []InvoiceRef
	for rows.Next() {
		var ref InvoiceRef
		if err := rows.Scan(&ref.TenantID, &ref.ID); err != nil {
			return nil, r.s.dbError("scan invoice ref", err)
		}
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list unfinished invoices", err)
	}
	return out, nil
}

func (r *invoiceRepo) TransitionInvoice(ctx context.Context, tenant string, id uuid.UUID, from, to constants.InvoiceStatus) (bool, error) {
	upd := r.s.builder().Update(invoicesTable).
		Set("status", string(to)).
		Set("updated_at", r.s.now()).
		Where(entsql.And(r.byID(tenant, id), entsql.EQ("status", string(from))))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("transition invoice", err, "invoice_id", id, "from", from, "to", to)
	}
	return ok, nil
}

func (r *invoiceRepo) AdvancePagesScanned(ctx context.Context, tenant string, id uuid.UUID, scanned int) (bool, error) {
	upd := r.s.builder().Update(invoicesTable).
		Set("pages_scanned", scanned).
		Set("updated_at", r.s.now()).
		Where(entsql.And(
			r.byID(tenant, id),
			entsql.EQ("status", string(constants.InvoiceStatusProcessing)),
			entsql.LTE("pages_scanned", scanned),
		))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("advance pages scanned", err, "invoice_id", id, "pages_scanned", scanned)
	}
	return ok, nil
}

func (r *invoiceRepo) CompleteInvoice(ctx context.Context, inv *entity.Invoice) (bool, error) {
	v, m := inv.Vendor, inv.Metadata
	upd := r.s.builder().Update(invoicesTable).
		Set("status", string(constants.InvoiceStatusCompleted)).
		Set("pages_scanned", inv.PagesScanned).
		Set("vendor_name", v.Name).
		Set("vendor_ein", v.EIN).
		Set("vendor_website", v.Website).
		Set("vendor_email", v.Email).
		Set("vendor_phone", v.Phone).
		Set("vendor_fax", v.Fax).
		Set("vendor_shipping_address", v.ShippingAddress).
		Set("vendor_warehouse_address", v.WarehouseAddress).
		Set("vendor_poc_name", v.POCName).
		Set("invoice_number", m.InvoiceNumber).
		Set("invoice_date", nullTime(m.InvoiceDate)).
		Set("total_tax", m.TotalTax.Round(2)).
		Set("total_transport", m.TotalTransport.Round(2)).
		Set("total_amount", m.TotalAmount.Round(2)).
		Set("extraction_source", string(inv.Source)).
		Set("updated_at", r.s.now()).
		Where(entsql.And(r.byID(inv.TenantID, inv.ID), entsql.EQ("status", string(constants.InvoiceStatusProcessing))))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("complete invoice", err, "invoice_id", inv.ID)
	}
	if !ok {
		return false, nil
	}

	del := r.s.builder().Delete(invoiceItemsTable).Where(entsql.EQ("invoice_id", inv.ID))
	if _, err := r.s.exec(ctx, del); err != nil {
		return false, r.s.dbError("clear invoice items", err, "invoice_id", inv.ID)
	}
	if err := r.insertItems(ctx, inv.ID, inv.LineItems); err != nil {
		return false, err
	}
	return true, nil
}

func (r *invoiceRepo) FailInvoice(ctx context.Context, tenant string, id uuid.UUID, reason string) (bool, error) {
	upd := r.s.builder().Update(invoicesTable).
		Set("status", string(constants.InvoiceStatusFailed)).
		Set("failure_reason", reason).
		Set("updated_at", r.s.now()).
		Where(entsql.And(
			r.byID(tenant, id),
			entsql.In("status", string(constants.InvoiceStatusPending), string(constants.InvoiceStatusProcessing)),
		))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("fail invoice", err, "invoice_id", id)
	}
	return ok, nil
}

func (r *invoiceRepo) MarkCommitted(ctx context.Context, tenant string, id uuid.UUID, at time.Time) (bool, error) {
	upd := r.s.builder().Update(invoicesTable).
		Set("committed_at", at.UTC()).
		Set("updated_at", r.s.now()).
		Where(entsql.And(
			r.byID(tenant, id),
			entsql.EQ("status", string(constants.InvoiceStatusCompleted)),
			entsql.IsNull("committed_at"),
		))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("mark invoice committed", err, "invoice_id", id)
	}
	return ok, nil
}

func (r *invoiceRepo) SavePageResult(ctx context.Context, res entity.PageResult) error {
	payload, err := json.Marshal(res.Extraction)
	if err != nil {
		return common.WrapError(err, "encode page result")
	}
	ins := r.s.builder().Insert(invoicePagesTable).
		Columns("invoice_id", "page_index", "payload", "created_at").
		Values(res.InvoiceID, res.PageIndex, string(payload), res.CreatedAt.UTC()).
		OnConflict(entsql.ConflictColumns("invoice_id", "page_index"), entsql.DoNothing())
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("save page result", err, "invoice_id", res.InvoiceID, "page", res.PageIndex)
	}
	return nil
}

func (r *invoiceRepo) ListPageResults(ctx context.Context, invoiceID uuid.UUID) ([]entity.PageResult, error) {
	b := r.s.builder()
	sel := b.Select("invoice_id", "page_index", "payload", "created_at").
		From(b.Table(invoicePagesTable)).
		Where(entsql.EQ("invoice_id", invoiceID)).
		OrderBy("page_index")
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list page results", err, "invoice_id", invoiceID)
	}
	defer rows.Close()

	var out []entity.PageResult
	for rows.Next() {
		var (
			res     entity.PageResult
			payload string
		)
		if err := rows.Scan(&res.InvoiceID, &res.PageIndex, &payload, &res.CreatedAt); err != nil {
			return nil, r.s.dbError("scan page result", err, "invoice_id", invoiceID)
		}
		if err := json.Unmarshal([]byte(payload), &res.Extraction); err != nil {
			return nil, common.WrapError(err, "decode page result")
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list page results", err, "invoice_id", invoiceID)
	}
	return out, nil
}

func (r *invoiceRepo) DeletePageResults(ctx context.Context, invoiceID uuid.UUID) error {
	del := r.s.builder().Delete(invoicePagesTable).Where(entsql.EQ("invoice_id", invoiceID))
	if _, err := r.s.exec(ctx, del); err != nil {
		return r.s.dbError("delete page results", err, "invoice_id", invoiceID)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

const (
	auditsTable     = "audits"
	auditItemsTable = "audit_items"

	// auditItemChunk keeps multi-row inserts under SQLite's bind-variable limit.
	auditItemChunk = 500
)

var auditColumns = []string{
	"id", "tenant_id", "status", "notes", "started_at", "completed_at", "decided_at",
	"total_gain", "total_loss", "net_variance_value", "updated_at",
}

var auditItemColumns = []string{
	"audit_id", "product_id", "product_name", "expected_quantity", "unit_cost",
	"actual_quantity", "discrepancy", "reason",
}

type auditRepo struct {
	s *sqlStore
}

func (r *auditRepo) byID(tenant string, id uuid.UUID) *entsql.Predicate {
	return entsql.And(entsql.EQ("tenant_id", tenant), entsql.EQ("id", id))
}

func (r *auditRepo) CreateAudit(ctx context.Context, a *entity.AuditSession) error {
	ins := r.s.builder().Insert(auditsTable).
		Columns(auditColumns...).
		Values(a.ID, a.TenantID, string(a.Status), a.Notes, a.StartedAt.UTC(), nullTime(a.CompletedAt), nullTime(a.DecidedAt),
			a.TotalGain, a.TotalLoss, a.NetVarianceValue.Round(2), r.s.now())
	if _, err := r.s.exec(ctx, ins); err != nil {
		return r.s.dbError("create audit", err, "audit_id", a.ID)
	}

	for start := 0; start < len(a.Items); start += auditItemChunk {
		end := min(start+auditItemChunk, len(a.Items))
		ins := r.s.builder().Insert(auditItemsTable).Columns(auditItemColumns...)
		for _, it := range a.Items[start:end] {
			ins.Values(a.ID, it.ProductID, it.ProductName, it.ExpectedQuantity, it.UnitCost.Round(2),
				nullInt(it.ActualQuantity), nullInt(it.Discrepancy), it.Reason)
		}
		if _, err := r.s.exec(ctx, ins); err != nil {
			return r.s.dbError("insert audit items", err, "audit_id", a.ID)
		}
	}
	return nil
}

func scanAudit(row rowScanner) (*entity.AuditSession, error) {
	var (
		a                      entity.AuditSession
		status                 string
		completedAt, decidedAt sql.NullTime
		updatedAt              time.Time
	)
	err := row.Scan(&a.ID, &a.TenantID, &status, &a.Notes, &a.StartedAt, &completedAt, &decidedAt,
		&a.TotalGain, &a.TotalLoss, &a.NetVarianceValue, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = constants.AuditStatus(status)
	a.StartedAt = a.StartedAt.UTC()
	a.CompletedAt = timePtr(completedAt)
	a.DecidedAt = timePtr(decidedAt)
	return &a, nil
}

func (r *auditRepo) GetAudit(ctx context.Context, tenant string, id uuid.UUID) (*entity.AuditSession, error) {
	b := r.s.builder()
	sel := b.Select(auditColumns...).From(b.Table(auditsTable)).Where(r.byID(tenant, id))
	a, err := scanAudit(r.s.queryRow(ctx, sel))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFoundf("audit %s not found", id)
	}
	if err != nil {
		return nil, r.s.dbError("get audit", err, "audit_id", id)
	}

	items := b.Select(auditItemColumns[1:]...).
		From(b.Table(auditItemsTable)).
		Where(entsql.EQ("audit_id", id)).
		OrderBy("product_name", "product_id")
	rows, err := r.s.query(ctx, items)
	if err != nil {
		return nil, r.s.dbError("list audit items", err, "audit_id", id)
	}
	defer rows.Close()

	a.Items = make([]entity.AuditItem, 0, 64)
	for rows.Next() {
		var (
			it                  entity.AuditItem
			actual, discrepancy sql.NullInt64
		)
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.ExpectedQuantity, &it.UnitCost,
			&actual, &discrepancy, &it.Reason); err != nil {
			return nil, r.s.dbError("scan audit item", err, "audit_id", id)
		}
		it.ActualQuantity = intPtr(actual)
		it.Discrepancy = intPtr(discrepancy)
		a.Items = append(a.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list audit items", err, "audit_id", id)
	}
	return a, nil
}

func (r *auditRepo) ListAudits(ctx context.Context, tenant string) ([]*entity.AuditSession, error) {
	b := r.s.builder()
	sel := b.Select(auditColumns...).
		From(b.Table(auditsTable)).
		Where(entsql.EQ("tenant_id", tenant)).
		OrderBy(entsql.Desc("started_at"))
	rows, err := r.s.query(ctx, sel)
	if err != nil {
		return nil, r.s.dbError("list audits", err, "tenant_id", tenant)
	}
	defer rows.Close()

	var out []*entity.AuditSession
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, r.s.dbError("scan audit", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, r.s.dbError("list audits", err, "tenant_id", tenant)
	}
	return out, nil
}

func (r *auditRepo) LockAudit(ctx context.Context, tenant string, id uuid.UUID, status constants.AuditStatus) (bool, error) {
	upd := r.s.builder().Update(auditsTable).
		Set("updated_at", r.s.now()).
		Where(entsql.And(r.byID(tenant, id), entsql.EQ("status", string(status))))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("lock audit", err, "audit_id", id)
	}
	return ok, nil
}

func (r *auditRepo) RecordCount(ctx context.Context, auditID, productID uuid.UUID, actual int64, reason string) (bool, error) {
	upd := r.s.builder().Update(auditItemsTable).
		Set("actual_quantity", actual).
		Set("reason", reason).
		Where(entsql.And(entsql.EQ("audit_id", auditID), entsql.EQ("product_id", productID)))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("record count", err, "audit_id", auditID, "product_id", productID)
	}
	return ok, nil
}

func (r *auditRepo) CompleteAudit(ctx context.Context, a *entity.AuditSession) (bool, error) {
	upd := r.s.builder().Update(auditsTable).
		Set("status", string(constants.AuditStatusCompleted)).
		Set("completed_at", nullTime(a.CompletedAt)).
		Set("total_gain", a.TotalGain).
		Set("total_loss", a.TotalLoss).
		Set("net_variance_value", a.NetVarianceValue.Round(2)).
		Set("updated_at", r.s.now()).
		Where(entsql.And(r.byID(a.TenantID, a.ID), entsql.EQ("status", string(constants.AuditStatusPending))))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("complete audit", err, "audit_id", a.ID)
	}
	if !ok {
		return false, nil
	}

	for _, it := range a.Items {
		if it.Discrepancy == nil {
			continue
		}
		upd := r.s.builder().Update(auditItemsTable).
			Set("discrepancy", *it.Discrepancy).
			Where(entsql.And(entsql.EQ("audit_id", a.ID), entsql.EQ("product_id", it.ProductID)))
		if _, err := r.s.exec(ctx, upd); err != nil {
			return false, r.s.dbError("store discrepancy", err, "audit_id", a.ID, "product_id", it.ProductID)
		}
	}
	return true, nil
}

func (r *auditRepo) DecideAudit(ctx context.Context, tenant string, id uuid.UUID, to constants.AuditStatus, at time.Time) (bool, error) {
	upd := r.s.builder().Update(auditsTable).
		Set("status", string(to)).
		Set("decided_at", at.UTC()).
		Set("updated_at", r.s.now()).
		Where(entsql.And(r.byID(tenant, id), entsql.EQ("status", string(constants.AuditStatusCompleted))))
	ok, err := r.s.affected(ctx, upd)
	if err != nil {
		return false, r.s.dbError("decide audit", err, "audit_id", id, "to", to)
	}
	return ok, nil
}

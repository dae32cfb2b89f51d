// Package audit runs physical-count sessions: it snapshots stock, collects
// counts, computes variance and applies approved counts to inventory.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

// Rejection reasons for individual counts.
const (
	ReasonUnknownProduct   = "UnknownProduct"
	ReasonNegativeQuantity = "NegativeQuantity"
	ReasonMissingQuantity  = "MissingQuantity"
)

// adjustmentShelfLife is the expiry given to stock found by an approved audit.
const adjustmentShelfLife = 365 * 24 * time.Hour

// Service handles audit session business logic.
type Service struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new audit service.
func NewService(store repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Count is one physical count submitted by a counter. ActualQuantity is a
// pointer so that an absent count is never read as a counted zero.
type Count struct {
	ProductID      uuid.UUID `json:"product_id" validate:"required"`
	ActualQuantity *int64    `json:"actual_quantity" validate:"required"`
	Reason         string    `json:"reason,omitempty" validate:"max=500"`
}

// RejectedCount is a count that was dropped without failing the submission.
type RejectedCount struct {
	ProductID uuid.UUID `json:"product_id"`
	Reason    string    `json:"reason"`
}

// CountResult reports which counts of a submission were recorded.
type CountResult struct {
	AuditID  uuid.UUID       `json:"audit_id"`
	Recorded int             `json:"recorded"`
	Rejected []RejectedCount `json:"rejected"`
}

// Adjustment is one inventory overwrite made by an approval.
type Adjustment struct {
	ProductID uuid.UUID `json:"product_id"`
	Before    int64     `json:"before"`
	After     int64     `json:"after"`
}

// ApprovalResult reports what an approval changed.
type ApprovalResult struct {
	AuditID     uuid.UUID             `json:"audit_id"`
	Status      constants.AuditStatus `json:"status"`
	Applied     int                   `json:"applied"`
	Adjustments []Adjustment          `json:"adjustments"`
}

// StartAudit snapshots quantity and cost of every active inventory record.
// The snapshot is frozen: later stock changes do not alter it.
func (s *Service) StartAudit(ctx context.Context, tenant, notes string) (*entity.AuditSession, error) {
	if tenant == "" {
		return nil, common.InvalidInputf("tenant is required")
	}
	now := s.now().UTC()
	session := &entity.AuditSession{
		ID:               uuid.New(),
		TenantID:         tenant,
		Status:           constants.AuditStatusPending,
		Notes:            notes,
		StartedAt:        now,
		NetVarianceValue: decimal.Zero,
	}
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		recs, err := tx.Inventory().ListInventory(ctx, tenant, true)
		if err != nil {
			return err
		}
		session.Items = make([]entity.AuditItem, 0, len(recs))
		for _, r := range recs {
			session.Items = append(session.Items, entity.AuditItem{
				ProductID:        r.ID,
				ProductName:      r.Name,
				ExpectedQuantity: r.QuantityOnHand,
				UnitCost:         r.CostPrice,
			})
		}
		return tx.Audits().CreateAudit(ctx, session)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("audit.started", "tenant_id", tenant, "audit_id", session.ID, "items", len(session.Items))
	return session, nil
}

// RecordCounts upserts counts into a pending session. Counts for products
// outside the snapshot, or with a missing or negative quantity, are returned
// as rejected; the rest of the submission is still recorded.
func (s *Service) RecordCounts(ctx context.Context, tenant string, auditID uuid.UUID, counts []Count) (*CountResult, error) {
	res := &CountResult{AuditID: auditID, Rejected: []RejectedCount{}}
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := s.lock(ctx, tx, tenant, auditID, constants.AuditStatusPending, "record counts"); err != nil {
			return err
		}
		for _, c := range counts {
			if c.ActualQuantity == nil {
				res.Rejected = append(res.Rejected, RejectedCount{ProductID: c.ProductID, Reason: ReasonMissingQuantity})
				continue
			}
			if *c.ActualQuantity < 0 {
				res.Rejected = append(res.Rejected, RejectedCount{ProductID: c.ProductID, Reason: ReasonNegativeQuantity})
				continue
			}
			ok, err := tx.Audits().RecordCount(ctx, auditID, c.ProductID, *c.ActualQuantity, c.Reason)
			if err != nil {
				return err
			}
			if !ok {
				res.Rejected = append(res.Rejected, RejectedCount{ProductID: c.ProductID, Reason: ReasonUnknownProduct})
				continue
			}
			res.Recorded++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("audit.counts.recorded", "tenant_id", tenant, "audit_id", auditID,
		"recorded", res.Recorded, "rejected", len(res.Rejected))
	return res, nil
}

// CompleteAudit closes counting and computes variance over counted items.
// Uncounted items are left out of every total.
func (s *Service) CompleteAudit(ctx context.Context, tenant string, auditID uuid.UUID) (*entity.AuditSummary, error) {
	var session *entity.AuditSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := s.lock(ctx, tx, tenant, auditID, constants.AuditStatusPending, "complete"); err != nil {
			return err
		}
		a, err := tx.Audits().GetAudit(ctx, tenant, auditID)
		if err != nil {
			return err
		}
		computeVariance(a)
		now := s.now().UTC()
		a.CompletedAt = &now
		ok, err := tx.Audits().CompleteAudit(ctx, a)
		if err != nil {
			return err
		}
		if !ok {
			return common.InvalidTransitionf("audit %s is no longer pending", auditID)
		}
		a.Status = constants.AuditStatusCompleted
		session = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("audit.completed", "tenant_id", tenant, "audit_id", auditID,
		"total_gain", session.TotalGain, "total_loss", session.TotalLoss, "net_value", session.NetVarianceValue.StringFixed(2))
	sum := session.Summary()
	return &sum, nil
}

// computeVariance fills discrepancy and the session totals. The net value is
// priced at the unit cost frozen with the snapshot.
func computeVariance(a *entity.AuditSession) {
	a.TotalGain, a.TotalLoss = 0, 0
	net := decimal.Zero
	for i := range a.Items {
		it := &a.Items[i]
		if !it.Counted() {
			it.Discrepancy = nil
			continue
		}
		d := *it.ActualQuantity - it.ExpectedQuantity
		it.Discrepancy = &d
		switch {
		case d > 0:
			a.TotalGain += d
		case d < 0:
			a.TotalLoss += -d
		}
		net = net.Add(decimal.NewFromInt(d).Mul(it.UnitCost))
	}
	a.NetVarianceValue = net.Round(2)
}

// Approve moves a completed session to approved and, in the same
// transaction, overwrites quantity_on_hand with the counted quantity of every
// counted item. A second approval fails with ErrInvalidTransition.
func (s *Service) Approve(ctx context.Context, tenant string, auditID uuid.UUID) (*ApprovalResult, error) {
	start := time.Now()
	now := s.now().UTC()
	res := &ApprovalResult{AuditID: auditID, Status: constants.AuditStatusApproved, Adjustments: []Adjustment{}}
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := s.decide(ctx, tx, tenant, auditID, constants.AuditStatusApproved, now); err != nil {
			return err
		}
		a, err := tx.Audits().GetAudit(ctx, tenant, auditID)
		if err != nil {
			return err
		}
		for _, it := range a.Items {
			if !it.Counted() {
				continue
			}
			adj, err := s.applyCount(ctx, tx, a, it, now)
			if err != nil {
				return err
			}
			res.Applied++
			if adj.Before != adj.After {
				res.Adjustments = append(res.Adjustments, adj)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("audit.approve.applied", "tenant_id", tenant, "audit_id", auditID,
		"applied", res.Applied, "adjusted", len(res.Adjustments), "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

// applyCount overwrites one record's stock and keeps batches in step: a loss
// drains open batches first-expiring first, a gain becomes an adjustment batch.
func (s *Service) applyCount(ctx context.Context, tx repository.Store, a *entity.AuditSession, it entity.AuditItem, now time.Time) (Adjustment, error) {
	actual := *it.ActualQuantity
	before, err := tx.Inventory().SetStock(ctx, a.TenantID, it.ProductID, actual)
	if err != nil {
		return Adjustment{}, fmt.Errorf("set stock for %s: %w", it.ProductName, err)
	}
	adj := Adjustment{ProductID: it.ProductID, Before: before, After: actual}
	delta := actual - before
	switch {
	case delta == 0:
		return adj, nil
	case delta < 0:
		if err := consumeFIFO(ctx, tx, it.ProductID, -delta); err != nil {
			return Adjustment{}, err
		}
	default:
		rec, err := tx.Inventory().GetInventory(ctx, a.TenantID, it.ProductID)
		if err != nil {
			return Adjustment{}, err
		}
		expiry := now.Add(adjustmentShelfLife)
		if err := tx.Inventory().CreateBatch(ctx, &entity.Batch{
			ID:          uuid.New(),
			InventoryID: it.ProductID,
			BatchNumber: "AUDIT-" + a.ID.String()[:8],
			Quantity:    delta,
			CostPerUnit: rec.CostPrice,
			Expiry:      &expiry,
			Status:      constants.BatchStatusAuditAdjustment,
			ReceivedAt:  now,
		}); err != nil {
			return Adjustment{}, err
		}
	}
	err = tx.Inventory().AppendMovement(ctx, &entity.StockMovement{
		ID:            uuid.New(),
		TenantID:      a.TenantID,
		InventoryID:   it.ProductID,
		Kind:          constants.MovementAuditAdjustment,
		Delta:         delta,
		QuantityAfter: actual,
		Reference:     a.ID,
		CreatedAt:     now,
	})
	return adj, err
}

// consumeFIFO removes qty units from open batches, soonest expiry first.
// Stock not covered by any batch is simply gone.
func consumeFIFO(ctx context.Context, tx repository.Store, inventoryID uuid.UUID, qty int64) error {
	batches, err := tx.Inventory().ListOpenBatches(ctx, inventoryID)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if qty == 0 {
			break
		}
		take := min(b.Quantity, qty)
		left := b.Quantity - take
		status := b.Status
		if left == 0 {
			status = constants.BatchStatusDepleted
		}
		if err := tx.Inventory().UpdateBatch(ctx, b.ID, left, status); err != nil {
			return err
		}
		qty -= take
	}
	return nil
}

// Reject moves a completed session to rejected. Inventory is not touched.
func (s *Service) Reject(ctx context.Context, tenant string, auditID uuid.UUID) (*entity.AuditSession, error) {
	now := s.now().UTC()
	var out *entity.AuditSession
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := s.decide(ctx, tx, tenant, auditID, constants.AuditStatusRejected, now); err != nil {
			return err
		}
		a, err := tx.Audits().GetAudit(ctx, tenant, auditID)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("audit.rejected", "tenant_id", tenant, "audit_id", auditID)
	return out, nil
}

func (s *Service) GetAudit(ctx context.Context, tenant string, auditID uuid.UUID) (*entity.AuditSession, error) {
	return s.store.Audits().GetAudit(ctx, tenant, auditID)
}

func (s *Service) ListAudits(ctx context.Context, tenant string) ([]*entity.AuditSession, error) {
	return s.store.Audits().ListAudits(ctx, tenant)
}

// lock claims the session row for the transaction while it is in status.
func (s *Service) lock(ctx context.Context, tx repository.Store, tenant string, id uuid.UUID, status constants.AuditStatus, op string) error {
	ok, err := tx.Audits().LockAudit(ctx, tenant, id, status)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return transitionError(ctx, tx, tenant, id, op)
}

func (s *Service) decide(ctx context.Context, tx repository.Store, tenant string, id uuid.UUID, to constants.AuditStatus, at time.Time) error {
	ok, err := tx.Audits().DecideAudit(ctx, tenant, id, to, at)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	verb := "approve"
	if to == constants.AuditStatusRejected {
		verb = "reject"
	}
	return transitionError(ctx, tx, tenant, id, verb)
}

// transitionError tells a missing session apart from one in the wrong state.
func transitionError(ctx context.Context, tx repository.Store, tenant string, id uuid.UUID, op string) error {
	a, err := tx.Audits().GetAudit(ctx, tenant, id)
	if err != nil {
		return err
	}
	return common.InvalidTransitionf("cannot %s audit %s in status %s", op, id, a.Status)
}

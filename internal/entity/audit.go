package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
)

// AuditItem is one product in a physical-count session. ExpectedQuantity and
// UnitCost are captured when the session starts and never recomputed.
// A nil ActualQuantity means the product was not counted, which is distinct
// from a count of zero.
type AuditItem struct {
	ProductID        uuid.UUID       `json:"product_id"`
	ProductName      string          `json:"product_name"`
	ExpectedQuantity int64           `json:"expected_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	ActualQuantity   *int64          `json:"actual_quantity"`
	Discrepancy      *int64          `json:"discrepancy"`
	Reason           string          `json:"reason,omitempty"`
}

// Counted reports whether a counter has recorded a quantity for the item.
func (a AuditItem) Counted() bool {
	return a.ActualQuantity != nil
}

// AuditSession is one physical-count event.
type AuditSession struct {
	ID               uuid.UUID             `json:"audit_id"`
	TenantID         string                `json:"tenant_id"`
	Status           constants.AuditStatus `json:"status"`
	Notes            string                `json:"notes,omitempty"`
	StartedAt        time.Time             `json:"started_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
	DecidedAt        *time.Time            `json:"decided_at,omitempty"`
	TotalGain        int64                 `json:"total_gain"`
	TotalLoss        int64                 `json:"total_loss"`
	NetVarianceValue decimal.Decimal       `json:"net_variance_value"`
	Items            []AuditItem           `json:"items"`
}

// AuditSummary is returned when a session is completed.
type AuditSummary struct {
	AuditID          uuid.UUID             `json:"audit_id"`
	Status           constants.AuditStatus `json:"status"`
	TotalGain        int64                 `json:"total_gain"`
	TotalLoss        int64                 `json:"total_loss"`
	NetVarianceValue decimal.Decimal       `json:"net_variance_value"`
	CountedItems     int                   `json:"counted_items"`
	Items            []AuditItem           `json:"items"`
}

// Summary projects a session onto its summary view.
func (s *AuditSession) Summary() AuditSummary {
	counted := 0
	for _, it := range s.Items {
		if it.Counted() {
			counted++
		}
	}
	return AuditSummary{
		AuditID:          s.ID,
		Status:           s.Status,
		TotalGain:        s.TotalGain,
		TotalLoss:        s.TotalLoss,
		NetVarianceValue: s.NetVarianceValue,
		CountedItems:     counted,
		Items:            s.Items,
	}
}

package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// VendorProfile is a read model folded from a tenant's completed invoices.
// It is never written directly.
type VendorProfile struct {
	VendorContact
	TotalSpend    decimal.Decimal `json:"total_spend"`
	InvoiceCount  int             `json:"invoice_count"`
	LastOrderDate *time.Time      `json:"last_order_date,omitempty"`
}

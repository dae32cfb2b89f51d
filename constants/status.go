package constants

// InvoiceStatus is the processing status of an uploaded invoice document.
type InvoiceStatus string

// Stable values (store these exact strings in DB).
const (
	InvoiceStatusPending    InvoiceStatus = "pending"
	InvoiceStatusProcessing InvoiceStatus = "processing"
	InvoiceStatusCompleted  InvoiceStatus = "completed" // terminal
	InvoiceStatusFailed     InvoiceStatus = "failed"    // terminal
)

// Terminal reports whether no further transition is defined.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusCompleted || s == InvoiceStatusFailed
}

// Valid reports whether s is a known invoice status.
func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusProcessing, InvoiceStatusCompleted, InvoiceStatusFailed:
		return true
	}
	return false
}

// AuditStatus is the lifecycle status of a physical-count session.
type AuditStatus string

const (
	AuditStatusPending   AuditStatus = "pending"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusApproved  AuditStatus = "approved" // terminal, inventory overwritten
	AuditStatusRejected  AuditStatus = "rejected" // terminal, inventory untouched
)

func (s AuditStatus) Terminal() bool {
	return s == AuditStatusApproved || s == AuditStatusRejected
}

// ExtractionSource marks where structured invoice data came from.
type ExtractionSource string

const (
	SourceLive      ExtractionSource = "live"
	SourceSynthetic ExtractionSource = "synthetic"
)

// BatchStatus tracks a received lot of stock.
type BatchStatus string

const (
	BatchStatusReceived        BatchStatus = "received"
	BatchStatusAuditAdjustment BatchStatus = "audit_adjustment"
	BatchStatusDepleted        BatchStatus = "depleted"
)

// MovementKind labels rows of the stock ledger.
type MovementKind string

const (
	MovementInvoiceIn       MovementKind = "invoice_in"
	MovementAuditAdjustment MovementKind = "audit_adjustment"
)

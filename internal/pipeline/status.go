package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

// PollAfter is the delay suggested to clients polling a non-terminal invoice.
const PollAfter = 2 * time.Second

// StatusView is the poll response for one invoice. Body fields are only
// present once the invoice is completed.
type StatusView struct {
	InvoiceID     uuid.UUID                  `json:"invoice_id"`
	Status        constants.InvoiceStatus    `json:"status"`
	FileName      string                     `json:"file_name"`
	PagesScanned  int                        `json:"pages_scanned"`
	TotalPages    int                        `json:"total_pages"`
	Vendor        *entity.VendorContact      `json:"vendor,omitempty"`
	Metadata      *entity.InvoiceMetadata    `json:"metadata,omitempty"`
	LineItems     []entity.LineItem          `json:"line_items,omitempty"`
	Source        constants.ExtractionSource `json:"extraction_source,omitempty"`
	FailureReason string                     `json:"failure_reason,omitempty"`
	CommittedAt   *time.Time                 `json:"committed_at,omitempty"`
	PollAfterMS   int64                      `json:"poll_after_ms,omitempty"`
}

func (p *Processor) GetInvoiceStatus(ctx context.Context, tenant string, id uuid.UUID) (*StatusView, error) {
	inv, err := p.store.Invoices().GetInvoice(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	v := &StatusView{
		InvoiceID:    inv.ID,
		Status:       inv.Status,
		FileName:     inv.FileName,
		PagesScanned: inv.PagesScanned,
		TotalPages:   inv.TotalPages,
	}
	switch inv.Status {
	case constants.InvoiceStatusCompleted:
		v.Vendor = &inv.Vendor
		v.Metadata = &inv.Metadata
		v.LineItems = inv.LineItems
		if v.LineItems == nil {
			v.LineItems = []entity.LineItem{}
		}
		v.Source = inv.Source
		v.CommittedAt = inv.CommittedAt
	case constants.InvoiceStatusFailed:
		v.FailureReason = inv.FailureReason
	default:
		v.PollAfterMS = PollAfter.Milliseconds()
	}
	return v, nil
}

// ListInvoices returns invoice headers for the tenant, newest first.
func (p *Processor) ListInvoices(ctx context.Context, tenant string, status constants.InvoiceStatus) ([]*entity.Invoice, error) {
	return p.store.Invoices().ListInvoices(ctx, tenant, repository.InvoiceFilter{Status: status})
}

// Resume schedules one invoice again. Terminal invoices are returned as-is.
func (p *Processor) Resume(ctx context.Context, tenant string, id uuid.UUID) (*StatusView, error) {
	v, err := p.GetInvoiceStatus(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if v.Status.Terminal() {
		return v, nil
	}
	if err := p.enqueue(ctx, tenant, id); err != nil {
		return nil, err
	}
	p.logger.Info("pipeline.resume", "tenant_id", tenant, "invoice_id", id, "status", v.Status)
	return v, nil
}

// ResumeAll enqueues every non-terminal invoice of every tenant, oldest
// first. The daemon calls it once at startup.
func (p *Processor) ResumeAll(ctx context.Context) (int, error) {
	refs, err := p.store.Invoices().ListUnfinished(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ref := range refs {
		if err := p.enqueue(ctx, ref.TenantID, ref.ID); err != nil {
			p.logger.Warn("pipeline.resume_all.stopped", "queued", n, "remaining", len(refs)-n, "error", err)
			return n, err
		}
		n++
	}
	p.logger.Info("pipeline.resume_all", "queued", n)
	return n, nil
}

package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/document"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// Upload stores the document, records a pending invoice and schedules its
// processing. It returns as soon as the invoice is persisted; extraction
// problems show up later as a failed status, never as an error here.
func (p *Processor) Upload(ctx context.Context, tenant, fileName string, content []byte) (*entity.Invoice, error) {
	start := time.Now()
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		return nil, common.InvalidInputf("tenant is required")
	}
	if len(content) == 0 {
		return nil, common.InvalidInputf("document %q is empty", fileName)
	}
	kind, mime, err := Classify(fileName, content)
	if err != nil {
		return nil, err
	}

	hash, dedup, err := p.blobs.Put(content)
	if err != nil {
		return nil, common.WrapError(err, "store document")
	}
	total, err := p.pager.Count(ctx, document.Document{Kind: kind, FileName: fileName, MIME: mime, Content: content})
	if err != nil {
		return nil, common.InvalidInputf("document %q has no readable pages: %v", fileName, err)
	}

	now := p.now().UTC()
	inv := &entity.Invoice{
		ID:          uuid.New(),
		TenantID:    tenant,
		Status:      constants.InvoiceStatusPending,
		Kind:        kind,
		FileName:    filepath.Base(fileName),
		ContentHash: hash,
		TotalPages:  total,
		LineItems:   []entity.LineItem{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.Invoices().CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	p.logger.Info("pipeline.upload.ok",
		"tenant_id", tenant, "invoice_id", inv.ID, "file", inv.FileName, "kind", kind,
		"total_pages", total, "dedup", dedup, "elapsed_ms", time.Since(start).Milliseconds())

	if err := p.enqueue(ctx, tenant, inv.ID); err != nil {
		// The invoice is durable and pending; the startup sweep or an explicit
		// resume will schedule it.
		p.logger.Warn("pipeline.enqueue.failed", "invoice_id", inv.ID, "error", err)
	}
	return inv, nil
}

// Classify picks the document kind from the file extension, falling back to
// the content signature.
func Classify(fileName string, content []byte) (constants.DocumentKind, string, error) {
	sniffedKind, mime, sniffed := constants.SniffKind(content)
	if kind, ok := constants.KindFromExt(filepath.Ext(fileName)); ok {
		return kind, mime, nil
	}
	if sniffed {
		return sniffedKind, mime, nil
	}
	return "", "", common.InvalidInputf("unsupported document type for %q (%s)", fileName, mime)
}

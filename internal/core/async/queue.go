package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed is returned by Enqueue after Shutdown began.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job asks a worker to advance one invoice.
type Job struct {
	TenantID    string
	InvoiceID   uuid.UUID
	SubmittedAt time.Time
}

// Queue accepts jobs for background processing.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Handler advances an invoice. It must be safe to call again for an invoice
// that was already partly or fully processed.
type Handler interface {
	Advance(ctx context.Context, tenant string, invoiceID uuid.UUID) error
}

// Package lock provides short-lived exclusive leases keyed by string.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker hands out leases. TryAcquire never waits for a held key.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held key. Refresh extends it; Release gives it up early.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// InvoiceKey is the lease key for processing one invoice.
func InvoiceKey(tenant, invoiceID string) string {
	return "invoice:" + tenant + ":" + invoiceID
}

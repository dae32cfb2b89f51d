package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recordingHandler struct {
	mu      sync.Mutex
	seen    []uuid.UUID
	release chan struct{}
}

func (h *recordingHandler) Advance(ctx context.Context, _ string, id uuid.UUID) error {
	if h.release != nil {
		select {
		case <-h.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, id)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestQueueDrainsOnShutdown(t *testing.T) {
	h := &recordingHandler{}
	q := NewProcessorQueue(h, nil, WithWorkers(3), WithQueueSize(16))
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(context.Background(), Job{TenantID: "t1", InvoiceID: uuid.New()}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	if h.count() != 10 {
		t.Fatalf("want 10 jobs handled, got %d", h.count())
	}
	if err := q.Enqueue(context.Background(), Job{InvoiceID: uuid.New()}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after shutdown: want ErrQueueClosed, got %v", err)
	}
	q.Shutdown(ctx) // idempotent
}

func TestQueueBackpressureHonorsContext(t *testing.T) {
	h := &recordingHandler{release: make(chan struct{})}
	q := NewProcessorQueue(h, nil, WithWorkers(1), WithQueueSize(1))

	// one job held by the worker, one in the buffer
	_ = q.Enqueue(context.Background(), Job{InvoiceID: uuid.New()})
	_ = q.Enqueue(context.Background(), Job{InvoiceID: uuid.New()})
	time.Sleep(20 * time.Millisecond)
	_ = q.Enqueue(context.Background(), Job{InvoiceID: uuid.New()})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, Job{InvoiceID: uuid.New()}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded while full, got %v", err)
	}

	close(h.release)
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	q.Shutdown(sctx)
	if h.count() != 3 {
		t.Fatalf("want 3 handled, got %d", h.count())
	}
}

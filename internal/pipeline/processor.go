// Package pipeline runs the invoice processing job: it splits an uploaded
// document into pages, extracts each page, merges the results in page order
// and drives the invoice through pending, processing and a terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/core/async"
	"github.com/joseph-ayodele/invoice-reconciler/internal/document"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/llm"
	"github.com/joseph-ayodele/invoice-reconciler/internal/lock"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
	"github.com/joseph-ayodele/invoice-reconciler/internal/totals"
)

// Pager splits a document into extraction pages.
type Pager interface {
	Pages(ctx context.Context, doc document.Document) ([]llm.Page, error)
	Count(ctx context.Context, doc document.Document) (int, error)
}

// Blobs holds uploaded document bytes by content hash.
type Blobs interface {
	Put(content []byte) (hash string, deduplicated bool, err error)
	Get(hash string) ([]byte, error)
}

type Config struct {
	PageConcurrency int           // default 3
	LeaseTTL        time.Duration // default 2m
}

type Processor struct {
	logger    *slog.Logger
	cfg       Config
	store     repository.Store
	blobs     Blobs
	pager     Pager
	extractor llm.Extractor
	locker    lock.Locker
	now       func() time.Time

	mu    sync.RWMutex
	queue async.Queue
}

type Option func(*Processor)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func NewProcessor(
	logger *slog.Logger,
	cfg Config,
	store repository.Store,
	blobs Blobs,
	pager Pager,
	extractor llm.Extractor,
	locker lock.Locker,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 3
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	p := &Processor{
		logger:    logger,
		cfg:       cfg,
		store:     store,
		blobs:     blobs,
		pager:     pager,
		extractor: extractor,
		locker:    locker,
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// AttachQueue sets the queue that Upload and Resume enqueue onto. The queue
// is built with the processor as its handler, so it is attached afterwards.
// Without a queue, jobs are not scheduled and callers drive Advance directly.
func (p *Processor) AttachQueue(q async.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = q
}

func (p *Processor) enqueue(ctx context.Context, tenant string, id uuid.UUID) error {
	p.mu.RLock()
	q := p.queue
	p.mu.RUnlock()
	if q == nil {
		return nil
	}
	return q.Enqueue(ctx, async.Job{TenantID: tenant, InvoiceID: id, SubmittedAt: p.now()})
}

// Advance moves one invoice as far as it can go. It is safe to call any
// number of times: pages already persisted are not extracted again, a
// terminal invoice is left alone, and a call that finds the invoice leased
// by another worker returns nil without doing anything.
func (p *Processor) Advance(ctx context.Context, tenant string, id uuid.UUID) error {
	log := p.logger.With("tenant_id", tenant, "invoice_id", id)

	lease, err := p.locker.TryAcquire(ctx, lock.InvoiceKey(tenant, id.String()), p.cfg.LeaseTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		log.Debug("pipeline.lease.busy")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("pipeline.lease.release_failed", "error", err)
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go p.keepAlive(ctx, lease, cancel, log)

	inv, err := p.store.Invoices().GetInvoice(ctx, tenant, id)
	if err != nil {
		return err
	}
	if inv.Status.Terminal() {
		log.Debug("pipeline.skip.terminal", "status", inv.Status)
		return nil
	}
	if inv.Status == constants.InvoiceStatusPending {
		ok, err := p.store.Invoices().TransitionInvoice(ctx, tenant, id, constants.InvoiceStatusPending, constants.InvoiceStatusProcessing)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("pipeline.transition.lost")
			return nil
		}
		inv.Status = constants.InvoiceStatusProcessing
		log.Info("pipeline.processing", "total_pages", inv.TotalPages)
	}

	start := time.Now()
	runErr := p.run(ctx, inv, log)
	if runErr == nil {
		log.Info("pipeline.completed", "elapsed_ms", time.Since(start).Milliseconds())
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, context.Canceled) || errors.Is(cause, errLeaseLost) {
		// Shutdown or a lost lease: the invoice stays processing and is
		// picked up again by Resume.
		log.Warn("pipeline.interrupted", "error", runErr, "cause", cause)
		return runErr
	}
	p.fail(context.WithoutCancel(ctx), inv, runErr, log)
	return runErr
}

var errLeaseLost = errors.New("processing lease lost")

// keepAlive refreshes the lease at half its TTL and cancels the job when a
// refresh fails.
func (p *Processor) keepAlive(ctx context.Context, lease lock.Lease, cancel context.CancelCauseFunc, log *slog.Logger) {
	t := time.NewTicker(p.cfg.LeaseTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := lease.Refresh(ctx, p.cfg.LeaseTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Error("pipeline.lease.refresh_failed", "error", err)
				cancel(errLeaseLost)
				return
			}
		}
	}
}

func (p *Processor) fail(ctx context.Context, inv *entity.Invoice, cause error, log *slog.Logger) {
	reason := cause.Error()
	err := p.store.InTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Invoices().FailInvoice(ctx, inv.TenantID, inv.ID, reason)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return tx.Invoices().DeletePageResults(ctx, inv.ID)
	})
	if err != nil {
		log.Error("pipeline.fail.persist_failed", "error", err, "reason", reason)
		return
	}
	log.Warn("pipeline.failed", "reason", reason)
}

func (p *Processor) run(ctx context.Context, inv *entity.Invoice, log *slog.Logger) error {
	content, err := p.blobs.Get(inv.ContentHash)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	_, mime, _ := constants.SniffKind(content)
	pages, err := p.pager.Pages(ctx, document.Document{Kind: inv.Kind, FileName: inv.FileName, MIME: mime, Content: content})
	if err != nil {
		return fmt.Errorf("paginate: %w", err)
	}
	if len(pages) != inv.TotalPages {
		log.Warn("pipeline.page_count.changed", "total_pages", inv.TotalPages, "pages", len(pages))
	}

	existing, err := p.store.Invoices().ListPageResults(ctx, inv.ID)
	if err != nil {
		return err
	}
	have := make(map[int]bool, len(existing))
	for _, r := range existing {
		have[r.PageIndex] = true
	}

	var (
		mu      sync.Mutex
		scanned = len(have)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.PageConcurrency)
	for _, page := range pages {
		if have[page.Index] {
			continue
		}
		page := page
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			ext, _, err := p.extractor.Extract(gctx, page)
			if err != nil {
				log.Warn("pipeline.page.failed", "page", page.Index+1, "elapsed_ms", time.Since(start).Milliseconds(), "error", err)
				return fmt.Errorf("page %d: %w", page.Index+1, err)
			}
			if err := p.store.Invoices().SavePageResult(gctx, entity.PageResult{
				InvoiceID:  inv.ID,
				PageIndex:  page.Index,
				Extraction: ext,
				CreatedAt:  p.now().UTC(),
			}); err != nil {
				return fmt.Errorf("save page %d: %w", page.Index+1, err)
			}

			mu.Lock()
			scanned++
			n := scanned
			mu.Unlock()
			if _, err := p.store.Invoices().AdvancePagesScanned(gctx, inv.TenantID, inv.ID, n); err != nil {
				return err
			}
			log.Info("pipeline.page.ok", "page", page.Index+1, "items", len(ext.Items), "pages_scanned", n,
				"elapsed_ms", time.Since(start).Milliseconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	results, err := p.store.Invoices().ListPageResults(ctx, inv.ID)
	if err != nil {
		return err
	}
	if len(results) < len(pages) {
		return fmt.Errorf("only %d of %d pages persisted", len(results), len(pages))
	}

	merged := Merge(results)
	totals.FillLineTotals(merged.Items)
	merged.Metadata = totals.ReconcileTotals(merged.Metadata, merged.Items)

	inv.PagesScanned = len(results)
	inv.Vendor = merged.Vendor
	inv.Metadata = merged.Metadata
	inv.Source = merged.Source
	inv.LineItems = merged.Items

	return p.store.InTx(ctx, func(tx repository.Store) error {
		ok, err := tx.Invoices().CompleteInvoice(ctx, inv)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("invoice %s left processing before completion", inv.ID)
		}
		return tx.Invoices().DeletePageResults(ctx, inv.ID)
	})
}

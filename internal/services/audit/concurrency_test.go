package audit

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository/memory"
	"github.com/joseph-ayodele/invoice-reconciler/internal/services/commit"
)

func openSQLiteStore(t *testing.T) repository.Store {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open(ctx, repository.Config{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "audit.db"),
	}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close(logger) })
	if err := db.Migrate(ctx, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewStore(db, logger)
}

// racingSetup leaves Milk at 50 with a completed audit counting 40 and a
// completed invoice receiving 10 more, both ready to apply.
func racingSetup(t *testing.T, st repository.Store) (rec *entity.InventoryRecord, auditID, invoiceID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	p := &entity.Product{ID: uuid.New(), Name: "Milk"}
	if err := st.Inventory().CreateProduct(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	rec = &entity.InventoryRecord{
		ID: uuid.New(), TenantID: tenant, ProductID: p.ID, Name: "Milk",
		QuantityOnHand: 50, CostPrice: decimal.RequireFromString("2.00"), Active: true, UpdatedAt: fixedNow,
	}
	if err := st.Inventory().CreateInventory(ctx, rec); err != nil {
		t.Fatalf("create inventory: %v", err)
	}

	svc := NewService(st, nil)
	a, err := svc.StartAudit(ctx, tenant, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.RecordCounts(ctx, tenant, a.ID, []Count{{ProductID: rec.ID, ActualQuantity: qty(40)}}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := svc.CompleteAudit(ctx, tenant, a.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	inv := &entity.Invoice{
		ID: uuid.New(), TenantID: tenant, Status: constants.InvoiceStatusPending, Kind: constants.PDF,
		FileName: "inv.pdf", TotalPages: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := st.Invoices().CreateInvoice(ctx, inv); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if ok, err := st.Invoices().TransitionInvoice(ctx, tenant, inv.ID, constants.InvoiceStatusPending, constants.InvoiceStatusProcessing); err != nil || !ok {
		t.Fatalf("start invoice: %v %v", ok, err)
	}
	inv.Status = constants.InvoiceStatusCompleted
	inv.PagesScanned = 1
	if ok, err := st.Invoices().CompleteInvoice(ctx, inv); err != nil || !ok {
		t.Fatalf("complete invoice: %v %v", ok, err)
	}
	return rec, a.ID, inv.ID
}

func TestCommitAndApproveOnSameProductDoNotInterleave(t *testing.T) {
	stores := map[string]func(t *testing.T) repository.Store{
		"memory": func(*testing.T) repository.Store { return memory.New() },
		"sqlite": openSQLiteStore,
	}
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			for round := 0; round < 5; round++ {
				st := open(t)
				rec, auditID, invoiceID := racingSetup(t, st)
				ctx := context.Background()

				auditSvc := NewService(st, nil)
				commitSvc := commit.NewService(st, nil)
				id := rec.ID
				items := []entity.LineItem{{Position: 1, ProductName: "Milk", ProductID: &id,
					Quantity: decimal.NewFromInt(10), UnitCost: decimal.RequireFromString("2.10")}}

				var (
					wg                    sync.WaitGroup
					approveErr, commitErr error
				)
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, approveErr = auditSvc.Approve(ctx, tenant, auditID)
				}()
				go func() {
					defer wg.Done()
					_, commitErr = commitSvc.Commit(ctx, tenant, invoiceID, items)
				}()
				wg.Wait()
				if approveErr != nil || commitErr != nil {
					t.Fatalf("round %d: approve %v, commit %v", round, approveErr, commitErr)
				}

				got, err := st.Inventory().GetInventory(ctx, tenant, rec.ID)
				if err != nil {
					t.Fatalf("get inventory: %v", err)
				}
				// approve last overwrites to 40; commit last lands on 40+10
				if got.QuantityOnHand != 40 && got.QuantityOnHand != 50 {
					t.Fatalf("round %d: stock %d is neither serial outcome", round, got.QuantityOnHand)
				}

				moves, err := st.Inventory().ListMovements(ctx, tenant, &id)
				if err != nil {
					t.Fatalf("list movements: %v", err)
				}
				if len(moves) != 2 {
					t.Fatalf("round %d: expected 2 movements, got %d", round, len(moves))
				}
				if !chainsFrom(50, got.QuantityOnHand, moves[0], moves[1]) && !chainsFrom(50, got.QuantityOnHand, moves[1], moves[0]) {
					t.Fatalf("round %d: movements do not reconcile 50 -> %d: %+v %+v", round, got.QuantityOnHand, *moves[0], *moves[1])
				}
			}
		})
	}
}

// chainsFrom reports whether applying moves in order walks stock from
// opening to closing with every QuantityAfter matching the running total.
func chainsFrom(opening, closing int64, moves ...*entity.StockMovement) bool {
	q := opening
	for _, m := range moves {
		q += m.Delta
		if m.QuantityAfter != q {
			return false
		}
	}
	return q == closing
}

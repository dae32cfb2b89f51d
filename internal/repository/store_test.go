package repository_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type storeFactory func(t *testing.T) repository.Store

func openSQLite(t *testing.T) repository.Store {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "reconciler.db"),
	}, quietLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close(quietLogger()) })
	if err := db.Migrate(ctx, quietLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// second run must be a no-op
	if err := db.Migrate(ctx, quietLogger()); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	return repository.NewStore(db, quietLogger())
}

func openPostgres(t *testing.T) repository.Store {
	t.Helper()
	dsn := os.Getenv("RECONCILER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RECONCILER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{Driver: "postgres", DSN: dsn, DialTimeout: 5 * time.Second}, quietLogger())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close(quietLogger()) })
	if err := db.HealthCheck(ctx, 3*time.Second, quietLogger()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := db.Migrate(ctx, quietLogger()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewStore(db, quietLogger())
}

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory":   func(*testing.T) repository.Store { return memory.New() },
		"sqlite":   openSQLite,
		"postgres": openPostgres,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newInvoice(tenant string) *entity.Invoice {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &entity.Invoice{
		ID:         uuid.New(),
		TenantID:   tenant,
		Status:     constants.InvoiceStatusPending,
		Kind:       constants.PDF,
		FileName:   "inv.pdf",
		TotalPages: 2,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func seedRecord(t *testing.T, ctx context.Context, st repository.Store, tenant, name string, qty int64, cost string) *entity.InventoryRecord {
	t.Helper()
	p := &entity.Product{ID: uuid.New(), Name: name}
	if err := st.Inventory().CreateProduct(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	rec := &entity.InventoryRecord{
		ID: uuid.New(), TenantID: tenant, ProductID: p.ID, Name: name,
		QuantityOnHand: qty, CostPrice: dec(cost), Active: true, UpdatedAt: time.Now().UTC(),
	}
	if err := st.Inventory().CreateInventory(ctx, rec); err != nil {
		t.Fatalf("create inventory: %v", err)
	}
	return rec
}

func TestInvoiceLifecycle(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			repo := st.Invoices()
			inv := newInvoice("t1")
			if err := repo.CreateInvoice(ctx, inv); err != nil {
				t.Fatalf("create: %v", err)
			}

			if _, err := repo.GetInvoice(ctx, "other-tenant", inv.ID); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("cross-tenant read: want ErrNotFound, got %v", err)
			}
			if ok, _ := repo.AdvancePagesScanned(ctx, "t1", inv.ID, 1); ok {
				t.Fatal("pages must not advance while pending")
			}
			ok, err := repo.TransitionInvoice(ctx, "t1", inv.ID, constants.InvoiceStatusPending, constants.InvoiceStatusProcessing)
			if err != nil || !ok {
				t.Fatalf("pending->processing: ok=%v err=%v", ok, err)
			}
			if ok, _ := repo.TransitionInvoice(ctx, "t1", inv.ID, constants.InvoiceStatusPending, constants.InvoiceStatusProcessing); ok {
				t.Fatal("second transition from pending must not match")
			}

			if ok, err := repo.AdvancePagesScanned(ctx, "t1", inv.ID, 2); err != nil || !ok {
				t.Fatalf("advance to 2: ok=%v err=%v", ok, err)
			}
			if ok, _ := repo.AdvancePagesScanned(ctx, "t1", inv.ID, 1); ok {
				t.Fatal("pages_scanned moved backward")
			}

			for _, idx := range []int{1, 0, 1} {
				res := entity.PageResult{
					InvoiceID: inv.ID, PageIndex: idx, CreatedAt: time.Now().UTC(),
					Extraction: entity.Extraction{Items: []entity.LineItem{{ProductName: "page" + string(rune('0'+idx)), Quantity: dec("1"), UnitCost: dec("2")}}},
				}
				if err := repo.SavePageResult(ctx, res); err != nil {
					t.Fatalf("save page %d: %v", idx, err)
				}
			}
			pages, err := repo.ListPageResults(ctx, inv.ID)
			if err != nil {
				t.Fatalf("list pages: %v", err)
			}
			if len(pages) != 2 || pages[0].PageIndex != 0 || pages[1].PageIndex != 1 {
				t.Fatalf("pages not ordered or duplicated: %+v", pages)
			}
			if got := pages[0].Extraction.Items[0].UnitCost; !got.Equal(dec("2")) {
				t.Fatalf("page payload lost cost: %s", got)
			}

			date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
			done := *inv
			done.PagesScanned = 2
			done.Vendor = entity.VendorContact{Name: "Acme Foods", Email: "ap@acme.test"}
			done.Metadata = entity.InvoiceMetadata{InvoiceNumber: "A-1", InvoiceDate: &date, TotalAmount: dec("27.50")}
			done.Source = constants.SourceSynthetic
			done.LineItems = []entity.LineItem{
				{Position: 0, ProductName: "Milk", Quantity: dec("10"), UnitCost: dec("2.00"), TotalPrice: dec("20")},
				{Position: 1, ProductName: "Bread", Quantity: dec("5"), UnitCost: dec("1.50"), TotalPrice: dec("7.5")},
			}
			if ok, err := repo.CompleteInvoice(ctx, &done); err != nil || !ok {
				t.Fatalf("complete: ok=%v err=%v", ok, err)
			}
			if ok, _ := repo.FailInvoice(ctx, "t1", inv.ID, "late failure"); ok {
				t.Fatal("completed invoice must not become failed")
			}
			if err := repo.DeletePageResults(ctx, inv.ID); err != nil {
				t.Fatalf("delete pages: %v", err)
			}

			got, err := repo.GetInvoice(ctx, "t1", inv.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Status != constants.InvoiceStatusCompleted || got.PagesScanned != 2 {
				t.Fatalf("unexpected header: status=%s pages=%d", got.Status, got.PagesScanned)
			}
			if !got.Metadata.TotalAmount.Equal(dec("27.5")) || got.Vendor.Name != "Acme Foods" {
				t.Fatalf("metadata not stored: %+v %+v", got.Metadata, got.Vendor)
			}
			if got.Metadata.InvoiceDate == nil || !got.Metadata.InvoiceDate.Equal(date) {
				t.Fatalf("invoice date: %v", got.Metadata.InvoiceDate)
			}
			if len(got.LineItems) != 2 || got.LineItems[0].ProductName != "Milk" || !got.LineItems[1].UnitCost.Equal(dec("1.5")) {
				t.Fatalf("line items: %+v", got.LineItems)
			}

			at := time.Now().UTC()
			if ok, err := repo.MarkCommitted(ctx, "t1", inv.ID, at); err != nil || !ok {
				t.Fatalf("mark committed: ok=%v err=%v", ok, err)
			}
			if ok, _ := repo.MarkCommitted(ctx, "t1", inv.ID, at); ok {
				t.Fatal("second commit claim must fail")
			}
		})
	}
}

func TestUnfinishedAndFailed(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			repo := st.Invoices()
			tenant := "t-" + uuid.NewString()
			a, b := newInvoice(tenant), newInvoice(tenant)
			for _, inv := range []*entity.Invoice{a, b} {
				if err := repo.CreateInvoice(ctx, inv); err != nil {
					t.Fatalf("create: %v", err)
				}
			}
			if ok, err := repo.FailInvoice(ctx, tenant, b.ID, "page 1: extraction failed"); err != nil || !ok {
				t.Fatalf("fail: ok=%v err=%v", ok, err)
			}

			refs, err := repo.ListUnfinished(ctx)
			if err != nil {
				t.Fatalf("unfinished: %v", err)
			}
			var sawA, sawB bool
			for _, r := range refs {
				sawA = sawA || r.ID == a.ID
				sawB = sawB || r.ID == b.ID
			}
			if !sawA || sawB {
				t.Fatalf("unfinished should include only the pending invoice: a=%v b=%v", sawA, sawB)
			}

			failed, err := repo.ListInvoices(ctx, tenant, repository.InvoiceFilter{Status: constants.InvoiceStatusFailed})
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(failed) != 1 || failed[0].FailureReason != "page 1: extraction failed" {
				t.Fatalf("failed list: %+v", failed)
			}
		})
	}
}

func TestInventoryStockAndBatches(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			tenant := "t-" + uuid.NewString()
			rec := seedRecord(t, ctx, st, tenant, "Bread", 3, "1.20")
			inv := st.Inventory()

			after, err := inv.AddStock(ctx, tenant, rec.ID, 5, dec("1.50"))
			if err != nil || after != 8 {
				t.Fatalf("add stock: after=%d err=%v", after, err)
			}
			before, err := inv.SetStock(ctx, tenant, rec.ID, 6)
			if err != nil || before != 8 {
				t.Fatalf("set stock: before=%d err=%v", before, err)
			}
			got, err := inv.GetInventory(ctx, tenant, rec.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.QuantityOnHand != 6 || !got.CostPrice.Equal(dec("1.5")) {
				t.Fatalf("record: qty=%d cost=%s", got.QuantityOnHand, got.CostPrice)
			}
			if _, err := inv.AddStock(ctx, "other", rec.ID, 1, dec("1")); !errors.Is(err, common.ErrNotFound) {
				t.Fatalf("cross-tenant add: want ErrNotFound, got %v", err)
			}

			soon := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
			later := soon.AddDate(0, 6, 0)
			received := time.Now().UTC()
			for i, exp := range []*time.Time{nil, &later, &soon} {
				b := &entity.Batch{
					ID: uuid.New(), InventoryID: rec.ID, BatchNumber: "B" + string(rune('1'+i)),
					Quantity: 2, CostPerUnit: dec("1.5"), Expiry: exp,
					Status: constants.BatchStatusReceived, ReceivedAt: received.Add(time.Duration(i) * time.Second),
				}
				if err := inv.CreateBatch(ctx, b); err != nil {
					t.Fatalf("create batch: %v", err)
				}
			}
			batches, err := inv.ListOpenBatches(ctx, rec.ID)
			if err != nil {
				t.Fatalf("list batches: %v", err)
			}
			if len(batches) != 3 || batches[0].BatchNumber != "B3" || batches[1].BatchNumber != "B2" || batches[2].Expiry != nil {
				t.Fatalf("batches not FIFO by expiry: %+v", batches)
			}
			if err := inv.UpdateBatch(ctx, batches[0].ID, 0, constants.BatchStatusDepleted); err != nil {
				t.Fatalf("update batch: %v", err)
			}
			if open, _ := inv.ListOpenBatches(ctx, rec.ID); len(open) != 2 {
				t.Fatalf("depleted batch still open: %d", len(open))
			}

			m := &entity.StockMovement{
				ID: uuid.New(), TenantID: tenant, InventoryID: rec.ID, Kind: constants.MovementInvoiceIn,
				Delta: 5, QuantityAfter: 8, Reference: uuid.New(), CreatedAt: time.Now().UTC(),
			}
			if err := inv.AppendMovement(ctx, m); err != nil {
				t.Fatalf("append movement: %v", err)
			}
			moves, err := inv.ListMovements(ctx, tenant, &rec.ID)
			if err != nil || len(moves) != 1 || moves[0].Delta != 5 || moves[0].Kind != constants.MovementInvoiceIn {
				t.Fatalf("movements: %+v err=%v", moves, err)
			}
		})
	}
}

func TestAuditPersistence(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			tenant := "t-" + uuid.NewString()
			milk := seedRecord(t, ctx, st, tenant, "Milk", 50, "2.00")
			bread := seedRecord(t, ctx, st, tenant, "Bread", 10, "1.50")

			a := &entity.AuditSession{
				ID: uuid.New(), TenantID: tenant, Status: constants.AuditStatusPending, StartedAt: time.Now().UTC(),
				Items: []entity.AuditItem{
					{ProductID: milk.ID, ProductName: "Milk", ExpectedQuantity: 50, UnitCost: dec("2")},
					{ProductID: bread.ID, ProductName: "Bread", ExpectedQuantity: 10, UnitCost: dec("1.5")},
				},
			}
			audits := st.Audits()
			if err := audits.CreateAudit(ctx, a); err != nil {
				t.Fatalf("create audit: %v", err)
			}
			if ok, err := audits.RecordCount(ctx, a.ID, milk.ID, 42, "shrink"); err != nil || !ok {
				t.Fatalf("record count: ok=%v err=%v", ok, err)
			}
			if ok, _ := audits.RecordCount(ctx, a.ID, uuid.New(), 1, ""); ok {
				t.Fatal("count for a product outside the snapshot must not match")
			}

			got, err := audits.GetAudit(ctx, tenant, a.ID)
			if err != nil {
				t.Fatalf("get audit: %v", err)
			}
			if len(got.Items) != 2 || got.Items[0].ProductName != "Bread" {
				t.Fatalf("items not ordered by name: %+v", got.Items)
			}
			if got.Items[0].ActualQuantity != nil {
				t.Fatal("uncounted item must stay unset")
			}
			if got.Items[1].ActualQuantity == nil || *got.Items[1].ActualQuantity != 42 {
				t.Fatalf("milk count: %v", got.Items[1].ActualQuantity)
			}

			if ok, _ := audits.LockAudit(ctx, tenant, a.ID, constants.AuditStatusCompleted); ok {
				t.Fatal("lock must fail for the wrong status")
			}
			disc := int64(-8)
			now := time.Now().UTC()
			got.Items[1].Discrepancy = &disc
			got.CompletedAt = &now
			got.TotalLoss = 8
			got.NetVarianceValue = dec("-16")
			if ok, err := audits.CompleteAudit(ctx, got); err != nil || !ok {
				t.Fatalf("complete: ok=%v err=%v", ok, err)
			}
			if ok, _ := audits.CompleteAudit(ctx, got); ok {
				t.Fatal("second completion must not match")
			}
			if ok, err := audits.DecideAudit(ctx, tenant, a.ID, constants.AuditStatusApproved, now); err != nil || !ok {
				t.Fatalf("approve: ok=%v err=%v", ok, err)
			}
			if ok, _ := audits.DecideAudit(ctx, tenant, a.ID, constants.AuditStatusRejected, now); ok {
				t.Fatal("decided audit must not be decided again")
			}

			final, err := audits.GetAudit(ctx, tenant, a.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if final.Status != constants.AuditStatusApproved || final.TotalLoss != 8 || !final.NetVarianceValue.Equal(dec("-16")) {
				t.Fatalf("final: %+v", final)
			}
			if final.Items[1].Discrepancy == nil || *final.Items[1].Discrepancy != -8 || final.Items[0].Discrepancy != nil {
				t.Fatalf("discrepancies: %+v", final.Items)
			}
			list, err := audits.ListAudits(ctx, tenant)
			if err != nil || len(list) != 1 {
				t.Fatalf("list audits: %d err=%v", len(list), err)
			}
		})
	}
}

func TestInTxRollsBack(t *testing.T) {
	for name, open := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			tenant := "t-" + uuid.NewString()
			rec := seedRecord(t, ctx, st, tenant, "Eggs", 12, "3.00")
			boom := errors.New("boom")

			err := st.InTx(ctx, func(tx repository.Store) error {
				if _, err := tx.Inventory().AddStock(ctx, tenant, rec.ID, 30, dec("9.99")); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("want boom, got %v", err)
			}
			got, err := st.Inventory().GetInventory(ctx, tenant, rec.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.QuantityOnHand != 12 || !got.CostPrice.Equal(dec("3")) {
				t.Fatalf("rolled-back change visible: qty=%d cost=%s", got.QuantityOnHand, got.CostPrice)
			}
		})
	}
}

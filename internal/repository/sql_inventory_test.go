package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

const casTenant = "store-1"

func newSQLiteStore(t *testing.T) *sqlStore {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := Open(ctx, Config{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "cas.db")}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close(logger) })
	if err := db.Migrate(ctx, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db, logger).(*sqlStore)
}

func seedStock(t *testing.T, s *sqlStore, qty int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	p := &entity.Product{ID: uuid.New(), Name: "Milk"}
	if err := s.Inventory().CreateProduct(ctx, p); err != nil {
		t.Fatalf("create product: %v", err)
	}
	rec := &entity.InventoryRecord{
		ID: uuid.New(), TenantID: casTenant, ProductID: p.ID, Name: "Milk",
		QuantityOnHand: qty, CostPrice: decimal.NewFromInt(2), Active: true, UpdatedAt: time.Now().UTC(),
	}
	if err := s.Inventory().CreateInventory(ctx, rec); err != nil {
		t.Fatalf("create inventory: %v", err)
	}
	return rec.ID
}

// bumpOnClock makes the store clock add one unit to id's stock on each of
// the first n reads. SetStock reads the clock between its read and its
// conditional write, so every bump costs it one attempt.
func bumpOnClock(t *testing.T, s *sqlStore, id uuid.UUID, n int) {
	calls := 0
	s.now = func() time.Time {
		if calls < n {
			calls++
			upd := s.builder().Update(inventoryTable).
				Add("quantity_on_hand", 1).
				Where(entsql.EQ("id", id))
			if _, err := s.exec(context.Background(), upd); err != nil {
				t.Errorf("bump stock: %v", err)
			}
		}
		return time.Now().UTC()
	}
}

func TestSetStockRetriesAfterConcurrentChange(t *testing.T) {
	s := newSQLiteStore(t)
	id := seedStock(t, s, 10)
	bumpOnClock(t, s, id, 1)

	before, err := s.Inventory().SetStock(context.Background(), casTenant, id, 4)
	if err != nil {
		t.Fatalf("SetStock: %v", err)
	}
	if before != 11 {
		t.Fatalf("before = %d, want the re-read quantity 11", before)
	}
	rec, err := s.Inventory().GetInventory(context.Background(), casTenant, id)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if rec.QuantityOnHand != 4 {
		t.Fatalf("quantity = %d, want 4", rec.QuantityOnHand)
	}
}

func TestSetStockGivesUpWhenQuantityKeepsChanging(t *testing.T) {
	s := newSQLiteStore(t)
	id := seedStock(t, s, 10)
	bumpOnClock(t, s, id, setStockAttempts)

	_, err := s.Inventory().SetStock(context.Background(), casTenant, id, 4)
	if !errors.Is(err, common.ErrDatabase) || common.ErrorCode(err) != "DATABASE_ERROR" {
		t.Fatalf("SetStock() = %v, want DATABASE_ERROR", err)
	}
	rec, err := s.Inventory().GetInventory(context.Background(), casTenant, id)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if want := int64(10 + setStockAttempts); rec.QuantityOnHand != want {
		t.Fatalf("quantity = %d, want %d untouched by SetStock", rec.QuantityOnHand, want)
	}
}

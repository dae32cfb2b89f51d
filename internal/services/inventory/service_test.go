package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository/memory"
)

func TestUpsertInventory(t *testing.T) {
	st := memory.New()
	svc := NewService(st, nil)
	ctx := context.Background()

	rec, err := svc.UpsertInventory(ctx, "store-1", UpsertRequest{
		Name: " Whole Milk ", Category: "dairy products", QuantityOnHand: 12,
		CostPrice: decimal.RequireFromString("2.005"), SellingPrice: decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Name != "Whole Milk" || rec.QuantityOnHand != 12 || !rec.Active || !rec.CostPrice.Equal(decimal.RequireFromString("2.01")) {
		t.Fatalf("unexpected record %+v", rec)
	}

	inactive := false
	upd, err := svc.UpsertInventory(ctx, "store-1", UpsertRequest{
		ID: &rec.ID, Name: "Whole Milk 1 gal", QuantityOnHand: 999, CostPrice: decimal.NewFromInt(2), Active: &inactive,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.QuantityOnHand != 12 || upd.Active || upd.Name != "Whole Milk 1 gal" {
		t.Fatalf("update must keep stock and apply fields: %+v", upd)
	}

	active, _ := svc.ListInventory(ctx, "store-1", true)
	all, _ := svc.ListInventory(ctx, "store-1", false)
	if len(active) != 0 || len(all) != 1 {
		t.Fatalf("expected 0 active and 1 total, got %d/%d", len(active), len(all))
	}
}

func TestUpsertInventoryValidation(t *testing.T) {
	svc := NewService(memory.New(), nil)
	cases := []struct {
		name string
		req  UpsertRequest
	}{
		{"missing name", UpsertRequest{CostPrice: decimal.NewFromInt(1)}},
		{"negative stock", UpsertRequest{Name: "x", QuantityOnHand: -1}},
		{"negative cost", UpsertRequest{Name: "x", CostPrice: decimal.NewFromInt(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.UpsertInventory(context.Background(), "store-1", tc.req); !errors.Is(err, common.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestMovementsAndTenantIsolation(t *testing.T) {
	svc := NewService(memory.New(), nil)
	ctx := context.Background()
	rec, err := svc.UpsertInventory(ctx, "store-1", UpsertRequest{Name: "Eggs", CostPrice: decimal.NewFromInt(2)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.GetInventory(ctx, "store-2", rec.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found for other tenant, got %v", err)
	}
	if _, err := svc.ListMovements(ctx, "store-1", &rec.ID); err != nil {
		t.Fatalf("movements: %v", err)
	}
	missing := uuid.New()
	if _, err := svc.ListMovements(ctx, "store-1", &missing); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found for unknown record, got %v", err)
	}
	if _, err := svc.UpsertInventory(ctx, "store-1", UpsertRequest{ID: &missing, Name: "x"}); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected not found updating unknown record, got %v", err)
	}
}

// Package inventory serves stock reads and the admin upsert of inventory
// records. Stock levels themselves change only through commit and audit.
package inventory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
	"github.com/joseph-ayodele/invoice-reconciler/internal/repository"
)

type Service struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// UpsertRequest creates or edits one inventory record. QuantityOnHand is the
// opening stock and is only used when the record is created.
type UpsertRequest struct {
	ID             *uuid.UUID      `json:"inventory_id,omitempty"`
	Name           string          `json:"name" validate:"required,max=200"`
	SKU            string          `json:"sku,omitempty" validate:"max=64"`
	UPC            string          `json:"upc,omitempty" validate:"max=64"`
	Category       string          `json:"category,omitempty"`
	QuantityOnHand int64           `json:"quantity_on_hand" validate:"gte=0"`
	CostPrice      decimal.Decimal `json:"cost_price" validate:"gte=0"`
	SellingPrice   decimal.Decimal `json:"selling_price" validate:"gte=0"`
	ReorderLevel   int64           `json:"reorder_level" validate:"gte=0"`
	Active         *bool           `json:"active,omitempty"`
}

func (s *Service) ListInventory(ctx context.Context, tenant string, activeOnly bool) ([]*entity.InventoryRecord, error) {
	return s.store.Inventory().ListInventory(ctx, tenant, activeOnly)
}

func (s *Service) GetInventory(ctx context.Context, tenant string, id uuid.UUID) (*entity.InventoryRecord, error) {
	return s.store.Inventory().GetInventory(ctx, tenant, id)
}

// ListMovements returns the stock ledger of the tenant, or of one record.
func (s *Service) ListMovements(ctx context.Context, tenant string, inventoryID *uuid.UUID) ([]*entity.StockMovement, error) {
	if inventoryID != nil {
		if _, err := s.store.Inventory().GetInventory(ctx, tenant, *inventoryID); err != nil {
			return nil, err
		}
	}
	return s.store.Inventory().ListMovements(ctx, tenant, inventoryID)
}

func (s *Service) UpsertInventory(ctx context.Context, tenant string, req UpsertRequest) (*entity.InventoryRecord, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	category := strings.TrimSpace(req.Category)
	if c, ok := constants.Canonicalize(category); ok {
		category = string(c)
	}
	now := s.now().UTC()

	var out *entity.InventoryRecord
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if req.ID != nil {
			rec, err := tx.Inventory().GetInventory(ctx, tenant, *req.ID)
			if err != nil {
				return err
			}
			rec.Name = strings.TrimSpace(req.Name)
			rec.SKU = strings.TrimSpace(req.SKU)
			rec.UPC = strings.TrimSpace(req.UPC)
			rec.Category = category
			rec.CostPrice = req.CostPrice.Round(2)
			rec.SellingPrice = req.SellingPrice.Round(2)
			rec.ReorderLevel = req.ReorderLevel
			if req.Active != nil {
				rec.Active = *req.Active
			}
			rec.UpdatedAt = now
			out = rec
			return tx.Inventory().SaveInventory(ctx, rec)
		}

		prod := &entity.Product{
			ID:       uuid.New(),
			Name:     strings.TrimSpace(req.Name),
			SKU:      strings.TrimSpace(req.SKU),
			UPC:      strings.TrimSpace(req.UPC),
			Category: category,
		}
		if err := tx.Inventory().CreateProduct(ctx, prod); err != nil {
			return err
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		}
		out = &entity.InventoryRecord{
			ID:             uuid.New(),
			TenantID:       tenant,
			ProductID:      prod.ID,
			Name:           prod.Name,
			SKU:            prod.SKU,
			UPC:            prod.UPC,
			Category:       category,
			QuantityOnHand: req.QuantityOnHand,
			CostPrice:      req.CostPrice.Round(2),
			SellingPrice:   req.SellingPrice.Round(2),
			ReorderLevel:   req.ReorderLevel,
			Active:         active,
			UpdatedAt:      now,
		}
		return tx.Inventory().CreateInventory(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("inventory.upserted", "tenant_id", tenant, "inventory_id", out.ID, "created", req.ID == nil)
	return out, nil
}

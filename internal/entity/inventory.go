package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
)

// Product is a catalog entry shared across tenants.
type Product struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	SKU      string    `json:"sku,omitempty"`
	UPC      string    `json:"upc,omitempty"`
	Category string    `json:"category,omitempty"`
}

// InventoryRecord is one stocked product at a tenant.
type InventoryRecord struct {
	ID             uuid.UUID       `json:"inventory_id"`
	TenantID       string          `json:"tenant_id"`
	ProductID      uuid.UUID       `json:"global_product_id"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku,omitempty"`
	UPC            string          `json:"upc,omitempty"`
	Category       string          `json:"category,omitempty"`
	QuantityOnHand int64           `json:"quantity_on_hand"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	ReorderLevel   int64           `json:"reorder_level"`
	Active         bool            `json:"active"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Batch is a received lot of stock for one inventory record.
type Batch struct {
	ID          uuid.UUID             `json:"batch_id"`
	InventoryID uuid.UUID             `json:"inventory_id"`
	InvoiceID   *uuid.UUID            `json:"invoice_id,omitempty"`
	BatchNumber string                `json:"batch_number"`
	Quantity    int64                 `json:"quantity"`
	CostPerUnit decimal.Decimal       `json:"cost_per_unit"`
	Expiry      *time.Time            `json:"expiry,omitempty"`
	Status      constants.BatchStatus `json:"status"`
	ReceivedAt  time.Time             `json:"received_at"`
}

// StockMovement is one row of the append-only stock ledger.
type StockMovement struct {
	ID            uuid.UUID              `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	InventoryID   uuid.UUID              `json:"inventory_id"`
	Kind          constants.MovementKind `json:"kind"`
	Delta         int64                  `json:"delta"`
	QuantityAfter int64                  `json:"quantity_after"`
	Reference     uuid.UUID              `json:"reference"`
	CreatedAt     time.Time              `json:"created_at"`
}

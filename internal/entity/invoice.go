package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
)

// VendorContact is the supplier block printed on an invoice.
type VendorContact struct {
	Name             string `json:"name"`
	EIN              string `json:"ein,omitempty"`
	Website          string `json:"website,omitempty"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Fax              string `json:"fax,omitempty"`
	ShippingAddress  string `json:"shipping_address,omitempty"`
	WarehouseAddress string `json:"warehouse_address,omitempty"`
	POCName          string `json:"poc_name,omitempty"`
}

// InvoiceMetadata carries the header totals of an invoice.
type InvoiceMetadata struct {
	InvoiceNumber  string          `json:"invoice_number"`
	InvoiceDate    *time.Time      `json:"invoice_date,omitempty"`
	TotalTax       decimal.Decimal `json:"total_tax"`
	TotalTransport decimal.Decimal `json:"total_transport"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// LineItem is one product row, either extracted or edited by a reviewer.
// ProductID is only set on commit input, when the reviewer matched the row
// to an existing inventory record.
type LineItem struct {
	Position    int             `json:"position"`
	ProductName string          `json:"product_name"`
	VendorCode  string          `json:"vendor_code,omitempty"`
	UPC         string          `json:"upc,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	Category    string          `json:"category,omitempty"`
	Expiry      *time.Time      `json:"expiry,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
}

// Extraction is the structured record produced for one page.
type Extraction struct {
	Vendor   VendorContact              `json:"vendor"`
	Metadata InvoiceMetadata            `json:"metadata"`
	Items    []LineItem                 `json:"items"`
	Source   constants.ExtractionSource `json:"source"`
}

// PageResult is a persisted per-page extraction, merged in PageIndex order.
type PageResult struct {
	InvoiceID  uuid.UUID  `json:"invoice_id"`
	PageIndex  int        `json:"page_index"`
	Extraction Extraction `json:"extraction"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Invoice is one uploaded source document and, once completed, its structured content.
type Invoice struct {
	ID            uuid.UUID                  `json:"id"`
	TenantID      string                     `json:"tenant_id"`
	Status        constants.InvoiceStatus    `json:"status"`
	Kind          constants.DocumentKind     `json:"document_kind"`
	FileName      string                     `json:"file_name"`
	ContentHash   string                     `json:"content_hash"`
	TotalPages    int                        `json:"total_pages"`
	PagesScanned  int                        `json:"pages_scanned"`
	Vendor        VendorContact              `json:"vendor"`
	Metadata      InvoiceMetadata            `json:"metadata"`
	Source        constants.ExtractionSource `json:"extraction_source,omitempty"`
	FailureReason string                     `json:"failure_reason,omitempty"`
	LineItems     []LineItem                 `json:"line_items"`
	CommittedAt   *time.Time                 `json:"committed_at,omitempty"`
	CreatedAt     time.Time                  `json:"created_at"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// Committed reports whether the invoice has already been applied to inventory.
func (i *Invoice) Committed() bool {
	return i.CommittedAt != nil
}

package llm

import (
	"context"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// DefaultMaxTextChars bounds the document text sent for one page. Longer
// text is cut, never rejected.
const DefaultMaxTextChars = 15000

// Page is one unit of extraction work. PDF pages carry Text; image pages
// carry Image bytes and their MIME type.
type Page struct {
	Index    int
	Kind     constants.DocumentKind
	Text     string
	Image    []byte
	MIME     string
	FileName string
}

// Extractor is the interface the processing job depends on. Implementations
// make a single attempt per call; a failure wraps common.ErrExtractionFailed.
type Extractor interface {
	Extract(ctx context.Context, page Page) (entity.Extraction, []byte /*rawJSON*/, error)
}

// wireDocument is the JSON shape requested from the model.
type wireDocument struct {
	Vendor   wireVendor   `json:"vendor"`
	Metadata wireMetadata `json:"metadata"`
	Items    []wireItem   `json:"items"`
}

type wireVendor struct {
	Name             *string `json:"name"`
	EIN              *string `json:"ein"`
	Website          *string `json:"website"`
	Email            *string `json:"email"`
	Phone            *string `json:"phone"`
	Fax              *string `json:"fax"`
	ShippingAddress  *string `json:"shipping_address"`
	WarehouseAddress *string `json:"warehouse_address"`
	POCName          *string `json:"poc_name"`
}

type wireMetadata struct {
	InvoiceNumber  *string      `json:"invoice_number"`
	InvoiceDate    *string      `json:"invoice_date"`
	TotalTax       *wireDecimal `json:"total_tax"`
	TotalTransport *wireDecimal `json:"total_transport"`
	TotalAmount    *wireDecimal `json:"total_amount"`
}

type wireItem struct {
	ProductName *string      `json:"product_name"`
	VendorCode  *string      `json:"vendor_code"`
	UPC         *string      `json:"upc"`
	Quantity    *wireDecimal `json:"quantity"`
	UnitCost    *wireDecimal `json:"unit_cost"`
	TotalPrice  *wireDecimal `json:"total_price"`
	Category    *string      `json:"category"`
	Expiry      *string      `json:"expiry"`
	Notes       *string      `json:"notes"`
}

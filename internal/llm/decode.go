package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// wireDecimal accepts JSON numbers and numeric strings; anything else reads as zero.
type wireDecimal struct {
	decimal.Decimal
}

func (w *wireDecimal) UnmarshalJSON(b []byte) error {
	if d, ok := ParseAmount(string(b)); ok {
		w.Decimal = d
	}
	return nil
}

func (w *wireDecimal) value() decimal.Decimal {
	if w == nil {
		return decimal.Zero
	}
	return w.Decimal
}

// DecodeExtraction maps a schema-valid reply onto the domain record.
func DecodeExtraction(raw []byte, source constants.ExtractionSource) (entity.Extraction, error) {
	var doc wireDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entity.Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}

	out := entity.Extraction{
		Vendor: entity.VendorContact{
			Name:             str(doc.Vendor.Name),
			EIN:              str(doc.Vendor.EIN),
			Website:          str(doc.Vendor.Website),
			Email:            str(doc.Vendor.Email),
			Phone:            str(doc.Vendor.Phone),
			Fax:              str(doc.Vendor.Fax),
			ShippingAddress:  str(doc.Vendor.ShippingAddress),
			WarehouseAddress: str(doc.Vendor.WarehouseAddress),
			POCName:          str(doc.Vendor.POCName),
		},
		Metadata: entity.InvoiceMetadata{
			InvoiceNumber:  str(doc.Metadata.InvoiceNumber),
			InvoiceDate:    date(doc.Metadata.InvoiceDate),
			TotalTax:       doc.Metadata.TotalTax.value(),
			TotalTransport: doc.Metadata.TotalTransport.value(),
			TotalAmount:    doc.Metadata.TotalAmount.value(),
		},
		Items:  make([]entity.LineItem, 0, len(doc.Items)),
		Source: source,
	}

	for i, it := range doc.Items {
		name := str(it.ProductName)
		if name == "" {
			continue
		}
		li := entity.LineItem{
			Position:    i + 1,
			ProductName: name,
			VendorCode:  str(it.VendorCode),
			UPC:         str(it.UPC),
			Quantity:    it.Quantity.value(),
			UnitCost:    it.UnitCost.value(),
			TotalPrice:  it.TotalPrice.value(),
			Category:    category(str(it.Category)),
			Expiry:      date(it.Expiry),
			Notes:       str(it.Notes),
		}
		out.Items = append(out.Items, li)
	}
	return out, nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	s := strings.TrimSpace(*p)
	if strings.EqualFold(s, "null") {
		return ""
	}
	return s
}

func date(p *string) *time.Time {
	s, ok := NormalizeDate(str(p))
	if !ok {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

func category(s string) string {
	if s == "" {
		return ""
	}
	if c, ok := constants.Canonicalize(s); ok {
		return string(c)
	}
	return s
}

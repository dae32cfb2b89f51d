package pipeline

import (
	"sort"

	"github.com/joseph-ayodele/invoice-reconciler/constants"
	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// Merge folds per-page extractions into one invoice body. Pages are applied
// in PageIndex order whatever order they were produced in: items of a later
// page are appended after those of earlier pages and positions are
// renumbered from 1. Vendor fields and invoice number/date take the first
// non-empty value; tax, transport and total take the last non-zero value,
// since totals are printed on the final page of multi-page invoices.
func Merge(results []entity.PageResult) entity.Extraction {
	sorted := append([]entity.PageResult(nil), results...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageIndex < sorted[j].PageIndex })

	var out entity.Extraction
	out.Items = []entity.LineItem{}
	out.Source = constants.SourceLive
	for _, r := range sorted {
		ext := r.Extraction
		mergeVendor(&out.Vendor, ext.Vendor)

		if out.Metadata.InvoiceNumber == "" {
			out.Metadata.InvoiceNumber = ext.Metadata.InvoiceNumber
		}
		if out.Metadata.InvoiceDate == nil {
			out.Metadata.InvoiceDate = ext.Metadata.InvoiceDate
		}
		if !ext.Metadata.TotalTax.IsZero() {
			out.Metadata.TotalTax = ext.Metadata.TotalTax
		}
		if !ext.Metadata.TotalTransport.IsZero() {
			out.Metadata.TotalTransport = ext.Metadata.TotalTransport
		}
		if !ext.Metadata.TotalAmount.IsZero() {
			out.Metadata.TotalAmount = ext.Metadata.TotalAmount
		}
		if ext.Source == constants.SourceSynthetic {
			out.Source = constants.SourceSynthetic
		}
		for _, it := range ext.Items {
			it.Position = len(out.Items) + 1
			out.Items = append(out.Items, it)
		}
	}
	return out
}

func mergeVendor(dst *entity.VendorContact, src entity.VendorContact) {
	first := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	first(&dst.Name, src.Name)
	first(&dst.EIN, src.EIN)
	first(&dst.Website, src.Website)
	first(&dst.Email, src.Email)
	first(&dst.Phone, src.Phone)
	first(&dst.Fax, src.Fax)
	first(&dst.ShippingAddress, src.ShippingAddress)
	first(&dst.WarehouseAddress, src.WarehouseAddress)
	first(&dst.POCName, src.POCName)
}

// Package totals repairs the header totals of an extracted invoice against its
// line items. Everything here is pure; callers own persistence.
package totals

import (
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-reconciler/internal/entity"
)

// lineTolerance is how far a stated line total may drift from qty x cost
// before the computed value replaces it.
var lineTolerance = decimal.NewFromFloat(0.01)

// LineTotal returns quantity x unit_cost for one item, rounded to cents.
func LineTotal(it entity.LineItem) decimal.Decimal {
	return it.Quantity.Mul(it.UnitCost).Round(2)
}

// ItemsSum is the unrounded sum of quantity x unit_cost over items.
func ItemsSum(items []entity.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Quantity.Mul(it.UnitCost))
	}
	return sum
}

// ReconcileTotals replaces total_amount with items + tax + transport when the
// stated total is missing, zero or below the items sum. A stated total at or
// above the items sum is trusted as-is.
func ReconcileTotals(meta entity.InvoiceMetadata, items []entity.LineItem) entity.InvoiceMetadata {
	sum := ItemsSum(items)
	if meta.TotalAmount.IsZero() || meta.TotalAmount.LessThan(sum) {
		meta.TotalAmount = sum.Add(meta.TotalTax).Add(meta.TotalTransport).Round(2)
	}
	return meta
}

// FillLineTotals sets total_price on every item whose stated value is absent or
// disagrees with quantity x unit_cost. The slice is modified in place.
func FillLineTotals(items []entity.LineItem) {
	for i := range items {
		computed := LineTotal(items[i])
		if items[i].TotalPrice.Sub(computed).Abs().GreaterThan(lineTolerance) || items[i].TotalPrice.IsZero() {
			items[i].TotalPrice = computed
		}
	}
}

package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Alternate spellings seen from models and older clients, mapped onto the
// canonical keys. Canonical keys always win when both are present.
var (
	itemAliases = map[string]string{
		"qty":                "quantity",
		"count":              "quantity",
		"upc_code":           "upc",
		"barcode":            "upc",
		"sku":                "vendor_code",
		"item_code":          "vendor_code",
		"name":               "product_name",
		"raw_name":           "product_name",
		"description":        "product_name",
		"unit_price":         "unit_cost",
		"price":              "unit_cost",
		"cost":               "unit_cost",
		"total":              "total_price",
		"line_total":         "total_price",
		"amount":             "total_price",
		"expiry_date":        "expiry",
		"expiration_date":    "expiry",
		"matched_product_id": "product_id",
	}
	vendorAliases = map[string]string{
		"vendor_name":    "name",
		"company":        "name",
		"address":        "shipping_address",
		"remit_to":       "shipping_address",
		"ship_from":      "warehouse_address",
		"tax_id":         "ein",
		"contact":        "poc_name",
		"contact_person": "poc_name",
		"contact_phone":  "phone",
		"url":            "website",
	}
	metadataAliases = map[string]string{
		"number":     "invoice_number",
		"invoice_no": "invoice_number",
		"date":       "invoice_date",
		"tax":        "total_tax",
		"freight":    "total_transport",
		"shipping":   "total_transport",
		"transport":  "total_transport",
		"total":      "total_amount",
	}
	documentAliases = map[string]string{
		"line_items": "items",
		"lineItems":  "items",
		"products":   "items",
		"supplier":   "vendor",
		"invoice":    "metadata",
		"meta":       "metadata",
	}
)

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2 Jan 2006",
	time.RFC3339,
}

// NormalizeItemKeys renames alternate line-item keys onto canonical ones in place
// and returns the renames applied.
func NormalizeItemKeys(m map[string]any) []string {
	return renameKeys(m, itemAliases)
}

func renameKeys(m map[string]any, aliases map[string]string) []string {
	var renamed []string
	for from, to := range aliases {
		v, ok := m[from]
		if !ok {
			continue
		}
		// don't overwrite existing value if already present
		if cur, exists := m[to]; !exists || cur == nil || cur == "" {
			m[to] = v
		}
		delete(m, from)
		renamed = append(renamed, from+"->"+to)
	}
	return renamed
}

// ParseAmount accepts "1,234.50", "$12", " 7 " and bare numbers.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// coerceAmount turns a decoded JSON value into a json.Number when it is numeric.
func coerceAmount(v any) (json.Number, bool) {
	switch t := v.(type) {
	case json.Number:
		if d, ok := ParseAmount(t.String()); ok {
			return json.Number(d.String()), true
		}
	case float64:
		return json.Number(decimal.NewFromFloat(t).String()), true
	case string:
		if d, ok := ParseAmount(t); ok {
			return json.Number(d.String()), true
		}
	}
	return "", false
}

// NormalizeDate returns v as YYYY-MM-DD when it parses under a known layout.
func NormalizeDate(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}

// stringValue renders scalars as trimmed strings; nil and empty become "".
func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

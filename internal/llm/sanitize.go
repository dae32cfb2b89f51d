package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"strings"
)

var vendorKeys = []string{"name", "ein", "website", "email", "phone", "fax", "shipping_address", "warehouse_address", "poc_name"}

// NormalizeAndSanitizeJSON is the lenient pass applied when a reply fails strict
// schema validation:
// - renames known synonyms (qty -> quantity, upc_code -> upc, freight -> total_transport)
// - coerces money and quantity strings to numbers; missing item amounts become 0
// - drops null/empty optionals and rows without a product name
// - removes unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}
	if m == nil {
		return nil, nil, fmt.Errorf("sanitize: top-level value is not an object")
	}

	var dropped []string
	dropped = append(dropped, renameKeys(m, documentAliases)...)

	// vendor: a bare string is taken as the name; top-level vendor_name is folded in
	vendor, _ := m["vendor"].(map[string]any)
	if s, ok := m["vendor"].(string); ok {
		vendor = map[string]any{"name": s}
	}
	if vendor == nil {
		vendor = map[string]any{}
	}
	if s, ok := m["vendor_name"].(string); ok {
		if _, exists := vendor["name"]; !exists {
			vendor["name"] = s
		}
	}
	dropped = append(dropped, renameKeys(vendor, vendorAliases)...)
	dropped = append(dropped, keepStrings(vendor, vendorKeys, "vendor.")...)
	m["vendor"] = vendor

	metadata, _ := m["metadata"].(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
		// models sometimes flatten metadata onto the root
		for _, k := range []string{"invoice_number", "invoice_date", "total_tax", "total_transport", "total_amount", "tax", "freight", "total"} {
			if v, ok := m[k]; ok {
				metadata[k] = v
			}
		}
	}
	dropped = append(dropped, renameKeys(metadata, metadataAliases)...)
	dropped = append(dropped, sanitizeMetadata(metadata)...)
	m["metadata"] = metadata

	rawItems, _ := m["items"].([]any)
	items := make([]any, 0, len(rawItems))
	for i, ri := range rawItems {
		it, ok := ri.(map[string]any)
		if !ok {
			dropped = append(dropped, "items["+strconv.Itoa(i)+"](type)")
			continue
		}
		dropped = append(dropped, NormalizeItemKeys(it)...)
		if d, keep := sanitizeItem(it, i); keep {
			items = append(items, it)
			dropped = append(dropped, d...)
		} else {
			dropped = append(dropped, d...)
		}
	}
	m["items"] = items

	// remove unknown top-level keys
	for k := range maps.Clone(m) {
		switch k {
		case "vendor", "metadata", "items":
		default:
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

// keepStrings trims the allowed string keys, drops empty ones and anything unknown.
func keepStrings(m map[string]any, allowed []string, prefix string) []string {
	var dropped []string
	allow := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		allow[k] = struct{}{}
	}
	for k, v := range maps.Clone(m) {
		if _, ok := allow[k]; !ok {
			delete(m, k)
			dropped = append(dropped, prefix+k+"(unknown)")
			continue
		}
		s := stringValue(v)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			delete(m, k)
			continue
		}
		m[k] = s
	}
	return dropped
}

func sanitizeMetadata(md map[string]any) []string {
	var dropped []string
	for k, v := range maps.Clone(md) {
		switch k {
		case "invoice_number":
			if s := stringValue(v); s != "" {
				md[k] = s
			} else {
				delete(md, k)
			}
		case "invoice_date":
			if d, ok := NormalizeDate(v); ok {
				md[k] = d
			} else {
				delete(md, k)
				if v != nil {
					dropped = append(dropped, "metadata.invoice_date(format)")
				}
			}
		case "total_tax", "total_transport", "total_amount":
			if n, ok := coerceAmount(v); ok && !strings.HasPrefix(n.String(), "-") {
				md[k] = n
			} else {
				delete(md, k)
				if v != nil {
					dropped = append(dropped, "metadata."+k+"(non-numeric)")
				}
			}
		default:
			delete(md, k)
			dropped = append(dropped, "metadata."+k+"(unknown)")
		}
	}
	return dropped
}

// sanitizeItem normalizes one row in place; keep is false when the row has no
// usable product name.
func sanitizeItem(it map[string]any, idx int) (dropped []string, keep bool) {
	tag := "items[" + strconv.Itoa(idx) + "]."
	for _, k := range []string{"quantity", "unit_cost"} {
		n, ok := coerceAmount(it[k])
		switch {
		case !ok:
			if _, present := it[k]; present && it[k] != nil {
				dropped = append(dropped, tag+k+"(non-numeric)")
			}
			it[k] = json.Number("0")
		case strings.HasPrefix(n.String(), "-"):
			dropped = append(dropped, tag+k+"(negative)")
			it[k] = json.Number("0")
		default:
			it[k] = n
		}
	}
	if v, present := it["total_price"]; present {
		if n, ok := coerceAmount(v); ok && !strings.HasPrefix(n.String(), "-") {
			it["total_price"] = n
		} else {
			delete(it, "total_price")
		}
	}
	if v, present := it["expiry"]; present {
		if d, ok := NormalizeDate(v); ok {
			it["expiry"] = d
		} else {
			delete(it, "expiry")
		}
	}
	for k, v := range maps.Clone(it) {
		switch k {
		case "quantity", "unit_cost", "total_price", "expiry":
		case "product_name", "vendor_code", "upc", "category", "notes":
			if s := stringValue(v); s != "" {
				it[k] = s
			} else {
				delete(it, k)
			}
		default:
			delete(it, k)
			dropped = append(dropped, tag+k+"(unknown)")
		}
	}
	if _, ok := it["product_name"]; !ok {
		return append(dropped, tag+"(no product_name)"), false
	}
	return dropped, true
}

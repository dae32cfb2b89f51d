package llm

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model with the prompt and also used locally to validate replies.
func BuildInvoiceJSONSchema() map[string]any {
	vendor := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"name":              optionalString(),
			"ein":               optionalString(),
			"website":           optionalString(),
			"email":             optionalString(),
			"phone":             optionalString(),
			"fax":               optionalString(),
			"shipping_address":  optionalString(),
			"warehouse_address": optionalString(),
			"poc_name":          optionalString(),
		},
	}

	metadata := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"invoice_number":  optionalString(),
			"invoice_date":    map[string]any{"type": []string{"string", "null"}, "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"total_tax":       optionalAmount(),
			"total_transport": optionalAmount(),
			"total_amount":    optionalAmount(),
		},
	}

	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"product_name": map[string]any{"type": "string", "minLength": 1},
			"vendor_code":  optionalString(),
			"upc":          optionalString(),
			"quantity":     amount(),
			"unit_cost":    amount(),
			"total_price":  optionalAmount(),
			"category":     optionalString(),
			"expiry":       map[string]any{"type": []string{"string", "null"}, "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"notes":        optionalString(),
		},
		"required": []string{"product_name", "quantity", "unit_cost"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"vendor":   vendor,
			"metadata": metadata,
			"items":    map[string]any{"type": "array", "items": item},
		},
		"required": []string{"vendor", "metadata", "items"},
	}
}

func amount() map[string]any {
	return map[string]any{"type": "number", "minimum": 0}
}

func optionalAmount() map[string]any {
	return map[string]any{"type": []string{"number", "null"}, "minimum": 0}
}

func optionalString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

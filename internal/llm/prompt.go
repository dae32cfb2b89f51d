package llm

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// BuildSystemPrompt is the fixed instruction contract sent with every page.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a forensic invoice analyst. Return ONLY JSON that matches the provided JSON Schema.",
		"Extract two record shapes plus an ordered line-item list.",
		"1) 'vendor': every scrap of supplier contact info: name (official company name), ein (tax id), website, email, phone, fax, " +
			"shipping_address (the remit-to or main office address), warehouse_address (only if a ship-from address differs), " +
			"poc_name (sales rep or contact person).",
		"2) 'metadata': invoice_number, invoice_date (YYYY-MM-DD), total_tax, total_transport (freight/shipping/delivery), total_amount.",
		"3) 'items': one entry per printed product row in document order: product_name (clean, no codes), vendor_code (supplier SKU), " +
			"upc, quantity, unit_cost, total_price, category, expiry (YYYY-MM-DD if printed), notes.",
		"All money and quantity fields are JSON numbers without currency symbols or thousands separators.",
		"If the document does not print a grand total, compute total_amount as the sum of quantity x unit_cost over all items plus total_tax plus total_transport.",
		"If tax or freight is not printed, use 0.",
		"Use null for vendor fields that are not visible. Never invent line items.",
	}
	return strings.Join(parts, " ")
}

// BuildUserText wraps page text for the user message, cutting it to maxChars
// runes. A non-positive maxChars selects DefaultMaxTextChars.
func BuildUserText(page Page, maxChars int) string {
	text, cut := TruncateText(strings.TrimSpace(page.Text), maxChars)

	var b strings.Builder
	if page.FileName != "" {
		b.WriteString("Filename: ")
		b.WriteString(page.FileName)
		b.WriteString("\n")
	}
	b.WriteString("Page ")
	b.WriteString(strconv.Itoa(page.Index + 1))
	b.WriteString(" text:\n")
	b.WriteString(text)
	if cut {
		b.WriteString("\n…(truncated)")
	}
	return b.String()
}

// TruncateText returns at most maxChars runes of s and whether it cut anything.
func TruncateText(s string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		maxChars = DefaultMaxTextChars
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s, false
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i], true
		}
		n++
	}
	return s, false
}

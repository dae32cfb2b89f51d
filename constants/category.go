package constants

import (
	"strings"
)

type Category string

const (
	Dairy        Category = "Dairy"
	Bakery       Category = "Bakery"
	Produce      Category = "Produce"
	Meat         Category = "Meat"
	Frozen       Category = "Frozen"
	Beverages    Category = "Beverages"
	Snacks       Category = "Snacks"
	Pantry       Category = "Pantry"
	Household    Category = "Household"
	PersonalCare Category = "PersonalCare"
	Other        Category = "Other"
)

var allCategories = []Category{
	Dairy,
	Bakery,
	Produce,
	Meat,
	Frozen,
	Beverages,
	Snacks,
	Pantry,
	Household,
	PersonalCare,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize maps a free-form category from an invoice or reviewer onto the
// fixed catalog. Unknown values map to Other with ok=false.
func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]Category{
		"milk":           Dairy,
		"cheese":         Dairy,
		"bread":          Bakery,
		"pastry":         Bakery,
		"fruit":          Produce,
		"vegetables":     Produce,
		"fresh produce":  Produce,
		"poultry":        Meat,
		"deli":           Meat,
		"ice cream":      Frozen,
		"drinks":         Beverages,
		"soda":           Beverages,
		"chips":          Snacks,
		"candy":          Snacks,
		"dry goods":      Pantry,
		"canned goods":   Pantry,
		"grocery":        Pantry,
		"cleaning":       Household,
		"paper goods":    Household,
		"health & beauty": PersonalCare,
		"toiletries":     PersonalCare,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	// check if it matches any category string
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}

package constants

import (
	"strings"
)

type Category string

const (
	Food          Category = "Food"
	Electronics   Category = "Electronics"
	Clothing      Category = "Clothing"
	Healthcare    Category = "Healthcare"
	Entertainment Category = "Entertainment"
	Travel        Category = "Travel"
	Household     Category = "Household"
	Utilities     Category = "Utilities"

	// Other is the fallback label used when a prediction is not confident enough.
	Other Category = "Other"
)

// ConfidenceThreshold is the minimum arg-max probability before a prediction
// falls back to Other.
const ConfidenceThreshold = 0.6

var concreteCategories = []Category{
	Food,
	Electronics,
	Clothing,
	Healthcare,
	Entertainment,
	Travel,
	Household,
	Utilities,
}

// Concrete returns the trainable labels in their canonical order.
func Concrete() []Category {
	out := make([]Category, len(concreteCategories))
	copy(out, concreteCategories)
	return out
}

// All returns the concrete labels followed by Other.
func All() []Category {
	return append(Concrete(), Other)
}

func AsStringSlice() []string {
	all := All()
	result := make([]string, len(all))
	for i, cat := range all {
		result[i] = string(cat)
	}
	return result
}

// IsValid reports whether c is part of the closed vocabulary (Other included).
func (c Category) IsValid() bool {
	if c == Other {
		return true
	}
	for _, cat := range concreteCategories {
		if c == cat {
			return true
		}
	}
	return false
}

func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map, including the Vietnamese labels receipts were first tagged with
	synonyms := map[string]Category{
		"thực phẩm":    Food,
		"ăn uống":      Food,
		"food & drink": Food,
		"grocery":      Food,
		"restaurant":   Food,
		"điện tử":      Electronics,
		"quần áo":      Clothing,
		"fashion":      Clothing,
		"y tế":         Healthcare,
		"pharmacy":     Healthcare,
		"medical":      Healthcare,
		"giải trí":     Entertainment,
		"du lịch":      Travel,
		"giao thông":   Travel,
		"hotel":        Travel,
		"taxi":         Travel,
		"gia dụng":     Household,
		"home":         Household,
		"tiện ích":     Utilities,
		"dịch vụ":      Utilities,
		"bills":        Utilities,
		"khác":         Other,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	for _, cat := range All() {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}

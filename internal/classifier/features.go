package classifier

import "strings"

// BuildFeatureText assembles the classification input: raw text, the merchant
// twice, then the items joined by spaces, newline separated.
func BuildFeatureText(rawText string, merchant *string, items []string) string {
	parts := []string{strings.TrimSpace(rawText)}
	if merchant != nil {
		if m := strings.TrimSpace(*merchant); m != "" {
			parts = append(parts, m, m)
		}
	}
	if len(items) > 0 {
		parts = append(parts, strings.Join(items, " "))
	}
	return strings.Join(parts, "\n")
}

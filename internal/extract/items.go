package extract

import (
	"regexp"
	"strings"
	"unicode"
)

const defaultMaxItems = 50

var (
	// 2 x 15,000 / 2x15.000 / 3 * 12.50 / 1 × 45.000
	reQtyPrice = regexp.MustCompile(`(?i)\b(\d{1,3})\s*[x×*]\s*(\d[\d.,]*\d|\d)\b`)
	// text followed by a price at the end of the line, optional currency marker
	rePriceSuffix = regexp.MustCompile(`(?i)\p{L}.*?\s(\d[\d.,]*\d)\s*(đ|₫|vnd|vnđ|usd|\$)?\s*$`)
)

type itemMatch struct {
	text     string
	strength float64
	lineConf float64
}

// findItems returns item lines in their original order, skipping consumed lines
// and summary lines such as subtotal, tax or change.
func findItems(lines []Line, consumed map[int]bool, limit int) []itemMatch {
	var out []itemMatch
	for i, ln := range lines {
		if len(out) >= limit {
			break
		}
		if consumed[i] {
			continue
		}
		text := strings.TrimSpace(ln.Text)
		if text == "" || !hasLetters(text) {
			continue
		}
		lower := strings.ToLower(text)
		if isTotalLine(lower) || isSubLine(lower) {
			continue
		}
		if m := reQtyPrice.FindStringSubmatch(text); m != nil {
			if _, ok := ParseAmount(m[2]); ok {
				out = append(out, itemMatch{text: text, strength: 0.8, lineConf: ln.Confidence})
				continue
			}
		}
		if m := rePriceSuffix.FindStringSubmatch(maskPhones(maskDates(text))); m != nil {
			if v, ok := ParseAmount(m[1]); ok && v > 0 {
				out = append(out, itemMatch{text: text, strength: 0.6, lineConf: ln.Confidence})
			}
		}
	}
	return out
}

func hasLetters(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

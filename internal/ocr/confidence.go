package ocr

import (
	"regexp"
	"strings"
)

var (
	reDate   = regexp.MustCompile(`\b\d{1,2}[/.\-]\d{1,2}[/.\-](\d{4}|\d{2})\b|\b(19|20)\d{2}[/.\-]\d{1,2}[/.\-]\d{1,2}\b`)
	reCurr   = regexp.MustCompile(`\b(vnd|usd|eur)\b|vnđ|[$€₫]|\d\s*đ`)
	reAmount = regexp.MustCompile(`\b\d{1,3}([.,]\d{3})+\b|\b\d+[.,]\d{2}\b`)
	reTotal  = regexp.MustCompile(`\btotal\b|tổng|thanh\s*toán|thành\s*tiền`)
)

// heuristicConfidence scores decoded text by the receipt artifacts it carries.
func heuristicConfidence(txt string) float64 {
	l := strings.ToLower(txt)
	score := 0.2
	if reDate.MatchString(l) {
		score += 0.2
	}
	if reCurr.MatchString(l) {
		score += 0.15
	}
	if reAmount.MatchString(l) {
		score += 0.15
	}
	if reTotal.MatchString(l) {
		score += 0.1
	}
	if len(txt) > 120 {
		score += 0.1
	}
	return min(score, 1)
}

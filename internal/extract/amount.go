package extract

import (
	"regexp"
	"strconv"
	"strings"
)

const maxAmount = 100_000_000_000

var (
	// digit runs with embedded separators, e.g. 352,000 / 1.234.567 / 12,50
	reAmountToken = regexp.MustCompile(`\d(?:[\d.,]*\d)?`)

	reTotalKeyword = regexp.MustCompile(`(?i)(grand\s*total|\btotal\b|amount\s+due|\bbalance\s+due|tổng\s*cộng|tổng\s*tiền|tổng\s*thanh\s*toán|\btổng\b|thanh\s*toán|thành\s*tiền|cộng\s*tiền\s*hàng|\btong\s*cong\b|\btong\s*tien\b|\bthanh\s*toan\b|\bthanh\s*tien\b|\bsum\b)`)
	reSubKeyword   = regexp.MustCompile(`(?i)(sub\s*-?\s*total|tạm\s*tính|\btam\s*tinh\b|\btax\b|\bvat\b|thuế|\bgtgt\b|discount|giảm\s*giá|chiết\s*khấu|\bchange\b|tiền\s*thừa|trả\s*lại|tiền\s*mặt|\bcash\b|khách\s*đưa|tendered|service\s*charge|phí\s*dịch\s*vụ)`)
	// subtotal-like markers that always disqualify a line as the grand total
	reHardSubKeyword = regexp.MustCompile(`(?i)(sub\s*-?\s*total|tạm\s*tính|tiền\s*thừa|khách\s*đưa|\bchange\b|tendered)`)

	reTime = regexp.MustCompile(`\b\d{1,2}:\d{2}(?::\d{2})?\b`)
)

// ParseAmount normalizes a locale-dependent number to a float.
//
//	1.234.567 -> 1234567    1,234,567 -> 1234567
//	1.234,56  -> 1234.56    1,234.56  -> 1234.56
//	352,000   -> 352000     45.000    -> 45000
//	12,50     -> 12.5       12.5      -> 12.5
func ParseAmount(token string) (float64, bool) {
	s := strings.Trim(strings.TrimSpace(token), ".,")
	if s == "" {
		return 0, false
	}
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		lastDot := strings.LastIndex(s, ".")
		lastComma := strings.LastIndex(s, ",")
		decSep, thouSep := ".", ","
		if lastComma > lastDot {
			decSep, thouSep = ",", "."
		}
		s = strings.ReplaceAll(s, thouSep, "")
		if strings.Count(s, decSep) > 1 {
			return 0, false
		}
		frac := s[strings.LastIndex(s, decSep)+1:]
		if len(frac) == 3 {
			// 1,234.567: the trailing group is another thousands group
			s = strings.ReplaceAll(s, decSep, "")
		} else {
			s = strings.Replace(s, decSep, ".", 1)
		}
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots == 1 || commas == 1:
		sep := "."
		if commas == 1 {
			sep = ","
		}
		frac := s[strings.Index(s, sep)+1:]
		if len(frac) == 3 {
			s = strings.Replace(s, sep, "", 1)
		} else {
			s = strings.Replace(s, sep, ".", 1)
		}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > maxAmount {
		return 0, false
	}
	return v, true
}

// amountsInLine returns the monetary candidates of a line after masking dates,
// phone numbers and clock times.
func amountsInLine(line string) []float64 {
	masked := maskSpans(line, reTime)
	masked = maskDates(masked)
	masked = maskPhones(masked)

	var out []float64
	for _, tok := range reAmountToken.FindAllString(masked, -1) {
		digits := strings.Count(tok, "") - 1 - strings.Count(tok, ".") - strings.Count(tok, ",")
		if !strings.ContainsAny(tok, ".,") && digits >= 10 {
			// barcodes and invoice numbers
			continue
		}
		if v, ok := ParseAmount(tok); ok {
			out = append(out, v)
		}
	}
	return out
}

func isTotalLine(lower string) bool {
	loc := reTotalKeyword.FindStringIndex(lower)
	if loc == nil {
		return false
	}
	if reHardSubKeyword.MatchString(lower) {
		return false
	}
	if sub := reSubKeyword.FindStringIndex(lower); sub != nil && sub[0] < loc[0] {
		return false
	}
	return true
}

func isSubLine(lower string) bool {
	return reSubKeyword.MatchString(lower)
}

type totalMatch struct {
	value    float64
	keyword  bool
	lines    []int
	lineConf float64
}

// findTotal prefers the largest keyword-adjacent amount, falling back to the
// largest amount anywhere.
func findTotal(lines []Line) (totalMatch, bool) {
	var best, fallback totalMatch
	var haveBest, haveFallback bool

	for i, ln := range lines {
		lower := strings.ToLower(ln.Text)
		values := amountsInLine(ln.Text)

		for _, v := range values {
			if !haveFallback || v > fallback.value {
				fallback = totalMatch{value: v, lines: []int{i}, lineConf: ln.Confidence}
				haveFallback = true
			}
		}

		if !isTotalLine(lower) {
			continue
		}
		consumed := []int{i}
		conf := ln.Confidence
		if len(values) == 0 {
			// amount printed on the following line
			j := nextNonEmpty(lines, i)
			if j < 0 || hasLetters(lines[j].Text) {
				continue
			}
			values = amountsInLine(lines[j].Text)
			consumed = append(consumed, j)
			conf = lines[j].Confidence
		}
		for _, v := range values {
			if v <= 0 {
				continue
			}
			if !haveBest || v > best.value {
				best = totalMatch{value: v, keyword: true, lines: consumed, lineConf: conf}
				haveBest = true
			}
		}
	}

	if haveBest {
		return best, true
	}
	if haveFallback && fallback.value > 0 {
		return fallback, true
	}
	return totalMatch{}, false
}

func nextNonEmpty(lines []Line, i int) int {
	for j := i + 1; j < len(lines); j++ {
		if strings.TrimSpace(lines[j].Text) != "" {
			return j
		}
	}
	return -1
}

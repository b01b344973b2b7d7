package extract

import (
	"regexp"
	"strings"
)

var (
	// 0901234567, 090 123 4567, 090.123.4567, +84 90 123 4567, 028 3823 4567
	rePhone       = regexp.MustCompile(`(?:\+84|84|0)[\s.\-]?\d{1,3}(?:[\s.\-]?\d{2,4}){2,3}`)
	rePhonePrefix = regexp.MustCompile(`(?i)(\btel\b|\bphone\b|\bhotline\b|đt|sđt|sdt|điện\s*thoại)`)
)

type phoneMatch struct {
	number string
	start  int
	end    int
}

func phonesInLine(line string) []phoneMatch {
	var out []phoneMatch
	for _, loc := range rePhone.FindAllStringIndex(line, -1) {
		start, end := loc[0], loc[1]
		if start > 0 {
			prev := line[start-1]
			if prev >= '0' && prev <= '9' || prev == ',' || prev == '/' {
				continue
			}
			if prev == '.' && start >= 2 && line[start-2] >= '0' && line[start-2] <= '9' {
				continue
			}
		}
		if end < len(line) {
			next := line[end]
			if next >= '0' && next <= '9' || next == ',' || next == '/' {
				continue
			}
		}
		raw := strings.TrimSpace(line[start:end])
		if n, ok := normalizePhone(raw); ok {
			out = append(out, phoneMatch{number: n, start: start, end: end})
		}
	}
	return out
}

// normalizePhone keeps digits (and a leading +) and checks the VN number shapes:
// 10-digit mobiles and 11-digit landlines with a 0 trunk prefix, or the same
// numbers without the trunk prefix behind +84/84.
func normalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range raw {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	switch {
	case strings.HasPrefix(n, "+84"):
		rest := n[3:]
		return n, (len(rest) == 9 || len(rest) == 10) && rest[0] != '0'
	case strings.HasPrefix(n, "84") && len(n) >= 11:
		rest := n[2:]
		return n, (len(rest) == 9 || len(rest) == 10) && rest[0] != '0'
	case strings.HasPrefix(n, "0"):
		if len(n) != 10 && len(n) != 11 {
			return "", false
		}
		if n[1] < '2' {
			return "", false
		}
		if len(n) == 11 && n[1] != '2' {
			return "", false
		}
		return n, true
	}
	return "", false
}

func findPhone(lines []Line) (string, int, bool, bool) {
	for i, ln := range lines {
		ms := phonesInLine(ln.Text)
		if len(ms) == 0 {
			continue
		}
		return ms[0].number, i, rePhonePrefix.MatchString(ln.Text), true
	}
	return "", -1, false, false
}

func maskPhones(line string) string {
	ms := phonesInLine(line)
	if len(ms) == 0 {
		return line
	}
	b := []byte(line)
	for _, m := range ms {
		for k := m.start; k < m.end; k++ {
			b[k] = ' '
		}
	}
	return string(b)
}

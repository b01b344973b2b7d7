package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	reDateISO = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	reDateDMY = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4}|\d{2})\b`)

	reDateVN     = regexp.MustCompile(`(?i)ngày\s*(\d{1,2})\s*tháng\s*(\d{1,2})\s*năm\s*(\d{4})`)
	reDateVNText = regexp.MustCompile(`(?i)\b(\d{1,2})\s+tháng\s+(\d{1,2})[,\s]+(?:năm\s+)?(\d{4})\b`)
	reDateDMonY  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?[\s\-]+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?[\s\-,]+(\d{4})\b`)
	reDateMonDY  = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
)

var monthAbbrev = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

const minPlausibleYear = 1990

type dateMatch struct {
	line       int
	pos        int
	end        int
	candidates []time.Time
	ambiguous  bool
}

type dateSpan struct{ start, end int }

func (m dateMatch) overlaps(spans []dateSpan) bool {
	for _, s := range spans {
		if m.pos < s.end && s.start < m.end {
			return true
		}
	}
	return false
}

// dateMatchesInLine finds every date expression of a line in position order.
// Textual and ISO forms are never ambiguous; day/month/year forms are when
// both leading components could be a month or the year has two digits.
func dateMatchesInLine(idx int, line string) []dateMatch {
	var out []dateMatch
	var taken []dateSpan

	add := func(m dateMatch) {
		if m.overlaps(taken) || len(m.candidates) == 0 {
			return
		}
		taken = append(taken, dateSpan{m.pos, m.end})
		out = append(out, m)
	}

	for _, loc := range reDateVN.FindAllStringSubmatchIndex(line, -1) {
		d, mo, y := atoiSub(line, loc, 1), atoiSub(line, loc, 2), atoiSub(line, loc, 3)
		add(dateMatch{line: idx, pos: loc[0], end: loc[1], candidates: validDates(y, mo, d)})
	}
	for _, loc := range reDateVNText.FindAllStringSubmatchIndex(line, -1) {
		d, mo, y := atoiSub(line, loc, 1), atoiSub(line, loc, 2), atoiSub(line, loc, 3)
		add(dateMatch{line: idx, pos: loc[0], end: loc[1], candidates: validDates(y, mo, d)})
	}
	for _, loc := range reDateDMonY.FindAllStringSubmatchIndex(line, -1) {
		d := atoiSub(line, loc, 1)
		mo := monthAbbrev[strings.ToLower(line[loc[4]:loc[5]])]
		y := atoiSub(line, loc, 3)
		add(dateMatch{line: idx, pos: loc[0], end: loc[1], candidates: validDates(y, int(mo), d)})
	}
	for _, loc := range reDateMonDY.FindAllStringSubmatchIndex(line, -1) {
		mo := monthAbbrev[strings.ToLower(line[loc[2]:loc[3]])]
		d, y := atoiSub(line, loc, 2), atoiSub(line, loc, 3)
		add(dateMatch{line: idx, pos: loc[0], end: loc[1], candidates: validDates(y, int(mo), d)})
	}
	for _, loc := range reDateISO.FindAllStringSubmatchIndex(line, -1) {
		y, mo, d := atoiSub(line, loc, 1), atoiSub(line, loc, 2), atoiSub(line, loc, 3)
		add(dateMatch{line: idx, pos: loc[0], end: loc[1], candidates: validDates(y, mo, d)})
	}
	for _, loc := range reDateDMY.FindAllStringSubmatchIndex(line, -1) {
		a, b := atoiSub(line, loc, 1), atoiSub(line, loc, 2)
		yearStr := line[loc[6]:loc[7]]
		years := []int{atoiSub(line, loc, 3)}
		if len(yearStr) == 2 {
			years = []int{2000 + years[0], 1900 + years[0]}
		}
		var cands []time.Time
		for _, y := range years {
			dayFirst := validDates(y, b, a)
			cands = append(cands, dayFirst...)
			switch {
			case a != b && a <= 12 && b <= 12:
				cands = append(cands, validDates(y, a, b)...)
			case len(dayFirst) == 0:
				// month-first, e.g. 12/25/2024
				cands = append(cands, validDates(y, a, b)...)
			}
		}
		m := dateMatch{line: idx, pos: loc[0], end: loc[1], candidates: cands}
		m.ambiguous = len(yearStr) == 2 || (a != b && a <= 12 && b <= 12)
		add(m)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

// findDate returns the first unambiguous date of the text. Without one, the
// first ambiguous match that has a plausible interpretation is resolved to its
// most recent candidate not after now.
func findDate(lines []Line, now time.Time) (time.Time, int, bool, bool) {
	today := truncateDay(now)
	var ambiguous []dateMatch
	for i, ln := range lines {
		for _, m := range dateMatchesInLine(i, ln.Text) {
			if !m.ambiguous {
				d := m.candidates[0]
				if d.Year() >= minPlausibleYear && d.Year() <= today.Year()+1 {
					return d, i, false, true
				}
				continue
			}
			ambiguous = append(ambiguous, m)
		}
	}
	for _, m := range ambiguous {
		if d, ok := mostRecentPlausible(m.candidates, today); ok {
			return d, m.line, true, true
		}
	}
	return time.Time{}, -1, false, false
}

func mostRecentPlausible(cands []time.Time, today time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, c := range cands {
		if c.After(today) || c.Year() < minPlausibleYear {
			continue
		}
		if !found || c.After(best) {
			best, found = c, true
		}
	}
	return best, found
}

// validDates returns the date for y-m-d if it exists on the calendar.
func validDates(y, m, d int) []time.Time {
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1 {
		return nil
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return nil
	}
	return []time.Time{t}
}

func atoiSub(s string, loc []int, group int) int {
	a, b := loc[2*group], loc[2*group+1]
	if a < 0 {
		return 0
	}
	v, _ := strconv.Atoi(s[a:b])
	return v
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// maskDates blanks out date expressions so their digits are not read as amounts.
func maskDates(line string) string {
	for _, re := range []*regexp.Regexp{reDateVN, reDateVNText, reDateDMonY, reDateMonDY, reDateISO, reDateDMY} {
		line = maskSpans(line, re)
	}
	return line
}

func maskSpans(line string, re *regexp.Regexp) string {
	return re.ReplaceAllStringFunc(line, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
}

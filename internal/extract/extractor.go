package extract

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxMerchantRunes = 100

var reBoilerplate = regexp.MustCompile(`(?i)^\W*(receipt|sales\s+receipt|cash\s+receipt|invoice|tax\s+invoice|bill|hoá\s*đơn|hóa\s*đơn|phiếu\s+thanh\s+toán|phiếu\s+tính\s+tiền|biên\s+lai|welcome|xin\s+chào|cảm\s+ơn|thank\s+you|copy|bản\s+sao)(\W|$)`)

// Extractor turns recognized lines into receipt fields. It is stateless apart
// from its options and safe for concurrent use.
type Extractor struct {
	now      func() time.Time
	maxItems int
}

type Option func(*Extractor)

// WithClock fixes "now" for date disambiguation.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithMaxItems(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxItems = n
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{now: time.Now, maxItems: defaultMaxItems}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract runs every field extractor over plain text.
func (e *Extractor) Extract(text string) Result {
	return e.ExtractLines(LinesFromText(text))
}

// ExtractLines runs every field extractor over recognized lines. Each field is
// best-effort: a field that cannot be found keeps its zero value.
func (e *Extractor) ExtractLines(lines []Line) Result {
	res := Result{FieldConfidence: map[string]float64{
		FieldMerchant: 0,
		FieldTotal:    0,
		FieldDate:     0,
		FieldPhone:    0,
		FieldItems:    0,
	}}
	consumed := map[int]bool{}

	if d, idx, ambiguous, ok := findDate(lines, e.now()); ok {
		res.ReceiptDate = &d
		consumed[idx] = true
		strength := 0.95
		if ambiguous {
			strength = 0.7
		}
		res.FieldConfidence[FieldDate] = scale(strength, lines[idx].Confidence)
	}

	if phone, idx, prefixed, ok := findPhone(lines); ok {
		res.Phone = phone
		consumed[idx] = true
		strength := 0.8
		if prefixed {
			strength = 0.95
		}
		res.FieldConfidence[FieldPhone] = scale(strength, lines[idx].Confidence)
	}

	if tm, ok := findTotal(lines); ok {
		v := tm.value
		res.TotalAmount = &v
		strength := 0.5
		if tm.keyword {
			strength = 0.95
			for _, i := range tm.lines {
				consumed[i] = true
			}
		}
		res.FieldConfidence[FieldTotal] = scale(strength, tm.lineConf)
	}

	if name, idx, first, ok := findMerchant(lines); ok {
		res.MerchantName = &name
		consumed[idx] = true
		strength := 0.7
		if first {
			strength = 0.9
		}
		res.FieldConfidence[FieldMerchant] = scale(strength, lines[idx].Confidence)
	}

	items := findItems(lines, consumed, e.maxItems)
	if len(items) > 0 {
		var sum float64
		res.Items = make([]string, 0, len(items))
		for _, it := range items {
			res.Items = append(res.Items, it.text)
			sum += scale(it.strength, it.lineConf)
		}
		res.FieldConfidence[FieldItems] = sum / float64(len(items))
	}
	return res
}

// findMerchant returns the first non-empty line that carries letters, is not
// boilerplate and is not a date, phone or total line.
func findMerchant(lines []Line) (string, int, bool, bool) {
	firstNonEmpty := true
	for i, ln := range lines {
		text := strings.TrimSpace(ln.Text)
		if text == "" {
			continue
		}
		isFirst := firstNonEmpty
		firstNonEmpty = false

		if !hasLetters(text) || reBoilerplate.MatchString(text) {
			continue
		}
		lower := strings.ToLower(text)
		if isTotalLine(lower) || isSubLine(lower) {
			continue
		}
		if len(dateMatchesInLine(i, text)) > 0 || len(phonesInLine(text)) > 0 {
			continue
		}
		name := cleanMerchant(text)
		if name == "" {
			continue
		}
		return name, i, isFirst, true
	}
	return "", -1, false, false
}

func cleanMerchant(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ')' && r != '('
	})
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxMerchantRunes {
		s = string([]rune(s)[:maxMerchantRunes])
	}
	return s
}

// scale multiplies pattern strength by recognition confidence when known.
func scale(strength, lineConf float64) float64 {
	if lineConf <= 0 {
		return strength
	}
	if lineConf > 1 {
		lineConf = 1
	}
	return strength * lineConf
}

// OverallConfidence folds field confidence into the classifier confidence. The
// classifier dominates; a missing total costs a fixed penalty.
func OverallConfidence(classifierConf float64, r Result) float64 {
	critical := []string{FieldMerchant, FieldTotal, FieldDate}
	var sum float64
	for _, f := range critical {
		sum += r.FieldConfidence[f]
	}
	conf := 0.7*classifierConf + 0.3*(sum/float64(len(critical)))
	if r.TotalAmount == nil {
		conf *= 0.8
	}
	if conf < 0 {
		return 0
	}
	if conf > 1 {
		return 1
	}
	return conf
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	raw := strings.Split(text, "\n")
	for i, s := range raw {
		raw[i] = strings.TrimSpace(s)
	}
	return raw
}

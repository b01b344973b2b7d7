package ocr

import (
	"strconv"
	"strings"
)

// TSV columns emitted by tesseract.
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	tsvColumns
)

const wordLevel = "5"

type lineKey struct{ page, block, par, line string }

// parseTSV rebuilds text lines from word rows and returns them in reading
// order with their mean word confidence, plus the mean over all words. All
// confidences are scaled to 0..1; words reported with -1 are kept as text but
// do not count towards confidence.
func parseTSV(out string) ([]Line, float64) {
	type acc struct {
		words []string
		sum   float64
		n     int
	}
	var order []lineKey
	byKey := map[lineKey]*acc{}
	var total float64
	var words int

	for i, row := range strings.Split(out, "\n") {
		row = strings.TrimRight(row, "\r")
		if i == 0 && strings.HasPrefix(row, "level") {
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < tsvColumns || cols[colLevel] != wordLevel {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[colText:], " "))
		if text == "" {
			continue
		}
		k := lineKey{cols[colPage], cols[colBlock], cols[colPar], cols[colLine]}
		a, ok := byKey[k]
		if !ok {
			a = &acc{}
			byKey[k] = a
			order = append(order, k)
		}
		a.words = append(a.words, text)
		if v, err := strconv.ParseFloat(cols[colConf], 64); err == nil && v >= 0 {
			a.sum += v / 100
			a.n++
			total += v / 100
			words++
		}
	}

	lines := make([]Line, 0, len(order))
	for _, k := range order {
		a := byKey[k]
		l := Line{Text: strings.Join(a.words, " ")}
		if a.n > 0 {
			l.Confidence = a.sum / float64(a.n)
		}
		lines = append(lines, l)
	}
	if words == 0 {
		return lines, 0
	}
	return lines, total / float64(words)
}

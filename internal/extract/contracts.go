package extract

import "time"

// Field names used as keys of Result.FieldConfidence.
const (
	FieldMerchant = "merchant_name"
	FieldTotal    = "total_amount"
	FieldDate     = "receipt_date"
	FieldPhone    = "phone"
	FieldItems    = "items"
)

// Line is one recognized line with its recognition confidence in 0..1.
// Zero confidence means the recognizer did not report one.
type Line struct {
	Text       string
	Confidence float64
}

// Result carries the structured fields of a receipt. Missing fields keep their
// zero value (nil pointers, empty phone, no items).
type Result struct {
	MerchantName    *string
	TotalAmount     *float64
	ReceiptDate     *time.Time
	Phone           string
	Items           []string
	FieldConfidence map[string]float64
}

// LinesFromText splits raw text into unscored lines.
func LinesFromText(text string) []Line {
	raw := splitLines(text)
	out := make([]Line, len(raw))
	for i, s := range raw {
		out[i] = Line{Text: s}
	}
	return out
}

// Text joins the lines back together, one per row.
func Text(lines []Line) string {
	n := 0
	for _, l := range lines {
		n += len(l.Text) + 1
	}
	b := make([]byte, 0, n)
	for i, l := range lines {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, l.Text...)
	}
	return string(b)
}

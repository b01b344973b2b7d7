package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/analytics"
)

const (
	receiptsSheet = "Receipts"
	summarySheet  = "Summary"
	maxItemsText  = 500
)

type ReceiptLister interface {
	List(ctx context.Context, f entity.ReceiptFilter) ([]*entity.Receipt, error)
}

// Service is a tiny façade over the receipt repository that produces XLSX bytes for exports.
type Service struct {
	receipts ReceiptLister
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(receipts ReceiptLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{receipts: receipts, now: time.Now, logger: logger}
}

// ExportReceiptsXLSX returns a workbook with one row per receipt matching f and
// a per-category summary sheet. Limit and offset of f are ignored.
// If only From is set the window ends today.
func (s *Service) ExportReceiptsXLSX(ctx context.Context, f entity.ReceiptFilter) ([]byte, error) {
	start := time.Now()
	if f.From != nil && f.To == nil {
		today := s.now().UTC()
		t := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
		f.To = &t
	}
	f.Limit, f.Offset = -1, 0

	recs, err := s.receipts.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	x := excelize.NewFile()
	defer x.Close()
	if err := x.SetSheetName("Sheet1", receiptsSheet); err != nil {
		return nil, err
	}
	if err := writeReceipts(x, recs); err != nil {
		return nil, err
	}
	if err := writeSummary(x, analytics.Compute(recs, s.now(), analytics.DefaultTopMerchants)); err != nil {
		return nil, err
	}
	x.SetActiveSheet(0)

	buf, err := x.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(recs),
		"category", f.Category,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

var receiptHeaders = []string{
	"Receipt Date",
	"Merchant",
	"Category",
	"Total",
	"Confidence",
	"Corrected",
	"Items",
	"Phone",
	"Model Version",
	"Receipt ID",
}

func writeReceipts(x *excelize.File, recs []*entity.Receipt) error {
	if err := writeRow(x, receiptsSheet, 1, toAny(receiptHeaders)); err != nil {
		return err
	}
	for i, r := range recs {
		date := ""
		if r.ReceiptDate != nil {
			date = r.ReceiptDate.Format("2006-01-02")
		}
		var total any = ""
		if r.TotalAmount != nil {
			total = *r.TotalAmount
		}
		row := []any{
			date,
			r.Merchant(),
			string(r.Category),
			total,
			r.Confidence,
			r.Corrected,
			truncate(strings.Join(r.Items, "; "), maxItemsText),
			r.Phone,
			r.ModelVersion,
			r.ID,
		}
		if err := writeRow(x, receiptsSheet, i+2, row); err != nil {
			return err
		}
	}

	bold, err := x.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	_ = x.SetRowStyle(receiptsSheet, 1, 1, bold)
	_ = x.SetPanes(receiptsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	_ = x.SetColWidth(receiptsSheet, "A", "A", 14) // date
	_ = x.SetColWidth(receiptsSheet, "B", "B", 30) // merchant
	_ = x.SetColWidth(receiptsSheet, "C", "C", 16) // category
	_ = x.SetColWidth(receiptsSheet, "D", "F", 12) // numbers
	_ = x.SetColWidth(receiptsSheet, "G", "G", 60) // items
	_ = x.SetColWidth(receiptsSheet, "H", "J", 32)
	return nil
}

func writeSummary(x *excelize.File, sum analytics.Summary) error {
	if _, err := x.NewSheet(summarySheet); err != nil {
		return err
	}
	rows := [][]any{
		{"Receipts", sum.TotalReceipts},
		{"Total Spent", sum.TotalSpent},
		{"Average Receipt", sum.AvgReceipt},
		{},
		{"Category", "Receipts", "Amount", "Share"},
	}
	for _, c := range sum.Categories {
		rows = append(rows, []any{string(c.Category), c.Count, c.Amount, c.Share})
	}
	rows = append(rows, []any{}, []any{"Merchant", "Receipts", "Amount"})
	for _, m := range sum.TopMerchants {
		rows = append(rows, []any{m.Merchant, m.Count, m.Amount})
	}
	for i, row := range rows {
		if err := writeRow(x, summarySheet, i+1, row); err != nil {
			return err
		}
	}
	_ = x.SetColWidth(summarySheet, "A", "A", 30)
	_ = x.SetColWidth(summarySheet, "B", "D", 14)
	return nil
}

func writeRow(x *excelize.File, sheet string, row int, values []any) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return x.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

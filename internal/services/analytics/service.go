// Package analytics aggregates spending over stored receipts and reports
// operational counters for the admin endpoint.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

const DefaultTopMerchants = 10

type ReceiptLister interface {
	List(ctx context.Context, f entity.ReceiptFilter) ([]*entity.Receipt, error)
	Count(ctx context.Context, f entity.ReceiptFilter) (int, error)
}

type JobStatser interface {
	Stats(ctx context.Context) (entity.JobStats, error)
}

type CorrectionCounter interface {
	CountUnconsumed(ctx context.Context) (int, error)
}

type ActiveModelGetter interface {
	GetActive(ctx context.Context) (*entity.ModelVersion, error)
}

type CategoryBreakdown struct {
	Category constants.Category `json:"category"`
	Count    int                `json:"count"`
	Amount   float64            `json:"amount"`
	Share    float64            `json:"share"`
}

type MerchantTotal struct {
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Count    int     `json:"count"`
}

type MonthTotal struct {
	Month string  `json:"month"`
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// Summary covers receipts with a known total for amounts and every receipt
// for counts.
type Summary struct {
	TotalReceipts     int                 `json:"total_receipts"`
	TotalSpent        float64             `json:"total_spent"`
	AvgReceipt        float64             `json:"avg_receipt"`
	MedianReceipt     float64             `json:"median_receipt"`
	MaxReceipt        float64             `json:"max_receipt"`
	MinReceipt        float64             `json:"min_receipt"`
	ThisMonthSpent    float64             `json:"this_month_spent"`
	LastMonthSpent    float64             `json:"last_month_spent"`
	MoMChange         float64             `json:"mom_change"`
	ReceiptsThisMonth int                 `json:"receipts_this_month"`
	Categories        []CategoryBreakdown `json:"categories"`
	TopMerchants      []MerchantTotal     `json:"top_merchants"`
	Monthly           []MonthTotal        `json:"monthly"`
}

type AdminMetrics struct {
	TotalReceipts         int             `json:"total_receipts"`
	Jobs                  entity.JobStats `json:"jobs"`
	UnconsumedCorrections int             `json:"unconsumed_corrections"`
	ActiveModel           string          `json:"active_model"`
}

type Service struct {
	receipts    ReceiptLister
	jobs        JobStatser
	corrections CorrectionCounter
	models      ActiveModelGetter
	now         func() time.Time
	logger      *slog.Logger
}

func NewService(receipts ReceiptLister, jobs JobStatser, corrections CorrectionCounter, models ActiveModelGetter, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		receipts:    receipts,
		jobs:        jobs,
		corrections: corrections,
		models:      models,
		now:         time.Now,
		logger:      logger,
	}
}

// Summary aggregates receipts dated within [from, to]; nil bounds are open.
func (s *Service) Summary(ctx context.Context, from, to *time.Time, topN int) (Summary, error) {
	recs, err := s.receipts.List(ctx, entity.ReceiptFilter{From: from, To: to, Limit: -1})
	if err != nil {
		return Summary{}, err
	}
	return Compute(recs, s.now(), topN), nil
}

func (s *Service) AdminMetrics(ctx context.Context) (AdminMetrics, error) {
	var m AdminMetrics
	var err error
	if m.TotalReceipts, err = s.receipts.Count(ctx, entity.ReceiptFilter{}); err != nil {
		return m, err
	}
	if m.Jobs, err = s.jobs.Stats(ctx); err != nil {
		return m, err
	}
	if m.UnconsumedCorrections, err = s.corrections.CountUnconsumed(ctx); err != nil {
		return m, err
	}
	active, err := s.models.GetActive(ctx)
	switch {
	case err == nil:
		m.ActiveModel = active.VersionID
	case !errors.Is(err, common.ErrNotFound):
		return m, err
	}
	return m, nil
}

// Compute builds a summary from receipts. Month figures use the receipt date
// in UTC relative to now.
func Compute(recs []*entity.Receipt, now time.Time, topN int) Summary {
	if topN <= 0 {
		topN = DefaultTopMerchants
	}
	sum := Summary{TotalReceipts: len(recs), Categories: []CategoryBreakdown{}, TopMerchants: []MerchantTotal{}, Monthly: []MonthTotal{}}

	now = now.UTC()
	thisMonth := now.Format("2006-01")
	lastMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0).Format("2006-01")

	byCategory := map[constants.Category]*CategoryBreakdown{}
	byMerchant := map[string]*MerchantTotal{}
	byMonth := map[string]*MonthTotal{}
	var amounts []float64

	for _, r := range recs {
		cb := byCategory[r.Category]
		if cb == nil {
			cb = &CategoryBreakdown{Category: r.Category}
			byCategory[r.Category] = cb
		}
		cb.Count++

		var month string
		if r.ReceiptDate != nil {
			month = r.ReceiptDate.UTC().Format("2006-01")
			if month == thisMonth {
				sum.ReceiptsThisMonth++
			}
		}
		if r.TotalAmount == nil {
			continue
		}
		v := *r.TotalAmount
		amounts = append(amounts, v)
		sum.TotalSpent += v
		cb.Amount += v

		if name := r.Merchant(); name != "" {
			mt := byMerchant[name]
			if mt == nil {
				mt = &MerchantTotal{Merchant: name}
				byMerchant[name] = mt
			}
			mt.Amount += v
			mt.Count++
		}
		if month != "" {
			mo := byMonth[month]
			if mo == nil {
				mo = &MonthTotal{Month: month}
				byMonth[month] = mo
			}
			mo.Total += v
			mo.Count++
			switch month {
			case thisMonth:
				sum.ThisMonthSpent += v
			case lastMonth:
				sum.LastMonthSpent += v
			}
		}
	}

	if len(amounts) > 0 {
		sort.Float64s(amounts)
		sum.AvgReceipt = sum.TotalSpent / float64(len(amounts))
		sum.MinReceipt = amounts[0]
		sum.MaxReceipt = amounts[len(amounts)-1]
		mid := len(amounts) / 2
		if len(amounts)%2 == 1 {
			sum.MedianReceipt = amounts[mid]
		} else {
			sum.MedianReceipt = (amounts[mid-1] + amounts[mid]) / 2
		}
	}
	if sum.LastMonthSpent > 0 {
		sum.MoMChange = (sum.ThisMonthSpent - sum.LastMonthSpent) / sum.LastMonthSpent * 100
	}

	for _, c := range constants.All() {
		cb, ok := byCategory[c]
		if !ok {
			continue
		}
		if sum.TotalSpent > 0 {
			cb.Share = cb.Amount / sum.TotalSpent
		}
		sum.Categories = append(sum.Categories, *cb)
	}

	for _, mt := range byMerchant {
		sum.TopMerchants = append(sum.TopMerchants, *mt)
	}
	sort.Slice(sum.TopMerchants, func(i, j int) bool {
		a, b := sum.TopMerchants[i], sum.TopMerchants[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.Merchant < b.Merchant
	})
	if len(sum.TopMerchants) > topN {
		sum.TopMerchants = sum.TopMerchants[:topN]
	}

	for _, mo := range byMonth {
		sum.Monthly = append(sum.Monthly, *mo)
	}
	sort.Slice(sum.Monthly, func(i, j int) bool { return sum.Monthly[i].Month < sum.Monthly[j].Month })
	return sum
}

package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

func receipt(merchant string, cat constants.Category, total *float64, date *time.Time) *entity.Receipt {
	r := &entity.Receipt{Category: cat, TotalAmount: total, ReceiptDate: date}
	if merchant != "" {
		r.MerchantName = &merchant
	}
	return r
}

func f(v float64) *float64 { return &v }

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestCompute(t *testing.T) {
	now := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	recs := []*entity.Receipt{
		receipt("Circle K", constants.Food, f(100), day(2024, 3, 1)),
		receipt("Circle K", constants.Food, f(50), day(2024, 3, 2)),
		receipt("CGV", constants.Entertainment, f(200), day(2024, 2, 10)),
		receipt("Grab", constants.Travel, f(50), nil),
		receipt("", constants.Other, nil, day(2024, 3, 3)),
	}

	s := Compute(recs, now, 2)
	assert.Equal(t, 5, s.TotalReceipts)
	assert.InDelta(t, 400, s.TotalSpent, 1e-9)
	assert.InDelta(t, 100, s.AvgReceipt, 1e-9)
	assert.InDelta(t, 75, s.MedianReceipt, 1e-9)
	assert.InDelta(t, 200, s.MaxReceipt, 1e-9)
	assert.InDelta(t, 50, s.MinReceipt, 1e-9)
	assert.InDelta(t, 150, s.ThisMonthSpent, 1e-9)
	assert.InDelta(t, 200, s.LastMonthSpent, 1e-9)
	assert.InDelta(t, -25, s.MoMChange, 1e-9)
	assert.Equal(t, 3, s.ReceiptsThisMonth)

	assert.Equal(t, []CategoryBreakdown{
		{Category: constants.Food, Count: 2, Amount: 150, Share: 0.375},
		{Category: constants.Entertainment, Count: 1, Amount: 200, Share: 0.5},
		{Category: constants.Travel, Count: 1, Amount: 50, Share: 0.125},
		{Category: constants.Other, Count: 1},
	}, s.Categories)

	assert.Equal(t, []MerchantTotal{
		{Merchant: "CGV", Amount: 200, Count: 1},
		{Merchant: "Circle K", Amount: 150, Count: 2},
	}, s.TopMerchants)

	assert.Equal(t, []MonthTotal{
		{Month: "2024-02", Total: 200, Count: 1},
		{Month: "2024-03", Total: 150, Count: 2},
	}, s.Monthly)
}

func TestComputeEmpty(t *testing.T) {
	s := Compute(nil, time.Now(), 0)
	assert.Zero(t, s.TotalReceipts)
	assert.Zero(t, s.AvgReceipt)
	assert.NotNil(t, s.Categories)
	assert.NotNil(t, s.TopMerchants)
}

func TestComputeJanuaryComparesWithDecember(t *testing.T) {
	now := time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)
	s := Compute([]*entity.Receipt{
		receipt("A", constants.Food, f(30), day(2025, 1, 2)),
		receipt("A", constants.Food, f(60), day(2024, 12, 20)),
	}, now, 0)
	assert.InDelta(t, 60, s.LastMonthSpent, 1e-9)
	assert.InDelta(t, -50, s.MoMChange, 1e-9)
}

type stubStore struct {
	recs   []*entity.Receipt
	stats  entity.JobStats
	count  int
	active *entity.ModelVersion
}

func (s stubStore) List(context.Context, entity.ReceiptFilter) ([]*entity.Receipt, error) {
	return s.recs, nil
}
func (s stubStore) Count(context.Context, entity.ReceiptFilter) (int, error) { return len(s.recs), nil }
func (s stubStore) Stats(context.Context) (entity.JobStats, error)           { return s.stats, nil }
func (s stubStore) CountUnconsumed(context.Context) (int, error)             { return s.count, nil }
func (s stubStore) GetActive(context.Context) (*entity.ModelVersion, error) {
	if s.active == nil {
		return nil, common.NotFoundf("no active model")
	}
	return s.active, nil
}

func TestAdminMetrics(t *testing.T) {
	store := stubStore{
		recs:  []*entity.Receipt{receipt("A", constants.Food, f(1), nil)},
		stats: entity.JobStats{Total: 3, SuccessRate: 0.5},
		count: 7,
	}
	svc := NewService(store, store, store, store, nil)

	m, err := svc.AdminMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalReceipts)
	assert.Equal(t, 3, m.Jobs.Total)
	assert.Equal(t, 7, m.UnconsumedCorrections)
	assert.Empty(t, m.ActiveModel)

	store.active = &entity.ModelVersion{VersionID: "category_clf_v20240101_000000"}
	m, err = NewService(store, store, store, store, nil).AdminMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "category_clf_v20240101_000000", m.ActiveModel)
}

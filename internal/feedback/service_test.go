package feedback

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/repository"
)

type countingNotifier struct{ seen []int }

func (c *countingNotifier) NotifyCorrections(_ context.Context, n int) { c.seen = append(c.seen, n) }

type fixture struct {
	svc         *Service
	receipts    repository.ReceiptRepository
	corrections repository.CorrectionRepository
	notifier    *countingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	cfg := common.DatabaseConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "fb.db")}
	db, err := repository.Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)

	f := fixture{
		receipts:    repository.NewReceiptRepository(db, nil),
		corrections: repository.NewCorrectionRepository(db, nil),
		notifier:    &countingNotifier{},
	}
	f.svc = NewService(db, f.receipts, f.corrections, f.notifier, nil)
	return f
}

func (f fixture) receipt(t *testing.T, category constants.Category) *entity.Receipt {
	t.Helper()
	merchant := "NHA THUOC AN KHANG"
	r := &entity.Receipt{
		ID:           uuid.NewString(),
		MerchantName: &merchant,
		Items:        []string{"Panadol 2 x 15.000"},
		RawText:      "NHA THUOC AN KHANG\nPanadol 2 x 15.000\nTong cong: 30.000",
		Category:     category,
		Confidence:   0.4,
		ProcessedAt:  time.Now(),
	}
	require.NoError(t, f.receipts.Create(context.Background(), r))
	return r
}

func TestApplyRecordsCorrection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.receipt(t, constants.Other)

	out, err := f.svc.Apply(ctx, r.ID, constants.Healthcare)
	require.NoError(t, err)
	require.NotNil(t, out.Correction)
	assert.Equal(t, constants.Other, out.Correction.OriginalCategory)
	assert.Equal(t, constants.Healthcare, out.Correction.CorrectedCategory)
	assert.Equal(t, r.RawText, out.Correction.Text)
	assert.Equal(t, "NHA THUOC AN KHANG", out.Correction.MerchantName)
	assert.Equal(t, 1, out.Unconsumed)
	assert.Equal(t, []int{1}, f.notifier.seen)

	got, err := f.receipts.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.Healthcare, got.Category)
	assert.True(t, got.Corrected)

	stored, err := f.corrections.ListUnconsumed(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []string{"Panadol 2 x 15.000"}, stored[0].Items)
}

func TestApplySameCategoryOnlyConfirms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.receipt(t, constants.Healthcare)

	out, err := f.svc.Apply(ctx, r.ID, constants.Healthcare)
	require.NoError(t, err)
	assert.Nil(t, out.Correction)
	assert.True(t, out.Receipt.Corrected)
	assert.Empty(t, f.notifier.seen)

	n, err := f.corrections.CountUnconsumed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := f.receipts.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Corrected)
}

func TestApplyRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.receipt(t, constants.Food)

	_, err := f.svc.Apply(ctx, r.ID, "Pets")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.svc.Apply(ctx, uuid.NewString(), constants.Food)
	assert.ErrorIs(t, err, common.ErrNotFound)

	n, err := f.corrections.CountUnconsumed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingReceipts struct {
	repository.ReceiptRepository
}

func (failingReceipts) SetCategory(context.Context, string, constants.Category, time.Time) error {
	return errors.New("disk full")
}

func TestApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.receipt(t, constants.Food)

	db := f.svc.tx
	svc := NewService(db, failingReceipts{f.receipts}, f.corrections, f.notifier, nil)
	_, err := svc.Apply(ctx, r.ID, constants.Travel)
	require.Error(t, err)

	n, err := f.corrections.CountUnconsumed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "correction must roll back with the receipt update")
	assert.Empty(t, f.notifier.seen)
}

func TestNotifierSeesRunningCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		r := f.receipt(t, constants.Other)
		_, err := f.svc.Apply(ctx, r.ID, constants.Food)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3}, f.notifier.seen)
}

// Package feedback records user corrections of receipt categories and tells
// the retraining pipeline how many are waiting.
package feedback

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
)

type ReceiptStore interface {
	Get(ctx context.Context, id string) (*entity.Receipt, error)
	SetCategory(ctx context.Context, id string, category constants.Category, now time.Time) error
}

type CorrectionStore interface {
	Create(ctx context.Context, c *entity.Correction) error
	CountUnconsumed(ctx context.Context) (int, error)
}

// TxRunner runs fn in one transaction carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier is told the number of unconsumed corrections after each new one.
type Notifier interface {
	NotifyCorrections(ctx context.Context, unconsumed int)
}

// Outcome describes what Apply did. Correction is nil when the category was
// already the submitted one.
type Outcome struct {
	Receipt    *entity.Receipt
	Correction *entity.Correction
	Unconsumed int
}

type Service struct {
	tx          TxRunner
	receipts    ReceiptStore
	corrections CorrectionStore
	notifier    Notifier
	now         func() time.Time
	logger      *slog.Logger
}

func NewService(tx TxRunner, receipts ReceiptStore, corrections CorrectionStore, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		tx:          tx,
		receipts:    receipts,
		corrections: corrections,
		notifier:    notifier,
		now:         time.Now,
		logger:      logger,
	}
}

// Apply sets the category of a receipt on behalf of a user. A changed
// category appends a Correction carrying the receipt's classification text;
// the correction, the new category and the corrected flag commit together.
func (s *Service) Apply(ctx context.Context, receiptID string, category constants.Category) (Outcome, error) {
	if !category.IsValid() {
		return Outcome{}, common.InvalidInputf("unknown category %q", category)
	}
	logger := common.LoggerFromContext(ctx, s.logger).With("receipt_id", receiptID)

	var out Outcome
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		rec, err := s.receipts.Get(ctx, receiptID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if rec.Category != category {
			c := &entity.Correction{
				ID:                uuid.NewString(),
				ReceiptID:         rec.ID,
				OriginalCategory:  rec.Category,
				CorrectedCategory: category,
				Text:              rec.RawText,
				MerchantName:      rec.Merchant(),
				Items:             rec.Items,
				CorrectedAt:       now,
			}
			if err := s.corrections.Create(ctx, c); err != nil {
				return err
			}
			out.Correction = c
		}
		if err := s.receipts.SetCategory(ctx, rec.ID, category, now); err != nil {
			return err
		}
		rec.Category = category
		rec.Corrected = true
		rec.UpdatedAt = now
		out.Receipt = rec
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Correction == nil {
		logger.Info("feedback.confirmed", "category", category)
		return out, nil
	}
	metrics.IncreaseCorrectionsMetric()
	logger.Info("feedback.corrected",
		"from", out.Correction.OriginalCategory,
		"to", category,
		"correction_id", out.Correction.ID,
	)

	n, err := s.corrections.CountUnconsumed(ctx)
	if err != nil {
		// the correction is stored; the next one re-reads the count
		logger.Warn("feedback.count_failed", "error", err)
		return out, nil
	}
	out.Unconsumed = n
	if s.notifier != nil {
		s.notifier.NotifyCorrections(ctx, n)
	}
	return out, nil
}

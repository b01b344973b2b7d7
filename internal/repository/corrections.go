package repository

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

// CorrectionRepository is append-only apart from the one-time consumption stamp.
type CorrectionRepository interface {
	Create(ctx context.Context, c *entity.Correction) error
	CountUnconsumed(ctx context.Context) (int, error)
	ListUnconsumed(ctx context.Context) ([]*entity.Correction, error)
	MarkConsumed(ctx context.Context, ids []string, runID string, now time.Time) (int64, error)
	List(ctx context.Context, limit, offset int) ([]*entity.Correction, error)
}

type correctionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewCorrectionRepository(db *DB, logger *slog.Logger) CorrectionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &correctionRepository{db: db, logger: logger}
}

var correctionColumns = []string{
	"id", "receipt_id", "original_category", "corrected_category", "text",
	"merchant_name", "items", "corrected_at", "consumed_by_run", "consumed_at",
}

func (r *correctionRepository) Create(ctx context.Context, c *entity.Correction) error {
	items, err := stringsJSON(c.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	q, args := r.db.Dialect().Insert(TableCorrections).
		Columns("id", "receipt_id", "original_category", "corrected_category", "text",
			"merchant_name", "items", "corrected_at").
		Values(c.ID, c.ReceiptID, string(c.OriginalCategory), string(c.CorrectedCategory),
			c.Text, c.MerchantName, items, c.CorrectedAt.UTC()).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("correction create failed", "receipt_id", c.ReceiptID, "error", err)
		return err
	}
	return nil
}

func (r *correctionRepository) CountUnconsumed(ctx context.Context) (int, error) {
	b := r.db.Dialect()
	q, args := b.Select(entsql.Count("*")).From(b.Table(TableCorrections)).
		Where(entsql.IsNull("consumed_by_run")).Query()
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n int
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, dbError(err)
		}
	}
	return n, dbError(rows.Err())
}

// ListUnconsumed returns unconsumed corrections oldest first.
func (r *correctionRepository) ListUnconsumed(ctx context.Context) ([]*entity.Correction, error) {
	b := r.db.Dialect()
	q, args := b.Select(correctionColumns...).From(b.Table(TableCorrections)).
		Where(entsql.IsNull("consumed_by_run")).
		OrderBy("corrected_at", "id").
		Query()
	return r.queryCorrections(ctx, q, args)
}

// MarkConsumed stamps the given corrections with runID. Rows already consumed
// by another run are left untouched; the count of newly stamped rows is returned.
func (r *correctionRepository) MarkConsumed(ctx context.Context, ids []string, runID string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in := make([]any, len(ids))
	for i, id := range ids {
		in[i] = id
	}
	q, args := r.db.Dialect().Update(TableCorrections).
		Set("consumed_by_run", runID).
		Set("consumed_at", now.UTC()).
		Where(entsql.And(
			entsql.In("id", in...),
			entsql.IsNull("consumed_by_run"),
		)).
		Query()
	return r.db.exec(ctx, q, args)
}

func (r *correctionRepository) List(ctx context.Context, limit, offset int) ([]*entity.Correction, error) {
	b := r.db.Dialect()
	sel := b.Select(correctionColumns...).From(b.Table(TableCorrections)).OrderBy("corrected_at", "id")
	if limit >= 0 {
		sel = sel.Limit(pageLimit(limit)).Offset(max(offset, 0))
	}
	q, args := sel.Query()
	return r.queryCorrections(ctx, q, args)
}

func (r *correctionRepository) queryCorrections(ctx context.Context, q string, args []any) ([]*entity.Correction, error) {
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Correction
	for rows.Next() {
		var (
			c                   entity.Correction
			original, corrected string
			items               string
			consumedBy          stdsql.NullString
			consumedAt          stdsql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.ReceiptID, &original, &corrected, &c.Text,
			&c.MerchantName, &items, &c.CorrectedAt, &consumedBy, &consumedAt); err != nil {
			return nil, dbError(err)
		}
		c.OriginalCategory = constants.Category(original)
		c.CorrectedCategory = constants.Category(corrected)
		c.CorrectedAt = c.CorrectedAt.UTC()
		c.ConsumedByRun = stringPtr(consumedBy)
		c.ConsumedAt = timePtr(consumedAt)
		if err := json.Unmarshal([]byte(items), &c.Items); err != nil {
			return nil, fmt.Errorf("decode items of correction %s: %w", c.ID, err)
		}
		out = append(out, &c)
	}
	return out, dbError(rows.Err())
}

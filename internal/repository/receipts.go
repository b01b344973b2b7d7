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
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

type ReceiptRepository interface {
	Create(ctx context.Context, rec *entity.Receipt) error
	Get(ctx context.Context, id string) (*entity.Receipt, error)
	List(ctx context.Context, f entity.ReceiptFilter) ([]*entity.Receipt, error)
	Count(ctx context.Context, f entity.ReceiptFilter) (int, error)
	SetCategory(ctx context.Context, id string, category constants.Category, now time.Time) error
	Delete(ctx context.Context, id string) error
}

type receiptRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewReceiptRepository(db *DB, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &receiptRepository{db: db, logger: logger}
}

var receiptColumns = []string{
	"id", "job_id", "merchant_name", "receipt_date", "total_amount", "phone", "items",
	"raw_text", "category", "confidence", "field_confidence", "model_version",
	"corrected", "processed_at", "updated_at",
}

func (r *receiptRepository) Create(ctx context.Context, rec *entity.Receipt) error {
	items, err := stringsJSON(rec.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	fc := rec.FieldConfidence
	if fc == nil {
		fc = map[string]float64{}
	}
	fieldConf, err := toJSON(fc)
	if err != nil {
		return fmt.Errorf("encode field confidence: %w", err)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.ProcessedAt
	}
	q, args := r.db.Dialect().Insert(TableReceipts).
		Columns(receiptColumns...).
		Values(rec.ID, rec.JobID, nullString(rec.MerchantName), nullTime(rec.ReceiptDate),
			nullFloat(rec.TotalAmount), rec.Phone, items, rec.RawText, string(rec.Category),
			rec.Confidence, fieldConf, rec.ModelVersion, rec.Corrected,
			rec.ProcessedAt.UTC(), rec.UpdatedAt.UTC()).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("receipt create failed", "receipt_id", rec.ID, "error", err)
		return err
	}
	return nil
}

func (r *receiptRepository) Get(ctx context.Context, id string) (*entity.Receipt, error) {
	b := r.db.Dialect()
	q, args := b.Select(receiptColumns...).From(b.Table(TableReceipts)).Where(entsql.EQ("id", id)).Query()
	recs, err := r.queryReceipts(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, common.NotFoundf("receipt %s", id)
	}
	return recs[0], nil
}

func filterPredicates(f entity.ReceiptFilter) []*entsql.Predicate {
	var preds []*entsql.Predicate
	if f.Category != "" {
		preds = append(preds, entsql.EQ("category", string(f.Category)))
	}
	if f.From != nil {
		preds = append(preds, entsql.GTE("receipt_date", f.From.UTC()))
	}
	if f.To != nil {
		preds = append(preds, entsql.LTE("receipt_date", f.To.UTC()))
	}
	if f.Corrected != nil {
		preds = append(preds, entsql.EQ("corrected", *f.Corrected))
	}
	return preds
}

// List returns receipts newest first. A zero limit means the default page size;
// a negative limit returns every match.
func (r *receiptRepository) List(ctx context.Context, f entity.ReceiptFilter) ([]*entity.Receipt, error) {
	b := r.db.Dialect()
	sel := b.Select(receiptColumns...).From(b.Table(TableReceipts))
	if preds := filterPredicates(f); len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	sel = sel.OrderBy(entsql.Desc("processed_at"), "id")
	if f.Limit >= 0 {
		sel = sel.Limit(pageLimit(f.Limit)).Offset(max(f.Offset, 0))
	}
	q, args := sel.Query()
	return r.queryReceipts(ctx, q, args)
}

func (r *receiptRepository) Count(ctx context.Context, f entity.ReceiptFilter) (int, error) {
	b := r.db.Dialect()
	sel := b.Select(entsql.Count("*")).From(b.Table(TableReceipts))
	if preds := filterPredicates(f); len(preds) > 0 {
		sel = sel.Where(entsql.And(preds...))
	}
	q, args := sel.Query()
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

// SetCategory overrides the category and marks the receipt as corrected.
func (r *receiptRepository) SetCategory(ctx context.Context, id string, category constants.Category, now time.Time) error {
	q, args := r.db.Dialect().Update(TableReceipts).
		Set("category", string(category)).
		Set("corrected", true).
		Set("updated_at", now.UTC()).
		Where(entsql.EQ("id", id)).
		Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundf("receipt %s", id)
	}
	return nil
}

func (r *receiptRepository) Delete(ctx context.Context, id string) error {
	q, args := r.db.Dialect().Delete(TableReceipts).Where(entsql.EQ("id", id)).Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundf("receipt %s", id)
	}
	r.logger.Info("receipt deleted", "receipt_id", id)
	return nil
}

func (r *receiptRepository) queryReceipts(ctx context.Context, q string, args []any) ([]*entity.Receipt, error) {
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Receipt
	for rows.Next() {
		var (
			rec                        entity.Receipt
			merchant                   stdsql.NullString
			date                       stdsql.NullTime
			total                      stdsql.NullFloat64
			items, category, fieldConf string
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &merchant, &date, &total, &rec.Phone, &items,
			&rec.RawText, &category, &rec.Confidence, &fieldConf, &rec.ModelVersion,
			&rec.Corrected, &rec.ProcessedAt, &rec.UpdatedAt); err != nil {
			return nil, dbError(err)
		}
		rec.MerchantName = stringPtr(merchant)
		rec.ReceiptDate = timePtr(date)
		rec.TotalAmount = floatPtr(total)
		rec.Category = constants.Category(category)
		rec.ProcessedAt = rec.ProcessedAt.UTC()
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		if err := json.Unmarshal([]byte(items), &rec.Items); err != nil {
			return nil, fmt.Errorf("decode items of receipt %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal([]byte(fieldConf), &rec.FieldConfidence); err != nil {
			return nil, fmt.Errorf("decode field confidence of receipt %s: %w", rec.ID, err)
		}
		out = append(out, &rec)
	}
	return out, dbError(rows.Err())
}

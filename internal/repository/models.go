package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

// ModelVersionRepository stores evaluated model versions. Versions are never
// deleted; at most one row is active.
type ModelVersionRepository interface {
	Create(ctx context.Context, v *entity.ModelVersion) error
	Get(ctx context.Context, versionID string) (*entity.ModelVersion, error)
	GetActive(ctx context.Context) (*entity.ModelVersion, error)
	List(ctx context.Context) ([]*entity.ModelVersion, error)
	SetActive(ctx context.Context, versionID string) error
	Exists(ctx context.Context, versionID string) (bool, error)
}

type modelVersionRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewModelVersionRepository(db *DB, logger *slog.Logger) ModelVersionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &modelVersionRepository{db: db, logger: logger}
}

var modelVersionColumns = []string{
	"version_id", "created_at", "train_accuracy", "test_accuracy", "train_sample_count",
	"test_sample_count", "correction_count_used", "kind", "label_metrics", "artifact_key", "active",
}

// Create inserts an inactive version row.
func (r *modelVersionRepository) Create(ctx context.Context, v *entity.ModelVersion) error {
	lm := v.LabelMetrics
	if lm == nil {
		lm = map[string]entity.LabelMetrics{}
	}
	metrics, err := toJSON(lm)
	if err != nil {
		return fmt.Errorf("encode label metrics: %w", err)
	}
	q, args := r.db.Dialect().Insert(TableModelVersions).
		Columns(modelVersionColumns...).
		Values(v.VersionID, v.CreatedAt.UTC(), v.TrainAccuracy, v.TestAccuracy, v.TrainSampleCount,
			v.TestSampleCount, v.CorrectionCountUsed, string(v.Kind), metrics, v.ArtifactKey, false).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("model version create failed", "version_id", v.VersionID, "error", err)
		return err
	}
	v.Active = false
	return nil
}

func (r *modelVersionRepository) Get(ctx context.Context, versionID string) (*entity.ModelVersion, error) {
	return r.one(ctx, entsql.EQ("version_id", versionID), "model version "+versionID)
}

func (r *modelVersionRepository) GetActive(ctx context.Context) (*entity.ModelVersion, error) {
	return r.one(ctx, entsql.EQ("active", true), "active model version")
}

func (r *modelVersionRepository) Exists(ctx context.Context, versionID string) (bool, error) {
	_, err := r.Get(ctx, versionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, common.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// List returns every version, newest first.
func (r *modelVersionRepository) List(ctx context.Context) ([]*entity.ModelVersion, error) {
	b := r.db.Dialect()
	q, args := b.Select(modelVersionColumns...).From(b.Table(TableModelVersions)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("version_id")).
		Query()
	return r.queryVersions(ctx, q, args)
}

// SetActive deactivates the current version and activates versionID in one
// transaction, joining the caller's transaction when there is one.
func (r *modelVersionRepository) SetActive(ctx context.Context, versionID string) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		q, args := r.db.Dialect().Update(TableModelVersions).
			Set("active", false).
			Where(entsql.EQ("active", true)).
			Query()
		if _, err := r.db.exec(ctx, q, args); err != nil {
			return err
		}
		q, args = r.db.Dialect().Update(TableModelVersions).
			Set("active", true).
			Where(entsql.EQ("version_id", versionID)).
			Query()
		n, err := r.db.exec(ctx, q, args)
		if err != nil {
			return err
		}
		if n == 0 {
			return common.NotFoundf("model version %s", versionID)
		}
		return nil
	})
}

func (r *modelVersionRepository) one(ctx context.Context, p *entsql.Predicate, what string) (*entity.ModelVersion, error) {
	b := r.db.Dialect()
	q, args := b.Select(modelVersionColumns...).From(b.Table(TableModelVersions)).Where(p).Limit(1).Query()
	vs, err := r.queryVersions(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, common.NotFoundf("%s", what)
	}
	return vs[0], nil
}

func (r *modelVersionRepository) queryVersions(ctx context.Context, q string, args []any) ([]*entity.ModelVersion, error) {
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.ModelVersion
	for rows.Next() {
		var (
			v             entity.ModelVersion
			kind, metrics string
		)
		if err := rows.Scan(&v.VersionID, &v.CreatedAt, &v.TrainAccuracy, &v.TestAccuracy,
			&v.TrainSampleCount, &v.TestSampleCount, &v.CorrectionCountUsed, &kind, &metrics,
			&v.ArtifactKey, &v.Active); err != nil {
			return nil, dbError(err)
		}
		v.Kind = constants.ModelKind(kind)
		v.CreatedAt = v.CreatedAt.UTC()
		if err := json.Unmarshal([]byte(metrics), &v.LabelMetrics); err != nil {
			return nil, fmt.Errorf("decode label metrics of %s: %w", v.VersionID, err)
		}
		out = append(out, &v)
	}
	return out, dbError(rows.Err())
}

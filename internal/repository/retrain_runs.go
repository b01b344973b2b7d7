package repository

import (
	"context"
	stdsql "database/sql"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

type RetrainRunRepository interface {
	Create(ctx context.Context, run *entity.RetrainRun) error
	Update(ctx context.Context, run *entity.RetrainRun) error
	Get(ctx context.Context, id string) (*entity.RetrainRun, error)
	List(ctx context.Context, limit int) ([]*entity.RetrainRun, error)
}

type retrainRunRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewRetrainRunRepository(db *DB, logger *slog.Logger) RetrainRunRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &retrainRunRepository{db: db, logger: logger}
}

var retrainRunColumns = []string{
	"id", "state", "reason", "version_id", "error", "correction_count", "started_at", "finished_at",
}

func (r *retrainRunRepository) Create(ctx context.Context, run *entity.RetrainRun) error {
	q, args := r.db.Dialect().Insert(TableRetrainRuns).
		Columns(retrainRunColumns...).
		Values(run.ID, string(run.State), string(run.Reason), nullString(run.VersionID),
			nullString(run.Error), run.CorrectionCount, run.StartedAt.UTC(), nullTime(run.FinishedAt)).
		Query()
	_, err := r.db.exec(ctx, q, args)
	return err
}

func (r *retrainRunRepository) Update(ctx context.Context, run *entity.RetrainRun) error {
	q, args := r.db.Dialect().Update(TableRetrainRuns).
		Set("state", string(run.State)).
		Set("version_id", nullString(run.VersionID)).
		Set("error", nullString(run.Error)).
		Set("correction_count", run.CorrectionCount).
		Set("finished_at", nullTime(run.FinishedAt)).
		Where(entsql.EQ("id", run.ID)).
		Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NotFoundf("retrain run %s", run.ID)
	}
	return nil
}

func (r *retrainRunRepository) Get(ctx context.Context, id string) (*entity.RetrainRun, error) {
	b := r.db.Dialect()
	q, args := b.Select(retrainRunColumns...).From(b.Table(TableRetrainRuns)).Where(entsql.EQ("id", id)).Query()
	runs, err := r.queryRuns(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, common.NotFoundf("retrain run %s", id)
	}
	return runs[0], nil
}

func (r *retrainRunRepository) List(ctx context.Context, limit int) ([]*entity.RetrainRun, error) {
	b := r.db.Dialect()
	q, args := b.Select(retrainRunColumns...).From(b.Table(TableRetrainRuns)).
		OrderBy(entsql.Desc("started_at"), "id").
		Limit(pageLimit(limit)).
		Query()
	return r.queryRuns(ctx, q, args)
}

func (r *retrainRunRepository) queryRuns(ctx context.Context, q string, args []any) ([]*entity.RetrainRun, error) {
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.RetrainRun
	for rows.Next() {
		var (
			run             entity.RetrainRun
			state, reason   string
			version, errMsg stdsql.NullString
			finished        stdsql.NullTime
		)
		if err := rows.Scan(&run.ID, &state, &reason, &version, &errMsg, &run.CorrectionCount,
			&run.StartedAt, &finished); err != nil {
			return nil, dbError(err)
		}
		run.State = constants.RetrainState(state)
		run.Reason = constants.RetrainReason(reason)
		run.VersionID = stringPtr(version)
		run.Error = stringPtr(errMsg)
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = timePtr(finished)
		out = append(out, &run)
	}
	return out, dbError(rows.Err())
}

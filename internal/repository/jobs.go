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

// ReclaimExhaustedError is recorded on jobs whose lease expired too often.
const ReclaimExhaustedError = "lease expired too many times"

// JobRepository persists jobs. Every status change is a conditional update on
// the expected current status, so a transition that lost a race reports false
// instead of overwriting a newer state.
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id string) (*entity.Job, error)
	List(ctx context.Context, status constants.JobStatus, limit, offset int) ([]*entity.Job, error)
	Claim(ctx context.Context, id, workerID string, leaseUntil, now time.Time) (bool, error)
	Heartbeat(ctx context.Context, id, workerID string, leaseUntil time.Time) (bool, error)
	Complete(ctx context.Context, id, workerID string, result entity.JobResult, now time.Time) (bool, error)
	Fail(ctx context.Context, id, workerID, message string, now time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error)
	Reclaim(ctx context.Context, job *entity.Job, maxReclaims int, now time.Time) (constants.JobStatus, bool, error)
	ListPendingIDs(ctx context.Context) ([]string, error)
	DeletePending(ctx context.Context, id string) (bool, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (entity.JobStats, error)
}

type jobRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewJobRepository(db *DB, logger *slog.Logger) JobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobRepository{db: db, logger: logger}
}

var jobColumns = []string{
	"id", "status", "payload", "result", "error", "created_at", "started_at",
	"completed_at", "lease_expires_at", "reclaim_count", "worker_id",
}

func (r *jobRepository) Create(ctx context.Context, job *entity.Job) error {
	payload, err := toJSON(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if job.Status == "" {
		job.Status = constants.JobStatusPending
	}
	q, args := r.db.Dialect().Insert(TableJobs).
		Columns("id", "status", "payload", "created_at", "reclaim_count", "worker_id").
		Values(job.ID, string(job.Status), payload, job.CreatedAt.UTC(), job.ReclaimCount, job.WorkerID).
		Query()
	if _, err := r.db.exec(ctx, q, args); err != nil {
		r.logger.Error("job create failed", "job_id", job.ID, "error", err)
		return err
	}
	return nil
}

func (r *jobRepository) Get(ctx context.Context, id string) (*entity.Job, error) {
	b := r.db.Dialect()
	q, args := b.Select(jobColumns...).From(b.Table(TableJobs)).Where(entsql.EQ("id", id)).Query()
	jobs, err := r.queryJobs(ctx, q, args)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, common.NotFoundf("job %s", id)
	}
	return jobs[0], nil
}

func (r *jobRepository) List(ctx context.Context, status constants.JobStatus, limit, offset int) ([]*entity.Job, error) {
	b := r.db.Dialect()
	sel := b.Select(jobColumns...).From(b.Table(TableJobs))
	if status != "" {
		sel = sel.Where(entsql.EQ("status", string(status)))
	}
	q, args := sel.OrderBy(entsql.Desc("created_at"), "id").
		Limit(pageLimit(limit)).Offset(max(offset, 0)).
		Query()
	return r.queryJobs(ctx, q, args)
}

func (r *jobRepository) Claim(ctx context.Context, id, workerID string, leaseUntil, now time.Time) (bool, error) {
	q, args := r.db.Dialect().Update(TableJobs).
		Set("status", string(constants.JobStatusProcessing)).
		Set("started_at", now.UTC()).
		Set("lease_expires_at", leaseUntil.UTC()).
		Set("worker_id", workerID).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusPending)),
		)).
		Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *jobRepository) Heartbeat(ctx context.Context, id, workerID string, leaseUntil time.Time) (bool, error) {
	q, args := r.db.Dialect().Update(TableJobs).
		Set("lease_expires_at", leaseUntil.UTC()).
		Where(r.ownedBy(id, workerID)).
		Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete records the result of a job held by workerID and, in the same
// transaction, stores the receipt it carries. A worker that lost its lease
// writes nothing.
func (r *jobRepository) Complete(ctx context.Context, id, workerID string, result entity.JobResult, now time.Time) (bool, error) {
	if result.Receipt != nil {
		result.Receipt.JobID = id
	}
	res, err := toJSON(result)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}
	q, args := r.db.Dialect().Update(TableJobs).
		SetNull("lease_expires_at").
		Set("status", string(constants.JobStatusCompleted)).
		Set("result", res).
		Set("completed_at", now.UTC()).
		Where(r.ownedBy(id, workerID)).
		Query()

	var owned bool
	err = r.db.WithTx(ctx, func(ctx context.Context) error {
		n, err := r.db.exec(ctx, q, args)
		if err != nil {
			return err
		}
		if owned = n == 1; !owned || result.Receipt == nil {
			return nil
		}
		receipts := &receiptRepository{db: r.db, logger: r.logger}
		return receipts.Create(ctx, result.Receipt)
	})
	if err != nil {
		return false, err
	}
	return owned, nil
}

func (r *jobRepository) Fail(ctx context.Context, id, workerID, message string, now time.Time) (bool, error) {
	q, args := r.db.Dialect().Update(TableJobs).
		SetNull("lease_expires_at").
		Set("status", string(constants.JobStatusFailed)).
		Set("error", message).
		Set("completed_at", now.UTC()).
		Where(r.ownedBy(id, workerID)).
		Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ownedBy matches a processing job held by workerID.
func (r *jobRepository) ownedBy(id, workerID string) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("id", id),
		entsql.EQ("status", string(constants.JobStatusProcessing)),
		entsql.EQ("worker_id", workerID),
	)
}

func (r *jobRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error) {
	b := r.db.Dialect()
	q, args := b.Select(jobColumns...).From(b.Table(TableJobs)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.JobStatusProcessing)),
			entsql.NotNull("lease_expires_at"),
			entsql.LT("lease_expires_at", now.UTC()),
		)).
		OrderBy("lease_expires_at").
		Limit(pageLimit(limit)).
		Query()
	return r.queryJobs(ctx, q, args)
}

// Reclaim returns an abandoned job to pending, or fails it once it has been
// reclaimed maxReclaims times. The update is conditional on the lease value
// observed by the caller, so each expired lease is handled exactly once.
func (r *jobRepository) Reclaim(ctx context.Context, job *entity.Job, maxReclaims int, now time.Time) (constants.JobStatus, bool, error) {
	if job.LeaseExpiresAt == nil {
		return job.Status, false, nil
	}
	upd := r.db.Dialect().Update(TableJobs).
		SetNull("lease_expires_at").
		Add("reclaim_count", 1)

	next := constants.JobStatusPending
	if job.ReclaimCount+1 >= maxReclaims {
		next = constants.JobStatusFailed
		upd = upd.
			Set("status", string(next)).
			Set("error", ReclaimExhaustedError).
			Set("completed_at", now.UTC())
	} else {
		upd = upd.
			Set("status", string(next)).
			Set("worker_id", "")
	}
	q, args := upd.Where(entsql.And(
		entsql.EQ("id", job.ID),
		entsql.EQ("status", string(constants.JobStatusProcessing)),
		entsql.EQ("lease_expires_at", job.LeaseExpiresAt.UTC()),
	)).Query()

	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return job.Status, false, err
	}
	if n != 1 {
		return job.Status, false, nil
	}
	r.logger.Warn("job lease reclaimed", "job_id", job.ID, "worker_id", job.WorkerID,
		"reclaim_count", job.ReclaimCount+1, "status", next)
	return next, true, nil
}

func (r *jobRepository) ListPendingIDs(ctx context.Context) ([]string, error) {
	b := r.db.Dialect()
	q, args := b.Select("id").From(b.Table(TableJobs)).
		Where(entsql.EQ("status", string(constants.JobStatusPending))).
		OrderBy("created_at").
		Query()
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, dbError(err)
		}
		ids = append(ids, id)
	}
	return ids, dbError(rows.Err())
}

// DeletePending removes a job no worker has claimed yet.
func (r *jobRepository) DeletePending(ctx context.Context, id string) (bool, error) {
	q, args := r.db.Dialect().Delete(TableJobs).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.JobStatusPending)),
		)).
		Query()
	n, err := r.db.exec(ctx, q, args)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteTerminalBefore removes completed and failed jobs finished before cutoff.
func (r *jobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q, args := r.db.Dialect().Delete(TableJobs).
		Where(entsql.And(
			entsql.In("status", string(constants.JobStatusCompleted), string(constants.JobStatusFailed)),
			entsql.NotNull("completed_at"),
			entsql.LT("completed_at", cutoff.UTC()),
		)).
		Query()
	return r.db.exec(ctx, q, args)
}

func (r *jobRepository) Stats(ctx context.Context) (entity.JobStats, error) {
	stats := entity.JobStats{ByStatus: map[string]int{}}
	for _, s := range []constants.JobStatus{
		constants.JobStatusPending, constants.JobStatusProcessing,
		constants.JobStatusCompleted, constants.JobStatusFailed,
	} {
		stats.ByStatus[string(s)] = 0
	}

	b := r.db.Dialect()
	q, args := b.Select("status", entsql.Count("*")).From(b.Table(TableJobs)).GroupBy("status").Query()
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, dbError(err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Close(); err != nil {
		return stats, dbError(err)
	}

	q, args = b.Select("started_at", "completed_at").From(b.Table(TableJobs)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.JobStatusCompleted)),
			entsql.NotNull("started_at"),
			entsql.NotNull("completed_at"),
		)).Query()
	rows, err = r.db.query(ctx, q, args)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	var sum float64
	var n int
	for rows.Next() {
		var started, completed time.Time
		if err := rows.Scan(&started, &completed); err != nil {
			return stats, dbError(err)
		}
		sum += completed.Sub(started).Seconds()
		n++
	}
	if n > 0 {
		stats.AvgProcessingSeconds = sum / float64(n)
	}
	if finished := stats.ByStatus[string(constants.JobStatusCompleted)] + stats.ByStatus[string(constants.JobStatusFailed)]; finished > 0 {
		stats.SuccessRate = float64(stats.ByStatus[string(constants.JobStatusCompleted)]) / float64(finished)
	}
	return stats, dbError(rows.Err())
}

func (r *jobRepository) queryJobs(ctx context.Context, q string, args []any) ([]*entity.Job, error) {
	rows, err := r.db.query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		var (
			j                                  entity.Job
			status, payload                    string
			result, errMsg                     stdsql.NullString
			started, completed, leaseExpiresAt stdsql.NullTime
		)
		if err := rows.Scan(&j.ID, &status, &payload, &result, &errMsg, &j.CreatedAt,
			&started, &completed, &leaseExpiresAt, &j.ReclaimCount, &j.WorkerID); err != nil {
			return nil, dbError(err)
		}
		j.Status = constants.JobStatus(status)
		j.CreatedAt = j.CreatedAt.UTC()
		if err := json.Unmarshal([]byte(payload), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
		}
		if result.Valid && result.String != "" {
			var res entity.JobResult
			if err := json.Unmarshal([]byte(result.String), &res); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
			}
			j.Result = &res
		}
		j.Error = stringPtr(errMsg)
		j.StartedAt = timePtr(started)
		j.CompletedAt = timePtr(completed)
		j.LeaseExpiresAt = timePtr(leaseExpiresAt)
		out = append(out, &j)
	}
	return out, dbError(rows.Err())
}

package async

import (
	"context"
	"time"

	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

// Task points a worker at a job row. The row, not the task, is the source of
// truth: a task for a job that is no longer pending is dropped at claim time.
type Task struct {
	JobID       string
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Shutdown(ctx context.Context)
}

// Processor runs the receipt pipeline for a claimed job.
type Processor interface {
	Process(ctx context.Context, job *entity.Job) (entity.JobResult, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *entity.Job) (entity.JobResult, error)

func (f ProcessorFunc) Process(ctx context.Context, job *entity.Job) (entity.JobResult, error) {
	return f(ctx, job)
}

// JobStore is the slice of the job repository a worker needs.
type JobStore interface {
	Get(ctx context.Context, id string) (*entity.Job, error)
	Claim(ctx context.Context, id, workerID string, leaseUntil, now time.Time) (bool, error)
	Heartbeat(ctx context.Context, id, workerID string, leaseUntil time.Time) (bool, error)
	Complete(ctx context.Context, id, workerID string, result entity.JobResult, now time.Time) (bool, error)
	Fail(ctx context.Context, id, workerID, message string, now time.Time) (bool, error)
}

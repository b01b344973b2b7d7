package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
)

// ProcessorQueue is a fixed pool of workers draining a buffered channel of
// tasks. Each worker claims its job with a lease, keeps the lease alive while
// the pipeline runs and records the outcome.
type ProcessorQueue struct {
	proc     Processor
	jobs     JobStore
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	lease    time.Duration
	now      func() time.Time
	instance string

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*ProcessorQueue)

// WithWorkers sets the number of goroutines draining the queue.
func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets how many tasks may wait for a worker before Enqueue
// starts refusing them.
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

// WithProcessTimeout bounds a single pipeline run.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithLease sets how long a claim stays valid without a heartbeat.
func WithLease(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *ProcessorQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func NewProcessorQueue(proc Processor, jobs JobStore, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:     proc,
		jobs:     jobs,
		logger:   logger,
		workers:  4,
		timeout:  3 * time.Minute,
		lease:    2 * time.Minute,
		now:      time.Now,
		instance: uuid.NewString()[:8],
		ch:       make(chan Task, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID string) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for task := range q.ch {
					q.handle(workerID, task)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(fmt.Sprintf("%s-w%d", q.instance, i+1))
		}
	})
}

func (q *ProcessorQueue) handle(workerID string, task Task) {
	ctx := common.WithJobID(context.Background(), task.JobID)
	logger := common.LoggerFromContext(ctx, q.logger).With("worker_id", workerID)

	claimedAt := q.now()
	ok, err := q.jobs.Claim(ctx, task.JobID, workerID, claimedAt.Add(q.lease), claimedAt)
	if err != nil {
		logger.Error("worker.job.claim_failed", "error", err)
		return
	}
	if !ok {
		logger.Debug("worker.job.skipped", "reason", "not pending")
		return
	}
	logger.Info("worker.job.claimed", "queued_for", claimedAt.Sub(task.SubmittedAt).Round(time.Millisecond))

	job, err := q.jobs.Get(ctx, task.JobID)
	if err != nil {
		q.finish(ctx, logger, task.JobID, workerID, claimedAt, nil, err)
		return
	}

	runCtx, cancel := context.WithTimeout(common.WithLogger(ctx, logger), q.timeout)
	stop := q.heartbeat(runCtx, cancel, logger, task.JobID, workerID)
	result, err := q.run(runCtx, job)
	stop()
	cancel()

	q.finish(ctx, logger, task.JobID, workerID, claimedAt, &result, err)
}

// run invokes the processor and turns a panic into an ordinary failure so the
// worker survives it.
func (q *ProcessorQueue) run(ctx context.Context, job *entity.Job) (res entity.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", common.ErrInternal, r)
		}
	}()
	return q.proc.Process(ctx, job)
}

// heartbeat extends the lease every lease/3 until stopped. Losing ownership
// cancels the run.
func (q *ProcessorQueue) heartbeat(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, jobID, workerID string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(max(q.lease/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := q.jobs.Heartbeat(ctx, jobID, workerID, q.now().Add(q.lease))
				if err != nil {
					logger.Warn("worker.job.heartbeat_failed", "error", err)
					continue
				}
				if !ok {
					logger.Warn("worker.job.lease_lost")
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func (q *ProcessorQueue) finish(ctx context.Context, logger *slog.Logger, jobID, workerID string, claimedAt time.Time, result *entity.JobResult, runErr error) {
	now := q.now()
	var ok bool
	var err error
	status := constants.JobStatusCompleted
	if runErr != nil || result == nil {
		status = constants.JobStatusFailed
		msg := "no result"
		if runErr != nil {
			msg = runErr.Error()
		}
		ok, err = q.jobs.Fail(ctx, jobID, workerID, msg, now)
	} else {
		ok, err = q.jobs.Complete(ctx, jobID, workerID, *result, now)
	}
	switch {
	case err != nil:
		logger.Error("worker.job.record_failed", "status", status, "error", err)
		return
	case !ok:
		// the sweeper took the job back; whoever holds it now records the outcome
		logger.Warn("worker.job.outcome_dropped", "status", status)
		return
	}

	metrics.IncreaseJobsTotalMetric(string(status))
	metrics.ObserveJobDuration(now.Sub(claimedAt).Seconds())
	if runErr != nil {
		logger.Error("worker.job.failed", "error", runErr, "duration_ms", now.Sub(claimedAt).Milliseconds())
		return
	}
	logger.Info("worker.job.completed",
		"receipt_id", result.ReceiptID,
		"category", result.Category,
		"confidence", result.Confidence,
		"duration_ms", now.Sub(claimedAt).Milliseconds(),
	)
}

// Enqueue hands a task to the pool without waiting. A full buffer fails
// right away with ErrQueueFull.
func (q *ProcessorQueue) Enqueue(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", task.JobID)
		return common.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = q.now()
	}
	select {
	case q.ch <- task:
		q.logger.Debug("queued job for processing", "job_id", task.JobID)
		return nil
	default:
		q.logger.Warn("queue full, rejecting task", "job_id", task.JobID, "capacity", cap(q.ch))
		return common.NewAppError("QUEUE_FULL",
			fmt.Sprintf("%d tasks are waiting for a worker", cap(q.ch)), common.ErrQueueFull)
	}
}

// Depth is the number of tasks waiting for a worker.
func (q *ProcessorQueue) Depth() int {
	return len(q.ch)
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}

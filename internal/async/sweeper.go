package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
)

const sweepBatch = 100

// SweepStore is the slice of the job repository the sweeper needs.
type SweepStore interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*entity.Job, error)
	Reclaim(ctx context.Context, job *entity.Job, maxReclaims int, now time.Time) (constants.JobStatus, bool, error)
	ListPendingIDs(ctx context.Context) ([]string, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (entity.JobStats, error)
}

// Sweeper returns abandoned jobs to the queue and garbage-collects old
// terminal ones.
type Sweeper struct {
	jobs        SweepStore
	queue       Queue
	logger      *slog.Logger
	interval    time.Duration
	maxReclaims int
	retention   time.Duration
	now         func() time.Time

	// pending jobs the queue refused; retried on every sweep
	mu      sync.Mutex
	backlog []string
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithMaxReclaims(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.maxReclaims = n
		}
	}
}

func WithRetention(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSweeper(jobs SweepStore, queue Queue, logger *slog.Logger, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		jobs:        jobs,
		queue:       queue,
		logger:      logger,
		interval:    30 * time.Second,
		maxReclaims: 3,
		retention:   168 * time.Hour,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run sweeps on a jittered ticker until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: s.interval / 10, Mean: 0})
	defer ticker.Stop()
	s.logger.Info("lease sweeper started", "interval", s.interval, "max_reclaims", s.maxReclaims)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lease sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("lease sweep failed", "error", err)
			}
			s.updateGauges(ctx)
		}
	}
}

// Sweep reclaims every job whose lease has expired and re-enqueues the ones
// that went back to pending. It returns the number of reclaimed jobs.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	s.drainBacklog(ctx, now)
	expired, err := s.jobs.ListExpired(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}
	reclaimed := 0
	for _, job := range expired {
		status, ok, err := s.jobs.Reclaim(ctx, job, s.maxReclaims, now)
		if err != nil {
			s.logger.Error("reclaim failed", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		reclaimed++
		metrics.IncreaseJobsReclaimedMetric(string(status))
		if status == constants.JobStatusFailed {
			metrics.IncreaseJobsTotalMetric(string(status))
			continue
		}
		if err := s.queue.Enqueue(ctx, Task{JobID: job.ID, SubmittedAt: now}); err != nil {
			s.logger.Warn("re-enqueue after reclaim failed", "job_id", job.ID, "error", err)
			s.postpone(job.ID)
		}
	}
	if reclaimed > 0 {
		s.logger.Info("lease sweep reclaimed jobs", "count", reclaimed)
	}
	return reclaimed, nil
}

// RequeuePending enqueues every pending job left in the store, e.g. after a
// restart. Jobs that do not fit in the queue are kept in the backlog for the
// following sweeps.
func (s *Sweeper) RequeuePending(ctx context.Context) (int, error) {
	ids, err := s.jobs.ListPendingIDs(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	for i, id := range ids {
		if err := s.queue.Enqueue(ctx, Task{JobID: id, SubmittedAt: now}); err != nil {
			s.logger.Warn("pending jobs deferred to the next sweep", "count", len(ids)-i, "error", err)
			s.postpone(ids[i:]...)
			return i, nil
		}
	}
	if len(ids) > 0 {
		s.logger.Info("re-enqueued pending jobs", "count", len(ids))
	}
	return len(ids), nil
}

// Backlog is the number of pending jobs waiting for queue capacity.
func (s *Sweeper) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backlog)
}

func (s *Sweeper) postpone(ids ...string) {
	s.mu.Lock()
	s.backlog = append(s.backlog, ids...)
	s.mu.Unlock()
}

// drainBacklog enqueues deferred jobs in order until the queue refuses one.
func (s *Sweeper) drainBacklog(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := 0
	for _, id := range s.backlog {
		if err := s.queue.Enqueue(ctx, Task{JobID: id, SubmittedAt: now}); err != nil {
			break
		}
		sent++
	}
	s.backlog = s.backlog[sent:]
	if sent > 0 {
		s.logger.Info("re-enqueued deferred jobs", "count", sent, "remaining", len(s.backlog))
	}
}

// Cleanup deletes terminal jobs that finished before the retention window.
func (s *Sweeper) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	n, err := s.jobs.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("job cleanup finished", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

func (s *Sweeper) updateGauges(ctx context.Context) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return
	}
	for status, n := range stats.ByStatus {
		metrics.UpdateJobStatusGauge(status, n)
	}
}

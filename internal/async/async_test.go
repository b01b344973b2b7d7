package async

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
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

func newJobs(t *testing.T) repository.JobRepository {
	t.Helper()
	ctx := context.Background()
	cfg := common.DatabaseConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "jobs.db")}
	db, err := repository.Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return repository.NewJobRepository(db, nil)
}

func createJob(t *testing.T, jobs repository.JobRepository) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, jobs.Create(context.Background(), &entity.Job{
		ID:        id,
		Payload:   entity.JobPayload{Kind: constants.PayloadText, Text: "SIEU THI ABC"},
		CreatedAt: time.Now(),
	}))
	return id
}

func waitStatus(t *testing.T, jobs repository.JobRepository, id string, want constants.JobStatus) *entity.Job {
	t.Helper()
	var got *entity.Job
	require.Eventually(t, func() bool {
		j, err := jobs.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

func shutdown(t *testing.T, q *ProcessorQueue) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
}

func okResult(_ context.Context, job *entity.Job) (entity.JobResult, error) {
	return entity.JobResult{ReceiptID: "r-" + job.ID, Category: constants.Food, Confidence: 0.9}, nil
}

func TestQueueCompletesJobs(t *testing.T) {
	jobs := newJobs(t)
	q := NewProcessorQueue(ProcessorFunc(okResult), jobs, nil, WithWorkers(2), WithQueueSize(4))
	shutdown(t, q)

	var ids []string
	for i := 0; i < 6; i++ {
		id := createJob(t, jobs)
		ids = append(ids, id)
		require.NoError(t, q.Enqueue(context.Background(), Task{JobID: id}))
	}
	for _, id := range ids {
		j := waitStatus(t, jobs, id, constants.JobStatusCompleted)
		require.NotNil(t, j.Result)
		assert.Equal(t, "r-"+id, j.Result.ReceiptID)
		assert.NotNil(t, j.StartedAt)
		assert.NotNil(t, j.CompletedAt)
		assert.Nil(t, j.Error)
	}
}

func TestQueueRecordsFailuresAndSurvivesPanics(t *testing.T) {
	jobs := newJobs(t)
	var calls atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, job *entity.Job) (entity.JobResult, error) {
		switch calls.Add(1) {
		case 1:
			return entity.JobResult{}, errors.New("recognizer exploded")
		case 2:
			panic("nil map")
		default:
			return okResult(ctx, job)
		}
	})
	q := NewProcessorQueue(proc, jobs, nil, WithWorkers(1))
	shutdown(t, q)

	failed, panicked, ok := createJob(t, jobs), createJob(t, jobs), createJob(t, jobs)
	for _, id := range []string{failed, panicked, ok} {
		require.NoError(t, q.Enqueue(context.Background(), Task{JobID: id}))
	}

	j := waitStatus(t, jobs, failed, constants.JobStatusFailed)
	require.NotNil(t, j.Error)
	assert.Equal(t, "recognizer exploded", *j.Error)

	j = waitStatus(t, jobs, panicked, constants.JobStatusFailed)
	require.NotNil(t, j.Error)
	assert.Contains(t, *j.Error, "panic: nil map")

	waitStatus(t, jobs, ok, constants.JobStatusCompleted)
}

func TestDuplicateTasksRunOnce(t *testing.T) {
	jobs := newJobs(t)
	var calls atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, job *entity.Job) (entity.JobResult, error) {
		calls.Add(1)
		return okResult(ctx, job)
	})
	q := NewProcessorQueue(proc, jobs, nil, WithWorkers(3))
	shutdown(t, q)

	id := createJob(t, jobs)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Task{JobID: id}))
	}
	waitStatus(t, jobs, id, constants.JobStatusCompleted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)
	assert.EqualValues(t, 1, calls.Load())
}

func TestHeartbeatExtendsLease(t *testing.T) {
	jobs := newJobs(t)
	release := make(chan struct{})
	started := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, job *entity.Job) (entity.JobResult, error) {
		close(started)
		<-release
		return okResult(ctx, job)
	})
	q := NewProcessorQueue(proc, jobs, nil, WithWorkers(1), WithLease(150*time.Millisecond))
	shutdown(t, q)

	id := createJob(t, jobs)
	require.NoError(t, q.Enqueue(context.Background(), Task{JobID: id}))
	<-started

	first := waitStatus(t, jobs, id, constants.JobStatusProcessing)
	require.NotNil(t, first.LeaseExpiresAt)
	require.Eventually(t, func() bool {
		j, err := jobs.Get(context.Background(), id)
		return err == nil && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(*first.LeaseExpiresAt)
	}, 2*time.Second, 20*time.Millisecond)

	close(release)
	j := waitStatus(t, jobs, id, constants.JobStatusCompleted)
	assert.Nil(t, j.LeaseExpiresAt)
}

func TestEnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(ProcessorFunc(okResult), newJobs(t), nil)
	q.Shutdown(context.Background())
	assert.ErrorIs(t, q.Enqueue(context.Background(), Task{JobID: "x"}), common.ErrQueueClosed)
	q.Shutdown(context.Background())
}

func TestEnqueueFullQueueFailsFast(t *testing.T) {
	block := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, job *entity.Job) (entity.JobResult, error) {
		<-block
		return okResult(ctx, job)
	})
	jobs := newJobs(t)
	q := NewProcessorQueue(proc, jobs, nil, WithWorkers(1), WithQueueSize(1))
	t.Cleanup(func() {
		close(block)
		q.Shutdown(context.Background())
	})

	busy := createJob(t, jobs)
	require.NoError(t, q.Enqueue(context.Background(), Task{JobID: busy}))
	waitStatus(t, jobs, busy, constants.JobStatusProcessing)
	require.NoError(t, q.Enqueue(context.Background(), Task{JobID: createJob(t, jobs)}))
	assert.Equal(t, 1, q.Depth())

	start := time.Now()
	err := q.Enqueue(context.Background(), Task{JobID: createJob(t, jobs)})
	assert.ErrorIs(t, err, common.ErrQueueFull)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, q.Depth())
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []Task
	limit int
}

func (r *recordingQueue) Enqueue(_ context.Context, task Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.tasks) >= r.limit {
		return common.ErrQueueFull
	}
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recordingQueue) Shutdown(context.Context) {}

func TestSweepReclaimsAbandonedJobs(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	queue := &recordingQueue{}
	now := time.Now()
	sweeper := NewSweeper(jobs, queue, nil, WithMaxReclaims(2), WithSweeperClock(func() time.Time { return now }))

	abandoned := createJob(t, jobs)
	alive := createJob(t, jobs)
	ok, err := jobs.Claim(ctx, abandoned, "dead-worker", now.Add(-time.Second), now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = jobs.Claim(ctx, alive, "live-worker", now.Add(time.Minute), now)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, queue.tasks, 1)
	assert.Equal(t, abandoned, queue.tasks[0].JobID)

	j, err := jobs.Get(ctx, abandoned)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusPending, j.Status)
	assert.Equal(t, 1, j.ReclaimCount)

	// second sweep has nothing new to reclaim
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// abandoned again: the limit is reached and the job fails
	ok, err = jobs.Claim(ctx, abandoned, "dead-worker", now.Add(-time.Second), now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, queue.tasks, 1)

	j, err = jobs.Get(ctx, abandoned)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, repository.ReclaimExhaustedError, *j.Error)

	j, err = jobs.Get(ctx, alive)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusProcessing, j.Status)
}

func TestRequeuePendingAndCleanup(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	queue := &recordingQueue{}
	now := time.Now()
	sweeper := NewSweeper(jobs, queue, nil, WithRetention(time.Hour), WithSweeperClock(func() time.Time { return now }))

	pending := createJob(t, jobs)
	done := createJob(t, jobs)
	ok, err := jobs.Claim(ctx, done, "w", now.Add(time.Minute), now.Add(-3*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = jobs.Complete(ctx, done, "w", entity.JobResult{}, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	n, err := sweeper.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, pending, queue.tasks[0].JobID)

	deleted, err := sweeper.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	_, err = jobs.Get(ctx, done)
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = jobs.Get(ctx, pending)
	assert.NoError(t, err)
}

func TestRefusedRequeueIsRetriedBySweep(t *testing.T) {
	ctx := context.Background()
	jobs := newJobs(t)
	queue := &recordingQueue{limit: 1}
	sweeper := NewSweeper(jobs, queue, nil)

	first := createJob(t, jobs)
	second := createJob(t, jobs)

	n, err := sweeper.RequeuePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, sweeper.Backlog())

	// a worker frees a slot
	queue.mu.Lock()
	queue.limit = 2
	queue.mu.Unlock()

	_, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sweeper.Backlog())
	require.Len(t, queue.tasks, 2)
	assert.ElementsMatch(t, []string{first, second}, []string{queue.tasks[0].JobID, queue.tasks[1].JobID})
}

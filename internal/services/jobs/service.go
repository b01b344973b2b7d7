package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/async"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/storage"
)

// JobStore is the part of the job repository submission needs.
type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id string) (*entity.Job, error)
	List(ctx context.Context, status constants.JobStatus, limit, offset int) ([]*entity.Job, error)
	DeletePending(ctx context.Context, id string) (bool, error)
}

// Service accepts receipts for asynchronous processing.
type Service struct {
	jobs     JobStore
	blobs    storage.BlobStore
	queue    async.Queue
	maxBytes int64
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a new job service. maxBytes <= 0 disables the size check.
func NewService(jobs JobStore, blobs storage.BlobStore, queue async.Queue, maxBytes int64, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:     jobs,
		blobs:    blobs,
		queue:    queue,
		maxBytes: maxBytes,
		now:      time.Now,
		logger:   logger,
	}
}

// ImageUpload is a receipt image as received from a client.
type ImageUpload struct {
	Data        []byte
	Filename    string
	ContentType string
}

func (u ImageUpload) ext() string {
	if ext := constants.NormalizeExt(filepath.Ext(u.Filename)); ext != "" {
		return ext
	}
	return constants.ExtForContentType(u.ContentType)
}

// SubmitImage stores the image and queues a job for it.
func (s *Service) SubmitImage(ctx context.Context, up ImageUpload) (*entity.Job, error) {
	if len(up.Data) == 0 {
		return nil, common.InvalidInputf("image is empty")
	}
	if s.maxBytes > 0 && int64(len(up.Data)) > s.maxBytes {
		return nil, common.InvalidInputf("image is %d bytes, limit is %d", len(up.Data), s.maxBytes)
	}
	ext := up.ext()
	if !constants.IsAllowedExt(ext) {
		return nil, common.InvalidInputf("unsupported image type %q", ext)
	}

	id := uuid.NewString()
	key := storage.UploadKey(id, "."+ext)
	contentType := constants.ContentTypeForExt(ext)
	if err := s.blobs.Put(ctx, key, up.Data, contentType); err != nil {
		s.logger.Error("job.upload.failed", "job_id", id, "key", key, "error", err)
		return nil, fmt.Errorf("store image: %w", err)
	}

	return s.submit(ctx, id, entity.JobPayload{
		Kind:        constants.PayloadImage,
		ObjectKey:   key,
		Filename:    filepath.Base(up.Filename),
		ContentType: contentType,
	})
}

// SubmitText queues a job for already recognized receipt text.
func (s *Service) SubmitText(ctx context.Context, text string) (*entity.Job, error) {
	if strings.TrimSpace(text) == "" {
		return nil, common.InvalidInputf("text is empty")
	}
	if s.maxBytes > 0 && int64(len(text)) > s.maxBytes {
		return nil, common.InvalidInputf("text is %d bytes, limit is %d", len(text), s.maxBytes)
	}
	return s.submit(ctx, uuid.NewString(), entity.JobPayload{Kind: constants.PayloadText, Text: text})
}

// submit records the job before queueing it. Enqueue never waits: when the
// queue refuses the task the job and its upload are withdrawn and the caller
// gets no id.
func (s *Service) submit(ctx context.Context, id string, payload entity.JobPayload) (*entity.Job, error) {
	now := s.now().UTC()
	job := &entity.Job{
		ID:        id,
		Status:    constants.JobStatusPending,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, async.Task{JobID: id, SubmittedAt: now}); err != nil {
		s.logger.Warn("job.enqueue.failed", "job_id", id, "error", err)
		s.withdraw(context.WithoutCancel(ctx), job)
		if errors.Is(err, common.ErrQueueClosed) || errors.Is(err, common.ErrQueueFull) {
			return nil, err
		}
		return nil, common.NewAppError("QUEUE_FULL", err.Error(), common.ErrQueueFull)
	}
	s.logger.Info("job.submitted", "job_id", id, "kind", payload.Kind)
	return job, nil
}

// withdraw removes a job the queue refused along with its upload.
func (s *Service) withdraw(ctx context.Context, job *entity.Job) {
	deleted, err := s.jobs.DeletePending(ctx, job.ID)
	if err != nil {
		s.logger.Error("job.withdraw.failed", "job_id", job.ID, "error", err)
		return
	}
	if !deleted || job.Payload.ObjectKey == "" {
		return
	}
	if err := s.blobs.Delete(ctx, job.Payload.ObjectKey); err != nil {
		s.logger.Warn("job.upload.cleanup_failed", "job_id", job.ID, "key", job.Payload.ObjectKey, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*entity.Job, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, common.InvalidInputf("job id must be a UUID")
	}
	return s.jobs.Get(ctx, id)
}

// List returns jobs newest first, optionally restricted to one status.
func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*entity.Job, error) {
	st := constants.JobStatus(strings.ToLower(strings.TrimSpace(status)))
	switch st {
	case "", constants.JobStatusPending, constants.JobStatusProcessing,
		constants.JobStatusCompleted, constants.JobStatusFailed:
	default:
		return nil, common.InvalidInputf("unknown job status %q", status)
	}
	return s.jobs.List(ctx, st, limit, offset)
}

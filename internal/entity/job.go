package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// JobPayload references the input of a job. Images live in the blob store and
// are addressed by ObjectKey; pre-recognized text is carried inline.
type JobPayload struct {
	Kind        constants.PayloadKind `json:"kind"`
	ObjectKey   string                `json:"object_key,omitempty"`
	Text        string                `json:"text,omitempty"`
	Filename    string                `json:"filename,omitempty"`
	ContentType string                `json:"content_type,omitempty"`
}

// JobResult is the structured output recorded on a completed job.
type JobResult struct {
	ReceiptID    string             `json:"receipt_id"`
	Category     constants.Category `json:"category"`
	Confidence   float64            `json:"confidence"`
	Distribution map[string]float64 `json:"distribution,omitempty"`
	ModelVersion string             `json:"model_version,omitempty"`
	Receipt      *Receipt           `json:"receipt,omitempty"`
}

// Job is a unit of asynchronous receipt processing.
type Job struct {
	ID             string              `json:"id"`
	Status         constants.JobStatus `json:"status"`
	Payload        JobPayload          `json:"payload"`
	Result         *JobResult          `json:"result,omitempty"`
	Error          *string             `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	StartedAt      *time.Time          `json:"started_at,omitempty"`
	CompletedAt    *time.Time          `json:"completed_at,omitempty"`
	LeaseExpiresAt *time.Time          `json:"lease_expires_at,omitempty"`
	ReclaimCount   int                 `json:"reclaim_count"`
	WorkerID       string              `json:"worker_id,omitempty"`
}

// ProcessingDuration is the wall time between claim and completion, if both are known.
func (j *Job) ProcessingDuration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}

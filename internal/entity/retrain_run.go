package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// RetrainRun tracks one pass through the retraining state machine.
type RetrainRun struct {
	ID              string                  `json:"id"`
	State           constants.RetrainState  `json:"state"`
	Reason          constants.RetrainReason `json:"reason"`
	VersionID       *string                 `json:"version_id,omitempty"`
	Error           *string                 `json:"error,omitempty"`
	CorrectionCount int                     `json:"correction_count"`
	StartedAt       time.Time               `json:"started_at"`
	FinishedAt      *time.Time              `json:"finished_at,omitempty"`
}

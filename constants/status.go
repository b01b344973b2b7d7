package constants

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether from -> to is a forward edge of the job
// lifecycle. Lease reclaim (processing -> pending) is not a forward edge and is
// handled separately by the sweeper.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	default:
		return false
	}
}

// RetrainState is the lifecycle of a single retraining run.
type RetrainState string

const (
	RetrainIdle       RetrainState = "idle"
	RetrainTriggered  RetrainState = "triggered"
	RetrainTraining   RetrainState = "training"
	RetrainEvaluating RetrainState = "evaluating"
	RetrainActivated  RetrainState = "activated"
	RetrainRejected   RetrainState = "rejected"
)

// InFlight reports whether a run in this state blocks new runs.
func (s RetrainState) InFlight() bool {
	return s == RetrainTriggered || s == RetrainTraining || s == RetrainEvaluating
}

// RetrainReason records what started a run.
type RetrainReason string

const (
	RetrainManual    RetrainReason = "manual"
	RetrainThreshold RetrainReason = "threshold"
	RetrainSchedule  RetrainReason = "schedule"
	// RetrainBootstrap trains the initial model from the base corpus only.
	RetrainBootstrap RetrainReason = "bootstrap"
)

// ModelKind distinguishes bootstrap models from retrained ones.
type ModelKind string

const (
	ModelInitial   ModelKind = "initial"
	ModelRetrained ModelKind = "retrained"
)

package entity

import (
	"time"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// LabelMetrics holds held-out scores for a single label.
type LabelMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// ModelVersion is an immutable, evaluated classifier snapshot.
type ModelVersion struct {
	VersionID           string                  `json:"version_id"`
	CreatedAt           time.Time               `json:"created_at"`
	TrainAccuracy       float64                 `json:"train_accuracy"`
	TestAccuracy        float64                 `json:"test_accuracy"`
	TrainSampleCount    int                     `json:"train_sample_count"`
	TestSampleCount     int                     `json:"test_sample_count"`
	CorrectionCountUsed int                     `json:"correction_count_used"`
	Kind                constants.ModelKind     `json:"kind"`
	LabelMetrics        map[string]LabelMetrics `json:"label_metrics,omitempty"`
	ArtifactKey         string                  `json:"artifact_key"`
	Active              bool                    `json:"active"`
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "receipts"

	jobsTotal            = "jobs_total"
	jobDurationSeconds   = "job_duration_seconds"
	jobsReclaimedTotal   = "jobs_reclaimed_total"
	jobsByStatus         = "jobs_by_status"
	predictionsTotal     = "predictions_total"
	predictionConfidence = "prediction_confidence"
	retrainRunsTotal     = "retrain_runs_total"
	activeModelInfo      = "active_model_info"
	correctionsTotal     = "corrections_total"
	recognitionConf      = "recognition_confidence"

	// Labels
	statusLabel   = "status"
	categoryLabel = "category"
	gatedLabel    = "gated"
	stateLabel    = "state"
	reasonLabel   = "reason"
	versionLabel  = "version"
)

var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsTotal,
		Help:      "number of jobs reaching a terminal status",
	},
	[]string{statusLabel},
)

var jobDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      jobDurationSeconds,
		Help:      "time from claim to terminal status",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
	},
)

var jobsReclaimedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      jobsReclaimedTotal,
		Help:      "expired leases handled by the sweeper, by outcome",
	},
	[]string{statusLabel},
)

var jobsByStatusMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      jobsByStatus,
		Help:      "number of stored jobs in each status",
	},
	[]string{statusLabel},
)

var predictionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      predictionsTotal,
		Help:      "classifier predictions by final category and gating",
	},
	[]string{categoryLabel, gatedLabel},
)

var predictionConfidenceMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      predictionConfidence,
		Help:      "arg-max probability of classifier predictions",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	},
)

var retrainRunsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      retrainRunsTotal,
		Help:      "finished retraining runs by final state and reason",
	},
	[]string{stateLabel, reasonLabel},
)

var activeModelMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: subsystem,
		Name:      activeModelInfo,
		Help:      "1 for the model version currently serving predictions",
	},
	[]string{versionLabel},
)

var correctionsTotalMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      correctionsTotal,
		Help:      "number of recorded category corrections",
	},
)

var recognitionConfidenceMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      recognitionConf,
		Help:      "blended confidence reported by the text recognizer",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	},
)

func IncreaseJobsTotalMetric(status string) {
	jobsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func ObserveJobDuration(seconds float64) {
	jobDurationMetric.Observe(seconds)
}

func IncreaseJobsReclaimedMetric(outcome string) {
	jobsReclaimedMetric.With(prometheus.Labels{statusLabel: outcome}).Inc()
}

func UpdateJobStatusGauge(status string, count int) {
	jobsByStatusMetric.With(prometheus.Labels{statusLabel: status}).Set(float64(count))
}

func ObservePrediction(category string, gated bool, confidence float64) {
	g := "false"
	if gated {
		g = "true"
	}
	predictionsTotalMetric.With(prometheus.Labels{categoryLabel: category, gatedLabel: g}).Inc()
	predictionConfidenceMetric.Observe(confidence)
}

func IncreaseRetrainRunsMetric(state, reason string) {
	retrainRunsMetric.With(prometheus.Labels{stateLabel: state, reasonLabel: reason}).Inc()
}

// SetActiveModel marks version as the serving model and clears the previous one.
func SetActiveModel(version string) {
	activeModelMetric.Reset()
	activeModelMetric.With(prometheus.Labels{versionLabel: version}).Set(1)
}

func IncreaseCorrectionsMetric() {
	correctionsTotalMetric.Inc()
}

func ObserveRecognitionConfidence(confidence float64) {
	recognitionConfidenceMetric.Observe(confidence)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(jobDurationMetric)
	prometheus.MustRegister(jobsReclaimedMetric)
	prometheus.MustRegister(jobsByStatusMetric)
	prometheus.MustRegister(predictionsTotalMetric)
	prometheus.MustRegister(predictionConfidenceMetric)
	prometheus.MustRegister(retrainRunsMetric)
	prometheus.MustRegister(activeModelMetric)
	prometheus.MustRegister(correctionsTotalMetric)
	prometheus.MustRegister(recognitionConfidenceMetric)
}

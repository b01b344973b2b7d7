// Package retrain turns accumulated corrections into new classifier versions.
//
// A Pipeline runs at most one retraining run at a time. A run moves through
// triggered, training and evaluating and ends activated or rejected. Only an
// activated run consumes the corrections it trained on and moves the active
// model pointer; a rejected run leaves both untouched.
package retrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/classifier"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
	"github.com/joseph-ayodele/receipts-classifier/internal/storage"
)

const versionPrefix = "category_clf_v"

type CorrectionStore interface {
	ListUnconsumed(ctx context.Context) ([]*entity.Correction, error)
	MarkConsumed(ctx context.Context, ids []string, runID string, now time.Time) (int64, error)
	CountUnconsumed(ctx context.Context) (int, error)
}

type ModelStore interface {
	Create(ctx context.Context, v *entity.ModelVersion) error
	Get(ctx context.Context, versionID string) (*entity.ModelVersion, error)
	GetActive(ctx context.Context) (*entity.ModelVersion, error)
	SetActive(ctx context.Context, versionID string) error
	Exists(ctx context.Context, versionID string) (bool, error)
}

type RunStore interface {
	Create(ctx context.Context, run *entity.RetrainRun) error
	Update(ctx context.Context, run *entity.RetrainRun) error
	Get(ctx context.Context, id string) (*entity.RetrainRun, error)
}

// TxRunner runs fn in one transaction carried by ctx.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	Threshold    int
	MinSamples   int
	TestFraction float64
	Seed         int64
	Train        classifier.TrainConfig
}

func ConfigFrom(r common.RetrainConfig, c common.ClassifierConfig) Config {
	return Config{
		Threshold:    r.Threshold,
		MinSamples:   r.MinSamples,
		TestFraction: r.TestFraction,
		Seed:         r.Seed,
		Train: classifier.TrainConfig{
			Iterations:   c.Iterations,
			LearningRate: c.LearningRate,
			L2:           c.L2,
		},
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 50
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
	if c.TestFraction <= 0 || c.TestFraction >= 1 {
		c.TestFraction = 0.2
	}
	return c
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithBaseCorpus replaces the embedded base corpus.
func WithBaseCorpus(samples []classifier.Sample) Option {
	return func(p *Pipeline) { p.base = samples }
}

type Pipeline struct {
	cfg         Config
	clf         *classifier.Classifier
	corrections CorrectionStore
	models      ModelStore
	runs        RunStore
	blobs       storage.BlobStore
	tx          TxRunner
	base        []classifier.Sample
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	current *entity.RetrainRun
	closed  bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

func NewPipeline(
	cfg Config,
	clf *classifier.Classifier,
	tx TxRunner,
	corrections CorrectionStore,
	models ModelStore,
	runs RunStore,
	blobs storage.BlobStore,
	logger *slog.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:         cfg.withDefaults(),
		clf:         clf,
		corrections: corrections,
		models:      models,
		runs:        runs,
		blobs:       blobs,
		tx:          tx,
		now:         time.Now,
		logger:      logger,
	}
	for _, o := range opts {
		o(p)
	}
	if p.base == nil {
		base, err := BaseCorpus()
		if err != nil {
			return nil, err
		}
		p.base = base
	}
	p.bgCtx, p.bgCancel = context.WithCancel(context.Background())
	return p, nil
}

// Trigger starts a run in the background. While a run is in flight the call
// is coalesced: it returns the in-flight run and started=false.
func (p *Pipeline) Trigger(ctx context.Context, reason constants.RetrainReason) (entity.RetrainRun, bool, error) {
	run, started, err := p.begin(ctx, reason)
	if err != nil || !started {
		return run, false, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.execute(p.bgCtx, run.ID, reason)
	}()
	return run, true, nil
}

// RunNow runs to completion on the calling goroutine. It fails with
// ErrConflict when another run is in flight.
func (p *Pipeline) RunNow(ctx context.Context, reason constants.RetrainReason) (entity.RetrainRun, error) {
	run, started, err := p.begin(ctx, reason)
	if err != nil {
		return run, err
	}
	if !started {
		return run, common.NewAppError("RETRAIN_IN_FLIGHT",
			fmt.Sprintf("run %s is already %s", run.ID, run.State), common.ErrConflict)
	}
	return p.execute(ctx, run.ID, reason)
}

func (p *Pipeline) begin(ctx context.Context, reason constants.RetrainReason) (entity.RetrainRun, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return entity.RetrainRun{}, false, common.ErrQueueClosed
	}
	if p.current != nil {
		p.logger.Info("retrain.run.coalesced", "run_id", p.current.ID, "reason", reason)
		return *p.current, false, nil
	}

	run := &entity.RetrainRun{
		ID:        uuid.NewString(),
		State:     constants.RetrainTriggered,
		Reason:    reason,
		StartedAt: p.now().UTC(),
	}
	if err := p.runs.Create(ctx, run); err != nil {
		return entity.RetrainRun{}, false, fmt.Errorf("record retrain run: %w", err)
	}
	p.current = run
	metrics.IncreaseRetrainRunsMetric(string(run.State), string(reason))
	p.logger.Info("retrain.run.started", "run_id", run.ID, "reason", reason)
	return *run, true, nil
}

// NotifyCorrections starts a threshold run whenever the unconsumed count is
// at or above the threshold. A run already in flight absorbs the call, and a
// finished run never retriggers itself: the next correction does.
func (p *Pipeline) NotifyCorrections(ctx context.Context, unconsumed int) {
	if unconsumed < p.cfg.Threshold {
		return
	}
	run, started, err := p.Trigger(ctx, constants.RetrainThreshold)
	if err != nil {
		p.logger.Error("retrain.trigger.failed", "reason", constants.RetrainThreshold, "error", err)
		return
	}
	if started {
		p.logger.Info("retrain.threshold.reached", "unconsumed", unconsumed, "run_id", run.ID)
	}
}

// TriggerScheduled starts a run when at least one correction is waiting.
func (p *Pipeline) TriggerScheduled(ctx context.Context) error {
	n, err := p.corrections.CountUnconsumed(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		p.logger.Debug("retrain.schedule.skipped", "unconsumed", 0)
		return nil
	}
	_, _, err = p.Trigger(ctx, constants.RetrainSchedule)
	return err
}

// Current returns the in-flight run, if any.
func (p *Pipeline) Current() (entity.RetrainRun, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return entity.RetrainRun{}, false
	}
	return *p.current, true
}

// Get prefers the in-memory state of the in-flight run over the stored row.
func (p *Pipeline) Get(ctx context.Context, id string) (entity.RetrainRun, error) {
	if run, ok := p.Current(); ok && run.ID == id {
		return run, nil
	}
	run, err := p.runs.Get(ctx, id)
	if err != nil {
		return entity.RetrainRun{}, err
	}
	return *run, nil
}

// Wait blocks until background runs have finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Close refuses new runs, cancels the background one and waits for it.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.bgCancel()
	p.wg.Wait()
}

func (p *Pipeline) setState(state constants.RetrainState) {
	p.mu.Lock()
	p.current.State = state
	p.mu.Unlock()
}

// execute runs the current run to its terminal state and returns it.
func (p *Pipeline) execute(ctx context.Context, runID string, reason constants.RetrainReason) (entity.RetrainRun, error) {
	started := p.now()
	versionID, used, err := p.train(ctx, runID, reason)

	p.mu.Lock()
	run := p.current
	run.State = constants.RetrainActivated
	if err != nil {
		run.State = constants.RetrainRejected
		msg := err.Error()
		run.Error = &msg
	}
	if versionID != "" {
		run.VersionID = &versionID
	}
	run.CorrectionCount = used
	finished := p.now().UTC()
	run.FinishedAt = &finished
	final := *run
	p.current = nil
	p.mu.Unlock()

	finishCtx := context.WithoutCancel(ctx)
	if uerr := p.runs.Update(finishCtx, &final); uerr != nil {
		p.logger.Error("retrain.run.update_failed", "run_id", runID, "error", uerr)
	}
	metrics.IncreaseRetrainRunsMetric(string(final.State), string(reason))

	if err != nil {
		p.logger.Warn("retrain.run.rejected", "run_id", runID, "reason", reason, "error", err)
		return final, err
	}
	p.logger.Info("retrain.run.activated",
		"run_id", runID,
		"version_id", versionID,
		"corrections", used,
		"duration", p.now().Sub(started))
	return final, nil
}

// train performs one run and returns the stored version id (if any) and the
// number of corrections the run loaded.
func (p *Pipeline) train(ctx context.Context, runID string, reason constants.RetrainReason) (string, int, error) {
	kind := constants.ModelRetrained
	var corrections []*entity.Correction
	if reason == constants.RetrainBootstrap {
		kind = constants.ModelInitial
	} else {
		var err error
		corrections, err = p.corrections.ListUnconsumed(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("load corrections: %w", err)
		}
	}
	used := len(corrections)

	p.setState(constants.RetrainTraining)
	ds := BuildDataset(p.base, corrections)
	if len(ds.Samples) < p.cfg.MinSamples {
		return "", used, common.NewAppError("INSUFFICIENT_SAMPLES",
			fmt.Sprintf("%d samples, need at least %d", len(ds.Samples), p.cfg.MinSamples),
			common.ErrRetrainingFailure)
	}
	trainSet, testSet := StratifiedSplit(ds.Samples, p.cfg.TestFraction, p.cfg.Seed)

	versionID, err := p.nextVersionID(ctx)
	if err != nil {
		return "", used, err
	}
	emb := p.clf.Embedder()
	model, err := classifier.Train(ctx, emb, versionID, trainSet, p.cfg.Train)
	if err != nil {
		return "", used, err
	}

	p.setState(constants.RetrainEvaluating)
	trainEval, err := classifier.Evaluate(ctx, emb, model, trainSet)
	if err != nil {
		return "", used, err
	}
	testEval, err := classifier.Evaluate(ctx, emb, model, testSet)
	if err != nil {
		return "", used, err
	}
	if err := p.clf.Compatible(model); err != nil {
		return "", used, common.NewAppError("INCOMPATIBLE_MODEL", err.Error(), common.ErrRetrainingFailure)
	}

	now := p.now().UTC()
	data, err := classifier.MarshalModel(model, now)
	if err != nil {
		return "", used, err
	}
	key := storage.ModelKey(versionID)
	if err := p.blobs.Put(ctx, key, data, "application/json"); err != nil {
		return "", used, fmt.Errorf("store artifact: %w", err)
	}
	version := &entity.ModelVersion{
		VersionID:           versionID,
		CreatedAt:           now,
		TrainAccuracy:       trainEval.Accuracy,
		TestAccuracy:        testEval.Accuracy,
		TrainSampleCount:    trainEval.Samples,
		TestSampleCount:     testEval.Samples,
		CorrectionCountUsed: ds.Corrections,
		Kind:                kind,
		LabelMetrics:        testEval.Labels,
		ArtifactKey:         key,
	}
	if err := p.models.Create(ctx, version); err != nil {
		return "", used, fmt.Errorf("record model version: %w", err)
	}
	p.logger.Info("retrain.run.evaluated",
		"run_id", runID,
		"version_id", versionID,
		"train_accuracy", trainEval.Accuracy,
		"test_accuracy", testEval.Accuracy,
		"train_samples", trainEval.Samples,
		"test_samples", testEval.Samples)

	ids := make([]string, len(corrections))
	for i, c := range corrections {
		ids[i] = c.ID
	}
	err = p.tx.WithTx(ctx, func(ctx context.Context) error {
		if len(ids) > 0 {
			n, err := p.corrections.MarkConsumed(ctx, ids, runID, now)
			if err != nil {
				return err
			}
			if int(n) != len(ids) {
				return common.NewAppError("CORRECTIONS_CONSUMED",
					fmt.Sprintf("%d of %d corrections were consumed by another run", len(ids)-int(n), len(ids)),
					common.ErrConflict)
			}
		}
		return p.models.SetActive(ctx, versionID)
	})
	if err != nil {
		return versionID, used, fmt.Errorf("activate %s: %w", versionID, err)
	}
	if _, err := p.clf.Activate(model); err != nil {
		// Compatible passed above, so this only fires on a programming error.
		return versionID, used, err
	}
	return versionID, used, nil
}

// nextVersionID derives the id from the clock, adding a numeric suffix when a
// version already exists for the same second.
func (p *Pipeline) nextVersionID(ctx context.Context) (string, error) {
	base := versionPrefix + p.now().UTC().Format("20060102_150405")
	id := base
	for i := 2; ; i++ {
		exists, err := p.models.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

// Bootstrap activates the stored active version. With none stored and
// trainIfMissing set it trains the initial version from the base corpus.
func (p *Pipeline) Bootstrap(ctx context.Context, trainIfMissing bool) error {
	active, err := p.models.GetActive(ctx)
	switch {
	case err == nil:
		m, err := p.load(ctx, active)
		if err != nil {
			return err
		}
		if _, err := p.clf.Activate(m); err != nil {
			return err
		}
		return nil
	case !errors.Is(err, common.ErrNotFound):
		return err
	case !trainIfMissing:
		p.logger.Warn("retrain.bootstrap.no_model", "detail", "predictions fail until a model is trained")
		return nil
	}

	run, err := p.RunNow(ctx, constants.RetrainBootstrap)
	if err != nil {
		return fmt.Errorf("train initial model: %w", err)
	}
	p.logger.Info("retrain.bootstrap.trained", "run_id", run.ID, "version_id", deref(run.VersionID))
	return nil
}

// ActivateVersion moves the active pointer to a stored version, e.g. to roll
// back a retrained model.
func (p *Pipeline) ActivateVersion(ctx context.Context, versionID string) (*entity.ModelVersion, error) {
	if run, ok := p.Current(); ok {
		return nil, common.NewAppError("RETRAIN_IN_FLIGHT",
			fmt.Sprintf("run %s is %s", run.ID, run.State), common.ErrConflict)
	}
	v, err := p.models.Get(ctx, versionID)
	if err != nil {
		return nil, err
	}
	m, err := p.load(ctx, v)
	if err != nil {
		return nil, err
	}
	if err := p.clf.Compatible(m); err != nil {
		return nil, common.NewAppError("INCOMPATIBLE_MODEL", err.Error(), common.ErrInvalidInput)
	}
	if err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		return p.models.SetActive(ctx, versionID)
	}); err != nil {
		return nil, err
	}
	if _, err := p.clf.Activate(m); err != nil {
		return nil, err
	}
	v.Active = true
	return v, nil
}

func (p *Pipeline) load(ctx context.Context, v *entity.ModelVersion) (*classifier.Model, error) {
	data, err := p.blobs.Get(ctx, v.ArtifactKey)
	if err != nil {
		return nil, fmt.Errorf("load artifact %s: %w", v.ArtifactKey, err)
	}
	m, err := classifier.UnmarshalModel(data)
	if err != nil {
		return nil, common.NewAppError("INVALID_ARTIFACT", v.VersionID, err)
	}
	if m.VersionID != v.VersionID {
		return nil, common.NewAppError("INVALID_ARTIFACT",
			fmt.Sprintf("artifact %s holds version %s", v.ArtifactKey, m.VersionID), common.ErrInternal)
	}
	return m, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

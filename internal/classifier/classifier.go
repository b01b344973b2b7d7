package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
)

type Prediction struct {
	Category     constants.Category
	Argmax       constants.Category
	Confidence   float64
	Distribution map[constants.Category]float64
	VersionID    string
	Gated        bool
}

// Classifier serves predictions from the active model. Activate swaps the
// model atomically; in-flight predictions finish on the model they loaded.
type Classifier struct {
	embedder  Embedder
	threshold float64
	active    atomic.Pointer[Model]
	logger    *slog.Logger
}

type Option func(*Classifier)

func WithThreshold(t float64) Option {
	return func(c *Classifier) {
		if t > 0 && t <= 1 {
			c.threshold = t
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(embedder Embedder, opts ...Option) *Classifier {
	c := &Classifier{
		embedder:  embedder,
		threshold: constants.ConfidenceThreshold,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Classifier) Embedder() Embedder { return c.embedder }

// Active returns the serving model or nil.
func (c *Classifier) Active() *Model { return c.active.Load() }

// Compatible reports whether m could be activated on this classifier.
func (c *Classifier) Compatible(m *Model) error {
	if m == nil {
		return fmt.Errorf("activate: nil model")
	}
	if err := m.validate(); err != nil {
		return fmt.Errorf("activate %s: %w", m.VersionID, err)
	}
	if m.Dim != c.embedder.Dim() {
		return fmt.Errorf("activate %s: model width %d does not match embedder width %d",
			m.VersionID, m.Dim, c.embedder.Dim())
	}
	return nil
}

// Activate makes m the serving model and returns the previous one.
func (c *Classifier) Activate(m *Model) (*Model, error) {
	if err := c.Compatible(m); err != nil {
		return nil, err
	}
	prev := c.active.Swap(m)
	metrics.SetActiveModel(m.VersionID)
	prevID := ""
	if prev != nil {
		prevID = prev.VersionID
	}
	c.logger.Info("classifier.model.activated", "version_id", m.VersionID, "previous", prevID)
	return prev, nil
}

// Predict classifies a receipt from its raw text and extracted entities.
func (c *Classifier) Predict(ctx context.Context, rawText string, merchant *string, items []string) (Prediction, error) {
	return c.PredictText(ctx, BuildFeatureText(rawText, merchant, items))
}

// PredictText classifies an already assembled feature text.
func (c *Classifier) PredictText(ctx context.Context, featureText string) (Prediction, error) {
	m := c.active.Load()
	if m == nil {
		return Prediction{}, common.NewAppError("MODEL_UNAVAILABLE", "no active classification model", common.ErrModelUnavailable)
	}
	x, err := c.embedder.Embed(ctx, featureText)
	if err != nil {
		return Prediction{}, fmt.Errorf("embed: %w", err)
	}
	p := Gate(m, m.Probabilities(x), c.threshold)
	metrics.ObservePrediction(string(p.Category), p.Gated, p.Confidence)
	return p, nil
}

// Gate turns a distribution into a prediction, replacing the arg-max with
// Other when its probability is below threshold. The distribution lists every
// concrete label; labels the model was not trained on get 0.
func Gate(m *Model, probs []float64, threshold float64) Prediction {
	best := argmax(probs)
	concrete := constants.Concrete()
	p := Prediction{
		Argmax:       m.Labels[best],
		Category:     m.Labels[best],
		Confidence:   probs[best],
		Distribution: make(map[constants.Category]float64, len(concrete)),
		VersionID:    m.VersionID,
	}
	for _, l := range concrete {
		p.Distribution[l] = 0
	}
	for i, l := range m.Labels {
		p.Distribution[l] = probs[i]
	}
	if p.Confidence < threshold {
		p.Category = constants.Other
		p.Gated = true
	}
	return p
}

package classifier

import (
	"context"
	"fmt"
	"math"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
)

// Model is a multinomial logistic regression over embeddings. A Model is never
// mutated after construction; retraining builds a new one.
type Model struct {
	VersionID string
	Embedder  string
	Labels    []constants.Category
	Dim       int
	Weights   [][]float64
	Bias      []float64
}

// Probabilities returns the softmax distribution over m.Labels.
func (m *Model) Probabilities(x []float64) []float64 {
	logits := make([]float64, len(m.Labels))
	for k := range m.Labels {
		z := m.Bias[k]
		w := m.Weights[k]
		for j, v := range x {
			if v != 0 {
				z += w[j] * v
			}
		}
		logits[k] = z
	}
	return softmax(logits)
}

func (m *Model) validate() error {
	if len(m.Labels) < 2 {
		return fmt.Errorf("model has %d labels, need at least 2", len(m.Labels))
	}
	if len(m.Weights) != len(m.Labels) || len(m.Bias) != len(m.Labels) {
		return fmt.Errorf("model shape mismatch: %d labels, %d weight rows, %d biases",
			len(m.Labels), len(m.Weights), len(m.Bias))
	}
	for i, row := range m.Weights {
		if len(row) != m.Dim {
			return fmt.Errorf("weight row %d has width %d, want %d", i, len(row), m.Dim)
		}
	}
	seen := map[constants.Category]bool{}
	for _, l := range m.Labels {
		if !l.IsValid() || l == constants.Other {
			return fmt.Errorf("model label %q is not a trainable category", l)
		}
		if seen[l] {
			return fmt.Errorf("duplicate model label %q", l)
		}
		seen[l] = true
	}
	return nil
}

func softmax(logits []float64) []float64 {
	maxZ := math.Inf(-1)
	for _, z := range logits {
		if z > maxZ {
			maxZ = z
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, z := range logits {
		out[i] = math.Exp(z - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sample is one labelled training text.
type Sample struct {
	Text  string
	Label constants.Category
}

type TrainConfig struct {
	Iterations   int
	LearningRate float64
	L2           float64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{Iterations: 300, LearningRate: 0.5, L2: 1e-4}
}

// Train fits a model with full-batch gradient descent starting from zero
// weights, so the same samples in the same order always give the same model.
// Labels are the trainable categories present in samples, in canonical order.
func Train(ctx context.Context, emb Embedder, versionID string, samples []Sample, cfg TrainConfig) (*Model, error) {
	if cfg.Iterations <= 0 || cfg.LearningRate <= 0 {
		cfg = DefaultTrainConfig()
	}
	labels := labelsOf(samples)
	if len(labels) < 2 {
		return nil, common.NewAppError("TRAINING_ERROR",
			fmt.Sprintf("need at least 2 distinct labels, got %d", len(labels)), common.ErrRetrainingFailure)
	}
	index := make(map[constants.Category]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}

	xs := make([][]float64, 0, len(samples))
	ys := make([]int, 0, len(samples))
	for _, s := range samples {
		k, ok := index[s.Label]
		if !ok {
			continue
		}
		x, err := emb.Embed(ctx, s.Text)
		if err != nil {
			return nil, fmt.Errorf("embed training sample: %w", err)
		}
		xs = append(xs, x)
		ys = append(ys, k)
	}

	dim := emb.Dim()
	m := &Model{
		VersionID: versionID,
		Embedder:  embedderName(emb),
		Labels:    labels,
		Dim:       dim,
		Weights:   make([][]float64, len(labels)),
		Bias:      make([]float64, len(labels)),
	}
	for k := range m.Weights {
		m.Weights[k] = make([]float64, dim)
	}

	n := float64(len(xs))
	gradW := make([][]float64, len(labels))
	for k := range gradW {
		gradW[k] = make([]float64, dim)
	}
	gradB := make([]float64, len(labels))

	for iter := 0; iter < cfg.Iterations; iter++ {
		if iter%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for k := range gradW {
			clear(gradW[k])
		}
		clear(gradB)

		for i, x := range xs {
			p := m.Probabilities(x)
			for k := range labels {
				g := p[k]
				if ys[i] == k {
					g -= 1
				}
				gradB[k] += g
				row := gradW[k]
				for j, v := range x {
					if v != 0 {
						row[j] += g * v
					}
				}
			}
		}

		for k := range labels {
			w := m.Weights[k]
			for j := range w {
				w[j] -= cfg.LearningRate * (gradW[k][j]/n + cfg.L2*w[j])
			}
			m.Bias[k] -= cfg.LearningRate * gradB[k] / n
		}
	}
	return m, nil
}

func labelsOf(samples []Sample) []constants.Category {
	present := map[constants.Category]bool{}
	for _, s := range samples {
		present[s.Label] = true
	}
	var out []constants.Category
	for _, c := range constants.Concrete() {
		if present[c] {
			out = append(out, c)
		}
	}
	return out
}

func embedderName(emb Embedder) string {
	if n, ok := emb.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", emb)
}

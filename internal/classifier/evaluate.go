package classifier

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

type Evaluation struct {
	Accuracy float64
	Samples  int
	Labels   map[string]entity.LabelMetrics
}

// Evaluate scores m on samples using the raw arg-max, before gating.
// Precision, recall and F1 are reported for every label the model knows and
// every label present in samples; an undefined ratio is reported as 0.
func Evaluate(ctx context.Context, emb Embedder, m *Model, samples []Sample) (Evaluation, error) {
	ev := Evaluation{Samples: len(samples), Labels: map[string]entity.LabelMetrics{}}
	if len(samples) == 0 {
		return ev, nil
	}

	tp := map[constants.Category]int{}
	fp := map[constants.Category]int{}
	support := map[constants.Category]int{}
	for _, l := range m.Labels {
		support[l] = 0
	}

	correct := 0
	for _, s := range samples {
		x, err := emb.Embed(ctx, s.Text)
		if err != nil {
			return Evaluation{}, fmt.Errorf("embed evaluation sample: %w", err)
		}
		probs := m.Probabilities(x)
		pred := m.Labels[argmax(probs)]
		support[s.Label]++
		if pred == s.Label {
			correct++
			tp[pred]++
		} else {
			fp[pred]++
		}
	}
	ev.Accuracy = float64(correct) / float64(len(samples))

	for label, sup := range support {
		lm := entity.LabelMetrics{Support: sup}
		if d := tp[label] + fp[label]; d > 0 {
			lm.Precision = float64(tp[label]) / float64(d)
		}
		if sup > 0 {
			lm.Recall = float64(tp[label]) / float64(sup)
		}
		if lm.Precision+lm.Recall > 0 {
			lm.F1 = 2 * lm.Precision * lm.Recall / (lm.Precision + lm.Recall)
		}
		ev.Labels[string(label)] = lm
	}
	return ev, nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

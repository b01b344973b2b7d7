package classifier

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
)

// fixedModel returns a model whose logits are exactly its biases.
func fixedModel(version string, dim int, biases map[constants.Category]float64) *Model {
	m := &Model{VersionID: version, Embedder: "test", Dim: dim}
	for _, c := range constants.Concrete() {
		b, ok := biases[c]
		if !ok {
			continue
		}
		m.Labels = append(m.Labels, c)
		m.Bias = append(m.Bias, b)
		m.Weights = append(m.Weights, make([]float64, dim))
	}
	return m
}

func trainingSamples() []Sample {
	return []Sample{
		{Text: "pho bo tai nam quan pho", Label: constants.Food},
		{Text: "pho ga bun cha quan pho", Label: constants.Food},
		{Text: "com tam suon pho cuon", Label: constants.Food},
		{Text: "tra sua tran chau pho mai", Label: constants.Food},
		{Text: "laptop dell inspiron dien may", Label: constants.Electronics},
		{Text: "tai nghe bluetooth dien may", Label: constants.Electronics},
		{Text: "sac du phong dien may xanh", Label: constants.Electronics},
		{Text: "chuot khong day dien may", Label: constants.Electronics},
	}
}

func TestHashingEmbedderIsNormalizedAndDeterministic(t *testing.T) {
	emb := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := emb.Embed(ctx, "Phở Bò tái nạm")
	require.NoError(t, err)
	b, err := emb.Embed(ctx, "phở bò TÁI nạm")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	var norm float64
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	empty, err := emb.Embed(ctx, "  ---  ")
	require.NoError(t, err)
	for _, v := range empty {
		assert.Zero(t, v)
	}
}

func TestEmbedRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingEmbedder(16).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"siêu", "thị", "abc", "352", "000"}, Tokenize("SIÊU THỊ ABC - 352,000"))
	assert.Empty(t, Tokenize(" .,- "))
}

func TestBuildFeatureText(t *testing.T) {
	merchant := "Circle K"
	got := BuildFeatureText("raw text", &merchant, []string{"milk", "bread"})
	assert.Equal(t, "raw text\nCircle K\nCircle K\nmilk bread", got)
	assert.Equal(t, "raw text", BuildFeatureText("raw text", nil, nil))
}

func TestPredictWithoutModel(t *testing.T) {
	c := New(NewHashingEmbedder(8))
	_, err := c.PredictText(context.Background(), "anything")
	assert.ErrorIs(t, err, common.ErrModelUnavailable)
}

func TestGating(t *testing.T) {
	tests := []struct {
		name    string
		biases  map[constants.Category]float64
		want    constants.Category
		argmax  constants.Category
		gated   bool
		minConf float64
		maxConf float64
	}{
		{
			name:    "confident prediction keeps its label",
			biases:  map[constants.Category]float64{constants.Food: 3, constants.Travel: 0, constants.Household: 0},
			want:    constants.Food,
			argmax:  constants.Food,
			minConf: 0.6,
			maxConf: 1,
		},
		{
			name:    "low confidence falls back to Other",
			biases:  map[constants.Category]float64{constants.Food: 0.5, constants.Travel: 0, constants.Household: 0},
			want:    constants.Other,
			argmax:  constants.Food,
			gated:   true,
			minConf: 0,
			maxConf: 0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(NewHashingEmbedder(8))
			_, err := c.Activate(fixedModel("v1", 8, tt.biases))
			require.NoError(t, err)

			p, err := c.PredictText(context.Background(), "whatever")
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Category)
			assert.Equal(t, tt.argmax, p.Argmax)
			assert.Equal(t, tt.gated, p.Gated)
			assert.GreaterOrEqual(t, p.Confidence, tt.minConf)
			assert.Less(t, p.Confidence, tt.maxConf)
			assert.Equal(t, "v1", p.VersionID)

			var sum float64
			for _, v := range p.Distribution {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
			assert.InDelta(t, p.Confidence, p.Distribution[tt.argmax], 1e-12)
		})
	}
}

func TestGateAtExactThresholdIsNotGated(t *testing.T) {
	m := fixedModel("v", 1, map[constants.Category]float64{constants.Food: 0, constants.Travel: 0})
	p := Gate(m, []float64{0.6, 0.4}, 0.6)
	assert.False(t, p.Gated)
	assert.Equal(t, constants.Food, p.Category)
}

func TestGateListsEveryConcreteLabel(t *testing.T) {
	m := fixedModel("v", 1, map[constants.Category]float64{constants.Food: 0, constants.Travel: 0})
	p := Gate(m, []float64{0.7, 0.3}, 0.6)

	require.Len(t, p.Distribution, len(constants.Concrete()))
	for _, l := range constants.Concrete() {
		assert.Contains(t, p.Distribution, l)
	}
	assert.InDelta(t, 0.7, p.Distribution[constants.Food], 1e-12)
	assert.InDelta(t, 0.3, p.Distribution[constants.Travel], 1e-12)
	assert.Zero(t, p.Distribution[constants.Electronics])
	assert.NotContains(t, p.Distribution, constants.Other)
}

func TestActivateRejectsWrongWidth(t *testing.T) {
	c := New(NewHashingEmbedder(8))
	_, err := c.Activate(fixedModel("v1", 16, map[constants.Category]float64{constants.Food: 1, constants.Travel: 0}))
	require.Error(t, err)
	assert.Nil(t, c.Active())
}

func TestAtomicSwapUnderConcurrentPredictions(t *testing.T) {
	c := New(NewHashingEmbedder(8))
	v1 := fixedModel("v1", 8, map[constants.Category]float64{constants.Food: 5, constants.Travel: 0})
	v2 := fixedModel("v2", 8, map[constants.Category]float64{constants.Food: 0, constants.Travel: 5})
	_, err := c.Activate(v1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				p, err := c.PredictText(context.Background(), "receipt")
				if err != nil {
					errs <- err
					return
				}
				// every prediction is wholly from one version
				switch p.VersionID {
				case "v1":
					if p.Category != constants.Food {
						errs <- errors.New("v1 prediction with v2 weights")
						return
					}
				case "v2":
					if p.Category != constants.Travel {
						errs <- errors.New("v2 prediction with v1 weights")
						return
					}
				default:
					errs <- errors.New("unknown version " + p.VersionID)
					return
				}
			}
		}()
	}
	prev, err := c.Activate(v2)
	require.NoError(t, err)
	assert.Equal(t, "v1", prev.VersionID)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	p, err := c.PredictText(context.Background(), "receipt")
	require.NoError(t, err)
	assert.Equal(t, "v2", p.VersionID)
}

func TestTrainIsDeterministicAndLearns(t *testing.T) {
	emb := NewHashingEmbedder(256)
	ctx := context.Background()
	samples := trainingSamples()

	m1, err := Train(ctx, emb, "a", samples, DefaultTrainConfig())
	require.NoError(t, err)
	m2, err := Train(ctx, emb, "a", samples, DefaultTrainConfig())
	require.NoError(t, err)
	assert.Equal(t, m1.Weights, m2.Weights)
	assert.Equal(t, m1.Bias, m2.Bias)
	assert.Equal(t, []constants.Category{constants.Food, constants.Electronics}, m1.Labels)

	ev, err := Evaluate(ctx, emb, m1, samples)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ev.Accuracy, 1e-9)
	assert.Equal(t, 4, ev.Labels[string(constants.Food)].Support)
	assert.InDelta(t, 1.0, ev.Labels[string(constants.Electronics)].F1, 1e-9)
}

func TestTrainNeedsTwoLabels(t *testing.T) {
	_, err := Train(context.Background(), NewHashingEmbedder(16), "a", []Sample{
		{Text: "pho", Label: constants.Food},
		{Text: "bun", Label: constants.Food},
	}, DefaultTrainConfig())
	assert.ErrorIs(t, err, common.ErrRetrainingFailure)
}

func TestEvaluateCountsMisses(t *testing.T) {
	m := fixedModel("v", 4, map[constants.Category]float64{constants.Food: 2, constants.Travel: 0})
	ev, err := Evaluate(context.Background(), NewHashingEmbedder(4), m, []Sample{
		{Text: "a", Label: constants.Food},
		{Text: "b", Label: constants.Travel},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ev.Accuracy, 1e-9)
	food := ev.Labels[string(constants.Food)]
	assert.InDelta(t, 0.5, food.Precision, 1e-9)
	assert.InDelta(t, 1.0, food.Recall, 1e-9)
	travel := ev.Labels[string(constants.Travel)]
	assert.Zero(t, travel.Precision)
	assert.Zero(t, travel.Recall)
	assert.Equal(t, 1, travel.Support)
}

func TestArtifactRoundTripAndValidation(t *testing.T) {
	m := fixedModel("category_clf_v20250101_000000", 4, map[constants.Category]float64{constants.Food: 1, constants.Travel: -1})
	m.Weights[0][2] = 0.25

	data, err := MarshalModel(m, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	got, err := UnmarshalModel(data)
	require.NoError(t, err)
	assert.Equal(t, m.Labels, got.Labels)
	assert.Equal(t, m.Weights, got.Weights)
	assert.Equal(t, m.VersionID, got.VersionID)

	bad := []string{
		`{"version_id":"x","embedder":"e","dim":2,"labels":["Food","Other"],"weights":[[0,0],[0,0]],"bias":[0,0]}`,
		`{"version_id":"x","embedder":"e","dim":2,"labels":["Food","Travel"],"weights":[[0,0]],"bias":[0,0]}`,
		`{"version_id":"x","embedder":"e","dim":2,"labels":["Food","Travel"],"weights":[[0,0],[0]],"bias":[0,0]}`,
		`{"version_id":"","embedder":"e","dim":2,"labels":["Food","Travel"],"weights":[[0,0],[0,0]],"bias":[0,0]}`,
		`not json`,
	}
	for _, b := range bad {
		_, err := UnmarshalModel([]byte(b))
		assert.Error(t, err, b)
	}
}

package retrain

import (
	"math"
	"math/rand"
	"strings"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/classifier"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

// Dataset is the merged training input of one run.
type Dataset struct {
	Samples     []classifier.Sample
	Corrections int
}

// CorrectionSample renders a correction the way receipts are classified.
func CorrectionSample(c *entity.Correction) classifier.Sample {
	var merchant *string
	if c.MerchantName != "" {
		m := c.MerchantName
		merchant = &m
	}
	return classifier.Sample{
		Text:  classifier.BuildFeatureText(c.Text, merchant, c.Items),
		Label: c.CorrectedCategory,
	}
}

// BuildDataset merges base samples with corrections. Samples are keyed by
// their normalized text: a correction replaces the label of a base sample with
// the same text, and a later correction replaces an earlier one. Corrections
// to Other carry no trainable label and are left out.
func BuildDataset(base []classifier.Sample, corrections []*entity.Correction) Dataset {
	index := make(map[string]int, len(base)+len(corrections))
	var ds Dataset

	add := func(s classifier.Sample, override bool) bool {
		key := dedupKey(s.Text)
		if key == "" {
			return false
		}
		if i, ok := index[key]; ok {
			if override {
				ds.Samples[i].Label = s.Label
			}
			return override
		}
		index[key] = len(ds.Samples)
		ds.Samples = append(ds.Samples, s)
		return true
	}

	for _, s := range base {
		if s.Label == constants.Other || !s.Label.IsValid() {
			continue
		}
		add(s, false)
	}
	for _, c := range corrections {
		if c.CorrectedCategory == constants.Other || !c.CorrectedCategory.IsValid() {
			continue
		}
		if add(CorrectionSample(c), true) {
			ds.Corrections++
		}
	}
	return ds
}

func dedupKey(text string) string {
	return strings.Join(classifier.Tokenize(text), " ")
}

// StratifiedSplit holds out testFraction of every label, shuffled with seed.
// A label with fewer than two samples goes entirely to training; any other
// label keeps at least one sample on each side.
func StratifiedSplit(samples []classifier.Sample, testFraction float64, seed int64) (train, test []classifier.Sample) {
	byLabel := map[constants.Category][]classifier.Sample{}
	for _, s := range samples {
		byLabel[s.Label] = append(byLabel[s.Label], s)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, label := range constants.Concrete() {
		group := byLabel[label]
		if len(group) < 2 {
			train = append(train, group...)
			continue
		}
		shuffled := make([]classifier.Sample, len(group))
		copy(shuffled, group)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		n := int(math.Round(float64(len(shuffled)) * testFraction))
		n = max(1, min(n, len(shuffled)-1))
		test = append(test, shuffled[:n]...)
		train = append(train, shuffled[n:]...)
	}
	return train, test
}

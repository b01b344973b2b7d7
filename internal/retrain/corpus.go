package retrain

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/classifier"
)

//go:embed base_corpus.yaml
var baseCorpusYAML []byte

type corpusFile struct {
	Samples map[string][]string `yaml:"samples"`
}

// BaseCorpus returns the embedded seed samples in canonical label order.
func BaseCorpus() ([]classifier.Sample, error) {
	return ParseCorpus(baseCorpusYAML)
}

// ParseCorpus decodes a corpus document. Labels are canonicalized; unknown
// labels and Other are rejected since neither can be trained on.
func ParseCorpus(data []byte) ([]classifier.Sample, error) {
	var f corpusFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse corpus: %w", err)
	}
	byLabel := make(map[constants.Category][]string, len(f.Samples))
	for name, texts := range f.Samples {
		cat, ok := constants.Canonicalize(name)
		if !ok || cat == constants.Other {
			return nil, fmt.Errorf("corpus label %q is not trainable", name)
		}
		byLabel[cat] = append(byLabel[cat], texts...)
	}

	var out []classifier.Sample
	for _, cat := range constants.Concrete() {
		for _, text := range byLabel[cat] {
			out = append(out, classifier.Sample{Text: text, Label: cat})
		}
	}
	return out, nil
}

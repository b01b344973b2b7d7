package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-classifier/constants"
)

// artifact is the persisted form of a Model.
type artifact struct {
	VersionID string      `json:"version_id"`
	Embedder  string      `json:"embedder"`
	Dim       int         `json:"dim"`
	Labels    []string    `json:"labels"`
	Weights   [][]float64 `json:"weights"`
	Bias      []float64   `json:"bias"`
	SavedAt   time.Time   `json:"saved_at"`
}

// artifactSchema returns the JSON-Schema of a model artifact as a generic map.
func artifactSchema() map[string]any {
	numbers := map[string]any{"type": "array", "items": map[string]any{"type": "number"}}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"version_id", "embedder", "dim", "labels", "weights", "bias"},
		"properties": map[string]any{
			"version_id": map[string]any{"type": "string", "minLength": 1},
			"embedder":   map[string]any{"type": "string", "minLength": 1},
			"dim":        map[string]any{"type": "integer", "minimum": 1},
			"labels": map[string]any{
				"type":        "array",
				"minItems":    2,
				"uniqueItems": true,
				"items": map[string]any{
					"type": "string",
					"enum": concreteLabels(),
				},
			},
			"weights":  map[string]any{"type": "array", "minItems": 2, "items": numbers},
			"bias":     numbers,
			"saved_at": map[string]any{"type": "string"},
		},
	}
}

func concreteLabels() []string {
	var out []string
	for _, c := range constants.Concrete() {
		out = append(out, string(c))
	}
	return out
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(artifactSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("model_artifact.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("model_artifact.json")
	})
	return compiledSchema, schemaErr
}

// MarshalModel serializes m for the artifact store.
func MarshalModel(m *Model, savedAt time.Time) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	a := artifact{
		VersionID: m.VersionID,
		Embedder:  m.Embedder,
		Dim:       m.Dim,
		Weights:   m.Weights,
		Bias:      m.Bias,
		SavedAt:   savedAt.UTC(),
	}
	for _, l := range m.Labels {
		a.Labels = append(a.Labels, string(l))
	}
	return json.Marshal(a)
}

// UnmarshalModel validates data against the artifact schema and the model
// shape before returning it. A model that fails here is never activated.
func UnmarshalModel(data []byte) (*Model, error) {
	schema, err := loadSchema()
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("artifact does not match schema: %w", err)
	}

	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	m := &Model{
		VersionID: a.VersionID,
		Embedder:  a.Embedder,
		Dim:       a.Dim,
		Weights:   a.Weights,
		Bias:      a.Bias,
	}
	for _, l := range a.Labels {
		m.Labels = append(m.Labels, constants.Category(l))
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

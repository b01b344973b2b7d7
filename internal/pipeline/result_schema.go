package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
)

// resultSchema describes the job result as stored on the job row.
func resultSchema() map[string]any {
	probability := map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
	return map[string]any{
		"type":     "object",
		"required": []string{"receipt_id", "category", "confidence"},
		"properties": map[string]any{
			"receipt_id":    map[string]any{"type": "string", "minLength": 1},
			"category":      map[string]any{"type": "string", "enum": constants.AsStringSlice()},
			"confidence":    probability,
			"model_version": map[string]any{"type": "string"},
			"distribution": map[string]any{
				"type":                 "object",
				"propertyNames":        map[string]any{"enum": constants.AsStringSlice()},
				"additionalProperties": probability,
			},
			"receipt": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"total_amount": map[string]any{"type": "number", "minimum": 0.0},
					"items":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	}
}

var (
	resultOnce     sync.Once
	compiledResult *jsonschema.Schema
	resultSchErr   error
)

// ValidateResult checks a job result against its JSON schema before it is
// recorded.
func ValidateResult(res entity.JobResult) error {
	resultOnce.Do(func() {
		b, err := json.Marshal(resultSchema())
		if err != nil {
			resultSchErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("job_result.json", bytes.NewReader(b)); err != nil {
			resultSchErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledResult, resultSchErr = compiler.Compile("job_result.json")
	})
	if resultSchErr != nil {
		return resultSchErr
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	if err := compiledResult.Validate(v); err != nil {
		return common.NewAppError("INVALID_RESULT", "job result does not match schema", fmt.Errorf("%w: %v", common.ErrInternal, err))
	}
	return nil
}

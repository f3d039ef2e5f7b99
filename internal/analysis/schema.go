package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"label-analyzer/internal/models"
)

// resultSchema constrains the cleaned inference response. Extra fields are
// tolerated; the required fields and the closed classification set are not
// negotiable because the display layer assumes them.
func resultSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []string{"ingredients"},
		"properties": map[string]any{
			"ingredients": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []string{"name", "classification", "explanation"},
					"properties": map[string]any{
						"name": map[string]any{"type": "string", "minLength": 1},
						"classification": map[string]any{
							"type": "string",
							"enum": []string{
								models.ClassificationHighRisk,
								models.ClassificationModerateRisk,
								models.ClassificationHealthy,
							},
						},
						"explanation": map[string]any{"type": "string", "minLength": 1},
					},
				},
			},
		},
	}
}

// validateResult checks data against resultSchema.
func validateResult(data []byte) error {
	b, err := json.Marshal(resultSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("result.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("response does not match schema: %w", err)
	}
	return nil
}

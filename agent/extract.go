package agent

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/sweetpotato0/chatforge/personality"
)

// extractionSchema builds the strict schema an action's parameter-extraction
// sub-call must satisfy: a short message plus exactly the declared
// parameters, nothing else.
func extractionSchema(fn personality.Function) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(fn.Parameters))
	required := make([]string, 0, len(fn.Parameters))
	for name, p := range fn.Parameters {
		properties[name] = &jsonschema.Schema{
			Type:        schemaType(p.Type),
			Description: p.Description,
		}
		required = append(required, name)
	}

	// Each additionalProperties site needs its own schema value; sharing one
	// pointer would make the document a DAG, which Resolve rejects.
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"message": {Type: "string"},
			"parameters": {
				Type:                 "object",
				Properties:           properties,
				Required:             required,
				AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
			},
		},
		Required:             []string{"message", "parameters"},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func schemaType(t string) string {
	switch t {
	case "string", "number", "integer", "boolean", "array", "object":
		return t
	default:
		return "string"
	}
}

// parseExtraction validates raw extraction output against the action's schema
// before anything reaches the caller's callback.
func parseExtraction(raw []byte, fn personality.Function) (string, map[string]any, error) {
	resolved, err := extractionSchema(fn).Resolve(nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to resolve extraction schema: %w", err)
	}

	var instance map[string]any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return "", nil, fmt.Errorf("extraction output is not valid JSON: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return "", nil, fmt.Errorf("extraction output rejected: %w", err)
	}

	msg, _ := instance["message"].(string)
	params, _ := instance["parameters"].(map[string]any)
	return msg, params, nil
}

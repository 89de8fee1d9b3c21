package interaction

import (
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"
	api "github.com/mohitkumar/agentflow/api/v1"
)

type SchemaValidator interface {
	Validate(schema json.RawMessage, payload map[string]any) error
}

// OpenAPISchemaValidator checks payloads against an OpenAPI 3 schema object.
type OpenAPISchemaValidator struct{}

var _ SchemaValidator = OpenAPISchemaValidator{}

func (OpenAPISchemaValidator) Validate(schema json.RawMessage, payload map[string]any) error {
	var s openapi3.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return api.ValidationError{Field: "payloadSchema", Message: err.Error()}
	}
	// round trip so numbers and nested values have the json types the
	// validator expects
	data, err := json.Marshal(payload)
	if err != nil {
		return api.ValidationError{Field: "payload", Message: err.Error()}
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return api.ValidationError{Field: "payload", Message: err.Error()}
	}
	if value == nil {
		value = map[string]any{}
	}
	if err := s.VisitJSON(value); err != nil {
		return api.ValidationError{Field: "payload", Message: err.Error()}
	}
	return nil
}

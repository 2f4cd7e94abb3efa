package functions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

var schemaReflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: false,
}

// ObjectSchema is the normalized object-schema shape passed to engines.
type ObjectSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
	Required   []string       `json:"required,omitempty"`
}

// SchemaFromStruct reflects a Go struct into a normalized JSON Schema object
// suitable for a Function's Schema field.
func SchemaFromStruct(schemaStruct any) (json.RawMessage, error) {
	target, err := schemaReflectionTarget(schemaStruct)
	if err != nil {
		return nil, err
	}

	schema := schemaReflector.Reflect(target)
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal generated function schema: %w", err)
	}

	decoded, err := DecodeObjectSchema(raw)
	if err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized function schema: %w", err)
	}
	return normalized, nil
}

// MustSchemaFromStruct is SchemaFromStruct for static registration tables.
// It panics on reflection failure, which indicates a programmer error.
func MustSchemaFromStruct(schemaStruct any) json.RawMessage {
	schema, err := SchemaFromStruct(schemaStruct)
	if err != nil {
		panic(err)
	}
	return schema
}

func schemaReflectionTarget(schemaStruct any) (any, error) {
	t := reflect.TypeOf(schemaStruct)
	if t == nil {
		return nil, ErrSchemaStructRequired
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: must be a struct or pointer to struct", ErrSchemaStructRequired)
	}
	return reflect.New(t).Interface(), nil
}

// DecodeObjectArguments validates and decodes call arguments into a map.
// Empty input decodes as an empty object.
func DecodeObjectArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	obj := map[string]any{}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("decode function arguments: %w", err)
	}
	return obj, nil
}

// DecodeObjectSchema validates and normalizes a function schema JSON object.
func DecodeObjectSchema(raw json.RawMessage) (ObjectSchema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ObjectSchema{Type: "object", Properties: map[string]any{}}, nil
	}

	var schema ObjectSchema
	if err := json.Unmarshal(trimmed, &schema); err != nil {
		return ObjectSchema{}, fmt.Errorf("%w: %v", ErrInvalidSchemaDocument, err)
	}
	if strings.TrimSpace(schema.Type) == "" {
		schema.Type = "object"
	}
	if schema.Type != "object" {
		return ObjectSchema{}, fmt.Errorf("%w: got %q", ErrSchemaMustBeObject, schema.Type)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	return schema, nil
}

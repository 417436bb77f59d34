// Package schema validates the JSON Schemas the pipeline generates for list
// extraction. A list schema must be an object with an "items" array whose
// elements are flat (no nested objects), since lists render as tables.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ParseError reports schema text that is not syntactically valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("schema is invalid: could not deserialize: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// InvalidError reports schema text that parses but is not a valid JSON Schema,
// or that violates the flat list shape.
type InvalidError struct {
	Reason string
	Err    error
}

func (e *InvalidError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema is invalid: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("schema is invalid: %s", e.Reason)
}

func (e *InvalidError) Unwrap() error { return e.Err }

// Validate checks that schemaText is syntactically valid JSON and compiles as
// a JSON Schema. It is side-effect-free and used as a gate before accepting
// model output.
func Validate(schemaText string) error {
	var v any
	if err := json.Unmarshal([]byte(schemaText), &v); err != nil {
		return &ParseError{Err: err}
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaText)); err != nil {
		return &InvalidError{Reason: "could not load schema resource", Err: err}
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return &InvalidError{Reason: "schema does not compile", Err: err}
	}
	return nil
}

// ValidateAgainst validates a JSON document against schemaText.
func ValidateAgainst(schemaText string, data []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaText)); err != nil {
		return &InvalidError{Reason: "could not load schema resource", Err: err}
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return &InvalidError{Reason: "schema does not compile", Err: err}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal document: %w", err)
	}
	if err := compiled.Validate(v); err != nil {
		return fmt.Errorf("document does not match schema: %w", err)
	}
	return nil
}

// listSchemaShape is the expected outer structure of a generated list schema.
type listSchemaShape struct {
	Type       string `json:"type"`
	Properties struct {
		Items *struct {
			Type  string          `json:"type"`
			Items json.RawMessage `json:"items"`
		} `json:"items"`
	} `json:"properties"`
}

type itemShape struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

// ValidateListSchema runs Validate and additionally enforces the flat-records
// shape: an object schema with an "items" array property whose element type
// is an object with no object- or object-array-valued fields.
func ValidateListSchema(schemaText string) error {
	if err := Validate(schemaText); err != nil {
		return err
	}

	var outer listSchemaShape
	if err := json.Unmarshal([]byte(schemaText), &outer); err != nil {
		return &ParseError{Err: err}
	}
	if outer.Type != "object" {
		return &InvalidError{Reason: fmt.Sprintf("top-level type must be %q, got %q", "object", outer.Type)}
	}
	if outer.Properties.Items == nil {
		return &InvalidError{Reason: "missing \"items\" property"}
	}
	if outer.Properties.Items.Type != "array" {
		return &InvalidError{Reason: fmt.Sprintf("\"items\" property must be an array, got %q", outer.Properties.Items.Type)}
	}

	var item itemShape
	if err := json.Unmarshal(outer.Properties.Items.Items, &item); err != nil {
		return &InvalidError{Reason: "element schema is malformed", Err: err}
	}
	if item.Type != "object" {
		return &InvalidError{Reason: fmt.Sprintf("list elements must be objects, got %q", item.Type)}
	}
	if len(item.Properties) == 0 {
		return &InvalidError{Reason: "list elements declare no properties"}
	}

	for name, raw := range item.Properties {
		var field struct {
			Type  string `json:"type"`
			Items struct {
				Type string `json:"type"`
			} `json:"items"`
		}
		if err := json.Unmarshal(raw, &field); err != nil {
			return &InvalidError{Reason: fmt.Sprintf("property %q is malformed", name), Err: err}
		}
		if field.Type == "object" {
			return &InvalidError{Reason: fmt.Sprintf("property %q is a nested object; list fields must be flat", name)}
		}
		if field.Type == "array" && field.Items.Type == "object" {
			return &InvalidError{Reason: fmt.Sprintf("property %q is an array of objects; list fields must be flat", name)}
		}
	}
	return nil
}

// FieldNames returns the element property names of a list schema in
// declaration order. The first name is used as the deduplication key.
func FieldNames(schemaText string) ([]string, error) {
	var outer listSchemaShape
	if err := json.Unmarshal([]byte(schemaText), &outer); err != nil {
		return nil, &ParseError{Err: err}
	}
	if outer.Properties.Items == nil {
		return nil, nil
	}

	var item struct {
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(outer.Properties.Items.Items, &item); err != nil {
		return nil, &InvalidError{Reason: "element schema is malformed", Err: err}
	}
	if len(item.Properties) == 0 {
		return nil, nil
	}
	return objectKeys(item.Properties)
}

// objectKeys reads the top-level keys of a JSON object in source order.
// encoding/json maps do not preserve order, so this walks tokens directly.
func objectKeys(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	d, ok := tok.(json.Delim)
	if !ok || (d != '{' && d != '[') {
		return nil
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

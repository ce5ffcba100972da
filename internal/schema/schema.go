// ABOUTME: Input validation for action payloads
// ABOUTME: JSON Schema validator producing field-level errors, plus a func adapter

package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator checks a JSON payload. A nil or empty result means valid.
type Validator interface {
	Validate(payload json.RawMessage) []FieldError
}

// Func adapts a plain function to Validator.
type Func func(payload json.RawMessage) []FieldError

func (f Func) Validate(payload json.RawMessage) []FieldError {
	return f(payload)
}

// JSONSchema validates payloads against a compiled JSON Schema document.
type JSONSchema struct {
	source   string
	compiled *jsonschema.Schema
}

// Compile parses src as a JSON Schema (draft 2020-12 unless $schema says otherwise).
func Compile(src string) (*JSONSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource("input.json", strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	compiled, err := c.Compile("input.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &JSONSchema{source: src, compiled: compiled}, nil
}

// MustCompile is Compile that panics on error. For schemas known at build time.
func MustCompile(src string) *JSONSchema {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Source returns the schema document, suitable for publishing in listings.
func (s *JSONSchema) Source() json.RawMessage {
	return json.RawMessage(s.source)
}

// Validate decodes payload (empty means {}) and checks it against the schema.
func (s *JSONSchema) Validate(payload json.RawMessage) []FieldError {
	if len(bytes.TrimSpace(payload)) == 0 {
		payload = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []FieldError{{Field: "", Message: "payload is not valid JSON: " + err.Error()}}
	}

	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "", Message: err.Error()}}
	}

	var out []FieldError
	collectLeaves(ve, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]FieldError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, FieldError{Field: fieldName(ve.InstanceLocation), Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, out)
	}
}

// fieldName turns a JSON pointer like "/user/name" into "user.name".
func fieldName(pointer string) string {
	p := strings.TrimPrefix(pointer, "/")
	p = strings.ReplaceAll(p, "/", ".")
	p = strings.ReplaceAll(p, "~1", "/")
	return strings.ReplaceAll(p, "~0", "~")
}

// Package validator checks event envelopes against an optional JSON schema.
package validator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

// Result is the outcome of validating one envelope.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validator applies a compiled schema. A nil *Validator accepts everything.
type Validator struct {
	schema *gojsonschema.Schema
}

// New loads and compiles the schema at path. An empty path yields nil.
func New(path string) (*Validator, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return NewFromBytes(data)
}

// NewFromBytes compiles an in-memory schema document.
func NewFromBytes(schema []byte) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a decoded envelope.
func (v *Validator) Validate(envelope map[string]interface{}) Result {
	if v == nil || v.schema == nil {
		return Result{Valid: true}
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("failed to encode envelope: %v", err)}}
	}
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Result{Errors: []string{fmt.Sprintf("schema validation error: %v", err)}}
	}
	result := Result{Valid: res.Valid()}
	for _, e := range res.Errors() {
		result.Errors = append(result.Errors, e.String())
	}
	return result
}

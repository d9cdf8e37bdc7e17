package validator

import (
	"os"
	"path/filepath"
	"testing"
)

const eventSchema = `{
  "type": "object",
  "required": ["id", "type"],
  "properties": {
    "id": {"type": "string"},
    "type": {"enum": ["DEVICE", "THREAT", "AUDIT"]}
  }
}`

func TestValidateAcceptsConformingEnvelope(t *testing.T) {
	t.Parallel()

	v, err := NewFromBytes([]byte(eventSchema))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	res := v.Validate(map[string]interface{}{"id": "42", "type": "THREAT"})
	if !res.Valid || len(res.Errors) != 0 {
		t.Fatalf("expected valid result, got %+v", res)
	}
}

func TestValidateReportsErrors(t *testing.T) {
	t.Parallel()

	v, err := NewFromBytes([]byte(eventSchema))
	if err != nil {
		t.Fatalf("NewFromBytes: %v", err)
	}
	res := v.Validate(map[string]interface{}{"type": "PHONE"})
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 errors got %v", res.Errors)
	}
}

func TestNilValidatorAcceptsEverything(t *testing.T) {
	t.Parallel()

	v, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if res := v.Validate(map[string]interface{}{"anything": 1}); !res.Valid {
		t.Fatalf("expected nil validator to accept, got %+v", res)
	}
}

func TestNewReadsSchemaFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schema.json")
	if err := os.WriteFile(path, []byte(eventSchema), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	v, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if res := v.Validate(map[string]interface{}{"id": "1", "type": "AUDIT"}); !res.Valid {
		t.Fatalf("unexpected result %+v", res)
	}
	if _, err := New(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected missing schema error")
	}
}

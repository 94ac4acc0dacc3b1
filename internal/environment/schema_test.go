package environment

import "testing"

func TestParseContextSchemaRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseContextSchema([]byte("not json")); err == nil {
		t.Fatalf("expected parse error for invalid schema JSON")
	}
}

func TestContextSchemaValidateNilSchemaIsNoop(t *testing.T) {
	var cs *ContextSchema
	if err := cs.Validate(map[string]interface{}{"anything": 1}); err != nil {
		t.Fatalf("nil schema should not validate: %v", err)
	}
}

func TestContextSchemaValidateTypeMismatch(t *testing.T) {
	schema, err := ParseContextSchema([]byte(`{"type":"object","properties":{"age":{"type":"integer"}}}`))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	if err := schema.Validate(map[string]interface{}{"age": "not-a-number"}); err == nil {
		t.Fatalf("expected validation error for wrong type")
	}
}

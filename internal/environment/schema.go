package environment

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
)

// ContextSchema is an optional JSON Schema the render context must
// satisfy before a render starts (spec.md's domain-stack extension): the
// schema-validated counterpart to the undeclared-variable checks the
// sequence analyzer's `extern` pass already performs on names. A
// violation is surfaced synchronously, before any frame is scheduled, so
// it never shows up as a mid-render poison.
type ContextSchema struct {
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// ParseContextSchema compiles a JSON Schema document (as raw JSON bytes)
// for later use validating render contexts.
func ParseContextSchema(raw []byte) (*ContextSchema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("context schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("context schema: %w", err)
	}
	return &ContextSchema{schema: &s, resolved: resolved}, nil
}

// Validate checks ctx against the schema, returning a *errors.CompileError
// (Phase: "context") on violation so it sorts alongside the other
// compile-time diagnostics rather than looking like a runtime poison.
func (cs *ContextSchema) Validate(ctx map[string]interface{}) error {
	if cs == nil {
		return nil
	}
	if err := cs.resolved.Validate(ctx); err != nil {
		return &cerrors.CompileError{
			Message: err.Error(),
			Phase:   "context",
			Kind:    cerrors.KindTemplate,
		}
	}
	return nil
}

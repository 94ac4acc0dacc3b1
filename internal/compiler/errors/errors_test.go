package errors

import (
	"strings"
	"testing"
)

func TestPositionString(t *testing.T) {
	tests := []struct {
		name     string
		pos      Position
		expected string
	}{
		{"with file", Position{File: "test.njk", Line: 10, Column: 5}, "test.njk:10:5"},
		{"without file", Position{Line: 10, Column: 5}, "(unknown path):10:5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := tt.pos.String(); result != tt.expected {
				t.Errorf("Position.String() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestCompileErrorError(t *testing.T) {
	err := &CompileError{
		Pos:     Position{File: "test.njk", Line: 10, Column: 5},
		Message: "unexpected token",
		Phase:   "lexer",
		Kind:    KindSyntax,
	}

	result := err.Error()
	expected := "[lexer/SyntaxError] test.njk:10:5: unexpected token"

	if result != expected {
		t.Errorf("CompileError.Error() = %q, want %q", result, expected)
	}
}

func TestErrorListAdd(t *testing.T) {
	el := NewErrorList()

	pos := Position{Line: 5, Column: 10}
	el.Add(pos, "parser", KindSyntax, "expected semicolon")

	if len(el.Errors) != 1 {
		t.Fatalf("After Add(), len(Errors) = %d, want 1", len(el.Errors))
	}

	err := el.Errors[0]
	if err.Pos != pos {
		t.Errorf("Error position = %v, want %v", err.Pos, pos)
	}
	if err.Phase != "parser" {
		t.Errorf("Error phase = %q, want %q", err.Phase, "parser")
	}
	if err.Message != "expected semicolon" {
		t.Errorf("Error message = %q, want %q", err.Message, "expected semicolon")
	}
}

func TestErrorListHasErrors(t *testing.T) {
	el := NewErrorList()

	if el.HasErrors() {
		t.Error("Empty ErrorList should not have errors")
	}

	el.Add(Position{Line: 1}, "test", KindSyntax, "error 1")

	if !el.HasErrors() {
		t.Error("ErrorList with 1 error should return true for HasErrors()")
	}
}

func TestErrorListString(t *testing.T) {
	el := NewErrorList()
	el.Add(Position{Line: 1, Column: 5}, "lexer", KindSyntax, "unexpected character")
	el.Add(Position{Line: 3, Column: 10}, "sequence", KindSequence, "double ! in one path")

	result := el.String()

	if !strings.Contains(result, "unexpected character") {
		t.Errorf("String() missing first error, got: %s", result)
	}
	if !strings.Contains(result, "[sequence/SequenceError]") {
		t.Errorf("String() missing second error, got: %s", result)
	}
}

func TestErrorListFirst(t *testing.T) {
	el := NewErrorList()
	if el.First() != nil {
		t.Fatal("First() on empty list should be nil")
	}
	el.Add(Position{Line: 1}, "lexer", KindSyntax, "boom")
	if el.First() == nil {
		t.Fatal("First() should return the first error")
	}
}

func TestRuntimeErrorUnwrapAndKinds(t *testing.T) {
	cause := NewRuntimeError(Position{Line: 2}, "inner.njk", "lookup failed", nil)
	wrapped := NewRuntimeError(Position{Line: 3}, "outer.njk", "call failed", cause)
	if wrapped.Unwrap() != error(cause) {
		t.Errorf("Unwrap() = %v, want the wrapped cause", wrapped.Unwrap())
	}

	re := NewRuntimeError(Position{Line: 4}, "layout.njk", "division by zero", nil)
	if re.Kind != KindRuntime {
		t.Errorf("Kind = %v, want %v", re.Kind, KindRuntime)
	}
	if !strings.Contains(re.Error(), "layout.njk") {
		t.Errorf("Error() = %q, want template name present", re.Error())
	}

	cancel := NewCancelled(Position{Line: 1}, "")
	if cancel.Kind != KindCancel {
		t.Errorf("Kind = %v, want %v", cancel.Kind, KindCancel)
	}
	if !strings.Contains(cancel.Error(), "(unknown path)") {
		t.Errorf("Error() = %q, want fallback template name", cancel.Error())
	}
}

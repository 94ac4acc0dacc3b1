// Package errors defines the taxonomy of compile-time and render-time
// failures produced by the engine (spec.md §7).
package errors

import "fmt"

// Kind classifies a failure independent of the Go error type that carries
// it. Kinds are not Go types: every CompileError and RuntimeError carries
// one so callers can switch on it without a type assertion per phase.
type Kind string

const (
	KindSyntax   Kind = "SyntaxError"
	KindSequence Kind = "SequenceError"
	KindTemplate Kind = "TemplateError"
	KindRuntime  Kind = "RuntimeError"
	KindCancel   Kind = "Cancelled"
	KindPoison   Kind = "PoisonError"
)

// Position represents a location in source code.
type Position struct {
	File   string
	Line   int
	Column int
}

func (p Position) String() string {
	file := p.File
	if file == "" {
		file = "(unknown path)"
	}
	return fmt.Sprintf("%s:%d:%d", file, p.Line, p.Column)
}

// CompileError represents a compile-time failure with source position.
// Phase names the stage that raised it: "lexer", "script", "parser",
// "sequence", "compiler", "config".
type CompileError struct {
	Pos     Position
	Message string
	Phase   string
	Kind    Kind
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %s", e.Phase, e.Kind, e.Pos, e.Message)
}

func NewSyntaxError(pos Position, phase, message string) *CompileError {
	return &CompileError{Pos: pos, Message: message, Phase: phase, Kind: KindSyntax}
}

func NewSequenceError(pos Position, message string) *CompileError {
	return &CompileError{Pos: pos, Message: message, Phase: "sequence", Kind: KindSequence}
}

// ErrorList collects multiple compile-time errors from a single pass.
type ErrorList struct {
	Errors []*CompileError
}

func NewErrorList() *ErrorList {
	return &ErrorList{}
}

func (el *ErrorList) Add(pos Position, phase string, kind Kind, message string) {
	el.Errors = append(el.Errors, &CompileError{Pos: pos, Message: message, Phase: phase, Kind: kind})
}

func (el *ErrorList) AddErr(err *CompileError) {
	el.Errors = append(el.Errors, err)
}

func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

func (el *ErrorList) String() string {
	s := ""
	for _, e := range el.Errors {
		s += e.Error() + "\n"
	}
	return s
}

// First returns the first accumulated error as an `error`, or nil.
func (el *ErrorList) First() error {
	if len(el.Errors) == 0 {
		return nil
	}
	return el.Errors[0]
}

// RuntimeError is a render-time failure (extension/filter/handler/loader)
// that becomes the payload of a Poison value (see internal/runtime).
type RuntimeError struct {
	Pos          Position
	TemplateName string
	Message      string
	Kind         Kind
	Cause        error
}

func NewRuntimeError(pos Position, templateName, message string, cause error) *RuntimeError {
	return &RuntimeError{Pos: pos, TemplateName: templateName, Message: message, Kind: KindRuntime, Cause: cause}
}

func NewCancelled(pos Position, templateName string) *RuntimeError {
	return &RuntimeError{Pos: pos, TemplateName: templateName, Message: "render cancelled", Kind: KindCancel}
}

func (e *RuntimeError) Error() string {
	name := e.TemplateName
	if name == "" {
		name = "(unknown path)"
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] (%s) line %d: %s: %v", e.Kind, name, e.Pos.Line, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] (%s) line %d: %s", e.Kind, name, e.Pos.Line, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

package handler

import (
	"fmt"
	"strings"
)

// TextHandler is the built-in `text` handler (spec §4.6.1): `append`
// commands add to a single string assembled in lexical order. It is
// separate from the engine's ordinary `{{ expr }}`/template-text output
// channel (internal/runtime's TextBuffer), which already gives correct
// async positional ordering; TextHandler exists for the explicit
// `@text.append(...)` command surface and for focus="text"/default
// Result projection, and its writes are revertible the way the data
// handler's are, unlike plain template output.
type TextHandler struct {
	buf     []string
	journal []func()
}

func NewTextHandler() *TextHandler {
	return &TextHandler{}
}

// String returns everything appended so far, concatenated in order.
func (t *TextHandler) String() string {
	return strings.Join(t.buf, "")
}

func (t *TextHandler) record(undo func()) {
	t.journal = append(t.journal, undo)
}

// Revert undoes every append this handler has journaled, most recent
// first, and clears the journal — idempotent after the first call
// (spec §4.6.5).
func (t *TextHandler) Revert() {
	for i := len(t.journal) - 1; i >= 0; i-- {
		t.journal[i]()
	}
	t.journal = nil
}

// Apply runs method against the text stream. The text handler ignores
// path (it addresses the whole stream, not a sub-tree) and supports a
// single command.
func (t *TextHandler) Apply(method string, path []PathElem, args []interface{}) (interface{}, error) {
	if len(path) != 0 {
		return nil, fmt.Errorf("text handler does not accept a path")
	}
	if method != "append" {
		return nil, fmt.Errorf("unknown text command %q", method)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("append expects 1 argument")
	}
	s := coerceText(args[0])
	idx := len(t.buf)
	t.buf = append(t.buf, s)
	t.record(func() { t.buf[idx] = "" })
	return s, nil
}

// coerceText implements the text stream's value-coercion rules (spec
// §4.6.1): arrays join with ",", bare dicts contribute nothing in script
// mode, custom string-conversion objects stringify via their own
// fmt.Stringer, everything else uses its natural string form.
func coerceText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []interface{}:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = coerceText(item)
		}
		return strings.Join(parts, ",")
	case map[string]interface{}:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return toStr(v)
	}
}

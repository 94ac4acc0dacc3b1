package runtime

import "fmt"

// Callable is how a context value exposes an invokable function or method
// to a FunCall/OutputCommand node. It always runs off the single-threaded
// Run loop (via Scheduler.Go), even when the work is actually synchronous,
// since the evaluator has no static registry to prove a given call cheap
// enough to run inline (spec.md §4.2's "FunCall on an unknown symbol" is
// conservatively always a suspension point).
type Callable func(args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// SafeString marks a value that must bypass Output's autoescape pass —
// what the `safe` filter produces, and what any value already known to
// be safe markup (e.g. another template's rendered output) should
// implement.
type SafeString interface {
	Safe() string
}

// Safe wraps a string as already-safe, the `safe` filter's return value.
type Safe string

func (s Safe) Safe() string   { return string(s) }
func (s Safe) String() string { return string(s) }

// ToString renders a value the way text output wants it: nil becomes "",
// everything else uses its natural Go formatting. It does no number/date
// formatting and no escaping (escaping is Eval.Escape's job); this is the
// evaluator's own minimal fallback.
func ToString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Truthy implements the template language's notion of truthiness: nil,
// false, zero numbers, empty strings/arrays/dicts are false.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []interface{}:
		return len(t) != 0
	case map[string]interface{}:
		return len(t) != 0
	default:
		return true
	}
}

package builtin

import "html"

// HTMLEscape is the engine's default autoescape policy (spec.md §1,
// stated as a black box): escape `{{ }}` output the way html.EscapeString
// does, unless the value already implements runtime.SafeString or has
// passed through the `safe` filter (which wraps it in runtime.Safe,
// itself a SafeString). Plugged onto runtime.Eval.Escape by
// internal/environment when Config.Autoescape is true.
func HTMLEscape(s string) string {
	return html.EscapeString(s)
}

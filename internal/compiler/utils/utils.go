// Package utils holds small string helpers shared across the compiler
// pipeline. Kept as one canonical place the way the teacher's package did,
// repurposed from Go-identifier casing to path/lock-key normalization.
package utils

import "strings"

// NormalizeObjectPath joins the static segments of an object-path sequence
// marker ("R.S1.S2!") into its canonical lock key form "R.S1.S2". It is the
// single place that decides what counts as "the same path" for §4.3's
// key-containment rule, the way the teacher's ToPascalCase was the single
// place that decided Go field-name casing.
func NormalizeObjectPath(segments []string) string {
	return strings.Join(segments, ".")
}

// NormalizeMethodKey builds the method-specific lock key "R.S1::METHOD"
// from the object path segments and the terminating method name.
func NormalizeMethodKey(segments []string, method string) string {
	return strings.Join(segments, ".") + "::" + method
}

// IsLastElementMarker reports whether a data-assembler path segment is the
// literal "[]" last-element token (spec.md §4.6.2).
func IsLastElementMarker(segment string) bool {
	return segment == "[]"
}

// SplitPathString splits a dotted path string ("result.config.loaded") into
// its segments; used by tests and diagnostics that print a path back out.
func SplitPathString(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Capitalize upper-cases the first rune of s, leaving the rest untouched.
func Capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

// Quote renders s as a double-quoted string literal, escaping only double
// quotes and backslashes.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

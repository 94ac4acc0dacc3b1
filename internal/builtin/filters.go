// Package builtin supplies the engine's built-in filter catalogue and
// output-escaping policy (spec.md §1, stated as black boxes with a
// contract but no implementation). internal/runtime never imports this
// package — an internal/environment caller wires Filters/Extensions/
// Escape onto a runtime.Eval the same way it wires Loader and registered
// handlers.
package builtin

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"

	"github.com/btouchard/cascada/internal/runtime"
)

var (
	titleCaser = cases.Title(language.Und)
	upperCaser = cases.Upper(language.Und)
	lowerCaser = cases.Lower(language.Und)
)

// Filters returns the built-in filter registry, ready to assign onto
// runtime.Eval.Filters (or merge into a caller's own additions).
//
// `title`/`upper`/`lower` go through golang.org/x/text/cases rather than
// strings.ToUpper/ToLower/Title: locale-aware casing handles scripts
// ASCII case-folding gets wrong (Turkish dotless i, German ß, and
// multi-rune title-casing at word boundaries). `fullwidth`/`halfwidth`
// go through golang.org/x/text/width, converting between the halfwidth
// and fullwidth Unicode forms CJK text commonly needs normalized.
func Filters() map[string]runtime.FilterFunc {
	return map[string]runtime.FilterFunc{
		"upper": stringFilter(upperCaser.String),
		"lower": stringFilter(lowerCaser.String),
		"title": stringFilter(titleCaser.String),

		"fullwidth": stringFilter(width.Widen.String),
		"halfwidth": stringFilter(width.Narrow.String),

		"default": func(val interface{}, args []interface{}, _ map[string]interface{}) (interface{}, error) {
			if val != nil && val != "" {
				return val, nil
			}
			if len(args) == 0 {
				return "", nil
			}
			return args[0], nil
		},

		"length": func(val interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			switch t := val.(type) {
			case string:
				return int64(len([]rune(t))), nil
			case []interface{}:
				return int64(len(t)), nil
			case map[string]interface{}:
				return int64(len(t)), nil
			case nil:
				return int64(0), nil
			default:
				return nil, fmt.Errorf("length: unsupported value %T", val)
			}
		},

		"join": func(val interface{}, args []interface{}, _ map[string]interface{}) (interface{}, error) {
			items, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("join: value is not a list")
			}
			sep := ""
			if len(args) > 0 {
				sep = runtime.ToString(args[0])
			}
			parts := make([]string, len(items))
			for i, it := range items {
				parts[i] = runtime.ToString(it)
			}
			return strings.Join(parts, sep), nil
		},

		"trim": stringFilter(strings.TrimSpace),

		"sort": func(val interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			items, ok := val.([]interface{})
			if !ok {
				return nil, fmt.Errorf("sort: value is not a list")
			}
			out := append([]interface{}(nil), items...)
			sort.Slice(out, func(i, j int) bool {
				return runtime.ToString(out[i]) < runtime.ToString(out[j])
			})
			return out, nil
		},

		"safe": func(val interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
			return runtime.Safe(runtime.ToString(val)), nil
		},
	}
}

// stringFilter adapts a string->string transform (the shape every
// x/text-backed filter above has) into a FilterFunc, coercing the input
// through runtime.ToString first.
func stringFilter(f func(string) string) runtime.FilterFunc {
	return func(val interface{}, _ []interface{}, _ map[string]interface{}) (interface{}, error) {
		return f(runtime.ToString(val)), nil
	}
}

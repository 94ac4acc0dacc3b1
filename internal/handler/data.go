// Package handler implements the output handler subsystem (spec §4.6):
// the text stream, the structured-data path-mutator assembler, and the
// registration/revert protocol user-defined handlers participate in.
// The data and text handlers are pure, in-memory, synchronous mutators over plain Go
// values (map[string]interface{}, []interface{}, string, float64,
// int64, bool) — the scheduling/ordering discipline that serializes
// command application in lexical order lives in internal/runtime, which
// drives these types through their Apply/Revert methods one at a time.
package handler

import (
	"fmt"
	"sort"
	"strings"
)

// PathElem is one resolved path segment a command applies against: a
// static property name, a dynamic index (string or int64, evaluated from
// the source `[expr]`), or the `[]` last-element marker.
type PathElem struct {
	Key    interface{} // string or int64
	IsLast bool
}

// DataHandler is the built-in `data` handler (spec §4.6.2): a single
// mutable tree addressed by path-qualified commands.
type DataHandler struct {
	root    interface{}
	journal []func()
}

func NewDataHandler() *DataHandler {
	return &DataHandler{}
}

// NewDataHandlerFrom wraps an existing value as a data handler's root,
// used by SetPath assignment (`a.b.c = expr`) to run the same
// path-mutation machinery against a template-scope variable's value
// rather than a registered `data` handler's own tree.
func NewDataHandlerFrom(root interface{}) *DataHandler {
	return &DataHandler{root: root}
}

// Root returns the assembled tree as it stands right now.
func (d *DataHandler) Root() interface{} { return d.root }

// Revert undoes every write this handler has journaled in the current
// scope, most recent first, and clears the journal — idempotent after
// the first call since an empty journal undoes nothing (spec §4.6.5).
func (d *DataHandler) Revert() {
	for i := len(d.journal) - 1; i >= 0; i-- {
		d.journal[i]()
	}
	d.journal = nil
}

func (d *DataHandler) record(undo func()) {
	d.journal = append(d.journal, undo)
}

// Apply runs one path-addressed command and returns the value it
// produced (commands like `at`/`arraySlice` return a projection rather
// than mutating), journaling an undo closure for Revert.
func (d *DataHandler) Apply(method string, path []PathElem, args []interface{}) (interface{}, error) {
	if len(path) == 0 {
		return d.applyRoot(method, args)
	}
	target, err := d.navigate(path)
	if err != nil {
		return nil, err
	}
	return applyContainerCommand(target, method, args, d.record)
}

// applyRoot handles a command whose path is empty, i.e. it targets the
// data root directly.
func (d *DataHandler) applyRoot(method string, args []interface{}) (interface{}, error) {
	old := d.root
	switch method {
	case "set":
		if len(args) != 1 {
			return nil, fmt.Errorf("set expects 1 argument")
		}
		d.root = args[0]
		d.record(func() { d.root = old })
		return d.root, nil
	case "merge", "deepMerge":
		oldDict, ok := asDict(d.root)
		if d.root != nil && !ok {
			return nil, fmt.Errorf("%s: root is not a dict", method)
		}
		if oldDict == nil {
			oldDict = map[string]interface{}{}
		}
		incoming, ok := asDict(firstArg(args))
		if !ok {
			return nil, fmt.Errorf("%s expects a dict argument", method)
		}
		merged := cloneDict(oldDict)
		if method == "merge" {
			for k, v := range incoming {
				merged[k] = v
			}
		} else {
			deepMergeInto(merged, incoming)
		}
		d.root = merged
		d.record(func() { d.root = old })
		return d.root, nil
	case "push":
		arr, ok := asArray(d.root)
		if d.root != nil && !ok {
			return nil, fmt.Errorf("push: root is not an array")
		}
		d.root = append(append([]interface{}{}, arr...), args...)
		d.record(func() { d.root = old })
		return d.root, nil
	case "delete":
		d.root = nil
		d.record(func() { d.root = old })
		return nil, nil
	default:
		return applyContainerCommand(rootTarget{d}, method, args, d.record)
	}
}

// navTarget is anything that can read/write the value addressed by one
// resolved path segment; commands read the current value, compute a
// replacement, and write it back through the same handle. Mutating
// in place (map keys, array elements) needs no further propagation since
// Go maps/slices are reference types; only a nil container that must
// become a freshly allocated one requires Write to reach back up to
// whatever owns this slot (the data root, or an ancestor container).
type navTarget interface {
	Read() interface{}
	Write(interface{}) error
	// Delete removes this slot from its container entirely (map key
	// removal, array splice), distinct from Write(nil) which would leave
	// a tombstone behind.
	Delete() error
}

// rootTarget addresses the data handler's root value directly (used for
// an empty path and by applyRoot's shared command table fallback).
type rootTarget struct{ d *DataHandler }

func (r rootTarget) Read() interface{}         { return r.d.root }
func (r rootTarget) Write(v interface{}) error { r.d.root = v; return nil }
func (r rootTarget) Delete() error             { r.d.root = nil; return nil }

// childTarget addresses one key within a parent navTarget, autovivifying
// the parent container on first write if it didn't exist yet.
type childTarget struct {
	parent navTarget
	key    interface{}
}

func (c childTarget) Read() interface{} { return getChild(c.parent.Read(), c.key) }
func (c childTarget) Write(v interface{}) error {
	nv, err := writeChild(c.parent.Read(), c.key, v)
	if err != nil {
		return err
	}
	return c.parent.Write(nv)
}

func (c childTarget) Delete() error {
	nv, err := deleteChild(c.parent.Read(), c.key)
	if err != nil {
		return err
	}
	return c.parent.Write(nv)
}

// navigate walks path against the root, autovivifying missing
// intermediate containers, and returns the navTarget the final segment
// addresses.
func (d *DataHandler) navigate(path []PathElem) (navTarget, error) {
	nextNeedsArray := func(i int) bool {
		if i+1 >= len(path) {
			return false
		}
		if path[i+1].IsLast {
			return true
		}
		_, isInt := path[i+1].Key.(int64)
		return isInt
	}

	var cur navTarget = rootTarget{d}
	for i := 0; i < len(path)-1; i++ {
		key := resolveKey(path[i], cur.Read())
		if getChild(cur.Read(), key) == nil {
			var blank interface{}
			if nextNeedsArray(i) {
				blank = []interface{}{}
			} else {
				blank = map[string]interface{}{}
			}
			if err := (childTarget{cur, key}).Write(blank); err != nil {
				return nil, err
			}
		}
		cur = childTarget{cur, key}
	}

	key := resolveKey(path[len(path)-1], cur.Read())
	return childTarget{cur, key}, nil
}

func resolveKey(seg PathElem, container interface{}) interface{} {
	if seg.IsLast {
		arr, _ := asArray(container)
		if len(arr) == 0 {
			return -1
		}
		return int64(len(arr) - 1)
	}
	return seg.Key
}

func getChild(container interface{}, key interface{}) interface{} {
	switch c := container.(type) {
	case map[string]interface{}:
		return c[fmt.Sprintf("%v", key)]
	case []interface{}:
		i, ok := toIndex(key, len(c))
		if !ok {
			return nil
		}
		return c[i]
	default:
		return nil
	}
}

// writeChild stores val at key within container, returning the container
// to re-link into its own parent (itself, unmodified in identity, unless
// container was nil and a brand new one had to be allocated).
func writeChild(container interface{}, key interface{}, val interface{}) (interface{}, error) {
	switch c := container.(type) {
	case nil:
		nc := map[string]interface{}{}
		nc[fmt.Sprintf("%v", key)] = val
		return nc, nil
	case map[string]interface{}:
		c[fmt.Sprintf("%v", key)] = val
		return c, nil
	case []interface{}:
		i, ok := toIndex(key, len(c))
		if !ok {
			return nil, fmt.Errorf("array index out of range")
		}
		c[i] = val
		return c, nil
	default:
		return nil, fmt.Errorf("cannot address a path segment into %T", container)
	}
}

// toIndex resolves key to a valid element index within an array of the
// given length. Growing an array happens only through push/unshift, never
// through writing an out-of-range index, so length itself is never valid.
func toIndex(key interface{}, length int) (int, bool) {
	switch k := key.(type) {
	case int64:
		i := int(k)
		if i < 0 || i >= length {
			return 0, false
		}
		return i, true
	case int:
		return toIndex(int64(k), length)
	default:
		return 0, false
	}
}

// applyContainerCommand runs method against the value target currently
// addresses, writing any replacement back through target itself.
func applyContainerCommand(target navTarget, method string, args []interface{}, record func(func())) (interface{}, error) {
	cur := target.Read()
	old := cur
	var writeErr error

	if method == "delete" {
		if err := target.Delete(); err != nil {
			return nil, err
		}
		record(func() { target.Write(old) })
		return nil, nil
	}

	write := func(v interface{}) {
		if writeErr != nil {
			return
		}
		if err := target.Write(v); err != nil {
			writeErr = err
			return
		}
		record(func() { target.Write(old) })
	}

	result, err := applyContainerMethod(cur, method, args, write)
	if err != nil {
		return nil, err
	}
	if writeErr != nil {
		return nil, writeErr
	}
	return result, nil
}

// applyContainerMethod implements the command table (spec §4.6.2) against
// cur, the value currently addressed, calling write to commit a
// replacement. It never touches a navTarget directly so it can also serve
// applyRoot's shared fallback cases without an extra layer of indirection.
func applyContainerMethod(cur interface{}, method string, args []interface{}, write func(interface{})) (interface{}, error) {
	switch method {
	case "set":
		if len(args) != 1 {
			return nil, fmt.Errorf("set expects 1 argument")
		}
		write(args[0])
		return args[0], nil

	case "push":
		arr, ok := asArray(cur)
		if cur != nil && !ok {
			return nil, fmt.Errorf("push: target is not an array")
		}
		nv := append(append([]interface{}{}, arr...), args...)
		write(nv)
		return nv, nil

	case "unshift":
		arr, ok := asArray(cur)
		if cur != nil && !ok {
			return nil, fmt.Errorf("unshift: target is not an array")
		}
		nv := append(append([]interface{}{}, args...), arr...)
		write(nv)
		return nv, nil

	case "pop":
		arr, ok := asArray(cur)
		if !ok || len(arr) == 0 {
			return nil, fmt.Errorf("pop: target is not a non-empty array")
		}
		nv := append([]interface{}{}, arr[:len(arr)-1]...)
		write(nv)
		return arr[len(arr)-1], nil

	case "shift":
		arr, ok := asArray(cur)
		if !ok || len(arr) == 0 {
			return nil, fmt.Errorf("shift: target is not a non-empty array")
		}
		nv := append([]interface{}{}, arr[1:]...)
		write(nv)
		return arr[0], nil

	case "reverse":
		arr, ok := asArray(cur)
		if !ok {
			return nil, fmt.Errorf("reverse: target is not an array")
		}
		nv := append([]interface{}{}, arr...)
		for i, j := 0, len(nv)-1; i < j; i, j = i+1, j-1 {
			nv[i], nv[j] = nv[j], nv[i]
		}
		write(nv)
		return nv, nil

	case "sort":
		arr, ok := asArray(cur)
		if !ok {
			return nil, fmt.Errorf("sort: target is not an array")
		}
		nv := append([]interface{}{}, arr...)
		sort.Slice(nv, func(i, j int) bool { return lessValue(nv[i], nv[j]) })
		write(nv)
		return nv, nil

	case "sortWith":
		arr, ok := asArray(cur)
		if !ok {
			return nil, fmt.Errorf("sortWith: target is not an array")
		}
		cmp, ok := args[0].(func(a, b interface{}) bool)
		nv := append([]interface{}{}, arr...)
		if ok {
			sort.Slice(nv, func(i, j int) bool { return cmp(nv[i], nv[j]) })
		} else {
			sort.Slice(nv, func(i, j int) bool { return lessValue(nv[i], nv[j]) })
		}
		write(nv)
		return nv, nil

	case "concat":
		arr, ok := asArray(cur)
		if !ok {
			return nil, fmt.Errorf("concat: target is not an array")
		}
		var nv []interface{}
		nv = append(nv, arr...)
		if len(args) == 1 {
			if other, ok := asArray(args[0]); ok {
				nv = append(nv, other...)
			} else {
				nv = append(nv, args[0])
			}
		} else {
			nv = append(nv, args...)
		}
		write(nv)
		return nv, nil

	case "at":
		arr, ok := asArray(cur)
		if !ok {
			return nil, fmt.Errorf("at: target is not an array")
		}
		i, _ := toIndex(firstArg(args), len(arr))
		return arr[i], nil

	case "arraySlice":
		arr, ok := asArray(cur)
		if !ok {
			return nil, fmt.Errorf("arraySlice: target is not an array")
		}
		s, e := sliceBounds(args, len(arr))
		return append([]interface{}{}, arr[s:e]...), nil

	case "merge", "deepMerge":
		dict, ok := asDict(cur)
		if cur != nil && !ok {
			return nil, fmt.Errorf("%s: target is not a dict", method)
		}
		if dict == nil {
			dict = map[string]interface{}{}
		}
		incoming, ok := asDict(firstArg(args))
		if !ok {
			return nil, fmt.Errorf("%s expects a dict argument", method)
		}
		nv := cloneDict(dict)
		if method == "merge" {
			for k, v := range incoming {
				nv[k] = v
			}
		} else {
			deepMergeInto(nv, incoming)
		}
		write(nv)
		return nv, nil

	case "append", "text":
		switch c := cur.(type) {
		case string:
			nv := c + toStr(firstArg(args))
			write(nv)
			return nv, nil
		case []interface{}:
			nv := append(append([]interface{}{}, c...), firstArg(args))
			write(nv)
			return nv, nil
		case nil:
			nv := toStr(firstArg(args))
			write(nv)
			return nv, nil
		default:
			return nil, fmt.Errorf("%s: type mismatch", method)
		}

	case "add", "subtract", "multiply", "divide", "increment", "decrement":
		return arithCommand(method, cur, args, write)

	case "and", "or":
		if cur == nil {
			return nil, fmt.Errorf("%s: undefined target", method)
		}
		other := firstArg(args)
		var nv interface{}
		if method == "and" {
			nv = truthy(cur) && truthy(other)
		} else {
			nv = truthy(cur) || truthy(other)
		}
		write(nv)
		return nv, nil

	case "not":
		if cur == nil {
			return nil, fmt.Errorf("not: undefined target")
		}
		nv := !truthy(cur)
		write(nv)
		return nv, nil

	case "bitAnd", "bitOr", "bitNot":
		n, ok := toInt(cur)
		if !ok {
			return nil, fmt.Errorf("%s: target is not a number", method)
		}
		var nv int64
		switch method {
		case "bitAnd":
			o, _ := toInt(firstArg(args))
			nv = n & o
		case "bitOr":
			o, _ := toInt(firstArg(args))
			nv = n | o
		case "bitNot":
			nv = ^n
		}
		write(nv)
		return nv, nil

	case "toUpperCase":
		return stringCommand(cur, write, strings.ToUpper)
	case "toLowerCase":
		return stringCommand(cur, write, strings.ToLower)
	case "trim":
		return stringCommand(cur, write, strings.TrimSpace)
	case "trimStart":
		return stringCommand(cur, write, func(s string) string { return strings.TrimLeft(s, " \t\n\r") })
	case "trimEnd":
		return stringCommand(cur, write, func(s string) string { return strings.TrimRight(s, " \t\n\r") })
	case "slice", "substring":
		s, ok := cur.(string)
		if !ok {
			return nil, fmt.Errorf("%s: target is not a string", method)
		}
		start, end := sliceBounds(args, len(s))
		return s[start:end], nil
	case "replace":
		s, ok := cur.(string)
		if !ok {
			return nil, fmt.Errorf("replace: target is not a string")
		}
		nv := strings.Replace(s, toStr(args[0]), toStr(args[1]), 1)
		write(nv)
		return nv, nil
	case "replaceAll":
		s, ok := cur.(string)
		if !ok {
			return nil, fmt.Errorf("replaceAll: target is not a string")
		}
		nv := strings.ReplaceAll(s, toStr(args[0]), toStr(args[1]))
		write(nv)
		return nv, nil
	case "split":
		s, ok := cur.(string)
		if !ok {
			return nil, fmt.Errorf("split: target is not a string")
		}
		parts := strings.Split(s, toStr(firstArg(args)))
		out := make([]interface{}, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out, nil
	case "charAt":
		s, ok := cur.(string)
		if !ok {
			return nil, fmt.Errorf("charAt: target is not a string")
		}
		i, _ := toIndex(firstArg(args), len(s))
		if i >= len(s) {
			return "", nil
		}
		return string(s[i]), nil
	case "repeat":
		s, ok := cur.(string)
		if !ok {
			return nil, fmt.Errorf("repeat: target is not a string")
		}
		n, _ := toInt(firstArg(args))
		return strings.Repeat(s, int(n)), nil

	default:
		return nil, fmt.Errorf("unknown data command %q", method)
	}
}

// deleteChild removes key from container entirely (map key removal, or
// array splice), rather than merely writing nil into that slot. Used by
// childTarget's caller when a `delete` command targets a path, since a
// plain write(nil) would leave a tombstone key/index behind instead of
// shrinking the container.
func deleteChild(container interface{}, key interface{}) (interface{}, error) {
	switch c := container.(type) {
	case map[string]interface{}:
		nv := cloneDict(c)
		delete(nv, fmt.Sprintf("%v", key))
		return nv, nil
	case []interface{}:
		i, ok := toIndex(key, len(c))
		if !ok {
			return c, nil
		}
		return append(append([]interface{}{}, c[:i]...), c[i+1:]...), nil
	default:
		return container, nil
	}
}

func stringCommand(cur interface{}, write func(interface{}), fn func(string) string) (interface{}, error) {
	s, ok := cur.(string)
	if !ok {
		return nil, fmt.Errorf("target is not a string")
	}
	nv := fn(s)
	write(nv)
	return nv, nil
}

func arithCommand(method string, cur interface{}, args []interface{}, write func(interface{})) (interface{}, error) {
	if method == "add" {
		if s, ok := cur.(string); ok {
			nv := s + toStr(firstArg(args))
			write(nv)
			return nv, nil
		}
	}
	n, ok := toFloat(cur)
	if !ok {
		return nil, fmt.Errorf("%s: undefined or non-numeric target", method)
	}
	var nv float64
	switch method {
	case "add":
		o, _ := toFloat(firstArg(args))
		nv = n + o
	case "subtract":
		o, _ := toFloat(firstArg(args))
		nv = n - o
	case "multiply":
		o, _ := toFloat(firstArg(args))
		nv = n * o
	case "divide":
		o, _ := toFloat(firstArg(args))
		if o == 0 {
			return nil, fmt.Errorf("divide: division by zero")
		}
		nv = n / o
	case "increment":
		nv = n + 1
	case "decrement":
		nv = n - 1
	}
	var result interface{} = nv
	if _, wasInt := cur.(int64); wasInt && nv == float64(int64(nv)) {
		result = int64(nv)
	}
	write(result)
	return result, nil
}

func firstArg(args []interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	return args[0]
}

func sliceBounds(args []interface{}, length int) (int, int) {
	start, end := 0, length
	if len(args) > 0 {
		if s, ok := toInt(args[0]); ok {
			start = normalizeIndex(int(s), length)
		}
	}
	if len(args) > 1 {
		if e, ok := toInt(args[1]); ok {
			end = normalizeIndex(int(e), length)
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

func normalizeIndex(i, length int) int {
	if i < 0 {
		i += length
	}
	if i < 0 {
		return 0
	}
	if i > length {
		return length
	}
	return i
}

func asArray(v interface{}) ([]interface{}, bool) {
	a, ok := v.([]interface{})
	return a, ok
}

func asDict(v interface{}) (map[string]interface{}, bool) {
	d, ok := v.(map[string]interface{})
	return d, ok
}

func cloneDict(d map[string]interface{}) map[string]interface{} {
	nv := make(map[string]interface{}, len(d))
	for k, v := range d {
		nv[k] = v
	}
	return nv
}

func deepMergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		if sub, ok := asDict(v); ok {
			if existing, ok := asDict(dst[k]); ok {
				merged := cloneDict(existing)
				deepMergeInto(merged, sub)
				dst[k] = merged
				continue
			}
		}
		dst[k] = v
	}
}

func toStr(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

func lessValue(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af < bf
		}
	}
	return toStr(a) < toStr(b)
}

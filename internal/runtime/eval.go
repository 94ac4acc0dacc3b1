package runtime

import (
	"fmt"
	"math"

	"github.com/btouchard/cascada/internal/compile"
	"github.com/btouchard/cascada/internal/compiler/ast"
	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
	"github.com/btouchard/cascada/internal/handler"
)

// Loader resolves a template name to its compiled Program for
// extends/include/import (spec §6.1). Implemented by the environment
// package, which owns template source resolution (memory/file/chain); the
// runtime only needs the result of that resolution.
type Loader interface {
	Load(name string) (*compile.Program, error)
}

// superFrame is one entry of the block-override stack a `{{ super() }}`
// call resolves against: the nearest enclosing Block's own (pre-override)
// body.
type superFrame struct {
	name string
	body *ast.NodeList
}

// callerFrame is one entry of the `{% call %}` stack a `caller()`
// expression inside the invoked macro resolves against.
type callerFrame struct {
	body  *ast.NodeList
	frame *Frame
}

// MacroValue is what a Macro declaration binds its name to. Unlike a
// context-supplied Callable (always invoked off Scheduler.Go, since the
// evaluator can't prove it cheap), a macro's body is itself made of
// ordinary template nodes that make their own suspension decisions, so
// FunCall dispatches it inline through walkBody rather than through the
// scheduler's background-goroutine path.
type MacroValue struct {
	Params   []string
	Defaults map[string]ast.Expression
	Body     *ast.NodeList
	Closure  *Frame
}

// FilterFunc implements one `| name(args)` pipe filter (spec.md §1's
// filter catalogue, wired from internal/builtin). It runs synchronously
// against the already-evaluated input value unless the filter's own
// Async flag says otherwise.
type FilterFunc func(val interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// ExtensionFunc implements one named extension's method, the engine's
// escape hatch for capability the built-in filter/handler surface
// doesn't cover.
type ExtensionFunc func(method string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

// Eval walks a compiled template's AST and renders it to text. It covers
// the language's synchronous core (literals, operators, lookups, set/var,
// if, for, while, calls against context-supplied Callables), async
// suspension through FunCall, the output handler subsystem
// (OutputCommand/SetPath dispatch, capture scoping, focus projection,
// revert) via internal/handler, and template composition (extends/block/
// super, include, import/from-import, macro/call/caller) through the
// Loader it's given — see DESIGN.md.
type Eval struct {
	TemplateName string
	Sched        *Scheduler
	Locks        *LockManager
	Out          *TextBuffer
	Scope        *handler.Scope
	Loader       Loader // nil unless extends/include/import are in use
	Filters      map[string]FilterFunc
	Extensions   map[string]ExtensionFunc
	Autoescape   bool
	Escape       func(string) string // nil means Autoescape has no effect
	Blocks       map[string]*ast.NodeList
	superStack   []superFrame
	callerStack  []callerFrame
	errs         []*cerrors.RuntimeError
}

func NewEval(templateName string, sched *Scheduler, locks *LockManager) *Eval {
	return &Eval{
		TemplateName: templateName,
		Sched:        sched,
		Locks:        locks,
		Out:          NewTextBuffer(),
		Scope:        handler.NewScope(nil),
	}
}

func (e *Eval) pos(n ast.Node) cerrors.Position {
	p := n.NodePos()
	return cerrors.Position{File: e.TemplateName, Line: p.Line, Column: p.Column}
}

func (e *Eval) fail(n ast.Node, format string, args ...interface{}) *Poison {
	re := cerrors.NewRuntimeError(e.pos(n), e.TemplateName, fmt.Sprintf(format, args...), nil)
	e.errs = append(e.errs, re)
	return &Poison{Err: re}
}

// Errors returns every runtime error recorded during evaluation (poisons
// raised along the way), independent of whether something caught them.
func (e *Eval) Errors() []*cerrors.RuntimeError { return e.errs }

// Render runs root to completion against the given top-level frame and
// returns the concatenated text output once the scheduler has drained.
// It is the plain-text entry point; RenderResult additionally surfaces
// the data handler's tree and other registered handlers' return values.
func (e *Eval) Render(root *ast.Root, frame *Frame) (string, error) {
	res, err := e.RenderResult(root, frame)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// RenderResult runs root to completion and returns the full handler
// Result (spec §3.2, §6.3): assembled text, the `data` handler's tree,
// and every other registered handler's return value. A top-level
// `{% option focus=NAME %}` is recorded on e.Scope but left for the
// caller (the environment layer's render entry points) to project, since
// Result itself is the uniform shape every render produces.
func (e *Eval) RenderResult(root *ast.Root, frame *Frame) (handler.Result, error) {
	e.Sched.enqueue(func() { e.walkList(root.Children, frame) })
	if err := e.Sched.Run(); err != nil {
		return handler.Result{}, err
	}
	out, poison := e.Out.Concat()
	if poison != nil {
		if poison.Err != nil {
			return handler.Result{}, poison.Err
		}
		return handler.Result{}, fmt.Errorf("render produced an unresolved output chunk")
	}
	return e.Scope.Snapshot(out), nil
}

func (e *Eval) walkList(nodes []ast.Node, frame *Frame) {
	for _, n := range nodes {
		if ext, ok := n.(*ast.Extends); ok {
			e.renderExtends(ext, nodes, frame)
			return
		}
	}
	for _, n := range nodes {
		e.walkNode(n, frame)
	}
}

// renderExtends implements template inheritance (spec §4.2 item 4, §6.1):
// nodes' top-level Block bodies become overrides layered onto the parent
// template resolved through Loader, and the parent's own body is what
// actually renders — anything in nodes outside a Block (besides the
// extends tag itself) is not rendered, matching the usual
// template-inheritance convention that a child's job is only to supply
// block overrides.
func (e *Eval) renderExtends(ext *ast.Extends, nodes []ast.Node, frame *Frame) {
	if e.Loader == nil {
		e.fail(ext, "extends used with no template loader configured")
		return
	}
	e.eval(ext.Template, frame, func(val interface{}, p *Poison) {
		if p != nil {
			return
		}
		name := ToString(val)
		prog, err := e.Loader.Load(name)
		if err != nil {
			e.fail(ext, "extends %q: %v", name, err)
			return
		}
		overrides := map[string]*ast.NodeList{}
		for _, n := range nodes {
			if b, ok := n.(*ast.Block); ok {
				overrides[b.Name] = b.Body
			}
		}
		saved := e.Blocks
		merged := map[string]*ast.NodeList{}
		for k, v := range saved {
			merged[k] = v
		}
		for k, v := range overrides {
			merged[k] = v
		}
		e.Blocks = merged
		e.walkList(prog.Root.Children, frame)
		e.Blocks = saved
	})
}

func (e *Eval) walkBody(nl *ast.NodeList, frame *Frame) {
	if nl == nil {
		return
	}
	e.walkList(nl.Children, frame)
}

func (e *Eval) walkNode(n ast.Node, frame *Frame) {
	switch v := n.(type) {
	case *ast.TemplateData:
		e.Out.Literal(v.Value)

	case *ast.Output:
		slot := e.Out.Append()
		e.evalInto(v.Expr, frame, slot, func(val interface{}) interface{} {
			if ss, ok := val.(SafeString); ok {
				return ss.Safe()
			}
			s := ToString(val)
			if e.Autoescape && e.Escape != nil {
				s = e.Escape(s)
			}
			return s
		})

	case *ast.Do:
		e.eval(v.Expr, frame, func(interface{}, *Poison) {})

	case *ast.Option:
		if v.Key == "focus" {
			e.eval(v.Value, frame, func(val interface{}, p *Poison) {
				if p != nil {
					return
				}
				e.Scope.SetFocus(ToString(val))
			})
		}

	case *ast.Extern:
		// Purely a compile-time declaration for the sequence analyzer;
		// nothing to do at render time.

	case *ast.Set:
		if v.Body != nil {
			val, poison := e.captureBody(v.Body, v.Focus, frame)
			if poison != nil {
				return
			}
			e.bindTarget(v.Target, frame, ResolvedSlot(val))
			return
		}
		slot := NewSlot()
		e.bindTarget(v.Target, frame, slot)
		e.eval(v.Value, frame, func(val interface{}, p *Poison) {
			if p != nil {
				slot.PoisonWith(p)
				return
			}
			slot.Resolve(val)
		})

	case *ast.Var:
		if v.Body != nil {
			val, poison := e.captureBody(v.Body, v.Focus, frame)
			if poison != nil {
				return
			}
			frame.Declare(v.Name, ResolvedSlot(val))
			return
		}
		slot := NewSlot()
		frame.Declare(v.Name, slot)
		e.eval(v.Value, frame, func(val interface{}, p *Poison) {
			if p != nil {
				slot.PoisonWith(p)
				return
			}
			slot.Resolve(val)
		})

	case *ast.If:
		e.eval(v.Cond, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			if Truthy(val) {
				e.walkBody(v.Then, NewFrame(frame))
				return
			}
			for _, el := range v.Elifs {
				matched := false
				e.eval(el.Cond, frame, func(cv interface{}, cp *Poison) {
					if cp != nil {
						return
					}
					if Truthy(cv) {
						matched = true
						e.walkBody(el.Body, NewFrame(frame))
					}
				})
				if matched {
					return
				}
			}
			e.walkBody(v.Else, NewFrame(frame))
		})

	case *ast.For:
		e.eval(v.Iterable, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			items, keys := iterate(val)
			if len(items) == 0 {
				e.walkBody(v.Else, NewFrame(frame))
				return
			}
			for i, item := range items {
				loopFrame := NewFrame(frame)
				if v.ValueName != "" {
					loopFrame.Declare(v.KeyName, ResolvedSlot(keys[i]))
					loopFrame.Declare(v.ValueName, ResolvedSlot(item))
				} else {
					loopFrame.Declare(v.KeyName, ResolvedSlot(item))
				}
				e.walkBody(v.Body, loopFrame)
			}
		})

	case *ast.While:
		var step func()
		step = func() {
			e.eval(v.Cond, frame, func(val interface{}, p *Poison) {
				if p != nil || !Truthy(val) {
					return
				}
				e.walkBody(v.Body, NewFrame(frame))
				e.Sched.enqueue(step)
			})
		}
		step()

	case *ast.AsyncEach:
		e.eval(v.Iterable, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			items, keys := iterate(val)
			if len(items) == 0 {
				e.walkBody(v.Else, NewFrame(frame))
				return
			}
			for i, item := range items {
				i, item := i, item
				loopFrame := NewFrame(frame)
				if v.ValueName != "" {
					loopFrame.Declare(v.KeyName, ResolvedSlot(keys[i]))
					loopFrame.Declare(v.ValueName, ResolvedSlot(item))
				} else {
					loopFrame.Declare(v.KeyName, ResolvedSlot(item))
				}
				e.Sched.enqueue(func() { e.walkBody(v.Body, loopFrame) })
			}
		})

	case *ast.AsyncAll:
		e.eval(v.Iterable, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			items, keys := iterate(val)
			if len(items) == 0 {
				e.walkBody(v.Else, NewFrame(frame))
				return
			}
			for i, item := range items {
				i, item := i, item
				loopFrame := NewFrame(frame)
				if v.ValueName != "" {
					loopFrame.Declare(v.KeyName, ResolvedSlot(keys[i]))
					loopFrame.Declare(v.ValueName, ResolvedSlot(item))
				} else {
					loopFrame.Declare(v.KeyName, ResolvedSlot(item))
				}
				e.Sched.enqueue(func() { e.walkBody(v.Body, loopFrame) })
			}
		})

	case *ast.Switch:
		e.eval(v.Subject, frame, func(subject interface{}, p *Poison) {
			if p != nil {
				return
			}
			for _, cs := range v.Cases {
				matched := false
				e.eval(cs.Value, frame, func(cv interface{}, cp *Poison) {
					if cp != nil {
						return
					}
					matched = equal(subject, cv)
				})
				if matched {
					e.walkBody(cs.Body, NewFrame(frame))
					return
				}
			}
			e.walkBody(v.Default, NewFrame(frame))
		})

	case *ast.Guard:
		sub := &Eval{
			TemplateName: e.TemplateName,
			Sched:        e.Sched,
			Locks:        e.Locks,
			Out:          e.Out,
			Scope:        e.Scope,
			Loader:       e.Loader,
			Blocks:       e.Blocks,
			superStack:   e.superStack,
			callerStack:  e.callerStack,
		}
		sub.walkBody(v.Body, NewFrame(frame))
		e.errs = append(e.errs, sub.errs...)
		if len(sub.errs) > 0 && v.Recover != nil {
			e.walkBody(v.Recover, NewFrame(frame))
		}

	case *ast.Capture:
		// Standalone `capture ... endcapture` used as a statement; in
		// expression position it is handled by evalExpr instead. Emitted
		// as text regardless of :focus, since a bare statement has
		// nowhere else to put a non-text projection.
		val, poison := e.captureBody(v.Body, v.Focus, frame)
		if poison == nil {
			e.Out.Literal(ToString(val))
		}

	case *ast.OutputCommand:
		e.evalOutputCommand(v, frame)

	case *ast.SetPath:
		e.evalSetPath(v, frame)

	case *ast.Block:
		if override, ok := e.Blocks[v.Name]; ok {
			e.superStack = append(e.superStack, superFrame{name: v.Name, body: v.Body})
			e.walkBody(override, NewFrame(frame))
			e.superStack = e.superStack[:len(e.superStack)-1]
			return
		}
		e.walkBody(v.Body, NewFrame(frame))

	case *ast.Extends:
		// Only meaningful as a top-level statement; walkList intercepts it
		// there. Reaching here means it showed up nested inside some other
		// body, which the compiler's frame pass doesn't expect either.
		e.fail(v, "extends must be a top-level statement")

	case *ast.Include:
		e.eval(v.Template, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			if e.Loader == nil {
				e.fail(v, "include used with no template loader configured")
				return
			}
			name := ToString(val)
			prog, err := e.Loader.Load(name)
			if err != nil {
				if v.IgnoreMissing {
					return
				}
				e.fail(v, "include %q: %v", name, err)
				return
			}
			e.walkList(prog.Root.Children, NewFrame(frame))
		})

	case *ast.Import:
		e.eval(v.Template, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			if e.Loader == nil {
				e.fail(v, "import used with no template loader configured")
				return
			}
			name := ToString(val)
			prog, err := e.Loader.Load(name)
			if err != nil {
				e.fail(v, "import %q: %v", name, err)
				return
			}
			modFrame := e.loadModule(prog, frame, v.WithContext)
			mod := map[string]interface{}{}
			for _, n := range prog.Root.Children {
				if m, ok := n.(*ast.Macro); ok {
					if slot, ok := modFrame.Lookup(m.Name); ok {
						_, mv, _, _ := slot.Peek()
						mod[m.Name] = mv
					}
				}
			}
			frame.Declare(v.Name, ResolvedSlot(mod))
		})

	case *ast.FromImport:
		e.eval(v.Template, frame, func(val interface{}, p *Poison) {
			if p != nil {
				return
			}
			if e.Loader == nil {
				e.fail(v, "from-import used with no template loader configured")
				return
			}
			name := ToString(val)
			prog, err := e.Loader.Load(name)
			if err != nil {
				e.fail(v, "from-import %q: %v", name, err)
				return
			}
			modFrame := e.loadModule(prog, frame, v.WithContext)
			for _, imported := range v.Names {
				bound := imported
				if alias, ok := v.Aliases[imported]; ok {
					bound = alias
				}
				slot, ok := modFrame.Lookup(imported)
				if !ok {
					e.fail(v, "from-import: %q not found in %q", imported, name)
					continue
				}
				frame.Declare(bound, slot)
			}
		})

	case *ast.Macro:
		mv := &MacroValue{Params: v.Params, Defaults: v.Defaults, Body: v.Body, Closure: frame}
		frame.Declare(v.Name, ResolvedSlot(mv))

	case *ast.Call:
		e.evalCall(v, frame)

	default:
		e.fail(n, "unsupported statement kind %T", n)
	}
}

func (e *Eval) bindTarget(target ast.Expression, frame *Frame, slot *ValueSlot) {
	sym, ok := target.(*ast.Symbol)
	if !ok {
		// Dotted-path `set` targets go through ast.SetPath instead; a
		// non-Symbol Target here is not a currently supported surface form.
		slot.PoisonWith(e.fail(target, "unsupported set target"))
		return
	}
	frame.Declare(sym.Name, slot)
}

// captureBody runs body in a nested output scope (spec §4.7) and projects
// the result the way `:focus` (or the default "text" projection) does.
// A fresh handler.Scope means @_._revert() and focus projection inside
// body only ever see this capture's own writes, never a sibling's or the
// enclosing scope's.
func (e *Eval) captureBody(body *ast.NodeList, focus string, frame *Frame) (interface{}, *Poison) {
	savedOut := e.Out
	savedScope := e.Scope
	sub := NewTextBuffer()
	e.Out = sub
	e.Scope = handler.NewScope(savedScope)
	e.walkBody(body, NewFrame(frame))
	capturedScope := e.Scope
	e.Out = savedOut
	e.Scope = savedScope
	text, poison := sub.Concat()
	if poison != nil {
		return nil, poison
	}
	if focus == "" {
		focus = "text"
	}
	return capturedScope.Snapshot(text).Focus(focus), nil
}

// runCapture runs a Capture node's body through captureBody. walkNode's
// statement case and evalExpr both call captureBody directly.
func (e *Eval) runCapture(v *ast.Capture, frame *Frame) (interface{}, *Poison) {
	return e.captureBody(v.Body, v.Focus, frame)
}

// evalCall implements the `{% call macro(args) %}...{% endcall %}` tag
// (spec item 4-5): it renders Target's macro body with Body available to
// it as `caller()`, and emits the macro's own rendered text as ordinary
// template output at the call site.
func (e *Eval) evalCall(v *ast.Call, frame *Frame) {
	e.evalExpr(v.Target, frame, func(callee interface{}, p *Poison) {
		if p != nil {
			return
		}
		mv, ok := callee.(*MacroValue)
		if !ok {
			e.fail(v, "call target is not a macro")
			return
		}
		e.evalAll(v.Args, frame, func(args []interface{}, ap *Poison) {
			if ap != nil {
				return
			}
			kwargs := map[string]interface{}{}
			if v.Kwargs != nil {
				for i, name := range v.Kwargs.Names {
					e.evalExpr(v.Kwargs.Values[i], frame, func(val interface{}, kp *Poison) {
						if kp == nil {
							kwargs[name] = val
						}
					})
				}
			}
			e.callerStack = append(e.callerStack, callerFrame{body: v.Body, frame: frame})
			e.invokeMacro(mv, args, kwargs, func(val interface{}, p2 *Poison) {
				if p2 == nil {
					e.Out.Literal(ToString(val))
				}
			})
			e.callerStack = e.callerStack[:len(e.callerStack)-1]
		})
	})
}

// invokeMacro runs a macro's body to completion and resolves cb with the
// text it rendered, the way FunCall resolves cb with a Callable's return
// value. Dispatched inline through walkBody rather than off
// Scheduler.Go: the body is ordinary template nodes that make their own
// suspension decisions through this same Eval, not opaque external work.
// Params bind against Closure (the macro's definition frame), never the
// call site's frame, matching ordinary lexical closure semantics.
func (e *Eval) invokeMacro(mv *MacroValue, args []interface{}, kwargs map[string]interface{}, cb func(interface{}, *Poison)) {
	macroFrame := NewFrame(mv.Closure)
	for i, name := range mv.Params {
		var val interface{}
		switch {
		case i < len(args):
			val = args[i]
		case kwargs != nil && hasKey(kwargs, name):
			val = kwargs[name]
		default:
			if def, ok := mv.Defaults[name]; ok {
				e.evalExpr(def, macroFrame, func(dv interface{}, _ *Poison) { val = dv })
			}
		}
		macroFrame.Declare(name, ResolvedSlot(val))
	}
	sub := NewTextBuffer()
	saved := e.Out
	e.Out = sub
	e.walkBody(mv.Body, macroFrame)
	e.Out = saved
	text, poison := sub.Concat()
	cb(text, poison)
}

func hasKey(m map[string]interface{}, k string) bool {
	_, ok := m[k]
	return ok
}

// loadModule renders prog's top-level statements into a fresh frame so
// its macro/var declarations can be harvested by Import/FromImport,
// without emitting the module's own template text into the importing
// template's output (spec §6.1: importing exposes macros/vars, not the
// module's body). withContext controls whether the module frame can see
// the importing template's own variables.
func (e *Eval) loadModule(prog *compile.Program, frame *Frame, withContext bool) *Frame {
	parent := frame
	if !withContext {
		parent = nil
	}
	modFrame := NewFrame(parent)
	sub := NewTextBuffer()
	saved := e.Out
	e.Out = sub
	e.walkList(prog.Root.Children, modFrame)
	e.Out = saved
	return modFrame
}

// resolvePath evaluates an OutputCommand's PathSegment chain into
// concrete handler.PathElem values, mirroring evalAll's fan-out/join
// since a dynamic `[expr]` segment may itself suspend.
func (e *Eval) resolvePath(segs []ast.PathSegment, frame *Frame, cb func([]handler.PathElem, *Poison)) {
	if len(segs) == 0 {
		cb(nil, nil)
		return
	}
	out := make([]handler.PathElem, len(segs))
	remaining := len(segs)
	var firstPoison *Poison
	for i, seg := range segs {
		i, seg := i, seg
		switch {
		case seg.IsLast:
			out[i] = handler.PathElem{IsLast: true}
			remaining--
			if remaining == 0 {
				cb(out, firstPoison)
			}
		case seg.Name != "":
			out[i] = handler.PathElem{Key: seg.Name}
			remaining--
			if remaining == 0 {
				cb(out, firstPoison)
			}
		default:
			e.evalExpr(seg.Expr, frame, func(val interface{}, p *Poison) {
				if p != nil && firstPoison == nil {
					firstPoison = p
				}
				out[i] = handler.PathElem{Key: normalizePathKey(val)}
				remaining--
				if remaining == 0 {
					cb(out, firstPoison)
				}
			})
		}
	}
}

// normalizePathKey coerces a dynamic path-segment value to the string/
// int64 form handler.PathElem expects (spec §4.6.2's path keys are
// either property names or array indices).
func normalizePathKey(val interface{}) interface{} {
	switch t := val.(type) {
	case string:
		return t
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return ToString(t)
	}
}

// flattenLookup decomposes a LookupVal chain (`a.b.c`) into its root
// Symbol and the chain of key expressions/dot-flags from outermost to
// innermost, the form SetPath's path-mutation machinery expects.
func flattenLookup(lv *ast.LookupVal) (*ast.Symbol, []ast.Expression, []bool) {
	var keys []ast.Expression
	var dots []bool
	var walk func(expr ast.Expression) *ast.Symbol
	walk = func(expr ast.Expression) *ast.Symbol {
		switch t := expr.(type) {
		case *ast.Symbol:
			return t
		case *ast.LookupVal:
			root := walk(t.Target)
			keys = append(keys, t.Key)
			dots = append(dots, t.Dot)
			return root
		default:
			return nil
		}
	}
	root := walk(lv)
	return root, keys, dots
}

// resolveKeys is resolvePath's counterpart for a flattened LookupVal
// chain: a dotted segment's key is always a string Literal the parser
// already resolved, so it never needs evaluation; a bracketed segment is
// an arbitrary expression that may suspend.
func (e *Eval) resolveKeys(keys []ast.Expression, dots []bool, frame *Frame, cb func([]handler.PathElem, *Poison)) {
	if len(keys) == 0 {
		cb(nil, nil)
		return
	}
	out := make([]handler.PathElem, len(keys))
	remaining := len(keys)
	var firstPoison *Poison
	for i := range keys {
		i := i
		if dots[i] {
			if lit, ok := keys[i].(*ast.Literal); ok {
				if s, ok := lit.Value.(string); ok {
					out[i] = handler.PathElem{Key: s}
					remaining--
					if remaining == 0 {
						cb(out, firstPoison)
					}
					continue
				}
			}
		}
		e.evalExpr(keys[i], frame, func(val interface{}, p *Poison) {
			if p != nil && firstPoison == nil {
				firstPoison = p
			}
			out[i] = handler.PathElem{Key: normalizePathKey(val)}
			remaining--
			if remaining == 0 {
				cb(out, firstPoison)
			}
		})
	}
}

// evalOutputCommand dispatches an `@handler.method(path, args)` command
// (spec §4.6) to its registered handler. Commands always serialize
// through a LockManager key, even with no explicit `!` marker: command
// arguments can themselves suspend, and without a lock the apply order
// would follow argument-resolution order instead of lexical order, which
// is the data-assembler invariant the handler subsystem exists to
// guarantee. Acquire is called before path/args are evaluated, so Acquire
// requests themselves arrive in lexical order (lock.go's own ordering
// contract) regardless of how long each command's arguments take to
// settle. A non-empty Seq.LockKey replaces the "@"+handler key, but
// neither the parser nor the sequence analyzer assigns one to an
// OutputCommand, so every command to a handler, with or without a `!`
// marker, shares that handler's single queue.
func (e *Eval) evalOutputCommand(v *ast.OutputCommand, frame *Frame) {
	h, ok := e.Scope.Get(v.Handler)
	if !ok {
		e.fail(v, "unknown command handler %q", v.Handler)
		return
	}
	run := func(release func()) {
		e.resolvePath(v.Path, frame, func(path []handler.PathElem, pp *Poison) {
			if pp != nil {
				if release != nil {
					release()
				}
				return
			}
			e.evalAll(v.Args, frame, func(args []interface{}, ap *Poison) {
				defer func() {
					if release != nil {
						release()
					}
				}()
				if ap != nil {
					return
				}
				if _, err := h.Apply(v.Method, path, args); err != nil {
					e.fail(v, "%s.%s: %v", v.Handler, v.Method, err)
				}
			})
		})
	}
	if e.Locks != nil {
		key := v.Seq.LockKey
		if key == "" {
			key = "@" + v.Handler
		}
		e.Locks.Acquire(e.Sched, key, run)
		return
	}
	run(nil)
}

// evalSetPath implements `a.b.c = expr` (spec §9 Open Question 3): it
// rebinds the root variable to a new value with the nested path set,
// reusing the data handler's own path-mutation machinery against the
// variable's current value as an ephemeral root (handler.
// NewDataHandlerFrom) rather than a registered handler's own tree.
// ValueSlots are terminal once settled (slot.go), so the result is a
// brand-new slot rebound via Frame.Rebind, not a mutation of the old one.
func (e *Eval) evalSetPath(v *ast.SetPath, frame *Frame) {
	root, keys, dots := flattenLookup(v.Target)
	if root == nil {
		e.fail(v, "unsupported set-path target")
		return
	}
	slot, ok := frame.Lookup(root.Name)
	if !ok {
		e.fail(v, "%s is not defined", root.Name)
		return
	}
	slot.OnReady(e.Sched, func() {
		_, cur, poison, _ := slot.Peek()
		if poison != nil {
			return
		}
		e.resolveKeys(keys, dots, frame, func(path []handler.PathElem, pp *Poison) {
			if pp != nil {
				return
			}
			e.evalExpr(v.Value, frame, func(val interface{}, vp *Poison) {
				if vp != nil {
					return
				}
				dh := handler.NewDataHandlerFrom(cur)
				if _, err := dh.Apply("set", path, []interface{}{val}); err != nil {
					e.fail(v, "%v", err)
					return
				}
				frame.Rebind(root.Name, ResolvedSlot(dh.Root()))
			})
		})
	})
}

// eval evaluates expr and invokes cb with its final (value, poison) once
// settled. It never blocks: calls that require suspension register cb via
// OnReady instead of returning synchronously.
func (e *Eval) eval(expr ast.Expression, frame *Frame, cb func(interface{}, *Poison)) {
	e.evalExpr(expr, frame, cb)
}

// evalInto evaluates expr and resolves/poisons target with the result,
// optionally transformed by xf (used by Output to stringify).
func (e *Eval) evalInto(expr ast.Expression, frame *Frame, target *ValueSlot, xf func(interface{}) interface{}) {
	e.evalExpr(expr, frame, func(val interface{}, p *Poison) {
		if p != nil {
			target.PoisonWith(p)
			return
		}
		if xf != nil {
			val = xf(val)
		}
		target.Resolve(val)
	})
}

func (e *Eval) evalExpr(expr ast.Expression, frame *Frame, cb func(interface{}, *Poison)) {
	if expr == nil {
		cb(nil, nil)
		return
	}
	switch v := expr.(type) {
	case *ast.Literal:
		cb(v.Value, nil)

	case *ast.Symbol:
		slot, ok := frame.Lookup(v.Name)
		if !ok {
			cb(nil, nil)
			return
		}
		slot.OnReady(e.Sched, func() {
			_, val, poison, _ := slot.Peek()
			cb(val, poison)
		})

	case *ast.Group:
		e.evalExpr(v.Expr, frame, cb)

	case *ast.Array:
		e.evalAll(v.Items, frame, func(items []interface{}, p *Poison) {
			cb(items, p)
		})

	case *ast.Dict:
		keys := make([]ast.Expression, len(v.Pairs))
		vals := make([]ast.Expression, len(v.Pairs))
		for i, pr := range v.Pairs {
			keys[i] = pr.Key
			vals[i] = pr.Value
		}
		e.evalAll(keys, frame, func(ks []interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			e.evalAll(vals, frame, func(vs []interface{}, p2 *Poison) {
				if p2 != nil {
					cb(nil, p2)
					return
				}
				out := make(map[string]interface{}, len(ks))
				for i, k := range ks {
					out[ToString(k)] = vs[i]
				}
				cb(out, nil)
			})
		})

	case *ast.LookupVal:
		e.evalExpr(v.Target, frame, func(target interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			if v.Dot {
				if lit, ok := v.Key.(*ast.Literal); ok {
					key, _ := lit.Value.(string)
					cb(index(target, key), nil)
					return
				}
			}
			e.evalExpr(v.Key, frame, func(key interface{}, kp *Poison) {
				if kp != nil {
					cb(nil, kp)
					return
				}
				cb(index(target, key), nil)
			})
		})

	case *ast.UnaryOp:
		e.evalExpr(v.Operand, frame, func(val interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			switch v.Op {
			case ast.OpNot:
				cb(!Truthy(val), nil)
			case ast.OpNeg:
				cb(negate(val), nil)
			case ast.OpPos:
				cb(val, nil)
			}
		})

	case *ast.BinOp:
		e.evalBinOp(v, frame, cb)

	case *ast.InlineIf:
		e.evalExpr(v.Cond, frame, func(cond interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			if Truthy(cond) {
				e.evalExpr(v.Then, frame, cb)
				return
			}
			if v.Else == nil {
				cb(nil, nil)
				return
			}
			e.evalExpr(v.Else, frame, cb)
		})

	case *ast.Capture:
		val, poison := e.captureBody(v.Body, v.Focus, frame)
		cb(val, poison)

	case *ast.Super:
		var top *superFrame
		for i := len(e.superStack) - 1; i >= 0; i-- {
			if v.Block == "" || e.superStack[i].name == v.Block {
				top = &e.superStack[i]
				break
			}
		}
		if top == nil {
			cb(nil, e.fail(v, "super() used outside an overriding block"))
			return
		}
		sub := NewTextBuffer()
		saved := e.Out
		e.Out = sub
		e.walkBody(top.body, NewFrame(frame))
		e.Out = saved
		text, poison := sub.Concat()
		cb(text, poison)

	case *ast.Caller:
		if len(e.callerStack) == 0 {
			cb(nil, e.fail(v, "caller() used outside a call block"))
			return
		}
		top := e.callerStack[len(e.callerStack)-1]
		e.evalAll(v.Args, frame, func(_ []interface{}, _ *Poison) {
			sub := NewTextBuffer()
			saved := e.Out
			e.Out = sub
			e.walkBody(top.body, NewFrame(top.frame))
			e.Out = saved
			text, poison := sub.Concat()
			cb(text, poison)
		})

	case *ast.FunCall:
		e.evalFunCall(v, frame, cb)

	case *ast.Filter:
		e.evalExpr(v.Target, frame, func(val interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			fn, ok := e.Filters[v.Name]
			if !ok {
				cb(nil, e.fail(v, "unknown filter %q", v.Name))
				return
			}
			e.evalAll(v.Args, frame, func(args []interface{}, ap *Poison) {
				if ap != nil {
					cb(nil, ap)
					return
				}
				kwargs := e.evalKwargsSync(v.Kwargs, frame)
				run := func() (interface{}, error) { return fn(val, args, kwargs) }
				if !v.Async {
					res, err := run()
					if err != nil {
						cb(nil, e.fail(v, "%s filter: %v", v.Name, err))
						return
					}
					cb(res, nil)
					return
				}
				e.Sched.Go(func() {
					res, err := run()
					e.Sched.enqueue(func() {
						if err != nil {
							cb(nil, e.fail(v, "%s filter: %v", v.Name, err))
							return
						}
						cb(res, nil)
					})
				})
			})
		})

	case *ast.CallExtension:
		ext, ok := e.Extensions[v.Extension]
		if !ok {
			cb(nil, e.fail(v, "unknown extension %q", v.Extension))
			return
		}
		e.evalAll(v.Args, frame, func(args []interface{}, ap *Poison) {
			if ap != nil {
				cb(nil, ap)
				return
			}
			kwargs := e.evalKwargsSync(v.Kwargs, frame)
			run := func() (interface{}, error) { return ext(v.Method, args, kwargs) }
			if !v.Async {
				res, err := run()
				if err != nil {
					cb(nil, e.fail(v, "%s.%s: %v", v.Extension, v.Method, err))
					return
				}
				cb(res, nil)
				return
			}
			invoke := func() {
				e.Sched.Go(func() {
					res, err := run()
					e.Sched.enqueue(func() {
						if err != nil {
							cb(nil, e.fail(v, "%s.%s: %v", v.Extension, v.Method, err))
							return
						}
						cb(res, nil)
					})
				})
			}
			if v.Seq.Sequential() && e.Locks != nil {
				e.Locks.Acquire(e.Sched, v.Seq.LockKey, func(release func()) {
					e.Sched.Go(func() {
						res, err := run()
						e.Sched.enqueue(func() {
							release()
							if err != nil {
								cb(nil, e.fail(v, "%s.%s: %v", v.Extension, v.Method, err))
								return
							}
							cb(res, nil)
						})
					})
				})
				return
			}
			invoke()
		})

	default:
		cb(nil, e.fail(expr, "unsupported expression kind %T", expr))
	}
}

// evalKwargsSync evaluates a keyword-args list synchronously (each value
// must already be resolvable without further suspension handling beyond
// the usual slot wait), matching FunCall's inline kwargs-gathering idiom.
func (e *Eval) evalKwargsSync(kw *ast.KeywordArgs, frame *Frame) map[string]interface{} {
	kwargs := map[string]interface{}{}
	if kw == nil {
		return kwargs
	}
	for i, name := range kw.Names {
		e.evalExpr(kw.Values[i], frame, func(val interface{}, kp *Poison) {
			if kp == nil {
				kwargs[name] = val
			}
		})
	}
	return kwargs
}

func (e *Eval) evalAll(exprs []ast.Expression, frame *Frame, cb func([]interface{}, *Poison)) {
	if len(exprs) == 0 {
		cb(nil, nil)
		return
	}
	results := make([]interface{}, len(exprs))
	remaining := len(exprs)
	var firstPoison *Poison
	for i, expr := range exprs {
		i := i
		e.evalExpr(expr, frame, func(val interface{}, p *Poison) {
			if p != nil && firstPoison == nil {
				firstPoison = p
			}
			results[i] = val
			remaining--
			if remaining == 0 {
				cb(results, firstPoison)
			}
		})
	}
}

// evalFunCall resolves the callee and arguments then invokes it off the
// scheduler's background goroutine (Go), honoring a sequence lock first
// when the call carries one.
func (e *Eval) evalFunCall(call *ast.FunCall, frame *Frame, cb func(interface{}, *Poison)) {
	e.evalExpr(call.Target, frame, func(callee interface{}, p *Poison) {
		if p != nil {
			cb(nil, p)
			return
		}
		if mv, ok := callee.(*MacroValue); ok {
			e.evalAll(call.Args, frame, func(args []interface{}, ap *Poison) {
				if ap != nil {
					cb(nil, ap)
					return
				}
				kwargs := map[string]interface{}{}
				if call.Kwargs != nil {
					for i, name := range call.Kwargs.Names {
						e.evalExpr(call.Kwargs.Values[i], frame, func(val interface{}, kp *Poison) {
							if kp == nil {
								kwargs[name] = val
							}
						})
					}
				}
				e.invokeMacro(mv, args, kwargs, cb)
			})
			return
		}
		fn, ok := callee.(Callable)
		if !ok {
			cb(nil, e.fail(call, "call target is not callable"))
			return
		}
		e.evalAll(call.Args, frame, func(args []interface{}, ap *Poison) {
			if ap != nil {
				cb(nil, ap)
				return
			}
			kwargs := map[string]interface{}{}
			if call.Kwargs != nil {
				for i, name := range call.Kwargs.Names {
					e.evalExpr(call.Kwargs.Values[i], frame, func(val interface{}, kp *Poison) {
						if kp == nil {
							kwargs[name] = val
						}
					})
				}
			}
			invoke := func() {
				e.Sched.Go(func() {
					val, err := fn(args, kwargs)
					if err != nil {
						e.Sched.enqueue(func() { cb(nil, e.fail(call, "%v", err)) })
						return
					}
					e.Sched.enqueue(func() { cb(val, nil) })
				})
			}
			if call.Seq.Sequential() && e.Locks != nil {
				e.Locks.Acquire(e.Sched, call.Seq.LockKey, func(release func()) {
					e.Sched.Go(func() {
						val, err := fn(args, kwargs)
						e.Sched.enqueue(func() {
							release()
							if err != nil {
								cb(nil, e.fail(call, "%v", err))
								return
							}
							cb(val, nil)
						})
					})
				})
				return
			}
			invoke()
		})
	})
}

func (e *Eval) evalBinOp(v *ast.BinOp, frame *Frame, cb func(interface{}, *Poison)) {
	if v.Op == ast.OpCompare {
		e.evalExpr(v.Left, frame, func(left interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			cur := left
			e.chainCompare(cur, v.Chain, frame, cb)
		})
		return
	}
	if v.Op == ast.OpAnd {
		e.evalExpr(v.Left, frame, func(left interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			if !Truthy(left) {
				cb(left, nil)
				return
			}
			e.evalExpr(v.Right, frame, cb)
		})
		return
	}
	if v.Op == ast.OpOr {
		e.evalExpr(v.Left, frame, func(left interface{}, p *Poison) {
			if p != nil {
				cb(nil, p)
				return
			}
			if Truthy(left) {
				cb(left, nil)
				return
			}
			e.evalExpr(v.Right, frame, cb)
		})
		return
	}
	e.evalExpr(v.Left, frame, func(left interface{}, p *Poison) {
		if p != nil {
			cb(nil, p)
			return
		}
		e.evalExpr(v.Right, frame, func(right interface{}, p2 *Poison) {
			if p2 != nil {
				cb(nil, p2)
				return
			}
			val, err := arith(v.Op, left, right)
			if err != nil {
				cb(nil, e.fail(v, "%v", err))
				return
			}
			cb(val, nil)
		})
	})
}

func (e *Eval) chainCompare(left interface{}, chain []*ast.CompareOperand, frame *Frame, cb func(interface{}, *Poison)) {
	if len(chain) == 0 {
		cb(true, nil)
		return
	}
	link := chain[0]
	e.evalExpr(link.Operand, frame, func(right interface{}, p *Poison) {
		if p != nil {
			cb(nil, p)
			return
		}
		if !compare(link.Op, left, right) {
			cb(false, nil)
			return
		}
		e.chainCompare(right, chain[1:], frame, cb)
	})
}

func iterate(val interface{}) ([]interface{}, []interface{}) {
	switch t := val.(type) {
	case []interface{}:
		keys := make([]interface{}, len(t))
		for i := range t {
			keys[i] = int64(i)
		}
		return t, keys
	case map[string]interface{}:
		items := make([]interface{}, 0, len(t))
		keys := make([]interface{}, 0, len(t))
		for k, v := range t {
			keys = append(keys, k)
			items = append(items, v)
		}
		return items, keys
	default:
		return nil, nil
	}
}

func index(target interface{}, key interface{}) interface{} {
	switch t := target.(type) {
	case map[string]interface{}:
		return t[ToString(key)]
	case []interface{}:
		i, ok := toInt(key)
		if !ok || i < 0 || int(i) >= len(t) {
			return nil
		}
		return t[i]
	default:
		return nil
	}
}

func toInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case float64:
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
	default:
		return 0, false
	}
}

func negate(v interface{}) interface{} {
	switch t := v.(type) {
	case int64:
		return -t
	case float64:
		return -t
	default:
		return v
	}
}

func equal(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func compare(op string, a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case "==":
			return af == bf
		case "!=":
			return af != bf
		case "<":
			return af < bf
		case "<=":
			return af <= bf
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case "==":
			return as == bs
		case "!=":
			return as != bs
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		case ">=":
			return as >= bs
		}
	}
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

func arith(op ast.BinOpKind, left, right interface{}) (interface{}, error) {
	if op == ast.OpConcat {
		return ToString(left) + ToString(right), nil
	}
	if op == ast.OpIn {
		items, _ := iterate(right)
		for _, it := range items {
			if equal(it, left) {
				return true, nil
			}
		}
		return false, nil
	}
	if op == ast.OpIs {
		return equal(left, right), nil
	}
	if op == ast.OpAdd {
		if ls, ok := left.(string); ok {
			return ls + ToString(right), nil
		}
	}
	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, fmt.Errorf("arithmetic on non-numeric operand")
	}
	_, lIsInt := left.(int64)
	_, rIsInt := right.(int64)
	bothInt := lIsInt && rIsInt

	switch op {
	case ast.OpAdd:
		if bothInt {
			return left.(int64) + right.(int64), nil
		}
		return lf + rf, nil
	case ast.OpSub:
		if bothInt {
			return left.(int64) - right.(int64), nil
		}
		return lf - rf, nil
	case ast.OpMul:
		if bothInt {
			return left.(int64) * right.(int64), nil
		}
		return lf * rf, nil
	case ast.OpDiv:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	case ast.OpFloorDiv:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Floor(lf / rf), nil
	case ast.OpMod:
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(lf, rf), nil
	case ast.OpPow:
		return math.Pow(lf, rf), nil
	}
	return nil, fmt.Errorf("unsupported binary operator")
}

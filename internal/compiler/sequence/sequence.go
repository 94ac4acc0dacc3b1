// Package sequence implements the compile-time analysis of the `!`
// sequence marker (spec.md §4.3): it walks a parsed template, rejects
// markers that don't root in a context variable reached through a static
// path, and assigns each surviving marker the lock key its runtime
// serialization will block on.
package sequence

import (
	"fmt"

	"github.com/btouchard/cascada/internal/compiler/ast"
	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
	"github.com/btouchard/cascada/internal/compiler/utils"
)

// Analyze walks root looking for sequence-marked calls, validates each one
// and fills in its LockKey/PathSegments. It returns every violation found;
// callers should treat a non-empty list as a compile failure the same way
// the parser's own syntax errors are treated.
func Analyze(templateName string, root *ast.Root) *cerrors.ErrorList {
	a := &analyzer{
		templateName: templateName,
		errs:         cerrors.NewErrorList(),
		scopes:       []map[string]bool{{}},
	}
	a.walkList(root.Children)
	return a.errs
}

type analyzer struct {
	templateName string
	errs         *cerrors.ErrorList
	scopes       []map[string]bool
	macroDepth   int
}

func (a *analyzer) pos(n ast.Node) cerrors.Position {
	p := n.NodePos()
	return cerrors.Position{File: a.templateName, Line: p.Line, Column: p.Column}
}

func (a *analyzer) fail(n ast.Node, format string, args ...interface{}) {
	a.errs.AddErr(cerrors.NewSequenceError(a.pos(n), fmt.Sprintf(format, args...)))
}

func (a *analyzer) pushScope() { a.scopes = append(a.scopes, map[string]bool{}) }
func (a *analyzer) popScope()  { a.scopes = a.scopes[:len(a.scopes)-1] }

func (a *analyzer) bind(name string) {
	if name == "" {
		return
	}
	a.scopes[len(a.scopes)-1][name] = true
}

// isShadowed reports whether name is bound by any enclosing set/var/macro
// param/loop var/import alias rather than originating from the render
// context. extern-declared names are never bound here, so they stay legal
// roots (ast.Extern's purpose is precisely to whitelist them).
func (a *analyzer) isShadowed(name string) bool {
	for i := len(a.scopes) - 1; i >= 0; i-- {
		if a.scopes[i][name] {
			return true
		}
	}
	return false
}

// walkList walks statements in the current scope, without opening a new one.
func (a *analyzer) walkList(nodes []ast.Node) {
	for _, n := range nodes {
		a.walkNode(n)
	}
}

// walkBody opens a fresh scope for a nested block body, so bindings made
// inside it (set/var/for-loop vars) don't leak to sibling blocks.
func (a *analyzer) walkBody(nl *ast.NodeList) {
	if nl == nil {
		return
	}
	a.pushScope()
	a.walkList(nl.Children)
	a.popScope()
}

func setTargetName(target ast.Expression) (string, bool) {
	if s, ok := target.(*ast.Symbol); ok {
		return s.Name, true
	}
	return "", false
}

func (a *analyzer) walkNode(n ast.Node) {
	switch v := n.(type) {
	case *ast.Root:
		a.walkList(v.Children)
	case *ast.NodeList:
		a.walkList(v.Children)
	case *ast.TemplateData:
		// no expressions
	case *ast.Output:
		a.walkExpr(v.Expr)
	case *ast.Do:
		a.walkExpr(v.Expr)
	case *ast.Option:
		a.walkExpr(v.Value)
	case *ast.Extern:
		// Declares legal `!` roots; deliberately not bound as locals.
	case *ast.Set:
		a.walkExpr(v.Value)
		a.walkBody(v.Body)
		if name, ok := setTargetName(v.Target); ok {
			a.bind(name)
		}
	case *ast.Var:
		a.walkExpr(v.Value)
		a.walkBody(v.Body)
		a.bind(v.Name)
	case *ast.SetPath:
		a.walkExpr(v.Value)
		a.walkExpr(v.Target)
	case *ast.If:
		a.walkExpr(v.Cond)
		a.walkBody(v.Then)
		for _, e := range v.Elifs {
			a.walkExpr(e.Cond)
			a.walkBody(e.Body)
		}
		a.walkBody(v.Else)
	case *ast.For:
		a.walkExpr(v.Iterable)
		a.pushScope()
		a.bind(v.KeyName)
		a.bind(v.ValueName)
		if v.Body != nil {
			a.walkList(v.Body.Children)
		}
		a.popScope()
		a.walkBody(v.Else)
	case *ast.While:
		a.walkExpr(v.Cond)
		a.walkBody(v.Body)
	case *ast.AsyncEach:
		a.walkExpr(v.Iterable)
		a.pushScope()
		a.bind(v.KeyName)
		a.bind(v.ValueName)
		if v.Body != nil {
			a.walkList(v.Body.Children)
		}
		a.popScope()
		a.walkBody(v.Else)
	case *ast.AsyncAll:
		a.walkExpr(v.Iterable)
		a.pushScope()
		a.bind(v.KeyName)
		a.bind(v.ValueName)
		if v.Body != nil {
			a.walkList(v.Body.Children)
		}
		a.popScope()
		a.walkBody(v.Else)
	case *ast.Switch:
		a.walkExpr(v.Subject)
		for _, c := range v.Cases {
			a.walkExpr(c.Value)
			a.walkBody(c.Body)
		}
		a.walkBody(v.Default)
	case *ast.Macro:
		a.macroDepth++
		a.pushScope()
		for _, p := range v.Params {
			a.bind(p)
		}
		for _, d := range v.Defaults {
			a.walkExpr(d)
		}
		if v.Body != nil {
			a.walkList(v.Body.Children)
		}
		a.popScope()
		a.macroDepth--
	case *ast.Call:
		a.walkExpr(v.Target)
		for _, arg := range v.Args {
			a.walkExpr(arg)
		}
		a.walkKwargs(v.Kwargs)
		a.walkBody(v.Body)
	case *ast.Block:
		a.walkBody(v.Body)
	case *ast.Extends:
		a.walkExpr(v.Template)
	case *ast.Include:
		a.walkExpr(v.Template)
	case *ast.Import:
		a.walkExpr(v.Template)
		a.bind(v.Name)
	case *ast.FromImport:
		a.walkExpr(v.Template)
		for _, name := range v.Names {
			bound := name
			if alias, ok := v.Aliases[name]; ok {
				bound = alias
			}
			a.bind(bound)
		}
	case *ast.OutputCommand:
		// The handler/method are registered names, not a context-variable
		// expression chain, so §4.3's root-rooting rule doesn't apply here;
		// only its path/arg sub-expressions need walking.
		for _, seg := range v.Path {
			if seg.Expr != nil {
				a.walkExpr(seg.Expr)
			}
		}
		for _, arg := range v.Args {
			a.walkExpr(arg)
		}
	case *ast.Guard:
		a.walkBody(v.Body)
		a.walkBody(v.Recover)
	case *ast.Capture:
		a.walkBody(v.Body)
	}
}

func (a *analyzer) walkKwargs(k *ast.KeywordArgs) {
	if k == nil {
		return
	}
	for _, val := range k.Values {
		a.walkExpr(val)
	}
}

func (a *analyzer) walkExpr(e ast.Expression) {
	if e == nil {
		return
	}
	switch v := e.(type) {
	case *ast.Literal, *ast.Symbol, *ast.Super:
		// leaves
	case *ast.Group:
		a.walkExpr(v.Expr)
	case *ast.Array:
		for _, item := range v.Items {
			a.walkExpr(item)
		}
	case *ast.Dict:
		for _, p := range v.Pairs {
			a.walkExpr(p.Key)
			a.walkExpr(p.Value)
		}
	case *ast.KeywordArgs:
		for _, val := range v.Values {
			a.walkExpr(val)
		}
	case *ast.LookupVal:
		a.walkExpr(v.Target)
		if !v.Dot {
			a.walkExpr(v.Key)
		}
	case *ast.FunCall:
		a.walkExpr(v.Target)
		for _, arg := range v.Args {
			a.walkExpr(arg)
		}
		a.walkKwargs(v.Kwargs)
		if v.Seq.Kind != ast.SeqNone {
			a.checkFunCallSequence(v)
		}
	case *ast.Filter:
		a.walkExpr(v.Target)
		for _, arg := range v.Args {
			a.walkExpr(arg)
		}
		a.walkKwargs(v.Kwargs)
	case *ast.CallExtension:
		// No Target to validate: extensions are invoked by registered
		// name, never by a context-variable path. Walked defensively for
		// the day the compiler starts lowering marked calls onto this node.
		for _, arg := range v.Args {
			a.walkExpr(arg)
		}
		a.walkKwargs(v.Kwargs)
	case *ast.UnaryOp:
		a.walkExpr(v.Operand)
	case *ast.BinOp:
		a.walkExpr(v.Left)
		a.walkExpr(v.Right)
		for _, c := range v.Chain {
			a.walkExpr(c.Operand)
		}
	case *ast.InlineIf:
		a.walkExpr(v.Cond)
		a.walkExpr(v.Then)
		a.walkExpr(v.Else)
	case *ast.Caller:
		for _, arg := range v.Args {
			a.walkExpr(arg)
		}
	case *ast.Capture:
		a.walkBody(v.Body)
	}
}

// checkFunCallSequence validates and keys a single sequence-marked call.
//
// The grammar only ever places `!` right after a call's closing paren
// (parser.parseCall), so there is no way to mark a bare intermediate
// segment of a chain the way spec.md's shared-prefix object-path example
// does (`obj!.a.f()` / `obj!.b.g()` both locking "obj"); that form simply
// cannot be written. What the grammar does support is a whole marked call
// locking on its own static target chain, which is what this checks.
func (a *analyzer) checkFunCallSequence(call *ast.FunCall) {
	if a.macroDepth > 0 {
		a.fail(call, "sequence marker '!' is not allowed inside a macro body")
		return
	}

	var (
		root     *ast.Symbol
		segments []string
		ok       bool
	)

	switch call.Seq.Kind {
	case ast.SeqMethod:
		lv, isLookup := call.Target.(*ast.LookupVal)
		if !isLookup {
			ok = false
			break
		}
		root, segments, ok = a.staticChain(lv.Target)
	case ast.SeqObjectPath:
		root, segments, ok = a.staticChain(call.Target)
	}

	if !ok || root == nil {
		a.fail(call, "sequence marker '!' must follow a static path rooted in a context variable")
		return
	}

	if a.isShadowed(root.Name) {
		a.fail(call, "sequence marker root %q is shadowed by a local binding, not a context variable", root.Name)
		return
	}

	if a.hasNestedMarker(call.Target) {
		a.fail(call, "a sequence-marked call cannot itself chain off another marked call")
		return
	}

	full := append([]string{root.Name}, segments...)
	call.Seq.PathSegments = full
	if call.Seq.Kind == ast.SeqMethod {
		call.Seq.LockKey = utils.NormalizeMethodKey(full, call.Seq.Method)
	} else {
		call.Seq.LockKey = utils.NormalizeObjectPath(full)
	}
}

// staticChain walks a dotted LookupVal chain down to its root Symbol,
// collecting segment names root-to-leaf. A dynamic (bracket, Dot==false)
// segment anywhere in the chain fails the whole walk: every segment
// between the root and a marked call must be a literal name.
func (a *analyzer) staticChain(e ast.Expression) (*ast.Symbol, []string, bool) {
	switch v := e.(type) {
	case *ast.Symbol:
		return v, nil, true
	case *ast.LookupVal:
		if !v.Dot {
			return nil, nil, false
		}
		lit, isLit := v.Key.(*ast.Literal)
		if !isLit {
			return nil, nil, false
		}
		name, isStr := lit.Value.(string)
		if !isStr {
			return nil, nil, false
		}
		root, segs, ok := a.staticChain(v.Target)
		if !ok {
			return nil, nil, false
		}
		return root, append(segs, name), true
	default:
		return nil, nil, false
	}
}

// hasNestedMarker reports whether e's own target subtree already contains
// another sequence-marked call, catching chains like `obj.f()!.g()!` where
// two distinct calls are each individually marked.
func (a *analyzer) hasNestedMarker(e ast.Expression) bool {
	switch v := e.(type) {
	case *ast.LookupVal:
		return a.hasNestedMarker(v.Target)
	case *ast.FunCall:
		if v.Seq.Kind != ast.SeqNone {
			return true
		}
		return a.hasNestedMarker(v.Target)
	default:
		return false
	}
}

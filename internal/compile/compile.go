// Package compile lowers a parsed template into a Program: the AST
// annotated with frame membership, per-name write counts, and async
// flavor (spec.md §4.2). The runtime walks the annotated tree directly —
// there is no separate bytecode, the Program IS the evaluator plan.
package compile

import (
	"github.com/btouchard/cascada/internal/compiler/ast"
	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
	"github.com/btouchard/cascada/internal/compiler/sequence"
)

// FrameInfo is the compiled annotation attached to every lexical scope
// (Root, a block body, a macro body, a loop body, a capture body, ...).
type FrameInfo struct {
	ID          int
	Parent      *FrameInfo
	WriteCounts map[string]int
	Async       bool
}

func newFrame(id int, parent *FrameInfo) *FrameInfo {
	return &FrameInfo{ID: id, Parent: parent, WriteCounts: map[string]int{}}
}

// recordWrite propagates a write to name up to the frame that binds it:
// the nearest frame (self or ancestor) whose WriteCounts already tracks
// the name, or self if none does yet (first write establishes the
// binding frame, matching `set`/`var`'s lexical-scoping rules).
func (f *FrameInfo) recordWrite(name string) {
	for cur := f; cur != nil; cur = cur.Parent {
		if _, tracked := cur.WriteCounts[name]; tracked {
			cur.WriteCounts[name]++
			return
		}
	}
	f.WriteCounts[name]++
}

// Program is the compiled evaluator plan the runtime executes.
type Program struct {
	TemplateName string
	Root         *ast.Root
	Frames       map[ast.Node]*FrameInfo
}

// FrameOf returns the frame a node was compiled into, or nil if Compile
// never visited it (e.g. it's outside the AST this Program was built from).
func (p *Program) FrameOf(n ast.Node) *FrameInfo {
	return p.Frames[n]
}

// Compile runs the sequence-marker analysis and then a single annotation
// pass that assigns frames, aggregates write counts, and flips the Async
// flavor bit on every node capable of suspending.
func Compile(templateName string, root *ast.Root) (*Program, *cerrors.ErrorList) {
	errs := sequence.Analyze(templateName, root)
	if errs.HasErrors() {
		return nil, errs
	}

	c := &compiler{
		errs:   cerrors.NewErrorList(),
		frames: map[ast.Node]*FrameInfo{},
		binds:  []map[string]bool{{}},
	}
	rootFrame := newFrame(0, nil)
	c.frames[root] = rootFrame
	c.walkList(root.Children, rootFrame)

	return &Program{TemplateName: templateName, Root: root, Frames: c.frames}, c.errs
}

type compiler struct {
	errs     *cerrors.ErrorList
	frames   map[ast.Node]*FrameInfo
	nextID   int
	binds    []map[string]bool // lexical bindings, for write-count targeting only
}

func (c *compiler) newChildFrame(parent *FrameInfo) *FrameInfo {
	c.nextID++
	return newFrame(c.nextID, parent)
}

func (c *compiler) pushScope() { c.binds = append(c.binds, map[string]bool{}) }
func (c *compiler) popScope()  { c.binds = c.binds[:len(c.binds)-1] }
func (c *compiler) bind(name string) {
	if name != "" {
		c.binds[len(c.binds)-1][name] = true
	}
}

// walkBody compiles a nested body under its own frame, wired as a child of
// parent. forceAsync, when true, forces the child frame itself to be marked
// async regardless of what's found inside (used for Macro bodies;
// AsyncEach/AsyncAll build their frames without going through walkBody).
func (c *compiler) walkBody(nl *ast.NodeList, parent *FrameInfo, forceAsync bool) *FrameInfo {
	if nl == nil {
		return nil
	}
	child := c.newChildFrame(parent)
	c.frames[nl] = child
	if forceAsync {
		child.Async = true
	}
	c.pushScope()
	c.walkList(nl.Children, child)
	c.popScope()
	if child.Async {
		parent.Async = true
	}
	return child
}

func (c *compiler) walkList(nodes []ast.Node, frame *FrameInfo) {
	for _, n := range nodes {
		c.walkNode(n, frame)
	}
}

// markAsync walks e, flips the Async flavor bit on every call-shaped node
// it finds (FunCall, Filter, CallExtension — conservative: spec.md treats
// "FunCall on an unknown symbol" as async-capable, and templates have no
// static registry of which context functions are synchronous, so every
// call is a potential suspension point), and reports whether it found any.
func markAsync(e ast.Expression) bool {
	found := false
	var walk func(ast.Expression)
	walk = func(e ast.Expression) {
		if e == nil {
			return
		}
		switch v := e.(type) {
		case *ast.FunCall:
			found = true
			v.Async = true
			walk(v.Target)
			for _, arg := range v.Args {
				walk(arg)
			}
			walkKwargs(v.Kwargs)
		case *ast.Filter:
			found = true
			v.Async = true
			walk(v.Target)
			for _, arg := range v.Args {
				walk(arg)
			}
			walkKwargs(v.Kwargs)
		case *ast.CallExtension:
			found = true
			v.Async = true
			for _, arg := range v.Args {
				walk(arg)
			}
			walkKwargs(v.Kwargs)
		case *ast.LookupVal:
			walk(v.Target)
			if !v.Dot {
				walk(v.Key)
			}
		case *ast.Group:
			walk(v.Expr)
		case *ast.UnaryOp:
			walk(v.Operand)
		case *ast.BinOp:
			walk(v.Left)
			walk(v.Right)
			for _, op := range v.Chain {
				walk(op.Operand)
			}
		case *ast.InlineIf:
			walk(v.Cond)
			walk(v.Then)
			walk(v.Else)
		case *ast.Array:
			for _, it := range v.Items {
				walk(it)
			}
		case *ast.Dict:
			for _, p := range v.Pairs {
				walk(p.Key)
				walk(p.Value)
			}
		}
	}
	walk(e)
	return found
}

func walkKwargs(k *ast.KeywordArgs) {
	// KeywordArgs.Values may themselves contain calls; markAsync is only
	// ever invoked from contexts that already hold the outer found/Async
	// bookkeeping, so nested kwargs just need their own nodes flagged.
	if k == nil {
		return
	}
	for _, val := range k.Values {
		markAsync(val)
	}
}

func setTargetName(target ast.Expression) (string, bool) {
	if s, ok := target.(*ast.Symbol); ok {
		return s.Name, true
	}
	return "", false
}

func (c *compiler) walkNode(n ast.Node, frame *FrameInfo) {
	c.frames[n] = frame
	switch v := n.(type) {
	case *ast.Output:
		if markAsync(v.Expr) {
			frame.Async = true
		}
	case *ast.Do:
		if markAsync(v.Expr) {
			frame.Async = true
		}
	case *ast.Option:
		// no runtime write, nothing to annotate beyond presence
	case *ast.Extern:
	case *ast.Set:
		if markAsync(v.Value) {
			frame.Async = true
		}
		c.walkBody(v.Body, frame, false)
		if name, ok := setTargetName(v.Target); ok {
			frame.recordWrite(name)
			c.bind(name)
		}
	case *ast.Var:
		if markAsync(v.Value) {
			frame.Async = true
		}
		c.walkBody(v.Body, frame, false)
		frame.recordWrite(v.Name)
		c.bind(v.Name)
	case *ast.SetPath:
		if markAsync(v.Value) {
			frame.Async = true
		}
	case *ast.If:
		if markAsync(v.Cond) {
			v.Async = true
			frame.Async = true
		}
		c.walkBody(v.Then, frame, false)
		for _, e := range v.Elifs {
			if markAsync(e.Cond) {
				v.Async = true
				frame.Async = true
			}
			c.walkBody(e.Body, frame, false)
		}
		c.walkBody(v.Else, frame, false)
	case *ast.For:
		if markAsync(v.Iterable) {
			v.Async = true
			frame.Async = true
		}
		child := c.newChildFrame(frame)
		c.frames[v.Body] = child
		c.pushScope()
		c.bind(v.KeyName)
		c.bind(v.ValueName)
		c.walkList(v.Body.Children, child)
		c.popScope()
		if child.Async {
			v.Async = true
			frame.Async = true
		}
		c.walkBody(v.Else, frame, false)
	case *ast.While:
		if markAsync(v.Cond) {
			frame.Async = true
		}
		c.walkBody(v.Body, frame, false)
	case *ast.AsyncEach:
		frame.Async = true
		child := c.newChildFrame(frame)
		c.frames[v.Body] = child
		child.Async = true
		c.pushScope()
		c.bind(v.KeyName)
		c.bind(v.ValueName)
		c.walkList(v.Body.Children, child)
		c.popScope()
		c.walkBody(v.Else, frame, false)
	case *ast.AsyncAll:
		frame.Async = true
		child := c.newChildFrame(frame)
		c.frames[v.Body] = child
		child.Async = true
		c.pushScope()
		c.bind(v.KeyName)
		c.bind(v.ValueName)
		c.walkList(v.Body.Children, child)
		c.popScope()
		c.walkBody(v.Else, frame, false)
	case *ast.Switch:
		if markAsync(v.Subject) {
			frame.Async = true
		}
		for _, cs := range v.Cases {
			if markAsync(cs.Value) {
				frame.Async = true
			}
			c.walkBody(cs.Body, frame, false)
		}
		c.walkBody(v.Default, frame, false)
	case *ast.Macro:
		c.walkBody(v.Body, frame, true)
	case *ast.Call:
		c.walkBody(v.Body, frame, false)
	case *ast.Block:
		c.walkBody(v.Body, frame, false)
	case *ast.Extends:
		frame.Async = true
	case *ast.Include:
		frame.Async = true
	case *ast.Import:
		frame.Async = true
		c.bind(v.Name)
	case *ast.FromImport:
		frame.Async = true
		for _, name := range v.Names {
			bound := name
			if alias, ok := v.Aliases[name]; ok {
				bound = alias
			}
			c.bind(bound)
		}
	case *ast.OutputCommand:
		for _, arg := range v.Args {
			if markAsync(arg) {
				frame.Async = true
			}
		}
	case *ast.Guard:
		c.walkBody(v.Body, frame, false)
		c.walkBody(v.Recover, frame, false)
	case *ast.Capture:
		c.walkBody(v.Body, frame, false)
	}
}

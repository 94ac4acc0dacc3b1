// Package ast defines the closed AST node set of spec.md §3.1. Every node
// embeds Base for its source position; nodes that may be a sequence-marker
// call site (FunCall, CallExtension, OutputCommand) additionally carry a
// SequenceInfo filled in by the sequence analyzer (internal/compiler/sequence).
//
// The If/IfAsync, Filter/FilterAsync, and CallExtension/CallExtensionAsync
// pairs named in spec.md §3.1 are the same shape differing only in whether
// the node's subtree can suspend; rather than duplicate three structs for a
// single boolean, each pair is one struct with an Async field set by the
// compiler's frame-insertion pass (internal/compile). See DESIGN.md.
package ast

import "github.com/btouchard/cascada/internal/compiler/token"

// Node is the base interface for all AST nodes.
type Node interface {
	NodePos() token.Position
}

// Base carries source position, embedded by every concrete node so the
// NodePos() method does not need to be repeated on each struct.
type Base struct {
	Pos token.Position
}

func (b Base) NodePos() token.Position { return b.Pos }

// Statement is implemented by nodes that can appear directly in a NodeList
// body (tags, output, assignments). Expression is implemented by nodes that
// produce a value. Some nodes are both (e.g. Capture can sit in either
// position depending on where `var X = capture ...` lowers it).
type Statement interface {
	Node
	statementNode()
}

type Expression interface {
	Node
	expressionNode()
}

// SequenceKind classifies a `!` marker at a call site (spec.md §4.3).
type SequenceKind int

const (
	SeqNone SequenceKind = iota
	SeqObjectPath
	SeqMethod
)

// SequenceInfo is attached to a call-site node once the sequence analyzer
// has validated it. LockKey is the normalized key used by the runtime's
// FIFO sequence locks; PathSegments is the static root..segment chain the
// marker was placed on (segment 0 is the context-variable root).
type SequenceInfo struct {
	Kind         SequenceKind
	LockKey      string
	PathSegments []string
	Method       string // set only when Kind == SeqMethod
}

func (s SequenceInfo) Sequential() bool { return s.Kind != SeqNone }

// ============ ROOT / STRUCTURE ============

// Root is the top of a compiled template's AST.
type Root struct {
	Base
	Children []Node
}

func (*Root) statementNode() {}

// NodeList is a generic ordered sequence of statements, used for tag bodies
// (if-branch, for-body, macro-body, ...).
type NodeList struct {
	Base
	Children []Node
}

func (*NodeList) statementNode() {}

// TemplateData is a literal chunk of template text between tags.
type TemplateData struct {
	Base
	Value string
}

func (*TemplateData) statementNode() {}

// ============ LITERALS / SYMBOLS ============

// Literal is a constant: number, string, boolean, or null.
type Literal struct {
	Base
	Value interface{} // int64, float64, string, bool, or nil
}

func (*Literal) expressionNode() {}

// Symbol is an identifier reference (variable name).
type Symbol struct {
	Base
	Name string
}

func (*Symbol) expressionNode() {}

// Group is a parenthesized expression, kept as its own node so precedence
// is explicit in the tree instead of implicit in parse order.
type Group struct {
	Base
	Expr Expression
}

func (*Group) expressionNode() {}

// ============ COMPOUND LITERALS ============

// Array is an array literal `[a, b, c]`.
type Array struct {
	Base
	Items []Expression
}

func (*Array) expressionNode() {}

// Pair is a single `key: value` entry of a Dict.
type Pair struct {
	Base
	Key   Expression
	Value Expression
}

func (*Pair) expressionNode() {}

// Dict is a dictionary literal `{k: v, ...}`.
type Dict struct {
	Base
	Pairs []*Pair
}

func (*Dict) expressionNode() {}

// KeywordArgs holds the `name=value` keyword arguments of a call, kept
// ordered (insertion order matters for some filters).
type KeywordArgs struct {
	Base
	Names  []string
	Values []Expression
}

func (*KeywordArgs) expressionNode() {}

// ============ ACCESS / CALLS ============

// LookupVal is property/index access: `a.b` or `a[b]`.
type LookupVal struct {
	Base
	Target Expression
	Key    Expression // Literal string for `.b`, arbitrary expr for `[b]`
	Dot    bool       // true if written as `.b` (static segment candidate)
}

func (*LookupVal) expressionNode() {}

// FunCall is a function or method call `target(args, kwargs)`. It is a
// sequence-marker call site: Seq is populated by the sequence analyzer,
// Async by the compiler's frame pass.
type FunCall struct {
	Base
	Target Expression
	Args   []Expression
	Kwargs *KeywordArgs // nil if no keyword args
	Spread bool         // true if the call used *args/**kwargs spread
	Async  bool
	Seq    SequenceInfo
}

func (*FunCall) expressionNode() {}

// Filter is `value | name(args)`. Async is set by the compiler when the
// registered filter is asynchronous (spec.md's Filter/FilterAsync pair).
type Filter struct {
	Base
	Target Expression
	Name   string
	Args   []Expression
	Kwargs *KeywordArgs
	Async  bool
}

func (*Filter) expressionNode() {}

// CallExtension invokes a registered extension's Run method. Async mirrors
// the compiler's frame-insertion decision (CallExtension/CallExtensionAsync
// pair in spec.md).
type CallExtension struct {
	Base
	Extension string
	Method    string
	Args      []Expression
	Kwargs    *KeywordArgs
	Async     bool
	Seq       SequenceInfo
}

func (*CallExtension) expressionNode() {}

// ============ OPERATORS ============

type UnaryOpKind int

const (
	OpNot UnaryOpKind = iota
	OpNeg
	OpPos
)

type UnaryOp struct {
	Base
	Op      UnaryOpKind
	Operand Expression
}

func (*UnaryOp) expressionNode() {}

type BinOpKind int

const (
	OpAdd BinOpKind = iota
	OpSub
	OpMul
	OpDiv
	OpFloorDiv
	OpMod
	OpPow
	OpConcat // `~`
	OpAnd
	OpOr
	OpIn
	OpIs
	OpCompare // chained comparison; Chain carries the linked operands
)

type BinOp struct {
	Base
	Op    BinOpKind
	Left  Expression
	Right Expression        // nil when Op == OpCompare
	Chain []*CompareOperand // populated only when Op == OpCompare
}

func (*BinOp) expressionNode() {}

// CompareOperand is one `OP operand` link of a chained comparison
// (`a < b <= c`), Op being one of ==, !=, <, >, <=, >=.
type CompareOperand struct {
	Base
	Op      string
	Operand Expression
}

func (*CompareOperand) expressionNode() {}

// InlineIf is the ternary `E1 if C else E2`.
type InlineIf struct {
	Base
	Cond Expression
	Then Expression
	Else Expression // nil if omitted (undefined when Cond is false)
}

func (*InlineIf) expressionNode() {}

// ============ CONTROL FLOW TAGS ============

// ElifBranch is one `{% elif %}` arm of an If.
type ElifBranch struct {
	Cond Expression
	Body *NodeList
}

// If represents if/elif/else; Async distinguishes the suspend-capable
// variant spec.md calls IfAsync.
type If struct {
	Base
	Cond  Expression
	Then  *NodeList
	Elifs []*ElifBranch
	Else  *NodeList // nil if no else
	Async bool
}

func (*If) statementNode() {}

// For iterates over an array, dict, or iterable sequentially. Else runs if
// the iterable was empty (Jinja-family `for ... else`).
type For struct {
	Base
	KeyName   string // loop variable name, or key name for `for k, v in d`
	ValueName string // value name; empty for single-variable for
	Iterable  Expression
	Body      *NodeList
	Else      *NodeList
	Async     bool
}

func (*For) statementNode() {}

// While runs its body sequentially while Cond holds; per spec.md §4.4 its
// iterations are never parallelized even when Cond/Body may suspend.
type While struct {
	Base
	Cond Expression
	Body *NodeList
}

func (*While) statementNode() {}

// AsyncEach iterates with a bounded degree of concurrency (Limit == 0
// means unlimited, deferring to the environment's render-wide default).
type AsyncEach struct {
	Base
	KeyName   string
	ValueName string
	Iterable  Expression
	Body      *NodeList
	Else      *NodeList
	Limit     int
}

func (*AsyncEach) statementNode() {}

// AsyncAll fans out every iteration concurrently, preserving per-iteration
// output position.
type AsyncAll struct {
	Base
	KeyName   string
	ValueName string
	Iterable  Expression
	Body      *NodeList
	Else      *NodeList
}

func (*AsyncAll) statementNode() {}

// Switch/Case.
type Switch struct {
	Base
	Subject Expression
	Cases   []*Case
	Default *NodeList
}

func (*Switch) statementNode() {}

type Case struct {
	Base
	Value Expression
	Body  *NodeList
}

// Macro declares a callable template fragment.
type Macro struct {
	Base
	Name     string
	Params   []string
	Defaults map[string]Expression // default value per param name, optional
	Body     *NodeList
}

func (*Macro) statementNode() {}

// Caller represents the `caller()` invocation available inside a macro
// body that was invoked through `{% call %}`.
type Caller struct {
	Base
	Args []Expression
}

func (*Caller) expressionNode() {}

// Call is the `{% call macro(args) %}...{% endcall %}` tag: Body becomes
// the callee's `caller()`.
type Call struct {
	Base
	Target Expression
	Args   []Expression
	Kwargs *KeywordArgs
	Body   *NodeList
}

func (*Call) statementNode() {}

// ============ TEMPLATE COMPOSITION ============

// Import binds a module's exported macros under Name.
type Import struct {
	Base
	Template    Expression
	Name        string
	WithContext bool
	WithoutCtx  bool
}

func (*Import) statementNode() {}

// FromImport selectively imports named macros/vars, optionally aliased.
type FromImport struct {
	Base
	Template    Expression
	Names       []string
	Aliases     map[string]string
	WithContext bool
	WithoutCtx  bool
}

func (*FromImport) statementNode() {}

// Block is a named, overridable section used by template inheritance.
type Block struct {
	Base
	Name string
	Body *NodeList
}

func (*Block) statementNode() {}

// Super represents a `{{ super() }}` call inside an overriding Block.
type Super struct {
	Base
	Block string
}

func (*Super) expressionNode() {}

// Extends redirects rendering to a parent template.
type Extends struct {
	Base
	Template Expression
}

func (*Extends) statementNode() {}

// Include renders another template inline. IgnoreMissing makes a
// not-found loader result render as nothing instead of erroring.
type Include struct {
	Base
	Template      Expression
	IgnoreMissing bool
}

func (*Include) statementNode() {}

// ============ ASSIGNMENT ============

// Set assigns Value to Target (a Symbol or a dotted path) in the current
// binding frame; visible to subsequent reads in lexical order. Body is
// non-nil for the `set X = capture ... endset` form, in which case Value
// is nil and the captured output of Body becomes the assigned value.
type Set struct {
	Base
	Target Expression
	Value  Expression
	Body   *NodeList // non-nil for the capture form
	Focus  string    // non-empty if `:focus` was given on a capture form
}

func (*Set) statementNode() {}

// Var declares a new binding (script `var X = EXPR`), distinct from Set's
// possible reassignment of an existing path. Body mirrors Set's capture form.
type Var struct {
	Base
	Name  string
	Value Expression
	Body  *NodeList
	Focus string
}

func (*Var) statementNode() {}

// Extern declares that the listed names originate from the render context,
// making them legal `!` sequence roots (spec.md §4.3).
type Extern struct {
	Base
	Names []string
}

func (*Extern) statementNode() {}

// Capture is the nested output scope produced by `capture [:focus]
// ... endcapture`, used in expression position wherever a captured string
// is needed (e.g. inside Set/Var's Body, or standalone via `{{ capture ...
// endcapture }}`).
type Capture struct {
	Base
	Focus string
	Body  *NodeList
}

func (*Capture) statementNode() {}
func (*Capture) expressionNode() {}

// Option sets a render-wide option, today only `focus`.
type Option struct {
	Base
	Key   string
	Value Expression
}

func (*Option) statementNode() {}

// Output writes an expression's value to the text handler in lexical
// order (`{{ expr }}`).
type Output struct {
	Base
	Expr      Expression
	TrimLeft  bool
	TrimRight bool
}

func (*Output) statementNode() {}

// Do evaluates an expression purely for its side effects; its value is
// discarded.
type Do struct {
	Base
	Expr Expression
}

func (*Do) statementNode() {}

// PathSegment is one element of a data-assembler path (spec.md §4.6.2):
// either a quoted static property name, a bare expression (`[expr]`), or
// the last-element marker `[]`.
type PathSegment struct {
	Name   string     // set when this is a quoted static property
	Expr   Expression // set when this is a dynamic `[expr]` segment
	IsLast bool       // true for the literal "[]" marker
}

// OutputCommand invokes a handler's command method against a data path:
// `handler.method(pathLiteral, args...)`, emitted by `@`-commands in
// script mode or used directly in templates.
type OutputCommand struct {
	Base
	Handler string
	Method  string
	Path    []PathSegment
	Args    []Expression
	Seq     SequenceInfo
}

func (*OutputCommand) statementNode() {}

// SetPath is a path-assignment on an existing template-scope identifier
// (`a.b.c = expr`). Per spec.md §9 Open Question 3, its `= capture` form
// is rejected by the parser; Body is always nil today.
type SetPath struct {
	Base
	Target *LookupVal
	Value  Expression
	Body   *NodeList
}

func (*SetPath) statementNode() {}

// ============ GUARD / RECOVER ============

// Guard compiles `guard * ... recover ... endguard` into a try-scope
// (spec.md §4.2 item 6); Selector is the `*` or a path filter (reserved for
// future narrowing, currently always "*").
type Guard struct {
	Base
	Selector string
	Body     *NodeList
	Recover  *NodeList // nil if no recover arm (poison then propagates)
}

func (*Guard) statementNode() {}

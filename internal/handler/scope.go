package handler

// CommandHandler is implemented by every handler an OutputCommand can
// address: the built-in `data` and `text` handlers, and any
// addCommandHandlerClass-registered user handler (spec §4.6.3). Apply
// runs one command; Revert undoes everything this handler has applied in
// its owning scope (spec §4.6.5).
type CommandHandler interface {
	Apply(method string, path []PathElem, args []interface{}) (interface{}, error)
	Revert()
}

// ReturnValuer is implemented by a class/factory-shaped user handler that
// contributes a value to the render Result via getReturnValue() (spec
// §4.6.3).
type ReturnValuer interface {
	ReturnValue() interface{}
}

// Scope is the set of handler instances live for one render, or one
// nested capture block (spec §4.7). Each capture gets its own Scope with
// fresh data/text handlers so @_._revert() and focus projection only ever
// see that scope's own writes; sibling and enclosing scopes are
// untouched, matching spec §4.6.5's revert semantics.
type Scope struct {
	Parent   *Scope
	handlers map[string]CommandHandler
	order    []string
	focus    string
}

// NewScope creates a scope with the two built-in handlers registered.
// parent is nil for the top-level render scope, or the enclosing scope
// for a nested capture.
func NewScope(parent *Scope) *Scope {
	s := &Scope{Parent: parent, handlers: map[string]CommandHandler{}}
	s.Register("data", NewDataHandler())
	s.Register("text", NewTextHandler())
	return s
}

// Register adds or replaces the handler bound to name. User handlers
// (spec §4.6.3's addCommandHandlerClass equivalent) are registered once,
// on the top-level render scope; captures reach them through Get.
func (s *Scope) Register(name string, h CommandHandler) {
	if _, exists := s.handlers[name]; !exists {
		s.order = append(s.order, name)
	}
	s.handlers[name] = h
}

// Get looks up the handler bound to name, falling back to the enclosing
// scope when this one has no local registration — a capture block only
// ever registers fresh `data`/`text` instances of its own (spec §4.7), so
// a user handler registered once at the top level stays addressable from
// inside nested captures instead of disappearing the moment a capture
// opens a child scope.
func (s *Scope) Get(name string) (CommandHandler, bool) {
	if h, ok := s.handlers[name]; ok {
		return h, true
	}
	if s.Parent != nil {
		return s.Parent.Get(name)
	}
	return nil, false
}

func (s *Scope) Data() *DataHandler {
	h, _ := s.handlers["data"].(*DataHandler)
	return h
}

func (s *Scope) Text() *TextHandler {
	h, _ := s.handlers["text"].(*TextHandler)
	return h
}

// RevertAll reverts every handler registered in this scope, in
// registration order — the `@_._revert()` command.
func (s *Scope) RevertAll() {
	for _, name := range s.order {
		s.handlers[name].Revert()
	}
}

// Revert reverts a single named handler — the `@handler._revert()`
// command. Returns false if name isn't registered in this scope.
func (s *Scope) Revert(name string) bool {
	h, ok := s.handlers[name]
	if !ok {
		return false
	}
	h.Revert()
	return true
}

// SetFocus records the `{% option focus=NAME %}` / capture `:focus`
// projection target for this scope.
func (s *Scope) SetFocus(name string) { s.focus = name }

// FocusName returns the scope's focus target, if one was set.
func (s *Scope) FocusName() (string, bool) { return s.focus, s.focus != "" }

// Result is the structured outcome of a render or a capture scope (spec
// §3.2, §6.3): the assembled text, the `data` handler's tree, and every
// other registered handler's return value (populated for handlers
// implementing ReturnValuer).
type Result struct {
	Text     string
	Data     interface{}
	Handlers map[string]interface{}
}

// Focus projects Result down to a single field the way `option
// focus=NAME` or a capture's `:focus` does (spec §4.6.4): "data" returns
// the data root unwrapped, "text" returns the text string, any other name
// must match a registered handler's return value (nil/undefined if that
// handler never ran).
func (r Result) Focus(name string) interface{} {
	switch name {
	case "data":
		return r.Data
	case "text":
		return r.Text
	default:
		return r.Handlers[name]
	}
}

// Snapshot assembles this scope's Result. literalText is the plain
// `{{ }}`/template-text output accumulated outside the command surface
// (spec.md's ordered TextBuffer channel); it is prefixed onto whatever
// the `text` handler's own append commands produced, since both feed the
// same logical output stream.
func (s *Scope) Snapshot(literalText string) Result {
	res := Result{Handlers: map[string]interface{}{}}
	if d := s.Data(); d != nil {
		res.Data = d.Root()
	}
	res.Text = literalText
	if t := s.Text(); t != nil {
		res.Text += t.String()
	}
	for _, name := range s.order {
		if name == "data" || name == "text" {
			continue
		}
		if rv, ok := s.handlers[name].(ReturnValuer); ok {
			res.Handlers[name] = rv.ReturnValue()
		}
	}
	return res
}

package handler

import "fmt"

// MethodObject is the "Object" user-handler shape (spec §4.6.3): commands
// dispatch to CallMethod directly against a single long-lived value. User
// handlers dispatch purely on method name and arguments — unlike the
// built-in `data` handler, they are not path-addressed, so OutputCommand's
// Path is not threaded through ObjectHandler at all.
type MethodObject interface {
	CallMethod(method string, args []interface{}) (interface{}, error)
}

// Factory is the "Class/factory" user-handler shape: it is called once
// per NewFactoryHandler to produce a fresh instance, which the environment
// does once per render.
type Factory func() MethodObject

// ObjectHandler adapts a MethodObject to CommandHandler, serving both the
// Object shape (construct once, wrap the same instance for every
// render) and the Class/factory shape (NewFactoryHandler per render).
type ObjectHandler struct {
	obj MethodObject
}

func NewObjectHandler(obj MethodObject) *ObjectHandler {
	return &ObjectHandler{obj: obj}
}

func NewFactoryHandler(f Factory) *ObjectHandler {
	return &ObjectHandler{obj: f()}
}

func (h *ObjectHandler) Apply(method string, _ []PathElem, args []interface{}) (interface{}, error) {
	return h.obj.CallMethod(method, args)
}

// Revert calls the backing object's own Revert if it implements one.
// The registration protocol only guarantees Revert is invoked, not that
// arbitrary side effects can be undone — a handler wanting journaled
// revert semantics implements its own undo log the way DataHandler does.
func (h *ObjectHandler) Revert() {
	if r, ok := h.obj.(interface{ Revert() }); ok {
		r.Revert()
	}
}

// ReturnValue surfaces the object's getReturnValue() contribution to the
// render Result, when it has one (spec §4.6.3's Class/factory shape).
func (h *ObjectHandler) ReturnValue() interface{} {
	if rv, ok := h.obj.(ReturnValuer); ok {
		return rv.ReturnValue()
	}
	return nil
}

// CallableHandler is the "Callable" user-handler shape: `@name(args)`
// invokes fn directly with no method name (spec §4.6.3). The companion
// `.prop.method(args)` dispatch form isn't part of CommandHandler.Apply —
// OutputCommand carries exactly one Method per call site, so that form
// resolves through ordinary LookupVal/FunCall evaluation against whatever
// context value the callable's registration exposed, not through this
// handler.
type CallableHandler struct {
	fn func(args []interface{}) (interface{}, error)
}

func NewCallableHandler(fn func(args []interface{}) (interface{}, error)) *CallableHandler {
	return &CallableHandler{fn: fn}
}

func (h *CallableHandler) Apply(method string, _ []PathElem, args []interface{}) (interface{}, error) {
	if method != "" && method != "set" {
		return nil, fmt.Errorf("callable handler does not support method %q", method)
	}
	return h.fn(args)
}

func (h *CallableHandler) Revert() {}

package handler

import "testing"

type stubMethodObject struct {
	calls    []string
	reverted bool
}

func (s *stubMethodObject) CallMethod(method string, args []interface{}) (interface{}, error) {
	s.calls = append(s.calls, method)
	return len(args), nil
}

func (s *stubMethodObject) Revert() { s.reverted = true }

func (s *stubMethodObject) ReturnValue() interface{} { return s.calls }

func TestObjectHandlerDispatchesByMethodName(t *testing.T) {
	obj := &stubMethodObject{}
	h := NewObjectHandler(obj)

	n, err := h.Apply("greet", nil, []interface{}{"a", "b"})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 2 {
		t.Fatalf("return = %v, want 2", n)
	}
	if len(obj.calls) != 1 || obj.calls[0] != "greet" {
		t.Fatalf("calls = %v", obj.calls)
	}
}

func TestObjectHandlerRevertDelegatesWhenSupported(t *testing.T) {
	obj := &stubMethodObject{}
	h := NewObjectHandler(obj)
	h.Revert()
	if !obj.reverted {
		t.Fatalf("expected backing object's Revert to be called")
	}
}

func TestObjectHandlerReturnValueDelegatesWhenSupported(t *testing.T) {
	obj := &stubMethodObject{}
	h := NewObjectHandler(obj)
	_, _ = h.Apply("x", nil, nil)
	rv, ok := h.ReturnValue().([]string)
	if !ok || len(rv) != 1 || rv[0] != "x" {
		t.Fatalf("return value = %#v", h.ReturnValue())
	}
}

func TestNewFactoryHandlerBuildsFreshInstance(t *testing.T) {
	var built int
	factory := func() MethodObject {
		built++
		return &stubMethodObject{}
	}
	NewFactoryHandler(factory)
	NewFactoryHandler(factory)
	if built != 2 {
		t.Fatalf("factory invoked %d times, want 2", built)
	}
}

func TestCallableHandlerInvokesFnDirectly(t *testing.T) {
	h := NewCallableHandler(func(args []interface{}) (interface{}, error) {
		return len(args), nil
	})
	n, err := h.Apply("", nil, []interface{}{1, 2, 3})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 3 {
		t.Fatalf("return = %v, want 3", n)
	}
}

func TestCallableHandlerRejectsUnsupportedMethod(t *testing.T) {
	h := NewCallableHandler(func(args []interface{}) (interface{}, error) { return nil, nil })
	if _, err := h.Apply("other", nil, nil); err == nil {
		t.Fatalf("expected error for non-empty, non-set method name")
	}
}

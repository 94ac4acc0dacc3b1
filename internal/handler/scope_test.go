package handler

import "testing"

func TestScopeSnapshotFocusProjectsDataAndText(t *testing.T) {
	s := NewScope(nil)
	d := s.Data()
	if _, err := d.Apply("set", []PathElem{{Key: "x"}}, []interface{}{int64(1)}); err != nil {
		t.Fatalf("data set: %v", err)
	}
	_, _ = s.Text().Apply("append", nil, []interface{}{"hi"})

	res := s.Snapshot("literal-")
	if res.Text != "literal-hi" {
		t.Fatalf("text = %q, want %q", res.Text, "literal-hi")
	}
	dataMap, ok := res.Data.(map[string]interface{})
	if !ok || dataMap["x"] != int64(1) {
		t.Fatalf("data = %v", res.Data)
	}
	if res.Focus("text") != "literal-hi" {
		t.Fatalf("Focus(text) = %v", res.Focus("text"))
	}
}

type stubReturnHandler struct{ val interface{} }

func (s *stubReturnHandler) Apply(string, []PathElem, []interface{}) (interface{}, error) {
	return nil, nil
}
func (s *stubReturnHandler) Revert()                  {}
func (s *stubReturnHandler) ReturnValue() interface{} { return s.val }

func TestScopeGetFallsBackToParent(t *testing.T) {
	parent := NewScope(nil)
	parent.Register("audit", &stubReturnHandler{val: "from-parent"})
	child := NewScope(parent)

	h, ok := child.Get("audit")
	if !ok {
		t.Fatalf("expected child scope to find parent-registered handler")
	}
	if rv, ok := h.(ReturnValuer); !ok || rv.ReturnValue() != "from-parent" {
		t.Fatalf("unexpected handler: %#v", h)
	}
}

func TestScopeRevertAllOnlyTouchesOwnHandlers(t *testing.T) {
	parent := NewScope(nil)
	parent.Register("audit", &stubReturnHandler{val: "parent-value"})
	child := NewScope(parent)

	child.RevertAll()

	h, _ := parent.Get("audit")
	if rv := h.(ReturnValuer).ReturnValue(); rv != "parent-value" {
		t.Fatalf("parent handler affected by child RevertAll: %v", rv)
	}
}

func TestResultFocusNamedHandler(t *testing.T) {
	res := Result{
		Text:     "t",
		Data:     map[string]interface{}{"a": int64(1)},
		Handlers: map[string]interface{}{"audit": []interface{}{"entry"}},
	}
	if v := res.Focus("audit"); v == nil {
		t.Fatalf("Focus(audit) = nil")
	}
	if v := res.Focus("missing"); v != nil {
		t.Fatalf("Focus(missing) = %v, want nil", v)
	}
}

package handler

import "testing"

func TestTextHandlerAppendOrdersByCall(t *testing.T) {
	h := NewTextHandler()
	if _, err := h.Apply("append", nil, []interface{}{"a"}); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if _, err := h.Apply("append", nil, []interface{}{"b"}); err != nil {
		t.Fatalf("append b: %v", err)
	}
	if h.String() != "ab" {
		t.Fatalf("text = %q, want %q", h.String(), "ab")
	}
}

func TestTextHandlerRejectsPath(t *testing.T) {
	h := NewTextHandler()
	_, err := h.Apply("append", []PathElem{{Key: "x"}}, []interface{}{"a"})
	if err == nil {
		t.Fatalf("expected error for text handler given a path")
	}
}

func TestTextHandlerRevertClearsAppends(t *testing.T) {
	h := NewTextHandler()
	_, _ = h.Apply("append", nil, []interface{}{"a"})
	_, _ = h.Apply("append", nil, []interface{}{"b"})
	h.Revert()
	if h.String() != "" {
		t.Fatalf("text after revert = %q, want empty", h.String())
	}
}

func TestCoerceTextArrayJoinsWithComma(t *testing.T) {
	h := NewTextHandler()
	_, _ = h.Apply("append", nil, []interface{}{[]interface{}{"x", "y"}})
	if h.String() != "x,y" {
		t.Fatalf("text = %q, want %q", h.String(), "x,y")
	}
}

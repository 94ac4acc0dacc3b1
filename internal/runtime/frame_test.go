package runtime

import "testing"

func TestFrameLookupWalksParentChain(t *testing.T) {
	root := NewFrame(nil)
	root.Declare("x", ResolvedSlot(1))
	child := NewFrame(root)

	slot, ok := child.Lookup("x")
	if !ok {
		t.Fatal("expected child frame to find x via its parent")
	}
	_, v, _, _ := slot.Peek()
	if v != 1 {
		t.Fatalf("v = %v, want 1", v)
	}
}

func TestFrameDeclareShadowsParent(t *testing.T) {
	root := NewFrame(nil)
	root.Declare("x", ResolvedSlot(1))
	child := NewFrame(root)
	child.Declare("x", ResolvedSlot(2))

	slot, _ := child.Lookup("x")
	_, v, _, _ := slot.Peek()
	if v != 2 {
		t.Fatalf("v = %v, want 2 (child binding shadows parent)", v)
	}

	parentSlot, _ := root.Lookup("x")
	_, pv, _, _ := parentSlot.Peek()
	if pv != 1 {
		t.Fatalf("parent v = %v, want 1 (unaffected by shadowing)", pv)
	}
}

func TestFrameLookupMissingReturnsFalse(t *testing.T) {
	root := NewFrame(nil)
	if _, ok := root.Lookup("missing"); ok {
		t.Fatal("expected lookup of an undeclared name to fail")
	}
}

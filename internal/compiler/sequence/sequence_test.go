package sequence

import (
	"testing"

	"github.com/btouchard/cascada/internal/compiler/ast"
	"github.com/btouchard/cascada/internal/compiler/parser"
)

// findMarkedCall descends into the first Output expression of root looking
// for the sequence-marked FunCall nested under it.
func findMarkedCall(t *testing.T, root *ast.Root) *ast.FunCall {
	t.Helper()
	for _, n := range root.Children {
		out, ok := n.(*ast.Output)
		if !ok {
			continue
		}
		if call := findCallIn(out.Expr); call != nil {
			return call
		}
	}
	t.Fatal("no FunCall found in template output")
	return nil
}

func findCallIn(e ast.Expression) *ast.FunCall {
	switch v := e.(type) {
	case *ast.FunCall:
		if v.Seq.Kind != ast.SeqNone {
			return v
		}
		return findCallIn(v.Target)
	case *ast.LookupVal:
		return findCallIn(v.Target)
	default:
		return nil
	}
}

func TestAnalyzeMethodSequenceLocksOnObjectChain(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{{ result.items.push(value=1)! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if errs.HasErrors() {
		t.Fatalf("unexpected sequence errors: %s", errs.String())
	}
	call := findMarkedCall(t, root)
	if call.Seq.LockKey != "result.items::push" {
		t.Errorf("LockKey = %q, want %q", call.Seq.LockKey, "result.items::push")
	}
}

func TestAnalyzeObjectPathSequenceLocksOnCallTarget(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{{ result()! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if errs.HasErrors() {
		t.Fatalf("unexpected sequence errors: %s", errs.String())
	}
	call := findMarkedCall(t, root)
	if call.Seq.LockKey != "result" {
		t.Errorf("LockKey = %q, want %q", call.Seq.LockKey, "result")
	}
}

func TestAnalyzeRejectsShadowedRoot(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{% set result = 1 %}{{ result.save()! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if !errs.HasErrors() {
		t.Fatal("expected an error for a sequence root shadowed by a local set")
	}
}

func TestAnalyzeAllowsExternDeclaredRoot(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{% extern result %}{{ result.save()! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if errs.HasErrors() {
		t.Fatalf("unexpected sequence errors for an extern-declared root: %s", errs.String())
	}
}

func TestAnalyzeRejectsDynamicPathSegment(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{{ result.items[0]()! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if !errs.HasErrors() {
		t.Fatal("expected an error for a sequence path with a dynamic bracket segment")
	}
}

func TestAnalyzeRejectsMarkerInsideMacro(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{% macro m() %}{{ result.save()! }}{% endmacro %}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if !errs.HasErrors() {
		t.Fatal("expected an error for a sequence marker used inside a macro body")
	}
}

func TestAnalyzeRejectsChainedMarkedCalls(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{{ result.items.push(value=1)!.save()! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if !errs.HasErrors() {
		t.Fatal("expected an error for a call chained off another sequence-marked call")
	}
}

func TestAnalyzeLeavesUnmarkedCallsAlone(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{{ result.items.push(value=1) }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	errs := Analyze("t.njk", root)
	if errs.HasErrors() {
		t.Fatalf("unexpected sequence errors: %s", errs.String())
	}
}

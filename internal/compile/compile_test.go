package compile

import (
	"testing"

	"github.com/btouchard/cascada/internal/compiler/ast"
	"github.com/btouchard/cascada/internal/compiler/parser"
)

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	root, perrs := parser.Parse("t.njk", src)
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	prog, cerrs := Compile("t.njk", root)
	if cerrs.HasErrors() {
		t.Fatalf("unexpected compile errors: %s", cerrs.String())
	}
	return prog
}

func TestCompileMarksOutputCallAsync(t *testing.T) {
	prog := mustCompile(t, "{{ user.fetch() }}")
	rootFrame := prog.FrameOf(prog.Root)
	if !rootFrame.Async {
		t.Fatal("expected root frame to be marked async due to a call expression")
	}
}

func TestCompilePlainLiteralOutputStaysSync(t *testing.T) {
	prog := mustCompile(t, "{{ 1 + 2 }}")
	rootFrame := prog.FrameOf(prog.Root)
	if rootFrame.Async {
		t.Fatal("expected root frame to stay sync for a pure literal expression")
	}
}

func TestCompileAggregatesWriteCountsAtBindingFrame(t *testing.T) {
	src := "{% set total = 0 %}{% if x %}{% set total = total + 1 %}{% endif %}"
	root, perrs := parser.Parse("t.njk", src)
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	prog, cerrs := Compile("t.njk", root)
	if cerrs.HasErrors() {
		t.Fatalf("unexpected compile errors: %s", cerrs.String())
	}
	rootFrame := prog.FrameOf(prog.Root)
	if rootFrame.WriteCounts["total"] != 2 {
		t.Errorf("WriteCounts[total] = %d, want 2 (both sets bind to the frame of the first)", rootFrame.WriteCounts["total"])
	}
}

func TestCompileForLoopOpensChildFrame(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{% for x in items %}{{ x }}{% endfor %}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	prog, cerrs := Compile("t.njk", root)
	if cerrs.HasErrors() {
		t.Fatalf("unexpected compile errors: %s", cerrs.String())
	}
	var forNode *ast.For
	for _, n := range root.Children {
		if f, ok := n.(*ast.For); ok {
			forNode = f
		}
	}
	if forNode == nil {
		t.Fatal("expected a For node in the parsed template")
	}
	bodyFrame := prog.FrameOf(forNode.Body)
	rootFrame := prog.FrameOf(prog.Root)
	if bodyFrame == nil || bodyFrame == rootFrame {
		t.Fatal("expected the for-loop body to compile into its own child frame")
	}
	if bodyFrame.Parent != rootFrame {
		t.Error("expected the for-loop body frame's parent to be the root frame")
	}
}

func TestCompileAsyncEachForcesAsyncFrame(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{% each x in items limit: 2 %}{{ x }}{% endeach %}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	prog, cerrs := Compile("t.njk", root)
	if cerrs.HasErrors() {
		t.Fatalf("unexpected compile errors: %s", cerrs.String())
	}
	rootFrame := prog.FrameOf(prog.Root)
	if !rootFrame.Async {
		t.Fatal("expected asynceach to force the enclosing frame async")
	}
}

func TestCompilePropagatesSequenceErrors(t *testing.T) {
	root, perrs := parser.Parse("t.njk", "{% set result = 1 %}{{ result.save()! }}")
	if perrs.HasErrors() {
		t.Fatalf("unexpected parse errors: %s", perrs.String())
	}
	_, cerrs := Compile("t.njk", root)
	if !cerrs.HasErrors() {
		t.Fatal("expected Compile to surface the sequence analyzer's shadowed-root error")
	}
}

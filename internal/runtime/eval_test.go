package runtime

import (
	"context"
	"testing"

	"github.com/btouchard/cascada/internal/compile"
	"github.com/btouchard/cascada/internal/compiler/parser"
)

func renderSrc(t *testing.T, src string, ctx map[string]*ValueSlot) string {
	t.Helper()
	root, perrs := parser.Parse("t.njk", src)
	if perrs.HasErrors() {
		t.Fatalf("parse errors: %s", perrs.String())
	}
	prog, cerrs := compile.Compile("t.njk", root)
	if cerrs.HasErrors() {
		t.Fatalf("compile errors: %s", cerrs.String())
	}
	frame := NewFrame(nil)
	for k, v := range ctx {
		frame.Declare(k, v)
	}
	ev := NewEval("t.njk", NewScheduler(context.Background()), NewLockManager())
	out, err := ev.Render(prog.Root, frame)
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	return out
}

func TestEvalLiteralOutput(t *testing.T) {
	out := renderSrc(t, "hello {{ 1 + 2 }} world", nil)
	if out != "hello 3 world" {
		t.Fatalf("out = %q", out)
	}
}

func TestEvalIfElse(t *testing.T) {
	out := renderSrc(t, "{% if 0 %}a{% else %}b{% endif %}", nil)
	if out != "b" {
		t.Fatalf("out = %q, want b", out)
	}
}

func TestEvalForLoop(t *testing.T) {
	items := ResolvedSlot([]interface{}{int64(1), int64(2), int64(3)})
	out := renderSrc(t, "{% for x in items %}{{ x }},{% endfor %}", map[string]*ValueSlot{"items": items})
	if out != "1,2,3," {
		t.Fatalf("out = %q", out)
	}
}

func TestEvalSetThenOutput(t *testing.T) {
	out := renderSrc(t, "{% set total = 1 + 2 %}{{ total }}", nil)
	if out != "3" {
		t.Fatalf("out = %q, want 3", out)
	}
}

func TestEvalFunCallViaCallable(t *testing.T) {
	fetch := Callable(func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return "fetched", nil
	})
	out := renderSrc(t, "{{ fetch() }}", map[string]*ValueSlot{"fetch": ResolvedSlot(fetch)})
	if out != "fetched" {
		t.Fatalf("out = %q, want fetched", out)
	}
}

func TestEvalSequenceLockSerializesCalls(t *testing.T) {
	var order []int
	push := Callable(func(args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		n, _ := toInt(args[0])
		order = append(order, int(n))
		return nil, nil
	})
	root, perrs := parser.Parse("t.njk",
		"{% extern result %}{{ result.push(1)! }}{{ result.push(2)! }}")
	if perrs.HasErrors() {
		t.Fatalf("parse errors: %s", perrs.String())
	}
	prog, cerrs := compile.Compile("t.njk", root)
	if cerrs.HasErrors() {
		t.Fatalf("compile errors: %s", cerrs.String())
	}
	frame := NewFrame(nil)
	frame.Declare("result", ResolvedSlot(map[string]interface{}{"push": push}))
	ev := NewEval("t.njk", NewScheduler(context.Background()), NewLockManager())
	if _, err := ev.Render(prog.Root, frame); err != nil {
		t.Fatalf("render error: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}

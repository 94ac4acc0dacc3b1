package parser

import (
	"testing"

	"github.com/btouchard/cascada/internal/compiler/ast"
)

// TestFullTemplateIntegration parses a template mixing text, output
// expressions, control flow, a macro, a concurrent loop, and an output
// command, and walks the resulting tree end to end.
func TestFullTemplateIntegration(t *testing.T) {
	input := `<ul>
{%- macro badge(label, cls="muted") -%}
  <span class="{{ cls }}">{{ label }}</span>
{%- endmacro -%}
{% for item in items %}
  <li>
    {{ badge(item.name, cls="primary") }}
    {% if item.price > 100 %}
      expensive
    {% elif item.price > 10 %}
      normal
    {% else %}
      cheap
    {% endif %}
  </li>
{% else %}
  <li>no items</li>
{% endfor %}
{% each url in urls limit: 4 %}
  {% output_command cache.set(url)! %}
{% endeach %}
</ul>`

	root, errs := Parse("catalog.tmpl", input)
	if errs.HasErrors() {
		t.Fatalf("unexpected parse errors: %v", errs)
	}

	var macro *ast.Macro
	var forLoop *ast.For
	var eachLoop *ast.AsyncEach
	for _, n := range root.Children {
		switch v := n.(type) {
		case *ast.Macro:
			macro = v
		case *ast.For:
			forLoop = v
		case *ast.AsyncEach:
			eachLoop = v
		}
	}

	if macro == nil {
		t.Fatal("expected a macro node at the top level")
	}
	if macro.Name != "badge" {
		t.Errorf("macro name = %q, want %q", macro.Name, "badge")
	}
	if len(macro.Params) != 2 || macro.Params[0] != "label" || macro.Params[1] != "cls" {
		t.Errorf("macro params = %v", macro.Params)
	}
	if _, ok := macro.Defaults["cls"]; !ok {
		t.Error("expected a default value for 'cls'")
	}

	if forLoop == nil {
		t.Fatal("expected a for node at the top level")
	}
	if forLoop.ValueName != "item" {
		t.Errorf("for loop value name = %q, want %q", forLoop.ValueName, "item")
	}
	if forLoop.Else == nil || len(forLoop.Else.Children) == 0 {
		t.Error("expected a non-empty for/else body")
	}

	var ifNode *ast.If
	for _, n := range forLoop.Body.Children {
		if v, ok := n.(*ast.If); ok {
			ifNode = v
		}
	}
	if ifNode == nil {
		t.Fatal("expected an if node inside the for body")
	}
	if len(ifNode.Elifs) != 1 {
		t.Fatalf("expected 1 elif branch, got %d", len(ifNode.Elifs))
	}
	if ifNode.Else == nil {
		t.Error("expected an else branch on the if")
	}
	cond, ok := ifNode.Cond.(*ast.BinOp)
	if !ok || cond.Op != ast.OpCompare {
		t.Fatalf("if condition = %#v, want a compare BinOp", ifNode.Cond)
	}

	if eachLoop == nil {
		t.Fatal("expected an each (AsyncEach) node at the top level")
	}
	if eachLoop.Limit != 4 {
		t.Errorf("each limit = %d, want 4", eachLoop.Limit)
	}
	if eachLoop.ValueName != "url" {
		t.Errorf("each value name = %q, want %q", eachLoop.ValueName, "url")
	}

	var cmd *ast.OutputCommand
	for _, n := range eachLoop.Body.Children {
		if v, ok := n.(*ast.OutputCommand); ok {
			cmd = v
		}
	}
	if cmd == nil {
		t.Fatal("expected an output_command node inside the each body")
	}
	if cmd.Handler != "cache" || cmd.Method != "set" {
		t.Errorf("output command = %s.%s, want cache.set", cmd.Handler, cmd.Method)
	}
	if cmd.Seq.Kind != ast.SeqMethod {
		t.Errorf("output command sequence kind = %v, want SeqMethod", cmd.Seq.Kind)
	}
}

// TestSyntaxErrorsDoNotPreventFurtherParsing exercises the error-recovery
// path across several consecutive malformed tags.
func TestSyntaxErrorsDoNotPreventFurtherParsing(t *testing.T) {
	input := `{% if %}{% endif %}{{ }}good text`
	_, errs := Parse("broken.tmpl", input)
	if !errs.HasErrors() {
		t.Fatal("expected at least one parse error")
	}
}

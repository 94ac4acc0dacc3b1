package script

import (
	"strings"
	"testing"
)

func TestTranspilePrintStatement(t *testing.T) {
	res := Transpile("s.cs", "print user.name")
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected errors: %s", res.Errors.String())
	}
	want := "{{- user.name -}}"
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileBareAssignmentLowersToSet(t *testing.T) {
	res := Transpile("s.cs", "total = price * qty")
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected errors: %s", res.Errors.String())
	}
	want := "{%- set total = price * qty -%}"
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileVarAssignment(t *testing.T) {
	res := Transpile("s.cs", "var total = price * qty")
	want := "{%- var total = price * qty -%}"
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileBareCodeLineBecomesDo(t *testing.T) {
	res := Transpile("s.cs", "cache.warm(id)")
	want := "{%- do cache.warm(id) -%}"
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileCaptureBlockOpensAndCloses(t *testing.T) {
	src := "var summary = capture\nprint item.name\nendcapture"
	res := Transpile("s.cs", src)
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected errors: %s", res.Errors.String())
	}
	lines := strings.Split(res.Template, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 output lines, got %d: %v", len(lines), lines)
	}
	if strings.TrimSpace(lines[0]) != "{%- var summary -%}" {
		t.Errorf("line 1 = %q", lines[0])
	}
	if strings.TrimSpace(lines[2]) != "{%- endvar -%}" {
		t.Errorf("line 3 = %q", lines[2])
	}
}

func TestTranspileSetCaptureClosesWithEndset(t *testing.T) {
	src := "set summary = capture\nprint item.name\nendcapture"
	res := Transpile("s.cs", src)
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected errors: %s", res.Errors.String())
	}
	lines := strings.Split(res.Template, "\n")
	if strings.TrimSpace(lines[2]) != "{%- endset -%}" {
		t.Errorf("expected endset, got %q", lines[2])
	}
}

func TestTranspileFocusDirective(t *testing.T) {
	res := Transpile("s.cs", ":sidebar")
	want := `{%- option focus="sidebar" -%}`
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileRevertShorthand(t *testing.T) {
	for _, src := range []string{"revert", "revert()", "@._revert()", "@_._revert()"} {
		res := Transpile("s.cs", src)
		want := "{%- @_._revert() -%}"
		if strings.TrimSpace(res.Template) != want {
			t.Errorf("%q: got %q, want %q", src, res.Template, want)
		}
	}
}

func TestTranspileAtCommandCallFormPassesThrough(t *testing.T) {
	res := Transpile("s.cs", "@cache.set(url, body)!")
	want := "{%- @cache.set(url, body)! -%}"
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileAtCommandOpAssignmentForms(t *testing.T) {
	cases := map[string]string{
		"@counters.hits = 1":    "{%- @counters.set(hits, 1) -%}",
		"@counters.hits += 1":   "{%- @counters.add(hits, 1) -%}",
		"@counters.hits -= 1":   "{%- @counters.subtract(hits, 1) -%}",
		"@counters.hits++":      "{%- @counters.increment(hits) -%}",
		"@counters.hits--":      "{%- @counters.decrement(hits) -%}",
		"@flags.enabled &&= on": "{%- @flags.and(enabled, on) -%}",
	}
	for src, want := range cases {
		res := Transpile("s.cs", src)
		if res.Errors.HasErrors() {
			t.Fatalf("%q: unexpected errors: %s", src, res.Errors.String())
		}
		if strings.TrimSpace(res.Template) != want {
			t.Errorf("%q: got %q, want %q", src, res.Template, want)
		}
	}
}

func TestTranspileAtCommandEmptyPathOnRoot(t *testing.T) {
	res := Transpile("s.cs", "@data = 5")
	want := "{%- @data.set(5) -%}"
	if strings.TrimSpace(res.Template) != want {
		t.Errorf("got %q, want %q", res.Template, want)
	}
}

func TestTranspileLineContinuationJoinsAndKeepsLineCount(t *testing.T) {
	src := "if price >\n    100\nexpensive\nendif"
	res := Transpile("s.cs", src)
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected errors: %s", res.Errors.String())
	}
	lines := strings.Split(res.Template, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 output lines (stable numbering), got %d: %v", len(lines), lines)
	}
	if lines[0] != "" {
		t.Errorf("continuation's first physical line should be blank, got %q", lines[0])
	}
	if strings.TrimSpace(lines[1]) != "{%- if price > 100 -%}" {
		t.Errorf("joined if-tag landed wrong: %q", lines[1])
	}
}

func TestTranspileTrailingCommentAttachesToTag(t *testing.T) {
	res := Transpile("s.cs", "print total // running total")
	if !strings.Contains(res.Template, "{{- total -}}") {
		t.Errorf("missing print tag: %q", res.Template)
	}
	if !strings.Contains(res.Template, "{# running total -#}") {
		t.Errorf("missing comment: %q", res.Template)
	}
}

func TestTranspileBlockValidationDetectsMismatch(t *testing.T) {
	res := Transpile("s.cs", "if cond\nendfor")
	if !res.Errors.HasErrors() {
		t.Fatal("expected a block-mismatch error")
	}
}

func TestTranspileBlockValidationDetectsUnclosed(t *testing.T) {
	res := Transpile("s.cs", "if cond\nprint x")
	if !res.Errors.HasErrors() {
		t.Fatal("expected an unclosed-block error")
	}
}

func TestTranspileMiddleTagMustMatchOpenBlock(t *testing.T) {
	res := Transpile("s.cs", "while cond\ncase 1\nendwhile")
	if !res.Errors.HasErrors() {
		t.Fatal("expected a mismatched middle-tag error ('case' only pairs with 'switch')")
	}
}

func TestTranspileIfElifElseEndifRoundTrips(t *testing.T) {
	src := "if a > b\nprint a\nelif b > a\nprint b\nelse\nprint 0\nendif"
	res := Transpile("s.cs", src)
	if res.Errors.HasErrors() {
		t.Fatalf("unexpected errors: %s", res.Errors.String())
	}
}

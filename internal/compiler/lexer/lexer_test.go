package lexer

import (
	"testing"

	"github.com/btouchard/cascada/internal/compiler/token"
)

func collect(t *testing.T, input string) []token.Token {
	t.Helper()
	l := New(input)
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return toks
}

func TestPlainTextHasNoTags(t *testing.T) {
	toks := collect(t, "hello world")
	if len(toks) != 2 {
		t.Fatalf("got %d tokens, want 2 (TEXT, EOF)", len(toks))
	}
	if toks[0].Type != token.TEXT || toks[0].Literal != "hello world" {
		t.Errorf("got %+v", toks[0])
	}
	if toks[1].Type != token.EOF {
		t.Errorf("got %+v, want EOF", toks[1])
	}
}

func TestVarDelimiters(t *testing.T) {
	toks := collect(t, "{{ name }}")
	wantTypes := []token.TokenType{token.VAR_OPEN, token.IDENT, token.VAR_CLOSE, token.EOF}
	for i, want := range wantTypes {
		if toks[i].Type != want {
			t.Errorf("token %d = %v, want %v", i, toks[i].Type, want)
		}
	}
	if toks[1].Literal != "name" {
		t.Errorf("identifier = %q, want %q", toks[1].Literal, "name")
	}
}

func TestTagDelimitersAndKeywords(t *testing.T) {
	toks := collect(t, "{% if user.active %}yes{% endif %}")
	want := []token.TokenType{
		token.TAG_OPEN, token.IF, token.IDENT, token.DOT, token.IDENT, token.TAG_CLOSE,
		token.TEXT,
		token.TAG_OPEN, token.ENDIF, token.TAG_CLOSE,
		token.EOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i := range want {
		if toks[i].Type != want[i] {
			t.Errorf("token %d = %v, want %v", i, toks[i].Type, want[i])
		}
	}
}

func TestCommentDelimiters(t *testing.T) {
	toks := collect(t, "before{# this is ignored #}after")
	want := []token.TokenType{
		token.TEXT, token.COMMENT_OPEN, token.COMMENT_BODY, token.COMMENT_CLOSE, token.TEXT, token.EOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i := range want {
		if toks[i].Type != want[i] {
			t.Errorf("token %d = %v, want %v", i, toks[i].Type, want[i])
		}
	}
	if toks[2].Literal != " this is ignored " {
		t.Errorf("comment body = %q", toks[2].Literal)
	}
}

func TestTrimVariants(t *testing.T) {
	toks := collect(t, "{%- if x -%}{{- y -}}{#- z -#}")
	want := []token.TokenType{
		token.TAG_OPEN_TRIM, token.IF, token.IDENT, token.TAG_CLOSE_TRIM,
		token.VAR_OPEN_TRIM, token.IDENT, token.VAR_CLOSE_TRIM,
		token.COMMENT_OPEN_T, token.COMMENT_BODY, token.COMMENT_CLOSE_T,
		token.EOF,
	}
	if len(toks) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(toks), len(want), toks)
	}
	for i := range want {
		if toks[i].Type != want[i] {
			t.Errorf("token %d = %v, want %v", i, toks[i].Type, want[i])
		}
	}
}

func TestNumberLiterals(t *testing.T) {
	toks := collect(t, "{{ 42 }}{{ 3.14 }}")
	if toks[1].Type != token.INT || toks[1].Literal != "42" {
		t.Errorf("got %+v, want INT 42", toks[1])
	}
	if toks[4].Type != token.FLOAT || toks[4].Literal != "3.14" {
		t.Errorf("got %+v, want FLOAT 3.14", toks[4])
	}
}

func TestStringLiteralsBothQuoteStyles(t *testing.T) {
	toks := collect(t, `{{ "a\nb" }}{{ 'c' }}`)
	if toks[1].Type != token.STRING || toks[1].Literal != "a\nb" {
		t.Errorf("got %+v", toks[1])
	}
	if toks[4].Type != token.STRING || toks[4].Literal != "c" {
		t.Errorf("got %+v", toks[4])
	}
}

func TestOperatorsAndSequenceMarker(t *testing.T) {
	toks := collect(t, "{{ a == b != c <= d >= e // f ** g ~ h }}")
	var types []token.TokenType
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	mustContain := []token.TokenType{
		token.EQ, token.NOT_EQ, token.LT_EQ, token.GT_EQ, token.FLOORDIV, token.POW, token.TILDE,
	}
	for _, want := range mustContain {
		found := false
		for _, got := range types {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected token type %v somewhere in %v", want, types)
		}
	}
}

func TestBangTokenForSequenceMarker(t *testing.T) {
	toks := collect(t, "{% output_command data.set(items)! %}")
	found := false
	for _, tok := range toks {
		if tok.Type == token.BANG {
			found = true
		}
	}
	if !found {
		t.Error("expected a BANG token for the trailing '!' sequence marker")
	}
}

func TestAtCommandToken(t *testing.T) {
	toks := collect(t, "{% @data.set(x) %}")
	if toks[1].Type != token.AT {
		t.Errorf("got %+v, want AT", toks[1])
	}
}

func TestEmptyTextBetweenAdjacentTags(t *testing.T) {
	toks := collect(t, "{% if a %}{% endif %}")
	for _, tok := range toks {
		if tok.Type == token.TEXT {
			t.Errorf("did not expect a TEXT token between adjacent tags, got %+v", tok)
		}
	}
}

func TestPositionTracksLineAndColumn(t *testing.T) {
	l := New("a\n{{ b }}")
	first := l.NextToken() // TEXT "a\n"
	if first.Pos.Line != 1 {
		t.Errorf("first token line = %d, want 1", first.Pos.Line)
	}
	open := l.NextToken() // VAR_OPEN
	if open.Pos.Line != 2 {
		t.Errorf("VAR_OPEN line = %d, want 2", open.Pos.Line)
	}
	if open.Pos.Column != 1 {
		t.Errorf("VAR_OPEN column = %d, want 1", open.Pos.Column)
	}
}

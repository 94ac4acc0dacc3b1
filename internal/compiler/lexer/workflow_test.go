package lexer

import (
	"testing"

	"github.com/btouchard/cascada/internal/compiler/token"
)

// TestCompleteWorkflow exercises a template mixing all three tag families
// plus whitespace-control on both sides, end to end.
func TestCompleteWorkflow(t *testing.T) {
	input := `<ul>
{%- for item in items -%}
  <li>{{ item.name }}</li>
{%- endfor -%}
</ul>
{# a trailing comment #}`

	l := New(input)
	var types []token.TokenType
	for {
		tok := l.NextToken()
		types = append(types, tok.Type)
		if tok.Type == token.EOF {
			break
		}
	}

	want := []token.TokenType{
		token.TEXT,
		token.TAG_OPEN_TRIM, token.FOR, token.IDENT, token.IN, token.IDENT, token.TAG_CLOSE_TRIM,
		token.TEXT,
		token.VAR_OPEN, token.IDENT, token.DOT, token.IDENT, token.VAR_CLOSE,
		token.TEXT,
		token.TAG_OPEN_TRIM, token.ENDFOR, token.TAG_CLOSE_TRIM,
		token.TEXT,
		token.COMMENT_OPEN, token.COMMENT_BODY, token.COMMENT_CLOSE,
		token.EOF,
	}

	if len(types) != len(want) {
		t.Fatalf("got %d tokens, want %d\ngot:  %v\nwant: %v", len(types), len(want), types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, types[i], want[i])
		}
	}
}

func TestWhitespaceControlTrimsAdjacentText(t *testing.T) {
	l := New("A  {%- if x -%}  B  {%- endif -%}  C")

	first := l.NextToken()
	if first.Type != token.TEXT || first.Literal != "A" {
		t.Fatalf("first TEXT = %q, want %q", first.Literal, "A")
	}

	// consume the if-tag tokens
	for {
		tok := l.NextToken()
		if tok.Type == token.TAG_CLOSE_TRIM {
			break
		}
		if tok.Type == token.EOF {
			t.Fatal("hit EOF before closing the if tag")
		}
	}

	body := l.NextToken()
	if body.Type != token.TEXT || body.Literal != "B" {
		t.Fatalf("body TEXT = %q, want %q", body.Literal, "B")
	}
}

// Package script lowers the line-oriented scripting shorthand into the
// tag/output syntax the template parser already understands. It is a
// text-to-text preprocessor, not a compiler: every script line becomes
// exactly one template line, so a diagnostic raised later against the
// generated template still points at the line the author wrote.
package script

import (
	"fmt"
	"strings"

	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
	"github.com/btouchard/cascada/internal/compiler/token"
)

// Result is the outcome of transpiling one script source into template text.
type Result struct {
	Template string
	Errors   *cerrors.ErrorList
}

// opMethod maps an assignment-style operator used in an OP-assignment
// `@`-command to the data-handler method it lowers to (spec §4.6.2).
var opMethod = map[string]string{
	"=":   "set",
	"+=":  "add",
	"-=":  "subtract",
	"*=":  "multiply",
	"/=":  "divide",
	"&=":  "bitAnd",
	"|=":  "bitOr",
	"&&=": "and",
	"||=": "or",
	"++":  "increment",
	"--":  "decrement",
}

// opTokensByLength lists the multi-character operators in longest-first
// order so the scanner below always matches the longest possible token.
var opTokensByLength = []string{"&&=", "||=", "+=", "-=", "*=", "/=", "&=", "|=", "++", "--"}

var reservedBlockWords = map[string]bool{
	"if": true, "elif": true, "else": true, "endif": true,
	"for": true, "endfor": true,
	"each": true, "endeach": true,
	"while": true, "endwhile": true,
	"switch": true, "case": true, "default": true, "endswitch": true,
	"block": true, "endblock": true,
	"macro": true, "endmacro": true,
	"filter": true, "endfilter": true,
	"call": true, "endcall": true,
	"raw": true, "endraw": true,
	"verbatim": true, "endverbatim": true,
	"guard": true, "recover": true, "endguard": true,
	"extends": true, "include": true, "import": true, "from": true,
	"endcapture": true,
}

// blockFrame records the opener of a still-open block, used to validate
// that end/middle keywords close the block actually open at that point.
type blockFrame struct {
	opener token.TokenType
	word   string
	line   int
}

// Transpiler converts script-shorthand source into template text line by
// line, tracking open blocks the way the tag parser tracks them but
// working over raw text instead of an AST.
type Transpiler struct {
	name   string
	out    []string
	errs   *cerrors.ErrorList
	blocks []blockFrame
}

// Transpile lowers a complete script-mode source file into template text.
func Transpile(name, source string) *Result {
	t := &Transpiler{
		name: name,
		errs: cerrors.NewErrorList(),
	}
	t.run(source)
	for _, f := range t.blocks {
		t.addError(f.line, fmt.Sprintf("unclosed block opened by %q", f.word))
	}
	return &Result{
		Template: strings.Join(t.out, "\n"),
		Errors:   t.errs,
	}
}

func (t *Transpiler) addError(line int, msg string) {
	t.errs.Add(cerrors.Position{File: t.name, Line: line}, "script", cerrors.KindSyntax, msg)
}

func (t *Transpiler) emitLine(line int, text string) {
	for len(t.out) < line {
		t.out = append(t.out, "")
	}
	t.out[line-1] = text
}

// run scans the source line by line, joining continuation lines into a
// single logical line before lowering it, and emits one output line per
// input line so line numbers stay stable end to end.
func (t *Transpiler) run(source string) {
	lines := strings.Split(source, "\n")

	var group []string
	groupStart := 0
	depth := 0
	pending := false // prior line in the current group trails a continuation signal

	flush := func(endLine int) {
		if len(group) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(group, " "))
		t.handleLogicalLine(groupStart, endLine, joined)
		group = nil
		depth = 0
		pending = false
	}

	for i, raw := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(raw)

		joins := len(group) > 0 && (depth > 0 || pending || leadsWithContinuation(trimmed))
		if !joins {
			flush(lineNo - 1)
			groupStart = lineNo
		}

		group = append(group, trimmed)
		depth += bracketDelta(trimmed)
		pending = trailingContinues(trimmed)

		if depth <= 0 && !pending {
			flush(lineNo)
		}
	}
	flush(len(lines))
}

// handleLogicalLine lowers one joined logical line (which may span several
// physical lines) and emits blank placeholders for every physical line
// before the last one, so the final tag lands on the line it closes on.
func (t *Transpiler) handleLogicalLine(startLine, endLine int, joined string) {
	for l := startLine; l < endLine; l++ {
		t.emitLine(l, "")
	}

	code, comment := splitTrailingComment(joined)
	code = strings.TrimSpace(code)

	if code == "" {
		if comment != "" {
			t.emitLine(endLine, fmt.Sprintf("{# %s -#}", comment))
		} else {
			t.emitLine(endLine, "")
		}
		return
	}

	tag := t.lowerLine(endLine, code)
	if comment != "" {
		tag += fmt.Sprintf("{# %s -#}", comment)
	}
	t.emitLine(endLine, tag)
}

func (t *Transpiler) lowerLine(line int, code string) string {
	switch {
	case isFocusDirective(code):
		name := strings.TrimSpace(strings.TrimPrefix(code, ":"))
		return fmt.Sprintf("{%%- option focus=%s -%%}", quoteIfBare(name))
	case isRevertShorthand(code):
		return "{%- @_._revert() -%}"
	case strings.HasPrefix(code, "@"):
		return t.lowerAtCommand(line, code)
	case startsWithReservedBlockWord(code):
		return t.lowerBlockWord(line, code)
	case strings.HasPrefix(code, "print ") || code == "print":
		expr := strings.TrimSpace(strings.TrimPrefix(code, "print"))
		return fmt.Sprintf("{{- %s -}}", expr)
	case strings.HasPrefix(code, "extern "):
		names := strings.TrimSpace(strings.TrimPrefix(code, "extern"))
		return fmt.Sprintf("{%%- extern %s -%%}", names)
	case strings.HasPrefix(code, "var "):
		return t.lowerAssignment(line, code, "var", token.VAR)
	case isPlainAssignment(code):
		return t.lowerAssignment(line, code, "set", token.SET)
	default:
		return fmt.Sprintf("{%%- do %s -%%}", code)
	}
}

// lowerAssignment handles both `var NAME = EXPR` and the bare `NAME = EXPR`
// shorthand for `set`, including the `= capture [:focus]` block-opening form.
func (t *Transpiler) lowerAssignment(line int, code, keyword string, opener token.TokenType) string {
	body := code
	if keyword == "var" {
		body = strings.TrimSpace(strings.TrimPrefix(code, "var"))
	}
	eq := findTopLevelAssign(body)
	if eq < 0 {
		t.addError(line, fmt.Sprintf("expected '=' in %s statement", keyword))
		return fmt.Sprintf("{%%- do %s -%%}", code)
	}
	target := strings.TrimSpace(body[:eq])
	rhs := strings.TrimSpace(body[eq+1:])

	if rhs == "capture" || strings.HasPrefix(rhs, "capture:") || strings.HasPrefix(rhs, "capture ") {
		rest := strings.TrimSpace(strings.TrimPrefix(rhs, "capture"))
		focus := ""
		if strings.HasPrefix(rest, ":") {
			focus = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		}
		t.blocks = append(t.blocks, blockFrame{opener: opener, word: keyword, line: line})
		if focus != "" {
			return fmt.Sprintf("{%%- %s %s :%s -%%}", keyword, target, focus)
		}
		return fmt.Sprintf("{%%- %s %s -%%}", keyword, target)
	}

	return fmt.Sprintf("{%%- %s %s = %s -%%}", keyword, target, rhs)
}

// lowerBlockWord passes a block/middle/end keyword line through unchanged
// (as a tag), while maintaining and validating the open-block stack the
// same way the tag parser's own EndTags/MiddleTags tables do.
func (t *Transpiler) lowerBlockWord(line int, code string) string {
	word := firstWord(code)
	tokType := token.LookupIdent(word)

	if openers, ok := token.MiddleTags[tokType]; ok {
		if len(t.blocks) == 0 {
			t.addError(line, fmt.Sprintf("%q outside any open block", word))
		} else if top := t.blocks[len(t.blocks)-1]; !containsOpener(openers, top.opener) {
			t.addError(line, fmt.Sprintf("%q does not match open block %q", word, top.word))
		}
		return fmt.Sprintf("{%%- %s -%%}", code)
	}

	if word == "endcapture" {
		if len(t.blocks) == 0 {
			t.addError(line, "endcapture with no open capture block")
			return "{%- endvar -%}"
		}
		top := t.blocks[len(t.blocks)-1]
		t.blocks = t.blocks[:len(t.blocks)-1]
		if top.opener == token.SET {
			return "{%- endset -%}"
		}
		return "{%- endvar -%}"
	}

	for opener, end := range token.EndTags {
		if end != tokType {
			continue
		}
		if len(t.blocks) == 0 || t.blocks[len(t.blocks)-1].opener != opener {
			t.addError(line, fmt.Sprintf("mismatched %q", word))
		} else {
			t.blocks = t.blocks[:len(t.blocks)-1]
		}
		return fmt.Sprintf("{%%- %s -%%}", code)
	}

	if _, ok := token.EndTags[tokType]; ok {
		t.blocks = append(t.blocks, blockFrame{opener: tokType, word: word, line: line})
	}
	return fmt.Sprintf("{%%- %s -%%}", code)
}

// lowerAtCommand lowers a script-level `@` shorthand: either a direct call
// form (`@handler.method(args)`) passed straight through, a `@text(...)`
// append form, or an OP-assignment form (`@path OP value`) re-assembled
// into the equivalent call using the opMethod table (spec §4.6.2).
func (t *Transpiler) lowerAtCommand(line int, code string) string {
	rest := strings.TrimPrefix(code, "@")

	if strings.HasPrefix(rest, "text(") && strings.HasSuffix(rest, ")") {
		return fmt.Sprintf("{{- %s -}}", rest[len("text("):len(rest)-1])
	}

	parenIdx := firstTopLevelParen(rest)
	opIdx, opTok := findTopLevelOp(rest)

	if parenIdx >= 0 && (opIdx < 0 || parenIdx < opIdx) {
		return fmt.Sprintf("{%%- @%s -%%}", rest)
	}

	if opIdx < 0 {
		t.addError(line, fmt.Sprintf("invalid @-command: %q", code))
		return fmt.Sprintf("{%%- do %s -%%}", code)
	}

	path := strings.TrimSpace(rest[:opIdx])
	value := strings.TrimSpace(rest[opIdx+len(opTok):])
	method, ok := opMethod[opTok]
	if !ok {
		t.addError(line, fmt.Sprintf("unknown operator %q in @-command", opTok))
		return fmt.Sprintf("{%%- do %s -%%}", code)
	}

	handler := path
	remainder := ""
	if dot := strings.Index(path, "."); dot >= 0 {
		handler = path[:dot]
		remainder = path[dot+1:]
	}
	if handler == "" {
		t.addError(line, fmt.Sprintf("invalid @-command path: %q", code))
		return fmt.Sprintf("{%%- do %s -%%}", code)
	}

	args := remainder
	if value != "" {
		if args != "" {
			args += ", " + value
		} else {
			args = value
		}
	}
	return fmt.Sprintf("{%%- @%s.%s(%s) -%%}", handler, method, args)
}

func containsOpener(openers []token.TokenType, want token.TokenType) bool {
	for _, o := range openers {
		if o == want {
			return true
		}
	}
	return false
}

func firstWord(s string) string {
	i := 0
	for i < len(s) && (isIdentByte(s[i])) {
		i++
	}
	return s[:i]
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func startsWithReservedBlockWord(code string) bool {
	return reservedBlockWords[firstWord(code)]
}

func isFocusDirective(code string) bool {
	if len(code) < 2 || code[0] != ':' {
		return false
	}
	name := code[1:]
	if !isIdentStart(name[0]) {
		return false
	}
	for i := 1; i < len(name); i++ {
		if !isIdentByte(name[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isRevertShorthand(code string) bool {
	switch code {
	case "revert", "revert()", "@._revert()", "@_._revert()":
		return true
	}
	return false
}

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func isPlainAssignment(code string) bool {
	eq := findTopLevelAssign(code)
	if eq <= 0 {
		return false
	}
	lhs := strings.TrimSpace(code[:eq])
	if lhs == "" {
		return false
	}
	for _, part := range strings.Split(lhs, ",") {
		if !isIdent(strings.TrimSpace(part)) {
			return false
		}
	}
	return true
}

// findTopLevelAssign returns the index of a bare '=' not nested inside
// brackets and not part of a comparison or compound-assignment operator.
func findTopLevelAssign(code string) int {
	depth := 0
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			var prev, next byte
			if i > 0 {
				prev = code[i-1]
			}
			if i+1 < len(code) {
				next = code[i+1]
			}
			if next == '=' || isOpChar(prev) {
				continue
			}
			return i
		}
	}
	return -1
}

// findTopLevelOp locates the first compound-assignment or increment/
// decrement operator outside of any `[...]` dynamic path segment.
func findTopLevelOp(s string) (int, string) {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
			continue
		case ']':
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		for _, op := range opTokensByLength {
			if strings.HasPrefix(s[i:], op) {
				return i, op
			}
		}
		if s[i] == '=' {
			var prev, next byte
			if i > 0 {
				prev = s[i-1]
			}
			if i+1 < len(s) {
				next = s[i+1]
			}
			if next != '=' && !isOpChar(prev) {
				return i, "="
			}
		}
	}
	return -1, ""
}

func firstTopLevelParen(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '(':
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isOpChar(b byte) bool {
	switch b {
	case '=', '!', '<', '>', '+', '-', '*', '/', '&', '|':
		return true
	}
	return false
}

func quoteIfBare(s string) string {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'") {
		return s
	}
	return fmt.Sprintf("%q", s)
}

var continuationEdgeChars = "}])({[?:+-=|&.!*/%^<>~,"

var continuationTrailingOps = []string{"&&", "||", "==", "!=", ">=", "<=", "//", "**"}
var continuationKeywords = map[string]bool{"and": true, "or": true, "not": true, "in": true, "is": true}

func bracketDelta(s string) int {
	d := 0
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			d++
		case ')', ']', '}':
			d--
		}
	}
	return d
}

func trailingContinues(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	// Postfix increment/decrement ends a statement; it is not a dangling
	// binary operator even though '+'/'-' alone would signal one.
	if strings.HasSuffix(trimmed, "++") || strings.HasSuffix(trimmed, "--") {
		return false
	}
	last := trimmed[len(trimmed)-1]
	if strings.IndexByte(continuationEdgeChars, last) >= 0 {
		return true
	}
	for _, op := range continuationTrailingOps {
		if strings.HasSuffix(trimmed, op) {
			return true
		}
	}
	fields := strings.Fields(trimmed)
	if len(fields) > 0 && continuationKeywords[fields[len(fields)-1]] {
		return true
	}
	return false
}

func leadsWithContinuation(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	first := trimmed[0]
	if strings.IndexByte(continuationEdgeChars, first) >= 0 {
		return true
	}
	fields := strings.Fields(trimmed)
	if len(fields) > 0 {
		switch fields[0] {
		case "and", "or", "not", "in", "is", "else", "elif":
			return true
		}
	}
	return false
}

// splitTrailingComment separates `// ...` and `/* ... */` comments from
// code, joining multiple comments on one logical line with "; ".
func splitTrailingComment(s string) (string, string) {
	inStr := byte(0)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr != 0 {
			if c == '\\' {
				i++
			} else if c == inStr {
				inStr = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			inStr = c
		case '/':
			if i+1 >= len(s) {
				continue
			}
			if s[i+1] == '/' {
				return s[:i], strings.TrimSpace(s[i+2:])
			}
			if s[i+1] == '*' {
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return s[:i], strings.TrimSpace(s[i+2:])
				}
				comment := strings.TrimSpace(s[i+2 : i+2+end])
				rest := strings.TrimSpace(s[i+2+end+2:])
				code, more := splitTrailingComment(strings.TrimSpace(s[:i]) + " " + rest)
				if more != "" {
					comment = comment + "; " + more
				}
				return code, comment
			}
		}
	}
	return s, ""
}

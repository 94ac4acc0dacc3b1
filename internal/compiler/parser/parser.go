// Package parser turns a lexer's token stream into the closed ast.Node tree
// of spec.md §3.1. It is a two-layer parser exactly like the teacher's
// pipeline: a tag-level driver (grounded on the teacher's ParseGMXFile
// section-dispatch loop with synchronize()-style error recovery) wrapping a
// Pratt expression core (grounded on internal/compiler/script/parser.go's
// prefixParseFn/infixParseFn tables).
package parser

import (
	"fmt"

	"github.com/btouchard/cascada/internal/compiler/ast"
	cerrors "github.com/btouchard/cascada/internal/compiler/errors"
	"github.com/btouchard/cascada/internal/compiler/lexer"
	"github.com/btouchard/cascada/internal/compiler/token"
)

const (
	_ int = iota
	LOWEST
	TERNARY  // inline if/else
	OR       // or
	AND      // and
	NOTKW    // not
	COMPARE  // == != < > <= >= in is
	CONCAT   // ~
	SUM      // + -
	PRODUCT  // * / // %
	UNARY    // ! - (prefix)
	POWER    // **
	CALLPREC // . ( [ |
)

var precedences = map[token.TokenType]int{
	token.IF:       TERNARY,
	token.OR:       OR,
	token.AND:      AND,
	token.EQ:       COMPARE,
	token.NOT_EQ:   COMPARE,
	token.LT:       COMPARE,
	token.GT:       COMPARE,
	token.LT_EQ:    COMPARE,
	token.GT_EQ:    COMPARE,
	token.IN:       COMPARE,
	token.IS:       COMPARE,
	token.TILDE:    CONCAT,
	token.PLUS:     SUM,
	token.MINUS:    SUM,
	token.ASTERISK: PRODUCT,
	token.SLASH:    PRODUCT,
	token.FLOORDIV: PRODUCT,
	token.PERCENT:  PRODUCT,
	token.POW:      POWER,
	token.DOT:      CALLPREC,
	token.LPAREN:   CALLPREC,
	token.LBRACKET: CALLPREC,
	token.PIPE:     CALLPREC,
}

var compareOps = map[token.TokenType]string{
	token.EQ:     "==",
	token.NOT_EQ: "!=",
	token.LT:     "<",
	token.GT:     ">",
	token.LT_EQ:  "<=",
	token.GT_EQ:  ">=",
}

type (
	prefixParseFn func() ast.Expression
	infixParseFn  func(ast.Expression) ast.Expression
)

type Parser struct {
	l            *lexer.Lexer
	templateName string
	curToken     token.Token
	peekToken    token.Token
	errs         *cerrors.ErrorList

	prefixParseFns map[token.TokenType]prefixParseFn
	infixParseFns  map[token.TokenType]infixParseFn
}

// Parse tokenizes and parses a complete template source into an ast.Root.
func Parse(templateName, source string) (*ast.Root, *cerrors.ErrorList) {
	p := &Parser{
		l:            lexer.New(source),
		templateName: templateName,
		errs:         cerrors.NewErrorList(),
	}
	p.registerParseFns()
	p.nextToken()
	p.nextToken()

	root := &ast.Root{Base: ast.Base{Pos: p.curPos()}}
	root.Children = p.parseNodesUntil(token.EOF)
	return root, p.errs
}

func (p *Parser) registerParseFns() {
	p.prefixParseFns = map[token.TokenType]prefixParseFn{
		token.IDENT:    p.parseSymbol,
		token.INT:      p.parseLiteral,
		token.FLOAT:    p.parseLiteral,
		token.STRING:   p.parseLiteral,
		token.TRUE:     p.parseLiteral,
		token.FALSE:    p.parseLiteral,
		token.NULL:     p.parseLiteral,
		token.BANG:     p.parseUnary,
		token.NOT:      p.parseUnary,
		token.MINUS:    p.parseUnary,
		token.PLUS:     p.parseUnary,
		token.LPAREN:   p.parseGroup,
		token.LBRACKET: p.parseArray,
		token.LBRACE:   p.parseDict,
		token.CALLER:   p.parseCaller,
	}
	p.infixParseFns = map[token.TokenType]infixParseFn{
		token.PLUS:     p.parseBinary,
		token.MINUS:    p.parseBinary,
		token.ASTERISK: p.parseBinary,
		token.SLASH:    p.parseBinary,
		token.FLOORDIV: p.parseBinary,
		token.PERCENT:  p.parseBinary,
		token.POW:      p.parseBinary,
		token.TILDE:    p.parseBinary,
		token.AND:      p.parseBinary,
		token.OR:       p.parseBinary,
		token.IN:       p.parseBinary,
		token.EQ:       p.parseCompare,
		token.NOT_EQ:   p.parseCompare,
		token.LT:       p.parseCompare,
		token.GT:       p.parseCompare,
		token.LT_EQ:    p.parseCompare,
		token.GT_EQ:    p.parseCompare,
		token.IS:       p.parseIs,
		token.DOT:      p.parseDotLookup,
		token.LBRACKET: p.parseBracketLookup,
		token.LPAREN:   p.parseCall,
		token.PIPE:     p.parseFilter,
		token.IF:       p.parseInlineIf,
	}
}

func (p *Parser) Errors() *cerrors.ErrorList { return p.errs }

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curPos() token.Position {
	return token.Position{Line: p.curToken.Pos.Line, Column: p.curToken.Pos.Column, Offset: p.curToken.Pos.Offset}
}

func (p *Parser) pos() cerrors.Position {
	return cerrors.Position{File: p.templateName, Line: p.curToken.Pos.Line, Column: p.curToken.Pos.Column}
}

func (p *Parser) curIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekIs(t token.TokenType) bool { return p.peekToken.Type == t }

func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekIs(t) {
		p.nextToken()
		return true
	}
	p.addError(fmt.Sprintf("expected %s, got %s (%q)", t, p.peekToken.Type, p.peekToken.Literal))
	return false
}

func (p *Parser) addError(msg string) {
	p.errs.Add(p.pos(), "parser", cerrors.KindSyntax, msg)
}

// synchronize skips to the next tag/var open or EOF after a parse error, so
// one bad tag does not cascade into spurious errors for the rest of the
// template (mirrors the teacher's synchronize()).
func (p *Parser) synchronize() {
	for !p.curIs(token.EOF) {
		if p.curIs(token.TAG_CLOSE) || p.curIs(token.TAG_CLOSE_TRIM) || p.curIs(token.VAR_CLOSE) || p.curIs(token.VAR_CLOSE_TRIM) {
			p.nextToken()
			return
		}
		p.nextToken()
	}
}

// ============ TOP-LEVEL / BLOCK-BODY DRIVER ============

// parseNodesUntil parses statements until a tag whose keyword is in
// stopOn (or EOF) is reached, WITHOUT consuming the stopping tag; the
// caller inspects it to decide elif/else/end handling.
func (p *Parser) parseNodesUntil(stopOn ...token.TokenType) []ast.Node {
	stop := make(map[token.TokenType]bool, len(stopOn))
	for _, t := range stopOn {
		stop[t] = true
	}

	var nodes []ast.Node
	for !p.curIs(token.EOF) {
		if p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
			if kw := p.peekToken.Type; stop[kw] {
				return nodes
			}
		}
		node := p.parseNode()
		if node != nil {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

func (p *Parser) parseNode() ast.Node {
	switch p.curToken.Type {
	case token.TEXT:
		n := &ast.TemplateData{Base: ast.Base{Pos: p.curPos()}, Value: p.curToken.Literal}
		p.nextToken()
		return n
	case token.VAR_OPEN, token.VAR_OPEN_TRIM:
		return p.parseOutput()
	case token.COMMENT_OPEN, token.COMMENT_OPEN_T:
		p.skipComment()
		return nil
	case token.TAG_OPEN, token.TAG_OPEN_TRIM:
		return p.parseTag()
	default:
		p.addError(fmt.Sprintf("unexpected token %s (%q)", p.curToken.Type, p.curToken.Literal))
		p.nextToken()
		return nil
	}
}

func (p *Parser) skipComment() {
	p.nextToken() // consume open
	if p.curIs(token.COMMENT_BODY) {
		p.nextToken()
	}
	if p.curIs(token.COMMENT_CLOSE) || p.curIs(token.COMMENT_CLOSE_T) {
		p.nextToken()
	}
}

func (p *Parser) parseOutput() ast.Node {
	pos := p.curPos()
	trimLeft := p.curIs(token.VAR_OPEN_TRIM)
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	p.nextToken()
	trimRight := p.curIs(token.VAR_CLOSE_TRIM)
	if !p.curIs(token.VAR_CLOSE) && !p.curIs(token.VAR_CLOSE_TRIM) {
		p.addError("expected }} to close output expression")
		p.synchronize()
	} else {
		p.nextToken()
	}
	return &ast.Output{Base: ast.Base{Pos: pos}, Expr: expr, TrimLeft: trimLeft, TrimRight: trimRight}
}

// parseTag dispatches on the keyword following {% / {%-.
func (p *Parser) parseTag() ast.Node {
	pos := p.curPos()
	p.nextToken() // consume TAG_OPEN(_TRIM)

	switch p.curToken.Type {
	case token.IF:
		return p.parseIf(pos)
	case token.FOR:
		return p.parseFor(pos)
	case token.EACH:
		return p.parseEach(pos)
	case token.WHILE:
		return p.parseWhile(pos)
	case token.SWITCH:
		return p.parseSwitch(pos)
	case token.BLOCK:
		return p.parseBlock(pos)
	case token.MACRO:
		return p.parseMacro(pos)
	case token.CALL:
		return p.parseCallTag(pos)
	case token.SET:
		return p.parseSet(pos)
	case token.VAR:
		return p.parseVar(pos)
	case token.CAPTURE:
		return p.parseCapture(pos)
	case token.EXTERN:
		return p.parseExtern(pos)
	case token.OPTION:
		return p.parseOption(pos)
	case token.DO:
		return p.parseDo(pos)
	case token.GUARD:
		return p.parseGuard(pos)
	case token.EXTENDS:
		return p.parseExtends(pos)
	case token.INCLUDE:
		return p.parseInclude(pos)
	case token.IMPORT:
		return p.parseImport(pos)
	case token.FROM:
		return p.parseFromImport(pos)
	case token.OUTPUTCMD:
		return p.parseOutputCommand(pos)
	case token.AT:
		return p.parseAtCommand(pos)
	case token.IDENT:
		// A bare path assignment tag: {% a.b.c = expr %} (set_path sugar).
		return p.parseSetPath(pos)
	default:
		p.addError(fmt.Sprintf("unexpected tag keyword %s (%q)", p.curToken.Type, p.curToken.Literal))
		p.synchronize()
		return nil
	}
}

func (p *Parser) closeTag() {
	if p.curIs(token.TAG_CLOSE) || p.curIs(token.TAG_CLOSE_TRIM) {
		p.nextToken()
		return
	}
	p.addError("expected %} to close tag")
	p.synchronize()
}

// consumeEndTag expects {% endXXX %} for the given opener's matching end.
func (p *Parser) consumeEndTag(opener token.TokenType) {
	end := token.EndTags[opener]
	if !p.curIs(token.TAG_OPEN) && !p.curIs(token.TAG_OPEN_TRIM) {
		p.addError(fmt.Sprintf("expected {%% %s %%}", end))
		return
	}
	p.nextToken()
	if !p.curIs(end) {
		p.addError(fmt.Sprintf("expected %s, got %s", end, p.curToken.Type))
	} else {
		p.nextToken()
	}
	p.closeTag()
}

// ============ CONTROL FLOW ============

func (p *Parser) parseIf(pos token.Position) ast.Node {
	p.nextToken() // consume IF
	cond := p.parseExpression(LOWEST)
	p.nextToken()
	p.closeTag()
	then := &ast.NodeList{Children: p.parseNodesUntil(token.ELIF, token.ELSE, token.ENDIF)}

	node := &ast.If{Base: ast.Base{Pos: pos}, Cond: cond, Then: then}
	for p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
		if p.peekToken.Type == token.ELIF {
			p.nextToken() // TAG_OPEN
			p.nextToken() // ELIF
			elifCond := p.parseExpression(LOWEST)
			p.nextToken()
			p.closeTag()
			body := &ast.NodeList{Children: p.parseNodesUntil(token.ELIF, token.ELSE, token.ENDIF)}
			node.Elifs = append(node.Elifs, &ast.ElifBranch{Cond: elifCond, Body: body})
			continue
		}
		break
	}
	if p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
		if p.peekToken.Type == token.ELSE {
			p.nextToken()
			p.nextToken()
			p.closeTag()
			node.Else = &ast.NodeList{Children: p.parseNodesUntil(token.ENDIF)}
		}
	}
	p.consumeEndTag(token.IF)
	return node
}

// parseLoopHeader parses "k, v in EXPR" or "v in EXPR".
func (p *Parser) parseLoopHeader() (key, value string, iterable ast.Expression) {
	if !p.curIs(token.IDENT) {
		p.addError("expected loop variable name")
		return "", "", nil
	}
	first := p.curToken.Literal
	p.nextToken()
	if p.curIs(token.COMMA) {
		p.nextToken()
		if !p.curIs(token.IDENT) {
			p.addError("expected second loop variable name")
			return "", "", nil
		}
		second := p.curToken.Literal
		p.nextToken()
		key, value = first, second
	} else {
		value = first
	}
	if !p.curIs(token.IN) {
		p.addError("expected 'in' in loop header")
		return key, value, nil
	}
	p.nextToken()
	iterable = p.parseExpression(LOWEST)
	p.nextToken()
	return key, value, iterable
}

func (p *Parser) parseFor(pos token.Position) ast.Node {
	p.nextToken() // consume FOR
	key, value, iterable := p.parseLoopHeader()
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.ELSE, token.ENDFOR)}
	node := &ast.For{Base: ast.Base{Pos: pos}, KeyName: key, ValueName: value, Iterable: iterable, Body: body}
	if p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
		if p.peekToken.Type == token.ELSE {
			p.nextToken()
			p.nextToken()
			p.closeTag()
			node.Else = &ast.NodeList{Children: p.parseNodesUntil(token.ENDFOR)}
		}
	}
	p.consumeEndTag(token.FOR)
	return node
}

// parseEach parses {% each [k,] v in iterable [limit: N] %}...{% else %}...{% endeach %}.
// A present "limit" keyword makes this an AsyncEach (bounded fan-out);
// absent, it is an AsyncAll (full, unbounded fan-out) — see DESIGN.md.
func (p *Parser) parseEach(pos token.Position) ast.Node {
	p.nextToken() // consume EACH
	key, value, iterable := p.parseLoopHeader()

	limit := 0
	hasLimit := false
	if p.curIs(token.IDENT) && p.curToken.Literal == "limit" {
		hasLimit = true
		p.nextToken()
		if p.curIs(token.COLON) {
			p.nextToken()
		}
		if p.curIs(token.INT) {
			fmt.Sscanf(p.curToken.Literal, "%d", &limit)
			p.nextToken()
		}
	}
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.ELSE, token.ENDEACH)}

	var elseBody *ast.NodeList
	if p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
		if p.peekToken.Type == token.ELSE {
			p.nextToken()
			p.nextToken()
			p.closeTag()
			elseBody = &ast.NodeList{Children: p.parseNodesUntil(token.ENDEACH)}
		}
	}
	p.consumeEndTag(token.EACH)

	if hasLimit {
		return &ast.AsyncEach{Base: ast.Base{Pos: pos}, KeyName: key, ValueName: value, Iterable: iterable, Body: body, Else: elseBody, Limit: limit}
	}
	return &ast.AsyncAll{Base: ast.Base{Pos: pos}, KeyName: key, ValueName: value, Iterable: iterable, Body: body, Else: elseBody}
}

func (p *Parser) parseWhile(pos token.Position) ast.Node {
	p.nextToken()
	cond := p.parseExpression(LOWEST)
	p.nextToken()
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.ENDWHILE)}
	p.consumeEndTag(token.WHILE)
	return &ast.While{Base: ast.Base{Pos: pos}, Cond: cond, Body: body}
}

func (p *Parser) parseSwitch(pos token.Position) ast.Node {
	p.nextToken()
	subject := p.parseExpression(LOWEST)
	p.nextToken()
	p.closeTag()
	node := &ast.Switch{Base: ast.Base{Pos: pos}, Subject: subject}

	for p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
		switch p.peekToken.Type {
		case token.CASE:
			p.nextToken()
			p.nextToken()
			val := p.parseExpression(LOWEST)
			p.nextToken()
			p.closeTag()
			body := &ast.NodeList{Children: p.parseNodesUntil(token.CASE, token.DEFAULT, token.ENDSWITCH)}
			node.Cases = append(node.Cases, &ast.Case{Value: val, Body: body})
		case token.DEFAULT:
			p.nextToken()
			p.nextToken()
			p.closeTag()
			node.Default = &ast.NodeList{Children: p.parseNodesUntil(token.ENDSWITCH)}
		default:
			goto endSwitch
		}
	}
endSwitch:
	p.consumeEndTag(token.SWITCH)
	return node
}

func (p *Parser) parseBlock(pos token.Position) ast.Node {
	p.nextToken()
	name := p.curToken.Literal
	p.nextToken()
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.ENDBLOCK)}
	p.consumeEndTag(token.BLOCK)
	return &ast.Block{Base: ast.Base{Pos: pos}, Name: name, Body: body}
}

func (p *Parser) parseMacro(pos token.Position) ast.Node {
	p.nextToken()
	name := p.curToken.Literal
	p.nextToken()
	node := &ast.Macro{Base: ast.Base{Pos: pos}, Name: name, Defaults: map[string]ast.Expression{}}
	if p.curIs(token.LPAREN) {
		p.nextToken()
		for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
			if !p.curIs(token.IDENT) {
				p.addError("expected macro parameter name")
				break
			}
			paramName := p.curToken.Literal
			node.Params = append(node.Params, paramName)
			p.nextToken()
			if p.curIs(token.ASSIGN) {
				p.nextToken()
				node.Defaults[paramName] = p.parseExpression(LOWEST)
				p.nextToken()
			}
			if p.curIs(token.COMMA) {
				p.nextToken()
			}
		}
		if p.curIs(token.RPAREN) {
			p.nextToken()
		}
	}
	p.closeTag()
	node.Body = &ast.NodeList{Children: p.parseNodesUntil(token.ENDMACRO)}
	p.consumeEndTag(token.MACRO)
	return node
}

func (p *Parser) parseCallTag(pos token.Position) ast.Node {
	p.nextToken() // consume CALL
	target := p.parseExpression(LOWEST)
	p.nextToken()
	var args []ast.Expression
	var kwargs *ast.KeywordArgs
	if fc, ok := target.(*ast.FunCall); ok {
		args, kwargs, target = fc.Args, fc.Kwargs, fc.Target
	}
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.ENDCALL)}
	p.consumeEndTag(token.CALL)
	return &ast.Call{Base: ast.Base{Pos: pos}, Target: target, Args: args, Kwargs: kwargs, Body: body}
}

// ============ ASSIGNMENT / SCOPE TAGS ============

func (p *Parser) parseCaptureFocus() string {
	if p.curIs(token.COLON) {
		p.nextToken()
		if p.curIs(token.IDENT) {
			name := p.curToken.Literal
			p.nextToken()
			return name
		}
	}
	return ""
}

func (p *Parser) parseSet(pos token.Position) ast.Node {
	p.nextToken() // consume SET
	target := p.parseExpression(CALLPREC)
	p.nextToken()
	node := &ast.Set{Base: ast.Base{Pos: pos}, Target: target}
	if p.curIs(token.ASSIGN) {
		p.nextToken()
		if p.curIs(token.CAPTURE) {
			p.nextToken()
			node.Focus = p.parseCaptureFocus()
			p.closeTag()
			node.Body = &ast.NodeList{Children: p.parseNodesUntil(token.ENDSET)}
			p.consumeEndTag(token.SET)
			return node
		}
		node.Value = p.parseExpression(LOWEST)
		p.nextToken()
	}
	p.closeTag()
	return node
}

func (p *Parser) parseVar(pos token.Position) ast.Node {
	p.nextToken() // consume VAR
	if !p.curIs(token.IDENT) {
		p.addError("expected identifier after 'var'")
	}
	name := p.curToken.Literal
	p.nextToken()
	node := &ast.Var{Base: ast.Base{Pos: pos}, Name: name}
	if p.curIs(token.ASSIGN) {
		p.nextToken()
		if p.curIs(token.CAPTURE) {
			p.nextToken()
			node.Focus = p.parseCaptureFocus()
			p.closeTag()
			node.Body = &ast.NodeList{Children: p.parseNodesUntil(token.ENDVAR)}
			p.consumeEndTag(token.VAR)
			return node
		}
		node.Value = p.parseExpression(LOWEST)
		p.nextToken()
	}
	p.closeTag()
	return node
}

func (p *Parser) parseCapture(pos token.Position) ast.Node {
	p.nextToken() // consume CAPTURE
	focus := p.parseCaptureFocus()
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.ENDCAPTURE)}
	p.consumeEndTag(token.CAPTURE)
	return &ast.Capture{Base: ast.Base{Pos: pos}, Focus: focus, Body: body}
}

func (p *Parser) parseExtern(pos token.Position) ast.Node {
	p.nextToken() // consume EXTERN
	node := &ast.Extern{Base: ast.Base{Pos: pos}}
	for p.curIs(token.IDENT) {
		node.Names = append(node.Names, p.curToken.Literal)
		p.nextToken()
		if p.curIs(token.COMMA) {
			p.nextToken()
		}
	}
	p.closeTag()
	return node
}

func (p *Parser) parseOption(pos token.Position) ast.Node {
	p.nextToken() // consume OPTION
	if !p.curIs(token.IDENT) {
		p.addError("expected option key")
	}
	key := p.curToken.Literal
	p.nextToken()
	var val ast.Expression
	if p.curIs(token.ASSIGN) || p.curIs(token.COLON) {
		p.nextToken()
		val = p.parseExpression(LOWEST)
		p.nextToken()
	}
	p.closeTag()
	return &ast.Option{Base: ast.Base{Pos: pos}, Key: key, Value: val}
}

func (p *Parser) parseDo(pos token.Position) ast.Node {
	p.nextToken() // consume DO
	expr := p.parseExpression(LOWEST)
	p.nextToken()
	p.closeTag()
	return &ast.Do{Base: ast.Base{Pos: pos}, Expr: expr}
}

func (p *Parser) parseGuard(pos token.Position) ast.Node {
	p.nextToken() // consume GUARD
	selector := "*"
	if p.curIs(token.ASTERISK) {
		p.nextToken()
	} else if p.curIs(token.IDENT) {
		selector = p.curToken.Literal
		p.nextToken()
	}
	p.closeTag()
	body := &ast.NodeList{Children: p.parseNodesUntil(token.RECOVER, token.ENDGUARD)}
	node := &ast.Guard{Base: ast.Base{Pos: pos}, Selector: selector, Body: body}
	if p.curIs(token.TAG_OPEN) || p.curIs(token.TAG_OPEN_TRIM) {
		if p.peekToken.Type == token.RECOVER {
			p.nextToken()
			p.nextToken()
			p.closeTag()
			node.Recover = &ast.NodeList{Children: p.parseNodesUntil(token.ENDGUARD)}
		}
	}
	p.consumeEndTag(token.GUARD)
	return node
}

// ============ TEMPLATE COMPOSITION ============

func (p *Parser) parseExtends(pos token.Position) ast.Node {
	p.nextToken() // consume EXTENDS
	template := p.parseExpression(LOWEST)
	p.nextToken()
	p.closeTag()
	return &ast.Extends{Base: ast.Base{Pos: pos}, Template: template}
}

func (p *Parser) parseInclude(pos token.Position) ast.Node {
	p.nextToken() // consume INCLUDE
	template := p.parseExpression(LOWEST)
	p.nextToken()
	node := &ast.Include{Base: ast.Base{Pos: pos}, Template: template}
	if p.curIs(token.IGNORE) {
		p.nextToken()
		if p.curIs(token.MISSING) {
			p.nextToken()
		}
		node.IgnoreMissing = true
	}
	p.closeTag()
	return node
}

func (p *Parser) parseImport(pos token.Position) ast.Node {
	p.nextToken() // consume IMPORT
	template := p.parseExpression(CALLPREC)
	p.nextToken()
	node := &ast.Import{Base: ast.Base{Pos: pos}, Template: template}
	if p.curIs(token.AS) {
		p.nextToken()
		node.Name = p.curToken.Literal
		p.nextToken()
	}
	p.parseImportContextSuffix(&node.WithContext, &node.WithoutCtx)
	p.closeTag()
	return node
}

func (p *Parser) parseImportContextSuffix(withCtx, withoutCtx *bool) {
	if p.curIs(token.WITH) {
		p.nextToken()
		if p.curIs(token.CONTEXT) {
			p.nextToken()
			*withCtx = true
		}
	} else if p.curIs(token.WITHOUT) {
		p.nextToken()
		if p.curIs(token.CONTEXT) {
			p.nextToken()
			*withoutCtx = true
		}
	}
}

func (p *Parser) parseFromImport(pos token.Position) ast.Node {
	p.nextToken() // consume FROM
	template := p.parseExpression(CALLPREC)
	p.nextToken()
	if !p.curIs(token.IMPORT) {
		p.addError("expected 'import' after template path")
	} else {
		p.nextToken()
	}
	node := &ast.FromImport{Base: ast.Base{Pos: pos}, Template: template, Aliases: map[string]string{}}
	for p.curIs(token.IDENT) {
		name := p.curToken.Literal
		p.nextToken()
		if p.curIs(token.AS) {
			p.nextToken()
			alias := p.curToken.Literal
			node.Aliases[name] = alias
			p.nextToken()
		}
		node.Names = append(node.Names, name)
		if p.curIs(token.COMMA) {
			p.nextToken()
		}
	}
	p.parseImportContextSuffix(&node.WithContext, &node.WithoutCtx)
	p.closeTag()
	return node
}

// ============ OUTPUT COMMANDS ============

// parsePathSegments parses a dotted/bracketed path used by output commands:
// ident(.ident | [expr] | [])* .
func (p *Parser) parsePathSegments() []ast.PathSegment {
	var segs []ast.PathSegment
	if p.curIs(token.IDENT) {
		segs = append(segs, ast.PathSegment{Name: p.curToken.Literal})
		p.nextToken()
	}
	for {
		switch {
		case p.curIs(token.DOT):
			p.nextToken()
			if p.curIs(token.IDENT) {
				segs = append(segs, ast.PathSegment{Name: p.curToken.Literal})
				p.nextToken()
			}
		case p.curIs(token.LBRACKET):
			p.nextToken()
			if p.curIs(token.RBRACKET) {
				segs = append(segs, ast.PathSegment{IsLast: true})
				p.nextToken()
				continue
			}
			expr := p.parseExpression(LOWEST)
			p.nextToken()
			segs = append(segs, ast.PathSegment{Expr: expr})
			if p.curIs(token.RBRACKET) {
				p.nextToken()
			}
		default:
			return segs
		}
	}
}

func (p *Parser) parseOutputCommand(pos token.Position) ast.Node {
	p.nextToken() // consume OUTPUT_COMMAND keyword
	return p.finishOutputCommand(pos)
}

// parseAtCommand parses the template-level spelling of an output command
// written with the `@handler.method(args)` shorthand (mirrors the script
// transpiler's lowering of `@`-commands into output_command tags).
func (p *Parser) parseAtCommand(pos token.Position) ast.Node {
	p.nextToken() // consume AT
	return p.finishOutputCommand(pos)
}

func (p *Parser) finishOutputCommand(pos token.Position) ast.Node {
	if !p.curIs(token.IDENT) {
		p.addError("expected handler name")
	}
	handler := p.curToken.Literal
	p.nextToken()
	method := ""
	if p.curIs(token.DOT) {
		p.nextToken()
		method = p.curToken.Literal
		p.nextToken()
	}
	var path []ast.PathSegment
	var args []ast.Expression
	if p.curIs(token.LPAREN) {
		p.nextToken()
		path = p.parsePathSegments()
		// An empty path (e.g. a handler command operating on the data
		// root, "@data.set(5)") leaves the first argument as the very
		// next token instead of after a leading comma.
		if len(path) == 0 && !p.curIs(token.RPAREN) && !p.curIs(token.COMMA) && !p.curIs(token.EOF) {
			args = append(args, p.parseExpression(LOWEST))
			p.nextToken()
		}
		for p.curIs(token.COMMA) {
			p.nextToken()
			args = append(args, p.parseExpression(LOWEST))
			p.nextToken()
		}
		if p.curIs(token.RPAREN) {
			p.nextToken()
		}
	}
	seq := ast.SequenceInfo{}
	if p.curIs(token.BANG) {
		p.nextToken()
		seq.Kind = ast.SeqObjectPath
		seq.Method = method
		if method != "" {
			seq.Kind = ast.SeqMethod
		}
	}
	p.closeTag()
	return &ast.OutputCommand{Base: ast.Base{Pos: pos}, Handler: handler, Method: method, Path: path, Args: args, Seq: seq}
}

// parseSetPath parses a bare path-assignment tag: {% a.b.c = expr %}.
func (p *Parser) parseSetPath(pos token.Position) ast.Node {
	target := p.parseExpression(CALLPREC)
	p.nextToken()
	lv, ok := target.(*ast.LookupVal)
	if !ok {
		p.addError("expected a path expression before '='")
	}
	if !p.curIs(token.ASSIGN) {
		p.addError("expected '=' in path assignment")
		p.synchronize()
		return nil
	}
	p.nextToken()
	if p.curIs(token.CAPTURE) {
		p.addError("set_path does not support '= capture'")
		p.synchronize()
		return nil
	}
	value := p.parseExpression(LOWEST)
	p.nextToken()
	p.closeTag()
	return &ast.SetPath{Base: ast.Base{Pos: pos}, Target: lv, Value: value}
}

// ============ PRATT EXPRESSION CORE ============

func (p *Parser) peekPrecedence() int {
	if pr, ok := precedences[p.peekToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.curToken.Type]; ok {
		return pr
	}
	return LOWEST
}

func (p *Parser) parseExpression(precedence int) ast.Expression {
	prefix := p.prefixParseFns[p.curToken.Type]
	if prefix == nil {
		p.addError(fmt.Sprintf("unexpected token in expression: %s (%q)", p.curToken.Type, p.curToken.Literal))
		return nil
	}
	left := prefix()

	for precedence < p.peekPrecedence() {
		infix := p.infixParseFns[p.peekToken.Type]
		if infix == nil {
			return left
		}
		p.nextToken()
		left = infix(left)
	}
	return left
}

func (p *Parser) parseSymbol() ast.Expression {
	return &ast.Symbol{Base: ast.Base{Pos: p.curPos()}, Name: p.curToken.Literal}
}

func (p *Parser) parseLiteral() ast.Expression {
	pos := p.curPos()
	switch p.curToken.Type {
	case token.INT:
		var v int64
		fmt.Sscanf(p.curToken.Literal, "%d", &v)
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: v}
	case token.FLOAT:
		var v float64
		fmt.Sscanf(p.curToken.Literal, "%g", &v)
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: v}
	case token.STRING:
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: p.curToken.Literal}
	case token.TRUE:
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: true}
	case token.FALSE:
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: false}
	case token.NULL:
		return &ast.Literal{Base: ast.Base{Pos: pos}, Value: nil}
	}
	return nil
}

func (p *Parser) parseUnary() ast.Expression {
	pos := p.curPos()
	op := ast.OpNeg
	switch p.curToken.Type {
	case token.BANG, token.NOT:
		op = ast.OpNot
	case token.MINUS:
		op = ast.OpNeg
	case token.PLUS:
		op = ast.OpPos
	}
	p.nextToken()
	operand := p.parseExpression(UNARY)
	return &ast.UnaryOp{Base: ast.Base{Pos: pos}, Op: op, Operand: operand}
}

func (p *Parser) parseGroup() ast.Expression {
	pos := p.curPos()
	p.nextToken()
	expr := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RPAREN) {
		return expr
	}
	return &ast.Group{Base: ast.Base{Pos: pos}, Expr: expr}
}

func (p *Parser) parseArray() ast.Expression {
	pos := p.curPos()
	node := &ast.Array{Base: ast.Base{Pos: pos}}
	p.nextToken()
	for !p.curIs(token.RBRACKET) && !p.curIs(token.EOF) {
		node.Items = append(node.Items, p.parseExpression(LOWEST))
		p.nextToken()
		if p.curIs(token.COMMA) {
			p.nextToken()
		}
	}
	return node
}

func (p *Parser) parseDict() ast.Expression {
	pos := p.curPos()
	node := &ast.Dict{Base: ast.Base{Pos: pos}}
	p.nextToken()
	for !p.curIs(token.RBRACE) && !p.curIs(token.EOF) {
		key := p.parseExpression(LOWEST)
		p.nextToken()
		if !p.curIs(token.COLON) {
			p.addError("expected ':' in dict literal")
			break
		}
		p.nextToken()
		val := p.parseExpression(LOWEST)
		node.Pairs = append(node.Pairs, &ast.Pair{Key: key, Value: val})
		p.nextToken()
		if p.curIs(token.COMMA) {
			p.nextToken()
		}
	}
	return node
}

func (p *Parser) parseCaller() ast.Expression {
	pos := p.curPos()
	node := &ast.Caller{Base: ast.Base{Pos: pos}}
	if p.peekIs(token.LPAREN) {
		p.nextToken() // consume CALLER, land on LPAREN
		p.nextToken() // consume LPAREN
		for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
			node.Args = append(node.Args, p.parseExpression(LOWEST))
			p.nextToken()
			if p.curIs(token.COMMA) {
				p.nextToken()
			}
		}
	}
	return node
}

func (p *Parser) parseBinary(left ast.Expression) ast.Expression {
	pos := p.curPos()
	op := binOpFor(p.curToken.Type)
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	return &ast.BinOp{Base: ast.Base{Pos: pos}, Op: op, Left: left, Right: right}
}

func binOpFor(t token.TokenType) ast.BinOpKind {
	switch t {
	case token.PLUS:
		return ast.OpAdd
	case token.MINUS:
		return ast.OpSub
	case token.ASTERISK:
		return ast.OpMul
	case token.SLASH:
		return ast.OpDiv
	case token.FLOORDIV:
		return ast.OpFloorDiv
	case token.PERCENT:
		return ast.OpMod
	case token.POW:
		return ast.OpPow
	case token.TILDE:
		return ast.OpConcat
	case token.AND:
		return ast.OpAnd
	case token.OR:
		return ast.OpOr
	case token.IN:
		return ast.OpIn
	}
	return ast.OpAdd
}

// parseCompare builds (or extends) a chained comparison BinOp.
func (p *Parser) parseCompare(left ast.Expression) ast.Expression {
	pos := p.curPos()
	opTok := p.curToken.Type
	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)

	if chain, ok := left.(*ast.BinOp); ok && chain.Op == ast.OpCompare {
		chain.Chain = append(chain.Chain, &ast.CompareOperand{Op: compareOps[opTok], Operand: right})
		return chain
	}
	return &ast.BinOp{
		Base: ast.Base{Pos: pos}, Op: ast.OpCompare, Left: left,
		Chain: []*ast.CompareOperand{{Op: compareOps[opTok], Operand: right}},
	}
}

// parseIs handles `x is name` and `x is not name` test expressions.
func (p *Parser) parseIs(left ast.Expression) ast.Expression {
	pos := p.curPos()
	p.nextToken() // consume IS
	negated := false
	if p.curIs(token.NOT) {
		negated = true
		p.nextToken()
	}
	test := p.parseExpression(COMPARE)
	right := ast.Expression(test)
	if negated {
		right = &ast.UnaryOp{Base: ast.Base{Pos: pos}, Op: ast.OpNot, Operand: test}
	}
	return &ast.BinOp{Base: ast.Base{Pos: pos}, Op: ast.OpIs, Left: left, Right: right}
}

func (p *Parser) parseDotLookup(left ast.Expression) ast.Expression {
	pos := p.curPos()
	p.nextToken()
	name := p.curToken.Literal
	return &ast.LookupVal{Base: ast.Base{Pos: pos}, Target: left, Key: &ast.Literal{Value: name}, Dot: true}
}

func (p *Parser) parseBracketLookup(left ast.Expression) ast.Expression {
	pos := p.curPos()
	p.nextToken() // consume '['
	key := p.parseExpression(LOWEST)
	if !p.expectPeek(token.RBRACKET) {
		return left
	}
	return &ast.LookupVal{Base: ast.Base{Pos: pos}, Target: left, Key: key, Dot: false}
}

func (p *Parser) parseCall(left ast.Expression) ast.Expression {
	pos := p.curPos()
	node := &ast.FunCall{Base: ast.Base{Pos: pos}, Target: left}
	p.nextToken() // consume '('
	node.Kwargs = &ast.KeywordArgs{}
	for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
		if p.curIs(token.ASTERISK) && p.peekIs(token.ASTERISK) {
			node.Spread = true
			p.nextToken()
			p.nextToken()
			continue
		}
		if p.curIs(token.ASTERISK) {
			node.Spread = true
			p.nextToken()
			continue
		}
		if p.curIs(token.IDENT) && p.peekIs(token.ASSIGN) {
			name := p.curToken.Literal
			p.nextToken()
			p.nextToken()
			val := p.parseExpression(LOWEST)
			node.Kwargs.Names = append(node.Kwargs.Names, name)
			node.Kwargs.Values = append(node.Kwargs.Values, val)
		} else {
			node.Args = append(node.Args, p.parseExpression(LOWEST))
		}
		p.nextToken()
		if p.curIs(token.COMMA) {
			p.nextToken()
		}
	}
	if len(node.Kwargs.Names) == 0 {
		node.Kwargs = nil
	}
	if p.peekIs(token.BANG) {
		p.nextToken()
		node.Seq.Kind = ast.SeqObjectPath
		if lv, ok := left.(*ast.LookupVal); ok && lv.Dot {
			if name, ok := lv.Key.(*ast.Literal); ok {
				if _, isStr := name.Value.(string); isStr {
					node.Seq.Kind = ast.SeqMethod
					node.Seq.Method = name.Value.(string)
				}
			}
		}
	}
	return node
}

func (p *Parser) parseFilter(left ast.Expression) ast.Expression {
	pos := p.curPos()
	p.nextToken() // consume '|'
	if !p.curIs(token.IDENT) {
		p.addError("expected filter name after '|'")
		return left
	}
	node := &ast.Filter{Base: ast.Base{Pos: pos}, Target: left, Name: p.curToken.Literal}
	if p.peekIs(token.LPAREN) {
		p.nextToken() // move to '('
		p.nextToken() // consume '('
		node.Kwargs = &ast.KeywordArgs{}
		for !p.curIs(token.RPAREN) && !p.curIs(token.EOF) {
			if p.curIs(token.IDENT) && p.peekIs(token.ASSIGN) {
				name := p.curToken.Literal
				p.nextToken()
				p.nextToken()
				val := p.parseExpression(LOWEST)
				node.Kwargs.Names = append(node.Kwargs.Names, name)
				node.Kwargs.Values = append(node.Kwargs.Values, val)
			} else {
				node.Args = append(node.Args, p.parseExpression(LOWEST))
			}
			p.nextToken()
			if p.curIs(token.COMMA) {
				p.nextToken()
			}
		}
		if len(node.Kwargs.Names) == 0 {
			node.Kwargs = nil
		}
	}
	return node
}

func (p *Parser) parseInlineIf(thenExpr ast.Expression) ast.Expression {
	pos := p.curPos()
	p.nextToken() // consume IF
	cond := p.parseExpression(LOWEST)
	node := &ast.InlineIf{Base: ast.Base{Pos: pos}, Cond: cond, Then: thenExpr}
	if p.peekIs(token.ELSE) {
		p.nextToken()
		p.nextToken()
		node.Else = p.parseExpression(LOWEST)
	}
	return node
}

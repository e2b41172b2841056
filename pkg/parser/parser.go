// Package parser parses row-level security predicate expressions into
// expression trees.
//
// The grammar covers the predicate DSL, not full SQL: logical connectives,
// comparisons, set membership, NULL tests, LIKE patterns, CASE expressions,
// type casts (stripped before parsing), and EXISTS subqueries captured
// verbatim. Precedence from lowest to highest binding:
//
//	OR < AND < NOT < comparison < primary
//
// `x = ANY (ARRAY[...])` parses as set membership, equivalent to
// `x IN (...)`, and `x <> ALL (ARRAY[...])` as its negation. Other ANY/ALL
// operator combinations are rejected; they do not occur in practice and
// accepting them would silently misstate the policy. Subqueries appearing
// under EXISTS or ANY are captured as opaque nodes with a best-effort source
// entity extracted from their first FROM clause; they are never recursively
// parsed.
//
// Empty or all-whitespace input parses to the literal true: an absent
// predicate means fully permissive, by policy rather than by accident.
//
// # Basic Usage
//
//	node, err := parser.Parse("owner_id = current_user_id()", "posts")
//	if err != nil {
//	    var serr *parser.SyntaxError
//	    if errors.As(err, &serr) {
//	        log.Printf("bad predicate at offset %d", serr.Position)
//	    }
//	}
package parser

import (
	"fmt"
	"strings"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ast"
)

// SyntaxError describes malformed predicate text: the byte offset where
// parsing stopped and what the parser expected there.
type SyntaxError struct {
	Position int
	Expected string
	Found    string
}

// Error renders the position, expectation, and offending token.
func (e *SyntaxError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("offset %d: expected %s", e.Position, e.Expected)
	}
	return fmt.Sprintf("offset %d: expected %s, found %q", e.Position, e.Expected, e.Found)
}

// Parse parses predicate text written against the named entity.
// Returns an error wrapping both rowguard.ErrSyntax and a *SyntaxError on
// malformed input. Empty or all-whitespace text parses to the literal true.
func Parse(text, entity string) (ast.Node, error) {
	if strings.TrimSpace(text) == "" {
		return ast.Bool(true), nil
	}

	toks, err := tokenize(text)
	if err != nil {
		return nil, wrapSyntax(entity, err)
	}

	p := &parser{src: text, toks: stripCasts(toks)}
	node, err := p.parseOr()
	if err != nil {
		return nil, wrapSyntax(entity, err)
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, wrapSyntax(entity, &SyntaxError{
			Position: tok.pos,
			Expected: "end of input",
			Found:    tok.text,
		})
	}
	return node, nil
}

func wrapSyntax(entity string, err error) error {
	if entity == "" {
		return fmt.Errorf("%w: %w", rowguard.ErrSyntax, err)
	}
	return fmt.Errorf("%w: policy for %s: %w", rowguard.ErrSyntax, entity, err)
}

type parser struct {
	src  string
	toks []token
	i    int
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) peekNext() token {
	if p.i+1 < len(p.toks) {
		return p.toks[p.i+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) advance() token {
	tok := p.toks[p.i]
	if tok.kind != tokenEOF {
		p.i++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, expected string) (token, error) {
	tok := p.peek()
	if tok.kind != kind {
		return token{}, &SyntaxError{Position: tok.pos, Expected: expected, Found: tok.text}
	}
	return p.advance(), nil
}

func (p *parser) expectKeyword(word string) (token, error) {
	tok := p.peek()
	if !tok.keyword(word) {
		return token{}, &SyntaxError{Position: tok.pos, Expected: word, Found: tok.text}
	}
	return p.advance(), nil
}

func (p *parser) parseOr() (ast.Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.peek().keyword("OR") {
		return left, nil
	}
	operands := []ast.Node{left}
	for p.peek().keyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	return ast.Or{Operands: operands}, nil
}

func (p *parser) parseAnd() (ast.Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if !p.peek().keyword("AND") {
		return left, nil
	}
	operands := []ast.Node{left}
	for p.peek().keyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, right)
	}
	return ast.And{Operands: operands}, nil
}

func (p *parser) parseNot() (ast.Node, error) {
	if p.peek().keyword("NOT") {
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return ast.Not{Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (ast.Node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	switch {
	case tok.kind == tokenOperator:
		return p.parseOperatorRest(left)

	case tok.keyword("IS"):
		p.advance()
		op := ast.OpIsNull
		if p.peek().keyword("NOT") {
			p.advance()
			op = ast.OpIsNotNull
		}
		if _, err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return ast.Comparison{Op: op, Left: left}, nil

	case tok.keyword("IN"):
		p.advance()
		return p.parseInList(left, ast.OpIn)

	case tok.keyword("LIKE"):
		p.advance()
		return p.parsePatternRest(left, ast.OpLike)

	case tok.keyword("ILIKE"):
		p.advance()
		return p.parsePatternRest(left, ast.OpILike)

	case tok.keyword("NOT"):
		next := p.peekNext()
		switch {
		case next.keyword("IN"):
			p.advance()
			p.advance()
			return p.parseInList(left, ast.OpNotIn)
		case next.keyword("LIKE"), next.keyword("ILIKE"):
			p.advance()
			op := ast.OpLike
			if p.advance().keyword("ILIKE") {
				op = ast.OpILike
			}
			cmp, err := p.parsePatternRest(left, op)
			if err != nil {
				return nil, err
			}
			return ast.Not{Operand: cmp}, nil
		}
		return left, nil
	}
	return left, nil
}

var compareOps = map[string]ast.CompareOp{
	"=":  ast.OpEq,
	"!=": ast.OpNe,
	"<>": ast.OpNe,
	"<":  ast.OpLt,
	">":  ast.OpGt,
	"<=": ast.OpLe,
	">=": ast.OpGe,
}

// parseOperatorRest parses the operator and right-hand side of a binary
// comparison, including the ANY/ALL set-membership sugar.
func (p *parser) parseOperatorRest(left ast.Node) (ast.Node, error) {
	opTok := p.advance()
	op, ok := compareOps[opTok.text]
	if !ok {
		return nil, &SyntaxError{Position: opTok.pos, Expected: "comparison operator", Found: opTok.text}
	}

	if p.peek().keyword("ANY") || p.peek().keyword("ALL") {
		return p.parseAnyAll(left, op)
	}

	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return ast.Comparison{Op: op, Left: left, Right: right}, nil
}

func (p *parser) parsePatternRest(left ast.Node, op ast.CompareOp) (ast.Node, error) {
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return ast.Comparison{Op: op, Left: left, Right: right}, nil
}

// parseAnyAll handles `= ANY (ARRAY[...])` as IN and `<> ALL (ARRAY[...])`
// as NOT IN. A subselect in place of the array is captured as an opaque
// existential, mirroring EXISTS handling.
func (p *parser) parseAnyAll(left ast.Node, op ast.CompareOp) (ast.Node, error) {
	quantTok := p.advance()
	isAny := quantTok.keyword("ANY")

	var memberOp ast.CompareOp
	switch {
	case isAny && op == ast.OpEq:
		memberOp = ast.OpIn
	case !isAny && op == ast.OpNe:
		memberOp = ast.OpNotIn
	default:
		return nil, &SyntaxError{
			Position: quantTok.pos,
			Expected: "= ANY or <> ALL",
			Found:    quantTok.text,
		}
	}

	lp, err := p.expect(tokenLParen, "(")
	if err != nil {
		return nil, err
	}

	// The catalog wraps the array in extra parentheses when a cast was
	// stripped: `= ANY ((ARRAY['a', 'b'])::text[])` leaves `((ARRAY[...]))`.
	k := p.i
	for p.toks[k].kind == tokenLParen {
		k++
	}
	if p.toks[k].keyword("SELECT") {
		return p.captureSubquery(lp)
	}

	extra := 0
	for p.peek().kind == tokenLParen {
		p.advance()
		extra++
	}
	arr, err := p.parseArrayLiteral()
	if err != nil {
		return nil, err
	}
	for n := 0; n < extra; n++ {
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokenRParen, ")"); err != nil {
		return nil, err
	}
	return ast.Comparison{Op: memberOp, Left: left, Right: arr}, nil
}

// parseInList parses the parenthesized member list of IN/NOT IN. Both the
// bare list form `IN ('a', 'b')` and the array form `IN (ARRAY['a', 'b'])`
// normalize to an ArrayLiteral right-hand side.
func (p *parser) parseInList(left ast.Node, op ast.CompareOp) (ast.Node, error) {
	lp, err := p.expect(tokenLParen, "(")
	if err != nil {
		return nil, err
	}

	if p.peek().keyword("SELECT") {
		return p.captureSubquery(lp)
	}

	var arr ast.Node
	if p.peek().keyword("ARRAY") {
		arr, err = p.parseArrayLiteral()
		if err != nil {
			return nil, err
		}
	} else {
		var items []ast.Node
		for {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.peek().kind != tokenComma {
				break
			}
			p.advance()
		}
		arr = ast.ArrayLiteral{Items: items}
	}

	if _, err := p.expect(tokenRParen, ")"); err != nil {
		return nil, err
	}
	return ast.Comparison{Op: op, Left: left, Right: arr}, nil
}

func (p *parser) parseArrayLiteral() (ast.Node, error) {
	if _, err := p.expectKeyword("ARRAY"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenLBracket, "["); err != nil {
		return nil, err
	}

	var items []ast.Node
	if p.peek().kind != tokenRBracket {
		for {
			item, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if p.peek().kind != tokenComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(tokenRBracket, "]"); err != nil {
		return nil, err
	}
	return ast.ArrayLiteral{Items: items}, nil
}

func (p *parser) parsePrimary() (ast.Node, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokenLParen:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil

	case tok.keyword("CASE"):
		return p.parseCase()

	case tok.keyword("EXISTS"):
		p.advance()
		lp, err := p.expect(tokenLParen, "(")
		if err != nil {
			return nil, err
		}
		return p.captureSubquery(lp)

	case tok.keyword("TRUE"):
		p.advance()
		return ast.Bool(true), nil

	case tok.keyword("FALSE"):
		p.advance()
		return ast.Bool(false), nil

	case tok.keyword("NULL"):
		p.advance()
		return ast.Null(), nil

	case tok.keyword("ARRAY") && p.peekNext().kind == tokenLBracket:
		return p.parseArrayLiteral()

	case tok.kind == tokenString:
		p.advance()
		return ast.Text(tok.text), nil

	case tok.kind == tokenNumber:
		p.advance()
		return ast.Number(tok.text), nil

	case tok.kind == tokenOperator && tok.text == "-" && p.peekNext().kind == tokenNumber:
		p.advance()
		num := p.advance()
		return ast.Number("-" + num.text), nil

	case tok.kind == tokenIdent:
		return p.parseIdent()
	}
	return nil, &SyntaxError{Position: tok.pos, Expected: "expression", Found: tok.text}
}

// parseIdent parses a possibly-qualified identifier and, when followed by an
// argument list, a function call. current_setting('key') is recognized as a
// session-setting reference rather than a generic call.
func (p *parser) parseIdent() (ast.Node, error) {
	first := p.advance()
	segments := []string{first.text}
	for p.peek().kind == tokenDot {
		p.advance()
		seg, err := p.expect(tokenIdent, "identifier")
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg.text)
	}

	if p.peek().kind == tokenLParen {
		p.advance()
		name := strings.Join(segments, ".")

		var args []ast.Node
		if p.peek().kind != tokenRParen {
			for {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if p.peek().kind != tokenComma {
					break
				}
				p.advance()
			}
		}
		if _, err := p.expect(tokenRParen, ")"); err != nil {
			return nil, err
		}

		if strings.EqualFold(name, "current_setting") && len(args) == 1 {
			if lit, ok := args[0].(ast.Literal); ok && lit.Kind == ast.StringKind {
				key, _ := lit.Value.(string)
				return ast.SessionSetting{Key: key}, nil
			}
		}
		return ast.FunctionCall{Name: name, Args: args}, nil
	}

	switch len(segments) {
	case 1:
		// Niladic session functions appear without parentheses in catalog
		// output: `username = CURRENT_USER`.
		if !first.quoted && niladic[strings.ToLower(first.text)] {
			return ast.FunctionCall{Name: strings.ToLower(first.text)}, nil
		}
		return ast.ColumnRef{Name: segments[0]}, nil
	case 2:
		return ast.ColumnRef{Entity: segments[0], Name: segments[1]}, nil
	default:
		// Schema-qualified reference: keep the last two segments.
		return ast.ColumnRef{
			Entity: segments[len(segments)-2],
			Name:   segments[len(segments)-1],
		}, nil
	}
}

var niladic = map[string]bool{
	"current_user": true,
	"session_user": true,
	"current_role": true,
}

func (p *parser) parseCase() (ast.Node, error) {
	caseTok := p.advance()

	var disc ast.Node
	if !p.peek().keyword("WHEN") {
		var err error
		disc, err = p.parseOr()
		if err != nil {
			return nil, err
		}
	}

	var branches []ast.CaseBranch
	for p.peek().keyword("WHEN") {
		p.advance()
		when, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		branches = append(branches, ast.CaseBranch{When: when, Then: then})
	}
	if len(branches) == 0 {
		return nil, &SyntaxError{Position: caseTok.pos, Expected: "WHEN", Found: p.peek().text}
	}

	var els ast.Node
	if p.peek().keyword("ELSE") {
		p.advance()
		var err error
		els, err = p.parseOr()
		if err != nil {
			return nil, err
		}
	}

	if _, err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return ast.Case{Discriminant: disc, Branches: branches, Else: els}, nil
}

// captureSubquery consumes tokens through the parenthesis matching lp and
// returns an opaque Exists node holding the verbatim source between the
// parentheses. The source entity is extracted heuristically from the first
// FROM clause; subqueries with no plain FROM target yield an empty entity.
func (p *parser) captureSubquery(lp token) (ast.Node, error) {
	depth := 1
	start := p.i
	var closing token
	for depth > 0 {
		tok := p.advance()
		switch tok.kind {
		case tokenEOF:
			return nil, &SyntaxError{Position: lp.pos, Expected: ")"}
		case tokenLParen:
			depth++
		case tokenRParen:
			depth--
			if depth == 0 {
				closing = tok
			}
		}
	}

	inner := p.toks[start : p.i-1]
	raw := strings.TrimSpace(p.src[lp.end:closing.pos])
	return ast.Exists{Entity: fromEntity(inner), Subquery: raw}, nil
}

// fromEntity scans subquery tokens for the first FROM clause and returns the
// trailing segment of its (possibly schema-qualified) table name.
func fromEntity(toks []token) string {
	for i, tok := range toks {
		if !tok.keyword("FROM") {
			continue
		}
		j := i + 1
		if j >= len(toks) || toks[j].kind != tokenIdent {
			return ""
		}
		name := toks[j].text
		for j+2 < len(toks) && toks[j+1].kind == tokenDot && toks[j+2].kind == tokenIdent {
			name = toks[j+2].text
			j += 2
		}
		return name
	}
	return ""
}

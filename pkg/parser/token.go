package parser

import "strings"

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenString
	tokenNumber
	tokenOperator
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
	tokenCast
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of input"
	case tokenIdent:
		return "identifier"
	case tokenString:
		return "string"
	case tokenNumber:
		return "number"
	case tokenOperator:
		return "operator"
	case tokenLParen:
		return "("
	case tokenRParen:
		return ")"
	case tokenLBracket:
		return "["
	case tokenRBracket:
		return "]"
	case tokenComma:
		return ","
	case tokenDot:
		return "."
	case tokenCast:
		return "::"
	default:
		return "unknown"
	}
}

// token is a lexical unit with its source span. Tokens are transient: they
// exist between tokenization and parsing and are discarded afterwards.
// For tokenString, text holds the decoded value with quote escapes resolved;
// for every other kind it holds the source spelling.
type token struct {
	kind   tokenKind
	text   string
	pos    int
	end    int
	quoted bool
}

// keyword reports whether the token is the given bare-word keyword,
// compared case-insensitively. Quoted identifiers never match: quoting is
// how a column named "end" stays a column.
func (t token) keyword(word string) bool {
	return t.kind == tokenIdent && !t.quoted && strings.EqualFold(t.text, word)
}

type lexer struct {
	src string
	pos int
}

func isdigit(x byte) bool {
	return x >= '0' && x <= '9'
}

func isalpha(x byte) bool {
	return (x >= 'a' && x <= 'z') || (x >= 'A' && x <= 'Z')
}

func isident(x byte) bool {
	return isalpha(x) || isdigit(x) || x == '_' || x == '$'
}

func isspace(x byte) bool {
	return x == ' ' || x == '\n' || x == '\t' || x == '\r' || x == '\f' || x == '\v'
}

func (l *lexer) peek() byte {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) peekat(i int) byte {
	if l.pos+i >= len(l.src) {
		return 0
	}
	return l.src[l.pos+i]
}

func (l *lexer) chompws() {
	for l.pos < len(l.src) && isspace(l.src[l.pos]) {
		l.pos++
	}
}

// next scans one token. Returns tokenEOF at end of input.
func (l *lexer) next() (token, error) {
	l.chompws()
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokenEOF, pos: start, end: start}, nil
	}

	c := l.peek()
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokenLParen, text: "(", pos: start, end: l.pos}, nil
	case c == ')':
		l.pos++
		return token{kind: tokenRParen, text: ")", pos: start, end: l.pos}, nil
	case c == '[':
		l.pos++
		return token{kind: tokenLBracket, text: "[", pos: start, end: l.pos}, nil
	case c == ']':
		l.pos++
		return token{kind: tokenRBracket, text: "]", pos: start, end: l.pos}, nil
	case c == ',':
		l.pos++
		return token{kind: tokenComma, text: ",", pos: start, end: l.pos}, nil
	case c == '.' && !isdigit(l.peekat(1)):
		l.pos++
		return token{kind: tokenDot, text: ".", pos: start, end: l.pos}, nil
	case c == ':' && l.peekat(1) == ':':
		l.pos += 2
		return token{kind: tokenCast, text: "::", pos: start, end: l.pos}, nil
	case c == '\'':
		return l.scanString()
	case c == '"':
		return l.scanQuotedIdent()
	case isdigit(c) || (c == '.' && isdigit(l.peekat(1))):
		return l.scanNumber()
	case isalpha(c) || c == '_':
		return l.scanIdent()
	default:
		return l.scanOperator()
	}
}

// scanString decodes a single-quoted literal. Embedded quotes are escaped by
// doubling: 'it''s' decodes to it's.
func (l *lexer) scanString() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\'' {
			if l.peekat(1) == '\'' {
				b.WriteByte('\'')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokenString, text: b.String(), pos: start, end: l.pos}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, &SyntaxError{Position: start, Expected: "closing quote"}
}

// scanQuotedIdent decodes a double-quoted identifier, the form the catalog
// renders for names needing case preservation: ("userId")::text. Embedded
// quotes are escaped by doubling.
func (l *lexer) scanQuotedIdent() (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '"' {
			if l.peekat(1) == '"' {
				b.WriteByte('"')
				l.pos += 2
				continue
			}
			l.pos++
			return token{kind: tokenIdent, text: b.String(), pos: start, end: l.pos, quoted: true}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, &SyntaxError{Position: start, Expected: "closing quote"}
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isdigit(l.src[l.pos]) {
		l.pos++
	}
	if l.peek() == '.' && isdigit(l.peekat(1)) {
		l.pos++
		for l.pos < len(l.src) && isdigit(l.src[l.pos]) {
			l.pos++
		}
	}
	return token{kind: tokenNumber, text: l.src[start:l.pos], pos: start, end: l.pos}, nil
}

func (l *lexer) scanIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isident(l.src[l.pos]) {
		l.pos++
	}
	return token{kind: tokenIdent, text: l.src[start:l.pos], pos: start, end: l.pos}, nil
}

func (l *lexer) scanOperator() (token, error) {
	start := l.pos
	two := ""
	if l.pos+2 <= len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "!=", "<>", "<=", ">=":
		l.pos += 2
		return token{kind: tokenOperator, text: two, pos: start, end: l.pos}, nil
	}
	switch l.peek() {
	case '=', '<', '>', '-', '+', '*', '/':
		l.pos++
		return token{kind: tokenOperator, text: l.src[start:l.pos], pos: start, end: l.pos}, nil
	}
	return token{}, &SyntaxError{Position: start, Expected: "token", Found: string(l.peek())}
}

// tokenize scans the whole input. The returned slice always ends with a
// tokenEOF entry.
func tokenize(src string) ([]token, error) {
	l := &lexer{src: src}
	var out []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.kind == tokenEOF {
			return out, nil
		}
	}
}

// stripCasts removes ::type suffixes from the token stream before structural
// parsing; casts carry no semantic weight for this DSL. Handles multi-word
// type names (character varying, timestamp with time zone), a parenthesized
// typmod, and an array suffix:
//
//	status::text
//	name::character varying(255)
//	ids::bigint[]
//	created::timestamp with time zone
func stripCasts(toks []token) []token {
	// Words that may continue a multi-word type name after the first.
	continuation := map[string]bool{
		"precision": true,
		"varying":   true,
		"with":      true,
		"without":   true,
		"time":      true,
		"zone":      true,
	}

	out := toks[:0:0]
	for i := 0; i < len(toks); {
		if toks[i].kind != tokenCast {
			out = append(out, toks[i])
			i++
			continue
		}
		i++ // ::
		if i < len(toks) && toks[i].kind == tokenIdent {
			i++
			for i < len(toks) && toks[i].kind == tokenIdent && continuation[strings.ToLower(toks[i].text)] {
				i++
			}
		}
		// typmod such as (255) or (10, 2)
		if i < len(toks) && toks[i].kind == tokenLParen {
			j := i + 1
			ok := true
			for j < len(toks) && toks[j].kind != tokenRParen {
				if toks[j].kind != tokenNumber && toks[j].kind != tokenComma {
					ok = false
					break
				}
				j++
			}
			if ok && j < len(toks) && toks[j].kind == tokenRParen {
				i = j + 1
			}
		}
		// array suffix []
		if i+1 < len(toks) && toks[i].kind == tokenLBracket && toks[i+1].kind == tokenRBracket {
			i += 2
		}
	}
	return out
}

package parser

import (
	"testing"
)

func kindsOf(toks []token) []tokenKind {
	out := make([]tokenKind, len(toks))
	for i, tok := range toks {
		out[i] = tok.kind
	}
	return out
}

func textsOf(toks []token) []string {
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if tok.kind == tokenEOF {
			continue
		}
		out = append(out, tok.text)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTokenizeKinds(t *testing.T) {
	toks, err := tokenize("posts.owner_id = 'alice' AND score >= 10")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}

	want := []tokenKind{
		tokenIdent, tokenDot, tokenIdent, tokenOperator, tokenString,
		tokenIdent, tokenIdent, tokenOperator, tokenNumber, tokenEOF,
	}
	got := kindsOf(toks)
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTokenizePositions(t *testing.T) {
	src := "a = 'bc'"
	toks, err := tokenize(src)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	// The string token spans the quotes but its text is the decoded value.
	str := toks[2]
	if str.kind != tokenString {
		t.Fatalf("expected string token, got %v", str.kind)
	}
	if str.pos != 4 || str.end != 8 {
		t.Errorf("string span: got [%d, %d), want [4, 8)", str.pos, str.end)
	}
	if str.text != "bc" {
		t.Errorf("string text: got %q, want %q", str.text, "bc")
	}
}

func TestTokenizeStringEscape(t *testing.T) {
	toks, err := tokenize("'it''s'")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if toks[0].text != "it's" {
		t.Errorf("got %q, want %q", toks[0].text, "it's")
	}
}

func TestTokenizeQuotedIdent(t *testing.T) {
	toks, err := tokenize(`"userId" = 1`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if toks[0].kind != tokenIdent || toks[0].text != "userId" {
		t.Fatalf("got %v %q, want ident userId", toks[0].kind, toks[0].text)
	}
	if !toks[0].quoted {
		t.Error("quoted ident not flagged as quoted")
	}

	// Quoting makes keywords usable as column names.
	toks, err = tokenize(`"end"`)
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	if toks[0].keyword("END") {
		t.Error(`quoted "end" must not match the END keyword`)
	}
}

func TestTokenizeNumbers(t *testing.T) {
	toks, err := tokenize("42 3.14 .5")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []string{"42", "3.14", ".5"}
	got := textsOf(toks)
	if !equalStrings(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for i, tok := range toks[:3] {
		if tok.kind != tokenNumber {
			t.Errorf("token %d: got %v, want number", i, tok.kind)
		}
	}
}

func TestTokenizeCastToken(t *testing.T) {
	toks, err := tokenize("status::text")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	want := []tokenKind{tokenIdent, tokenCast, tokenIdent, tokenEOF}
	got := kindsOf(toks)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTokenizeErrors(t *testing.T) {
	cases := []struct {
		name    string
		src     string
		wantPos int
	}{
		{"unterminated string", "a = 'abc", 4},
		{"unterminated quoted ident", `"abc`, 0},
		{"unknown token", "a ; b", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tokenize(tc.src)
			if err == nil {
				t.Fatal("expected error")
			}
			serr, ok := err.(*SyntaxError)
			if !ok {
				t.Fatalf("expected *SyntaxError, got %T", err)
			}
			if serr.Position != tc.wantPos {
				t.Errorf("position: got %d, want %d", serr.Position, tc.wantPos)
			}
		})
	}
}

func TestStripCasts(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want []string
	}{
		{"simple cast", "status::text = 'active'", []string{"status", "=", "active"}},
		{"multi-word type", "created::timestamp with time zone > '2024-01-01'", []string{"created", ">", "2024-01-01"}},
		{"varying with typmod", "code::character varying(255) = 'x'", []string{"code", "=", "x"}},
		{"numeric typmod", "price::numeric(10, 2) > 0", []string{"price", ">", "0"}},
		{"array type", "ids::bigint[]", []string{"ids"}},
		{"parenthesized operand", "(user_id)::uuid = owner", []string{"(", "user_id", ")", "=", "owner"}},
		{"double precision", "weight::double precision > 1", []string{"weight", ">", "1"}},
		{"no casts untouched", "a = 1 AND b = 2", []string{"a", "=", "1", "AND", "b", "=", "2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			toks, err := tokenize(tc.src)
			if err != nil {
				t.Fatalf("tokenize: %v", err)
			}
			got := textsOf(stripCasts(toks))
			if !equalStrings(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestStripCastsKeepsEOF(t *testing.T) {
	toks, err := tokenize("x::text")
	if err != nil {
		t.Fatalf("tokenize: %v", err)
	}
	stripped := stripCasts(toks)
	if stripped[len(stripped)-1].kind != tokenEOF {
		t.Error("stripped stream must still end with EOF")
	}
}

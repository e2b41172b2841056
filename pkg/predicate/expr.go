// Package predicate compiles predicate trees into executable boolean
// expressions over a (record, actor) pair.
//
// Evaluation is safe-navigating: a missing or null field on either side of
// a comparison makes the values unequal, never a panic. Constructs the
// compiler cannot model become labeled Unresolved nodes that evaluate true.
// That fail-open default is deliberate and must stay diagnostics-visible:
// a generated guard that silently locked out legitimate access would be
// worse than one that grants too much loudly.
package predicate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ast"
)

// Operand yields one comparison input from the (record, actor) pair.
// The ok result is false when the field path is absent.
type Operand interface {
	Value(record rowguard.Record, actor rowguard.Actor) (any, bool)
	String() string
}

// RecordField reads a field path off the candidate record.
type RecordField struct {
	Path rowguard.FieldPath
}

// Value resolves the path against the record.
func (f RecordField) Value(record rowguard.Record, _ rowguard.Actor) (any, bool) {
	return record.Lookup(f.Path)
}

// String renders the field reference.
func (f RecordField) String() string {
	return "record." + f.Path.String()
}

// ActorField reads a field path off the actor context. Role marks bindings
// with role semantics; role conditions get special treatment because they
// carry no record-level constraint.
type ActorField struct {
	Path rowguard.FieldPath
	Role bool
}

// Value resolves the path against the actor.
func (f ActorField) Value(_ rowguard.Record, actor rowguard.Actor) (any, bool) {
	return actor.Lookup(f.Path)
}

// String renders the field reference.
func (f ActorField) String() string {
	return "actor." + f.Path.String()
}

// Const is a literal value.
type Const struct {
	Val any
}

// Value returns the literal.
func (c Const) Value(rowguard.Record, rowguard.Actor) (any, bool) {
	return c.Val, true
}

// String renders the literal.
func (c Const) String() string {
	return formatValue(c.Val)
}

// True always allows.
type True struct{}

// Eval returns true.
func (True) Eval(rowguard.Record, rowguard.Actor) bool { return true }

// String renders the node.
func (True) String() string { return "true" }

// False never allows.
type False struct{}

// Eval returns false.
func (False) Eval(rowguard.Record, rowguard.Actor) bool { return false }

// String renders the node.
func (False) String() string { return "false" }

// And is a conjunction; an empty conjunction is true.
type And struct {
	Operands []rowguard.Predicate
}

// Eval evaluates every operand.
func (a And) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	for _, op := range a.Operands {
		if !op.Eval(record, actor) {
			return false
		}
	}
	return true
}

// String renders the conjunction.
func (a And) String() string { return joinPredicates(a.Operands, " AND ") }

// Or is a disjunction; an empty disjunction is false.
type Or struct {
	Operands []rowguard.Predicate
}

// Eval evaluates until an operand allows.
func (o Or) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	for _, op := range o.Operands {
		if op.Eval(record, actor) {
			return true
		}
	}
	return false
}

// String renders the disjunction.
func (o Or) String() string { return joinPredicates(o.Operands, " OR ") }

// Not negates its operand.
type Not struct {
	Operand rowguard.Predicate
}

// Eval negates the operand.
func (n Not) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	return !n.Operand.Eval(record, actor)
}

// String renders the negation.
func (n Not) String() string { return "NOT (" + n.Operand.String() + ")" }

// Compare applies a comparison operator to two operands. Missing or null
// values are unequal to everything, including each other, and unordered.
type Compare struct {
	Op    ast.CompareOp
	Left  Operand
	Right Operand
}

// Eval resolves both operands and compares.
func (c Compare) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	lv, lok := c.Left.Value(record, actor)
	rv, rok := c.Right.Value(record, actor)
	absent := !lok || !rok || lv == nil || rv == nil

	switch c.Op {
	case ast.OpEq:
		return !absent && equalValues(lv, rv)
	case ast.OpNe:
		return absent || !equalValues(lv, rv)
	case ast.OpLt, ast.OpGt, ast.OpLe, ast.OpGe:
		if absent {
			return false
		}
		cmp, ok := orderValues(lv, rv)
		if !ok {
			return false
		}
		switch c.Op {
		case ast.OpLt:
			return cmp < 0
		case ast.OpGt:
			return cmp > 0
		case ast.OpLe:
			return cmp <= 0
		default:
			return cmp >= 0
		}
	default:
		return false
	}
}

// String renders the comparison.
func (c Compare) String() string {
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}

// In tests membership of an operand's value in a literal set. A missing or
// null value is unequal to every member: IN yields false, NOT IN true.
type In struct {
	Operand Operand
	Values  []any
	Negate  bool
}

// Eval resolves the operand and tests membership.
func (i In) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	v, ok := i.Operand.Value(record, actor)
	member := ok && v != nil && containsValue(i.Values, v)
	return member != i.Negate
}

// String renders the membership test.
func (i In) String() string {
	op := "IN"
	if i.Negate {
		op = "NOT IN"
	}
	return i.Operand.String() + " " + op + " " + formatValues(i.Values)
}

// IsNull tests for an absent or null value.
type IsNull struct {
	Operand Operand
	Negate  bool
}

// Eval treats an absent field as null.
func (n IsNull) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	v, ok := n.Operand.Value(record, actor)
	isNull := !ok || v == nil
	return isNull != n.Negate
}

// String renders the null test.
func (n IsNull) String() string {
	if n.Negate {
		return n.Operand.String() + " IS NOT NULL"
	}
	return n.Operand.String() + " IS NULL"
}

// Match tests a string operand against a LIKE/ILIKE pattern. The pattern is
// compiled to a regular expression once, at build time.
type Match struct {
	Operand     Operand
	Pattern     string
	Insensitive bool
	re          *regexp.Regexp
}

// NewMatch builds a Match with its pattern compiled. % matches any run,
// _ any single character, backslash escapes the next character.
func NewMatch(op Operand, pattern string, insensitive bool) (Match, error) {
	re, err := likeRegexp(pattern, insensitive)
	if err != nil {
		return Match{}, err
	}
	return Match{Operand: op, Pattern: pattern, Insensitive: insensitive, re: re}, nil
}

// Eval matches string values only; anything else fails the match.
func (m Match) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	if m.re == nil {
		return false
	}
	v, ok := m.Operand.Value(record, actor)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return m.re.MatchString(s)
}

// String renders the pattern test.
func (m Match) String() string {
	op := "LIKE"
	if m.Insensitive {
		op = "ILIKE"
	}
	return m.Operand.String() + " " + op + " '" + m.Pattern + "'"
}

// RoleCheck is a role condition: the actor's role value, or any element of
// a role list, is in the granted set. Distinct from data conditions so
// callers can special-case pure role grants as unconditional allows.
type RoleCheck struct {
	Path   rowguard.FieldPath
	Values []any
}

// Eval accepts both a scalar role and a role list on the actor.
func (r RoleCheck) Eval(_ rowguard.Record, actor rowguard.Actor) bool {
	v, ok := actor.Lookup(r.Path)
	if !ok || v == nil {
		return false
	}
	switch roles := v.(type) {
	case []any:
		for _, role := range roles {
			if containsValue(r.Values, role) {
				return true
			}
		}
		return false
	case []string:
		for _, role := range roles {
			if containsValue(r.Values, role) {
				return true
			}
		}
		return false
	default:
		return containsValue(r.Values, v)
	}
}

// String renders the role condition.
func (r RoleCheck) String() string {
	return "actor." + r.Path.String() + " IN " + formatValues(r.Values)
}

// Some holds when any related row under the named relation satisfies the
// inner predicate. The related rows are read from the record itself, under
// the relation name, as a slice of nested records.
type Some struct {
	Relation string
	Inner    rowguard.Predicate
}

// Eval iterates the embedded related rows; no rows means no match.
func (s Some) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	raw, ok := record[s.Relation]
	if !ok {
		return false
	}
	switch items := raw.(type) {
	case []rowguard.Record:
		for _, item := range items {
			if s.Inner.Eval(item, actor) {
				return true
			}
		}
	case []map[string]any:
		for _, item := range items {
			if s.Inner.Eval(rowguard.Record(item), actor) {
				return true
			}
		}
	case []any:
		for _, el := range items {
			switch item := el.(type) {
			case rowguard.Record:
				if s.Inner.Eval(item, actor) {
					return true
				}
			case map[string]any:
				if s.Inner.Eval(rowguard.Record(item), actor) {
					return true
				}
			}
		}
	}
	return false
}

// String renders the existential.
func (s Some) String() string {
	return s.Relation + ".some(" + s.Inner.String() + ")"
}

// Unresolved is the fail-open placeholder for constructs the compiler
// cannot model. It evaluates true; the matching UnresolvedConstruct
// diagnostic is emitted at compile time.
type Unresolved struct {
	Construct string
}

// Eval fails open.
func (Unresolved) Eval(rowguard.Record, rowguard.Actor) bool { return true }

// String renders the placeholder with its source construct.
func (u Unresolved) String() string { return "unresolved(" + u.Construct + ")" }

// CaseWhen is one branch of a Case.
type CaseWhen struct {
	When rowguard.Predicate
	Then rowguard.Predicate
}

// Case evaluates branches in declared order, first match wins, falling
// through to Else or false. Never an unordered disjunction.
type Case struct {
	Branches []CaseWhen
	Else     rowguard.Predicate
}

// Eval returns the first matching branch's result.
func (c Case) Eval(record rowguard.Record, actor rowguard.Actor) bool {
	for _, br := range c.Branches {
		if br.When.Eval(record, actor) {
			return br.Then.Eval(record, actor)
		}
	}
	if c.Else != nil {
		return c.Else.Eval(record, actor)
	}
	return false
}

// String renders the conditional.
func (c Case) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, br := range c.Branches {
		b.WriteString(" WHEN ")
		b.WriteString(br.When.String())
		b.WriteString(" THEN ")
		b.WriteString(br.Then.String())
	}
	if c.Else != nil {
		b.WriteString(" ELSE ")
		b.WriteString(c.Else.String())
	}
	b.WriteString(" END")
	return b.String()
}

// PureRole reports whether the predicate grants access purely by role:
// every leaf is a role condition or the literal true, so there is no
// record-level constraint to filter by.
func PureRole(p rowguard.Predicate) bool {
	switch p := p.(type) {
	case True:
		return true
	case RoleCheck:
		return true
	case And:
		for _, op := range p.Operands {
			if !PureRole(op) {
				return false
			}
		}
		return true
	case Or:
		for _, op := range p.Operands {
			if !PureRole(op) {
				return false
			}
		}
		return true
	case Not:
		return PureRole(p.Operand)
	default:
		return false
	}
}

func joinPredicates(operands []rowguard.Predicate, sep string) string {
	parts := make([]string, len(operands))
	for i, op := range operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// equalValues compares across representations: numeric kinds promote to a
// common type, and mixed kinds fall back to their printed forms so a uuid
// value and its string spelling compare equal.
func equalValues(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// orderValues orders numbers, strings, and timestamps; anything else is
// unordered.
func orderValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), true
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Compare(bt), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func containsValue(values []any, v any) bool {
	for _, member := range values {
		if equalValues(member, v) {
			return true
		}
	}
	return false
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func formatValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// likeRegexp translates a SQL LIKE pattern into an anchored regular
// expression.
func likeRegexp(pattern string, insensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?is)^")
	} else {
		b.WriteString("(?s)^")
	}
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		case '\\':
			if i+1 < len(runes) {
				i++
				b.WriteString(regexp.QuoteMeta(string(runes[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// Package ast defines the expression tree produced by parsing row-level
// security predicates. Nodes model the predicate DSL directly rather than
// generic SQL syntax.
//
// Trees are immutable after construction: every node is owned exactly once
// by its parent, and compiler backends replace nodes with their own output
// instead of mutating them. The String method renders an approximate source
// form used in diagnostics, not a parseable round-trip.
package ast

import (
	"strconv"
	"strings"
)

// Node is the interface all expression tree nodes implement.
type Node interface {
	String() string
}

// LiteralKind discriminates the payload of a Literal.
type LiteralKind int

const (
	// StringKind is a single-quoted string literal.
	StringKind LiteralKind = iota
	// NumberKind is an integer or decimal literal.
	NumberKind
	// BoolKind is true or false.
	BoolKind
	// NullKind is the NULL literal.
	NullKind
)

// Literal is a constant value. Value holds the decoded payload: string with
// quote escapes resolved, int64 or float64 for numbers, bool, or nil for
// NULL. Text preserves the exact source spelling so numeric literals render
// without precision drift.
type Literal struct {
	Kind  LiteralKind
	Value any
	Text  string
}

// String renders the literal in source form.
func (l Literal) String() string {
	switch l.Kind {
	case StringKind:
		s, _ := l.Value.(string)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	case NumberKind:
		if l.Text != "" {
			return l.Text
		}
		switch v := l.Value.(type) {
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
		return ""
	case BoolKind:
		if b, _ := l.Value.(bool); b {
			return "true"
		}
		return "false"
	case NullKind:
		return "NULL"
	default:
		return ""
	}
}

// Bool is a convenience constructor for boolean literals.
func Bool(v bool) Literal {
	return Literal{Kind: BoolKind, Value: v}
}

// Text constructs a string literal from a decoded value.
func Text(v string) Literal {
	return Literal{Kind: StringKind, Value: v}
}

// Number constructs a numeric literal from source text, parsing it as int64
// when possible and float64 otherwise.
func Number(text string) Literal {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return Literal{Kind: NumberKind, Value: i, Text: text}
	}
	f, _ := strconv.ParseFloat(text, 64)
	return Literal{Kind: NumberKind, Value: f, Text: text}
}

// Null constructs the NULL literal.
func Null() Literal {
	return Literal{Kind: NullKind}
}

// ColumnRef references a column of the policy's entity, optionally
// qualified: "owner_id" or "posts.owner_id".
type ColumnRef struct {
	Entity string
	Name   string
}

// String renders the qualified column reference.
func (c ColumnRef) String() string {
	if c.Entity == "" {
		return c.Name
	}
	return c.Entity + "." + c.Name
}

// SessionSetting references a session variable read through
// current_setting('key'), such as current_setting('app.tenant_id').
type SessionSetting struct {
	Key string
}

// String renders the current_setting call.
func (s SessionSetting) String() string {
	return "current_setting('" + s.Key + "')"
}

// FunctionCall is a context-provider invocation such as current_user_id().
// Calls with arguments are preserved for diagnostics but are not resolvable
// context providers.
type FunctionCall struct {
	Name string
	Args []Node
}

// String renders the call.
func (f FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

// ArrayLiteral is an ARRAY[...] constructor of literal items.
type ArrayLiteral struct {
	Items []Node
}

// String renders the array constructor.
func (a ArrayLiteral) String() string {
	items := make([]string, len(a.Items))
	for i, it := range a.Items {
		items[i] = it.String()
	}
	return "ARRAY[" + strings.Join(items, ", ") + "]"
}

// CompareOp identifies a comparison operator.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpNe
	OpLt
	OpGt
	OpLe
	OpGe
	OpIn
	OpNotIn
	OpIsNull
	OpIsNotNull
	OpLike
	OpILike
)

// String returns the source spelling of the operator.
func (op CompareOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNe:
		return "<>"
	case OpLt:
		return "<"
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpGe:
		return ">="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	default:
		return "?"
	}
}

// Comparison applies a comparison operator to its operands. Right is nil for
// the postfix operators OpIsNull and OpIsNotNull. For OpIn and OpNotIn the
// right operand is an ArrayLiteral; `x = ANY (ARRAY[...])` parses directly
// into this form.
type Comparison struct {
	Op    CompareOp
	Left  Node
	Right Node
}

// String renders the comparison.
func (c Comparison) String() string {
	if c.Right == nil {
		return c.Left.String() + " " + c.Op.String()
	}
	if c.Op == OpIn || c.Op == OpNotIn {
		return c.Left.String() + " " + c.Op.String() + " (" + c.Right.String() + ")"
	}
	return c.Left.String() + " " + c.Op.String() + " " + c.Right.String()
}

// Not negates its operand.
type Not struct {
	Operand Node
}

// String renders the negation.
func (n Not) String() string {
	return "NOT (" + n.Operand.String() + ")"
}

// And is an n-ary conjunction. Operand order matches source order.
type And struct {
	Operands []Node
}

// String renders the conjunction.
func (a And) String() string {
	return joinOperands(a.Operands, " AND ")
}

// Or is an n-ary disjunction. Operand order matches source order.
type Or struct {
	Operands []Node
}

// String renders the disjunction.
func (o Or) String() string {
	return joinOperands(o.Operands, " OR ")
}

func joinOperands(operands []Node, sep string) string {
	parts := make([]string, len(operands))
	for i, op := range operands {
		parts[i] = op.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// CaseBranch is one WHEN/THEN pair of a Case.
type CaseBranch struct {
	When Node
	Then Node
}

// Case is a conditional expression. A nil Discriminant is the searched form
// (each When is a boolean condition); otherwise each When is a value the
// discriminant is compared to. Branch order is load-bearing: evaluation is
// first-match-wins, never an unordered set. Else may be nil.
type Case struct {
	Discriminant Node
	Branches     []CaseBranch
	Else         Node
}

// String renders the CASE expression.
func (c Case) String() string {
	var b strings.Builder
	b.WriteString("CASE")
	if c.Discriminant != nil {
		b.WriteString(" ")
		b.WriteString(c.Discriminant.String())
	}
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

// Exists is an existential subquery captured verbatim. Entity is the
// best-effort source extracted from the first FROM clause inside the
// subquery; Subquery is the raw source text between the parentheses.
// The subquery is never recursively parsed.
type Exists struct {
	Entity   string
	Subquery string
}

// String renders the EXISTS expression.
func (e Exists) String() string {
	return "EXISTS (" + e.Subquery + ")"
}

// Package filter compiles predicates into composable query restrictions.
//
// A filter is a tree the caller renders into its query layer: field
// conditions against literal values, actor references, relation conditions
// for fields that live on related entities, and role conditions that gate
// whole branches on the acting principal. Role and actor references cannot
// appear in a rendered query, so Bind resolves them first: binding
// substitutes the actor's concrete values, evaluates role conditions to
// true or false, and constant-folds the result. A bound filter contains
// only field, relation, and boolean nodes.
//
// A policy that mixes a role grant with a data restriction through OR
// therefore binds to the unconditional pass for actors matching the role
// and to the bare data restriction for everyone else. That bind-time split
// is reported with a role-condition-split diagnostic at compile time.
package filter

import (
	"fmt"
	"strings"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ast"
	"github.com/rowguard/rowguard/pkg/predicate"
)

// Operand is one side of a field condition.
type Operand interface {
	String() string
}

// Const is a literal value.
type Const struct {
	Val any
}

// String renders the literal.
func (c Const) String() string { return formatValue(c.Val) }

// ActorRef reads a field path off the actor at bind time.
type ActorRef struct {
	Path rowguard.FieldPath
}

// String renders the reference.
func (a ActorRef) String() string { return "actor." + a.Path.String() }

// FieldRef references another column of the same entity.
type FieldRef struct {
	Name string
}

// String renders the column name.
func (f FieldRef) String() string { return f.Name }

// True matches every row.
type True struct{}

// Bind returns the filter unchanged.
func (t True) Bind(rowguard.Actor) rowguard.Filter { return t }

// String renders the filter.
func (True) String() string { return "true" }

// False matches no rows.
type False struct{}

// Bind returns the filter unchanged.
func (f False) Bind(rowguard.Actor) rowguard.Filter { return f }

// String renders the filter.
func (False) String() string { return "false" }

// And matches rows satisfying every branch; an empty conjunction is true.
type And struct {
	Filters []rowguard.Filter
}

// Bind binds each branch and folds out constants.
func (a And) Bind(actor rowguard.Actor) rowguard.Filter {
	out := make([]rowguard.Filter, 0, len(a.Filters))
	for _, f := range a.Filters {
		switch b := f.Bind(actor).(type) {
		case True:
		case False:
			return False{}
		default:
			out = append(out, b)
		}
	}
	return collapse(out, True{}, func(fs []rowguard.Filter) rowguard.Filter { return And{Filters: fs} })
}

// String renders the conjunction.
func (a And) String() string { return joinFilters(a.Filters, " AND ") }

// Or matches rows satisfying any branch; an empty disjunction is false.
type Or struct {
	Filters []rowguard.Filter
}

// Bind binds each branch and folds out constants.
func (o Or) Bind(actor rowguard.Actor) rowguard.Filter {
	out := make([]rowguard.Filter, 0, len(o.Filters))
	for _, f := range o.Filters {
		switch b := f.Bind(actor).(type) {
		case False:
		case True:
			return True{}
		default:
			out = append(out, b)
		}
	}
	return collapse(out, False{}, func(fs []rowguard.Filter) rowguard.Filter { return Or{Filters: fs} })
}

// String renders the disjunction.
func (o Or) String() string { return joinFilters(o.Filters, " OR ") }

// Not matches rows its branch rejects.
type Not struct {
	Filter rowguard.Filter
}

// Bind binds the branch and folds a constant result.
func (n Not) Bind(actor rowguard.Actor) rowguard.Filter {
	switch b := n.Filter.Bind(actor).(type) {
	case True:
		return False{}
	case False:
		return True{}
	default:
		return Not{Filter: b}
	}
}

// String renders the negation.
func (n Not) String() string { return "NOT (" + n.Filter.String() + ")" }

// FieldCompare restricts a column against a value, an actor reference, or
// another column.
type FieldCompare struct {
	Field string
	Op    ast.CompareOp
	Value Operand
}

// Bind substitutes an actor reference with the actor's value. A missing or
// null actor value can match no row, so equality and ordered comparisons
// fold to false and inequality folds to true.
func (f FieldCompare) Bind(actor rowguard.Actor) rowguard.Filter {
	ref, ok := f.Value.(ActorRef)
	if !ok {
		return f
	}
	v, found := actor.Lookup(ref.Path)
	if !found || v == nil {
		if f.Op == ast.OpNe {
			return True{}
		}
		return False{}
	}
	return FieldCompare{Field: f.Field, Op: f.Op, Value: Const{Val: v}}
}

// String renders the condition.
func (f FieldCompare) String() string {
	return f.Field + " " + f.Op.String() + " " + f.Value.String()
}

// FieldIn restricts a column to a literal set.
type FieldIn struct {
	Field  string
	Values []any
	Negate bool
}

// Bind returns the filter unchanged.
func (f FieldIn) Bind(rowguard.Actor) rowguard.Filter { return f }

// String renders the condition.
func (f FieldIn) String() string {
	op := "IN"
	if f.Negate {
		op = "NOT IN"
	}
	return f.Field + " " + op + " " + formatValues(f.Values)
}

// FieldIsNull restricts a column to null (or non-null) values.
type FieldIsNull struct {
	Field  string
	Negate bool
}

// Bind returns the filter unchanged.
func (f FieldIsNull) Bind(rowguard.Actor) rowguard.Filter { return f }

// String renders the condition.
func (f FieldIsNull) String() string {
	if f.Negate {
		return f.Field + " IS NOT NULL"
	}
	return f.Field + " IS NULL"
}

// FieldMatch restricts a column by a LIKE pattern.
type FieldMatch struct {
	Field       string
	Pattern     string
	Insensitive bool
}

// Bind returns the filter unchanged.
func (f FieldMatch) Bind(rowguard.Actor) rowguard.Filter { return f }

// String renders the condition.
func (f FieldMatch) String() string {
	op := "LIKE"
	if f.Insensitive {
		op = "ILIKE"
	}
	return f.Field + " " + op + " '" + f.Pattern + "'"
}

// RelationSome restricts to rows with at least one related row matching the
// inner filter, expressed against the related entity's columns. For
// junction relations JoinFields carries the composite key ordered with the
// filtered entity's own key first.
type RelationSome struct {
	Relation   string
	JoinFields []string
	Inner      rowguard.Filter
}

// Bind binds the inner filter. An inner filter of false can match no
// related row.
func (r RelationSome) Bind(actor rowguard.Actor) rowguard.Filter {
	b := r.Inner.Bind(actor)
	if _, isFalse := b.(False); isFalse {
		return False{}
	}
	return RelationSome{Relation: r.Relation, JoinFields: r.JoinFields, Inner: b}
}

// String renders the condition.
func (r RelationSome) String() string {
	return r.Relation + ".some(" + r.Inner.String() + ")"
}

// RelationIs restricts through a to-one relation: the related row must
// satisfy the inner filter.
type RelationIs struct {
	Relation string
	Inner    rowguard.Filter
}

// Bind binds the inner filter.
func (r RelationIs) Bind(actor rowguard.Actor) rowguard.Filter {
	b := r.Inner.Bind(actor)
	if _, isFalse := b.(False); isFalse {
		return False{}
	}
	return RelationIs{Relation: r.Relation, Inner: b}
}

// String renders the condition.
func (r RelationIs) String() string {
	return r.Relation + ".is(" + r.Inner.String() + ")"
}

// RoleCondition gates a branch on the actor's role. It has no row-level
// meaning; Bind evaluates it against the actor and folds the branch.
type RoleCondition struct {
	Path   rowguard.FieldPath
	Values []any
}

// Bind evaluates the role test.
func (r RoleCondition) Bind(actor rowguard.Actor) rowguard.Filter {
	if (predicate.RoleCheck{Path: r.Path, Values: r.Values}).Eval(nil, actor) {
		return True{}
	}
	return False{}
}

// String renders the condition.
func (r RoleCondition) String() string {
	return "actor." + r.Path.String() + " IN " + formatValues(r.Values)
}

// ActorCondition compares an actor field against a literal. Like
// RoleCondition it has no row-level meaning and folds at bind time; a
// missing or null actor value compares as unequal.
type ActorCondition struct {
	Path  rowguard.FieldPath
	Op    ast.CompareOp
	Value any
}

// Bind evaluates the comparison against the actor.
func (a ActorCondition) Bind(actor rowguard.Actor) rowguard.Filter {
	cmp := predicate.Compare{
		Op:    a.Op,
		Left:  predicate.ActorField{Path: a.Path},
		Right: predicate.Const{Val: a.Value},
	}
	if cmp.Eval(nil, actor) {
		return True{}
	}
	return False{}
}

// String renders the condition.
func (a ActorCondition) String() string {
	return "actor." + a.Path.String() + " " + a.Op.String() + " " + formatValue(a.Value)
}

// Unrestricted reports whether the filter is the always-true filter.
func Unrestricted(f rowguard.Filter) bool {
	_, ok := f.(True)
	return ok
}

func collapse(fs []rowguard.Filter, empty rowguard.Filter, wrap func([]rowguard.Filter) rowguard.Filter) rowguard.Filter {
	switch len(fs) {
	case 0:
		return empty
	case 1:
		return fs[0]
	default:
		return wrap(fs)
	}
}

func joinFilters(fs []rowguard.Filter, sep string) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(v)
	}
}

func formatValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

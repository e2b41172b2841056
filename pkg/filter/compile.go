package filter

import (
	"errors"
	"fmt"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ast"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/predicate"
	"github.com/rowguard/rowguard/pkg/schema"
)

var errUnmodeled = errors.New("unmodeled construct")

// Compile translates a parsed predicate into a query filter.
//
// Hard errors (unknown entity, unresolvable field) abort compilation of
// this predicate only. Constructs the filter cannot model degrade to the
// always-true filter and surface as diagnostics, mirroring the executable
// predicate's fail-open rule. Role and actor conditions stay in the tree
// as bindable leaves; diagnostics report when an OR mixes them with data
// conditions, because binding then swings between an unconditional pass
// and the bare data filter.
//
// A nil graph disables relationship resolution: every column reference is
// then treated as a direct column of the entity.
func Compile(node ast.Node, mapping *ctxmap.Mapping, graph *schema.Graph, entity string) (rowguard.Filter, []rowguard.Diagnostic, error) {
	if mapping == nil {
		mapping = ctxmap.New()
	}
	c := &compiler{mapping: mapping, graph: graph, entity: entity}
	f, err := c.compile(node)
	if err != nil {
		return nil, nil, err
	}
	return f, c.diags, nil
}

type compiler struct {
	mapping *ctxmap.Mapping
	graph   *schema.Graph
	entity  string
	diags   []rowguard.Diagnostic
}

func (c *compiler) compile(n ast.Node) (rowguard.Filter, error) {
	switch n := n.(type) {
	case ast.Literal:
		switch n.Kind {
		case ast.BoolKind:
			if v, _ := n.Value.(bool); v {
				return True{}, nil
			}
			return False{}, nil
		case ast.NullKind:
			return False{}, nil
		default:
			return c.unresolved(n, "non-boolean literal in boolean position"), nil
		}

	case ast.And:
		filters, err := c.compileAll(n.Operands)
		if err != nil {
			return nil, err
		}
		return And{Filters: filters}, nil

	case ast.Or:
		filters, err := c.compileAll(n.Operands)
		if err != nil {
			return nil, err
		}
		c.noteRoleSplit(n, filters)
		return Or{Filters: filters}, nil

	case ast.Not:
		inner, err := c.compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return Not{Filter: inner}, nil

	case ast.Comparison:
		return c.compileComparison(n)

	case ast.Case:
		return c.compileCase(n)

	case ast.Exists:
		detail := "subquery defaults to allow"
		if n.Entity != "" {
			detail = fmt.Sprintf("subquery over %q defaults to allow", n.Entity)
		}
		return c.unresolved(n, detail), nil

	case ast.ColumnRef, ast.FunctionCall, ast.SessionSetting:
		return c.compileComparison(ast.Comparison{Op: ast.OpEq, Left: n, Right: ast.Bool(true)})

	default:
		return c.unresolved(n, "unsupported construct"), nil
	}
}

func (c *compiler) compileAll(nodes []ast.Node) ([]rowguard.Filter, error) {
	out := make([]rowguard.Filter, len(nodes))
	for i, n := range nodes {
		f, err := c.compile(n)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func (c *compiler) compileComparison(cmp ast.Comparison) (rowguard.Filter, error) {
	switch cmp.Op {
	case ast.OpIsNull, ast.OpIsNotNull:
		return c.compileNullTest(cmp)
	case ast.OpIn, ast.OpNotIn:
		return c.compileMembership(cmp)
	case ast.OpLike, ast.OpILike:
		return c.compileMatch(cmp)
	}

	left, err := c.classify(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled comparison operand"), nil
	}
	if err != nil {
		return nil, err
	}
	right, err := c.classify(cmp.Right)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled comparison operand"), nil
	}
	if err != nil {
		return nil, err
	}
	return c.compileBinary(cmp, left, right)
}

func (c *compiler) compileNullTest(cmp ast.Comparison) (rowguard.Filter, error) {
	s, err := c.classify(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "null test on unmodeled operand"), nil
	}
	if err != nil {
		return nil, err
	}
	if s.kind != sideColumn {
		return c.unresolved(cmp, "null test without a column"), nil
	}
	return s.wrap(FieldIsNull{Field: s.field, Negate: cmp.Op == ast.OpIsNotNull}), nil
}

func (c *compiler) compileMembership(cmp ast.Comparison) (rowguard.Filter, error) {
	values, ok := literalValues(cmp.Right)
	if !ok {
		return c.unresolved(cmp, "membership against a non-literal set"), nil
	}

	s, err := c.classify(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled membership operand"), nil
	}
	if err != nil {
		return nil, err
	}

	switch s.kind {
	case sideColumn:
		return s.wrap(FieldIn{Field: s.field, Values: values, Negate: cmp.Op == ast.OpNotIn}), nil
	case sideActor:
		if s.role && cmp.Op == ast.OpIn {
			return RoleCondition{Path: s.path, Values: values}, nil
		}
		// A non-role actor membership still folds at bind time: test each
		// member individually.
		arms := make([]rowguard.Filter, len(values))
		for i, v := range values {
			arms[i] = ActorCondition{Path: s.path, Op: ast.OpEq, Value: v}
		}
		var f rowguard.Filter = Or{Filters: arms}
		if cmp.Op == ast.OpNotIn {
			f = Not{Filter: f}
		}
		return f, nil
	default:
		return c.unresolved(cmp, "membership without a column or actor reference"), nil
	}
}

func (c *compiler) compileMatch(cmp ast.Comparison) (rowguard.Filter, error) {
	lit, ok := cmp.Right.(ast.Literal)
	if !ok || lit.Kind != ast.StringKind {
		return c.unresolved(cmp, "pattern match against a non-literal pattern"), nil
	}
	pattern, _ := lit.Value.(string)

	s, err := c.classify(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled match operand"), nil
	}
	if err != nil {
		return nil, err
	}
	if s.kind != sideColumn {
		return c.unresolved(cmp, "pattern match without a column"), nil
	}
	return s.wrap(FieldMatch{Field: s.field, Pattern: pattern, Insensitive: cmp.Op == ast.OpILike}), nil
}

func (c *compiler) compileBinary(cmp ast.Comparison, left, right side) (rowguard.Filter, error) {
	switch {
	case left.kind == sideColumn && right.kind == sideValue:
		return left.wrap(FieldCompare{Field: left.field, Op: cmp.Op, Value: Const{Val: right.val}}), nil
	case left.kind == sideValue && right.kind == sideColumn:
		return right.wrap(FieldCompare{Field: right.field, Op: mirror(cmp.Op), Value: Const{Val: left.val}}), nil

	case left.kind == sideColumn && right.kind == sideActor:
		return left.wrap(FieldCompare{Field: left.field, Op: cmp.Op, Value: ActorRef{Path: right.path}}), nil
	case left.kind == sideActor && right.kind == sideColumn:
		return right.wrap(FieldCompare{Field: right.field, Op: mirror(cmp.Op), Value: ActorRef{Path: left.path}}), nil

	case left.kind == sideActor && right.kind == sideValue:
		return actorAgainstValue(left, cmp.Op, right.val), nil
	case left.kind == sideValue && right.kind == sideActor:
		return actorAgainstValue(right, mirror(cmp.Op), left.val), nil

	case left.kind == sideColumn && right.kind == sideColumn:
		if left.rel == "" && right.rel == "" {
			return FieldCompare{Field: left.field, Op: cmp.Op, Value: FieldRef{Name: right.field}}, nil
		}
		if left.rel != "" && left.rel == right.rel {
			return left.wrap(FieldCompare{Field: left.field, Op: cmp.Op, Value: FieldRef{Name: right.field}}), nil
		}
		return c.unresolved(cmp, "comparison spans unrelated columns"), nil

	case left.kind == sideValue && right.kind == sideValue:
		// Constant comparisons fold immediately.
		eq := predicate.Compare{Op: cmp.Op, Left: predicate.Const{Val: left.val}, Right: predicate.Const{Val: right.val}}
		if eq.Eval(nil, nil) {
			return True{}, nil
		}
		return False{}, nil

	default:
		return c.unresolved(cmp, "comparison between two actor references"), nil
	}
}

func actorAgainstValue(s side, op ast.CompareOp, val any) rowguard.Filter {
	if s.role && op == ast.OpEq {
		return RoleCondition{Path: s.path, Values: []any{val}}
	}
	return ActorCondition{Path: s.path, Op: op, Value: val}
}

func (c *compiler) compileCase(cs ast.Case) (rowguard.Filter, error) {
	// First-match lowering: each arm fires only when every earlier branch
	// condition failed.
	var arms []rowguard.Filter
	var prefix []rowguard.Filter
	for _, br := range cs.Branches {
		var when rowguard.Filter
		var err error
		if cs.Discriminant != nil {
			when, err = c.compileComparison(ast.Comparison{Op: ast.OpEq, Left: cs.Discriminant, Right: br.When})
		} else {
			when, err = c.compile(br.When)
		}
		if err != nil {
			return nil, err
		}
		then, err := c.compile(br.Then)
		if err != nil {
			return nil, err
		}

		conj := make([]rowguard.Filter, 0, len(prefix)+2)
		conj = append(conj, prefix...)
		conj = append(conj, when, then)
		arms = append(arms, And{Filters: conj})
		prefix = append(prefix, Not{Filter: when})
	}
	if cs.Else != nil {
		els, err := c.compile(cs.Else)
		if err != nil {
			return nil, err
		}
		conj := make([]rowguard.Filter, 0, len(prefix)+1)
		conj = append(conj, prefix...)
		conj = append(conj, els)
		arms = append(arms, And{Filters: conj})
	}
	return Or{Filters: arms}, nil
}

type sideKind int

const (
	sideColumn sideKind = iota
	sideActor
	sideValue
)

// side is one classified operand of a comparison.
type side struct {
	kind sideKind

	field      string
	rel        string
	relMany    bool
	joinFields []string

	path rowguard.FieldPath
	role bool

	val any
}

// wrap nests a leaf inside the relation the column was located through.
func (s side) wrap(leaf rowguard.Filter) rowguard.Filter {
	if s.rel == "" {
		return leaf
	}
	if s.relMany {
		return RelationSome{Relation: s.rel, JoinFields: s.joinFields, Inner: leaf}
	}
	return RelationIs{Relation: s.rel, Inner: leaf}
}

func (c *compiler) classify(n ast.Node) (side, error) {
	switch n := n.(type) {
	case ast.Literal:
		return side{kind: sideValue, val: n.Value}, nil

	case ast.ColumnRef:
		if c.graph == nil {
			return side{kind: sideColumn, field: n.Name}, nil
		}
		loc, err := c.graph.Locate(c.entity, n.Name)
		if err != nil {
			return side{}, err
		}
		switch loc.Kind {
		case schema.LocationDirect:
			return side{kind: sideColumn, field: n.Name}, nil
		case schema.LocationViaJunction:
			return side{
				kind:       sideColumn,
				field:      loc.Field.Name,
				rel:        loc.Relation,
				relMany:    true,
				joinFields: loc.JoinFields,
			}, nil
		default:
			return side{
				kind:    sideColumn,
				field:   loc.Field.Name,
				rel:     loc.Relation,
				relMany: loc.Cardinality == schema.CardinalityMany,
			}, nil
		}

	case ast.SessionSetting:
		b := c.mapping.Resolve(n.Key)
		c.noteLowConfidence(n.String(), b)
		return side{kind: sideActor, path: b.Path, role: b.IsRole()}, nil

	case ast.FunctionCall:
		if len(n.Args) > 0 {
			return side{}, errUnmodeled
		}
		b := c.mapping.Resolve(n.Name)
		c.noteLowConfidence(n.String(), b)
		return side{kind: sideActor, path: b.Path, role: b.IsRole()}, nil

	default:
		return side{}, errUnmodeled
	}
}

func mirror(op ast.CompareOp) ast.CompareOp {
	switch op {
	case ast.OpLt:
		return ast.OpGt
	case ast.OpGt:
		return ast.OpLt
	case ast.OpLe:
		return ast.OpGe
	case ast.OpGe:
		return ast.OpLe
	default:
		return op
	}
}

func literalValues(n ast.Node) ([]any, bool) {
	arr, ok := n.(ast.ArrayLiteral)
	if !ok {
		return nil, false
	}
	values := make([]any, len(arr.Items))
	for i, item := range arr.Items {
		lit, ok := item.(ast.Literal)
		if !ok {
			return nil, false
		}
		values[i] = lit.Value
	}
	return values, true
}

// noteRoleSplit reports an OR that mixes actor-gated branches with data
// branches. Binding such a filter swings between an unconditional pass and
// the bare data filter, which reviewers should see.
func (c *compiler) noteRoleSplit(n ast.Or, filters []rowguard.Filter) {
	var gated, data bool
	for _, f := range filters {
		if actorOnly(f) {
			if !constant(f) {
				gated = true
			}
		} else {
			data = true
		}
	}
	if !gated || !data {
		return
	}
	c.diags = append(c.diags, rowguard.Diagnostic{
		Entity:    c.entity,
		Category:  rowguard.CategoryRoleConditionSplit,
		Construct: n.String(),
		Detail:    "role match binds to an unconditional pass; other actors receive the data filter",
	})
}

// actorOnly reports whether the filter constrains nothing but the actor.
func actorOnly(f rowguard.Filter) bool {
	switch f := f.(type) {
	case True, False, RoleCondition, ActorCondition:
		return true
	case And:
		for _, sub := range f.Filters {
			if !actorOnly(sub) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range f.Filters {
			if !actorOnly(sub) {
				return false
			}
		}
		return true
	case Not:
		return actorOnly(f.Filter)
	default:
		return false
	}
}

func constant(f rowguard.Filter) bool {
	switch f.(type) {
	case True, False:
		return true
	}
	return false
}

func (c *compiler) unresolved(n ast.Node, detail string) rowguard.Filter {
	c.diags = append(c.diags, rowguard.Diagnostic{
		Entity:    c.entity,
		Category:  rowguard.CategoryUnresolvedConstruct,
		Construct: n.String(),
		Detail:    detail,
	})
	return True{}
}

func (c *compiler) noteLowConfidence(construct string, b ctxmap.Binding) {
	if !b.LowConfidence() {
		return
	}
	c.diags = append(c.diags, rowguard.Diagnostic{
		Entity:    c.entity,
		Category:  rowguard.CategoryLowConfidenceMapping,
		Construct: construct,
		Detail:    fmt.Sprintf("provider %q mapped to actor.%s by literal fallback", b.Provider, b.Path),
	})
}

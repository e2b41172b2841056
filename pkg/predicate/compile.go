package predicate

import (
	"errors"
	"fmt"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ast"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/schema"
)

// errUnmodeled marks sub-expressions the compiler has no model for. It is
// internal: such constructs degrade to fail-open Unresolved nodes, they do
// not abort compilation.
var errUnmodeled = errors.New("unmodeled construct")

// Compile translates a parsed predicate into an executable predicate over
// (record, actor).
//
// Hard errors (unknown entity, unresolvable field) abort compilation of
// this predicate only. Unmodeled constructs and low-confidence mappings
// never abort: they degrade to fail-open nodes or best-guess bindings and
// surface in the returned diagnostics, with Entity filled in and Operation
// left for the caller.
//
// A nil graph disables relationship resolution: every column reference is
// then read directly off the record.
func Compile(node ast.Node, mapping *ctxmap.Mapping, graph *schema.Graph, entity string) (rowguard.Predicate, []rowguard.Diagnostic, error) {
	if mapping == nil {
		mapping = ctxmap.New()
	}
	c := &compiler{mapping: mapping, graph: graph, entity: entity}
	p, err := c.compile(node)
	if err != nil {
		return nil, nil, err
	}
	return p, c.diags, nil
}

type compiler struct {
	mapping *ctxmap.Mapping
	graph   *schema.Graph
	entity  string
	diags   []rowguard.Diagnostic
}

func (c *compiler) compile(n ast.Node) (rowguard.Predicate, error) {
	switch n := n.(type) {
	case ast.Literal:
		switch n.Kind {
		case ast.BoolKind:
			if v, _ := n.Value.(bool); v {
				return True{}, nil
			}
			return False{}, nil
		case ast.NullKind:
			// WHERE NULL admits nothing.
			return False{}, nil
		default:
			return c.unresolved(n, "non-boolean literal in boolean position"), nil
		}

	case ast.And:
		operands, err := c.compileAll(n.Operands)
		if err != nil {
			return nil, err
		}
		return And{Operands: operands}, nil

	case ast.Or:
		operands, err := c.compileAll(n.Operands)
		if err != nil {
			return nil, err
		}
		return Or{Operands: operands}, nil

	case ast.Not:
		inner, err := c.compile(n.Operand)
		if err != nil {
			return nil, err
		}
		return Not{Operand: inner}, nil

	case ast.Comparison:
		return c.compileComparison(n)

	case ast.Case:
		return c.compileCase(n)

	case ast.Exists:
		return c.unresolvedSubquery(n), nil

	case ast.ColumnRef, ast.FunctionCall, ast.SessionSetting:
		// A bare reference in boolean position is an implicit = true.
		return c.compileComparison(ast.Comparison{Op: ast.OpEq, Left: n, Right: ast.Bool(true)})

	default:
		return c.unresolved(n, "unsupported construct"), nil
	}
}

func (c *compiler) compileAll(nodes []ast.Node) ([]rowguard.Predicate, error) {
	out := make([]rowguard.Predicate, len(nodes))
	for i, n := range nodes {
		p, err := c.compile(n)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (c *compiler) compileComparison(cmp ast.Comparison) (rowguard.Predicate, error) {
	switch cmp.Op {
	case ast.OpIsNull, ast.OpIsNotNull:
		op, rel, err := c.operand(cmp.Left)
		if errors.Is(err, errUnmodeled) {
			return c.unresolved(cmp, "null test on unmodeled operand"), nil
		}
		if err != nil {
			return nil, err
		}
		return wrapSome(rel, IsNull{Operand: op, Negate: cmp.Op == ast.OpIsNotNull}), nil

	case ast.OpIn, ast.OpNotIn:
		return c.compileMembership(cmp)

	case ast.OpLike, ast.OpILike:
		return c.compileMatch(cmp)
	}

	lop, lrel, err := c.operand(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled comparison operand"), nil
	}
	if err != nil {
		return nil, err
	}
	rop, rrel, err := c.operand(cmp.Right)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled comparison operand"), nil
	}
	if err != nil {
		return nil, err
	}
	if lrel != "" && rrel != "" && lrel != rrel {
		return c.unresolved(cmp, "comparison spans two to-many relations"), nil
	}

	// An equality against a role binding is a role condition, not a data
	// condition.
	if cmp.Op == ast.OpEq {
		if rc, ok := roleEquality(lop, rop); ok {
			return rc, nil
		}
	}

	rel := lrel
	if rel == "" {
		rel = rrel
	}
	return wrapSome(rel, Compare{Op: cmp.Op, Left: lop, Right: rop}), nil
}

func (c *compiler) compileMembership(cmp ast.Comparison) (rowguard.Predicate, error) {
	arr, ok := cmp.Right.(ast.ArrayLiteral)
	if !ok {
		return c.unresolved(cmp, "membership against a non-literal set"), nil
	}
	values := make([]any, len(arr.Items))
	for i, item := range arr.Items {
		lit, ok := item.(ast.Literal)
		if !ok {
			return c.unresolved(cmp, "non-literal member in a membership set"), nil
		}
		values[i] = lit.Value
	}

	op, rel, err := c.operand(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled membership operand"), nil
	}
	if err != nil {
		return nil, err
	}

	if af, ok := op.(ActorField); ok && af.Role && cmp.Op == ast.OpIn {
		return RoleCheck{Path: af.Path, Values: values}, nil
	}
	return wrapSome(rel, In{Operand: op, Values: values, Negate: cmp.Op == ast.OpNotIn}), nil
}

func (c *compiler) compileMatch(cmp ast.Comparison) (rowguard.Predicate, error) {
	lit, ok := cmp.Right.(ast.Literal)
	if !ok || lit.Kind != ast.StringKind {
		return c.unresolved(cmp, "pattern match against a non-literal pattern"), nil
	}
	pattern, _ := lit.Value.(string)

	op, rel, err := c.operand(cmp.Left)
	if errors.Is(err, errUnmodeled) {
		return c.unresolved(cmp, "unmodeled match operand"), nil
	}
	if err != nil {
		return nil, err
	}

	m, err := NewMatch(op, pattern, cmp.Op == ast.OpILike)
	if err != nil {
		return c.unresolved(cmp, "unsupported match pattern"), nil
	}
	return wrapSome(rel, m), nil
}

func (c *compiler) compileCase(cs ast.Case) (rowguard.Predicate, error) {
	out := Case{Branches: make([]CaseWhen, 0, len(cs.Branches))}
	for _, br := range cs.Branches {
		var when rowguard.Predicate
		var err error
		if cs.Discriminant != nil {
			// CASE d WHEN v lowers to d = v, preserving branch order.
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
		out.Branches = append(out.Branches, CaseWhen{When: when, Then: then})
	}
	if cs.Else != nil {
		els, err := c.compile(cs.Else)
		if err != nil {
			return nil, err
		}
		out.Else = els
	}
	return out, nil
}

// operand compiles one comparison side. The rel result names a to-many
// relation the enclosing node must be wrapped in; the operand then reads
// fields relative to the related row.
func (c *compiler) operand(n ast.Node) (Operand, string, error) {
	switch n := n.(type) {
	case ast.Literal:
		return Const{Val: n.Value}, "", nil

	case ast.ColumnRef:
		if c.graph == nil {
			return RecordField{Path: rowguard.FieldPath{n.Name}}, "", nil
		}
		loc, err := c.graph.Locate(c.entity, n.Name)
		if err != nil {
			return nil, "", err
		}
		switch loc.Kind {
		case schema.LocationDirect:
			return RecordField{Path: rowguard.FieldPath{n.Name}}, "", nil
		case schema.LocationViaRelation:
			if loc.Cardinality == schema.CardinalityMany {
				return RecordField{Path: rowguard.FieldPath{loc.Field.Name}}, loc.Relation, nil
			}
			return RecordField{Path: rowguard.FieldPath{loc.Relation, loc.Field.Name}}, "", nil
		default:
			return RecordField{Path: rowguard.FieldPath{loc.Field.Name}}, loc.Relation, nil
		}

	case ast.SessionSetting:
		b := c.mapping.Resolve(n.Key)
		c.noteLowConfidence(n.String(), b)
		return ActorField{Path: b.Path, Role: b.IsRole()}, "", nil

	case ast.FunctionCall:
		if len(n.Args) > 0 {
			return nil, "", errUnmodeled
		}
		b := c.mapping.Resolve(n.Name)
		c.noteLowConfidence(n.String(), b)
		return ActorField{Path: b.Path, Role: b.IsRole()}, "", nil

	default:
		return nil, "", errUnmodeled
	}
}

// roleEquality recognizes role() = 'admin' in either operand order.
func roleEquality(a, b Operand) (rowguard.Predicate, bool) {
	if af, ok := a.(ActorField); ok && af.Role {
		if cv, ok := b.(Const); ok {
			return RoleCheck{Path: af.Path, Values: []any{cv.Val}}, true
		}
	}
	if bf, ok := b.(ActorField); ok && bf.Role {
		if cv, ok := a.(Const); ok {
			return RoleCheck{Path: bf.Path, Values: []any{cv.Val}}, true
		}
	}
	return nil, false
}

func wrapSome(rel string, inner rowguard.Predicate) rowguard.Predicate {
	if rel == "" {
		return inner
	}
	return Some{Relation: rel, Inner: inner}
}

func (c *compiler) unresolved(n ast.Node, detail string) rowguard.Predicate {
	construct := n.String()
	c.diags = append(c.diags, rowguard.Diagnostic{
		Entity:    c.entity,
		Category:  rowguard.CategoryUnresolvedConstruct,
		Construct: construct,
		Detail:    detail,
	})
	return Unresolved{Construct: construct}
}

func (c *compiler) unresolvedSubquery(e ast.Exists) rowguard.Predicate {
	detail := "subquery defaults to allow"
	if e.Entity != "" {
		detail = fmt.Sprintf("subquery over %q defaults to allow", e.Entity)
	}
	return c.unresolved(e, detail)
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

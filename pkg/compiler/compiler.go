// Package compiler is the front door of the library. It turns one
// declarative policy into its two executable artifacts: a predicate that
// decides access for a fetched record and a filter that restricts queries
// to accessible rows.
//
// Both artifacts are compiled from the same parsed tree, so a construct
// neither backend can model fails open in both and surfaces as a single
// diagnostic on the compiled policy. Compilation is deterministic:
// identical inputs yield structurally identical artifacts and the same
// diagnostics in the same order.
package compiler

import (
	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ast"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/filter"
	"github.com/rowguard/rowguard/pkg/parser"
	"github.com/rowguard/rowguard/pkg/predicate"
	"github.com/rowguard/rowguard/pkg/schema"
)

// CompilePolicy parses and compiles a single policy. The mapping resolves
// session providers to actor fields and may be nil for built-in mappings
// only; the graph resolves column references and may be nil to treat every
// column as a direct field of the policy's entity.
//
// Errors are limited to invalid policies, malformed expressions, and
// references to entities or fields the graph does not know. Constructs the
// compilers cannot model are not errors: they compile fail-open and are
// reported through the Diagnostics on the returned policy.
func CompilePolicy(p rowguard.Policy, mapping *ctxmap.Mapping, graph *schema.Graph) (rowguard.CompiledPolicy, error) {
	if err := p.Validate(); err != nil {
		return rowguard.CompiledPolicy{}, err
	}

	node, err := parser.Parse(p.Expression, p.Entity)
	if err != nil {
		return rowguard.CompiledPolicy{}, err
	}
	node = guardByRoles(node, p.Roles)

	pred, predDiags, err := predicate.Compile(node, mapping, graph, p.Entity)
	if err != nil {
		return rowguard.CompiledPolicy{}, err
	}
	filt, filtDiags, err := filter.Compile(node, mapping, graph, p.Entity)
	if err != nil {
		return rowguard.CompiledPolicy{}, err
	}

	cp := rowguard.CompiledPolicy{
		Policy:      p,
		Predicate:   pred,
		Filter:      filt,
		RoleOnly:    predicate.PureRole(pred),
		Diagnostics: mergeDiagnostics(p.Operation, predDiags, filtDiags),
	}
	if cp.RoleOnly {
		// Enforcement of a pure role grant lives entirely in the
		// predicate; the query side has no rows to exclude.
		cp.Filter = filter.True{}
	}
	return cp, nil
}

// guardByRoles wraps the parsed expression in the same role membership test
// a role-scoped database policy carries. Policies without role restrictions
// pass through unchanged.
func guardByRoles(node ast.Node, roles []string) ast.Node {
	if len(roles) == 0 {
		return node
	}
	items := make([]ast.Node, len(roles))
	for i, r := range roles {
		items[i] = ast.Text(r)
	}
	check := ast.Comparison{
		Op:    ast.OpIn,
		Left:  ast.FunctionCall{Name: "current_user_role"},
		Right: ast.ArrayLiteral{Items: items},
	}
	if lit, ok := node.(ast.Literal); ok && lit.Kind == ast.BoolKind && lit.Value == true {
		return check
	}
	return ast.And{Operands: []ast.Node{check, node}}
}

type diagKey struct {
	category  rowguard.Category
	construct string
}

// mergeDiagnostics stamps every diagnostic with the operation the policy
// gates and collapses duplicates. Both backends walk the same tree, so a
// construct neither can model is reported twice; the merged list keeps the
// first report of each finding.
func mergeDiagnostics(op rowguard.Operation, lists ...[]rowguard.Diagnostic) []rowguard.Diagnostic {
	var out []rowguard.Diagnostic
	seen := make(map[diagKey]bool)
	for _, list := range lists {
		for _, d := range list {
			key := diagKey{d.Category, d.Construct}
			if seen[key] {
				continue
			}
			seen[key] = true
			d.Operation = op
			out = append(out, d)
		}
	}
	return out
}

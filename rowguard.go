// Package rowguard compiles declarative row-level security predicates into
// runtime access checks and composable query filters.
//
// # Pipeline
//
// A predicate is a boolean expression written against a relational schema,
// referencing context-provider functions and session variables:
//
//	owner_id = current_user_id() OR role() = ANY (ARRAY['admin'])
//
// Each predicate is parsed once into an immutable expression tree and compiled
// into two artifacts that must stay consistent with each other:
//
//   - a Predicate, evaluating access for a single already-fetched record
//     against an acting principal
//   - a Filter, a structured query restriction a planner can push down so
//     inaccessible rows are never fetched
//
// The compilation pipeline lives in the pkg/ tree (parser, ctxmap, schema,
// predicate, filter, compiler). This package holds the shared vocabulary and
// the runtime: policies, compiled artifacts, diagnostics, and the Guard.
//
// # Basic Usage
//
//	cp, _ := compiler.CompilePolicy(policy, mapping, graph)
//	guard := rowguard.NewGuard([]rowguard.CompiledPolicy{cp})
//	ok, err := guard.Allows(ctx, "posts", rowguard.OpSelect, record, actor)
//
// # Query Filtering
//
// For list endpoints, retrieve the compiled filter and push it into your
// query layer instead of checking rows one by one:
//
//	cp, _ := guard.Policy("posts", rowguard.OpSelect)
//	f := cp.Filter.Bind(actor)
//	// render f into your query builder
//
// # Fail-Open Constructs
//
// Predicates containing constructs the compiler cannot model (EXISTS
// subqueries, unknown context providers) compile to permissive artifacts and
// carry diagnostics describing exactly what was widened. Inspect
// CompiledPolicy.Diagnostics before trusting generated policies in
// security-sensitive deployments.
//
// # Decision Overrides
//
// Use WithDecision for admin tools or tests:
//
//	guard := rowguard.NewGuard(policies, rowguard.WithDecision(rowguard.DecisionAllow))
package rowguard

import (
	"context"
	"database/sql"
	"strings"
)

// Operation identifies the access operation a policy gates.
type Operation string

// The four operations a policy can be declared for.
const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists all operations in declaration order.
func Operations() []Operation {
	return []Operation{OpSelect, OpInsert, OpUpdate, OpDelete}
}

// String returns the lowercase operation name.
func (op Operation) String() string {
	return string(op)
}

// Valid reports whether op is one of the four known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpSelect, OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseOperation converts a string such as "SELECT" or "select" to an
// Operation. Returns ErrInvalidPolicy for unknown names.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	if !op.Valid() {
		return "", invalidPolicyf("unknown operation %q", s)
	}
	return op, nil
}

// FieldPath addresses a field on a record or actor, possibly through nested
// values: {"org", "id"} addresses actor["org"]["id"]. Paths are produced by
// the context-mapping resolver and consumed by both compiler backends.
type FieldPath []string

// String returns the dotted form "org.id".
func (p FieldPath) String() string {
	return strings.Join(p, ".")
}

// Terminal returns the last path segment, or "" for an empty path.
func (p FieldPath) Terminal() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Record is a fetched row as a value map. Related rows may be embedded under
// the relation name: a to-one relation as a nested Record, a to-many relation
// as []Record (or []any of Records), enabling compiled predicates to evaluate
// relation traversals without further queries.
type Record map[string]any

// Lookup resolves a field path against the record, traversing nested maps.
// The second return is false when any path segment is absent or a non-map
// value is traversed into. A present key holding nil returns (nil, true).
func (r Record) Lookup(path FieldPath) (any, bool) {
	return lookupPath(map[string]any(r), path)
}

// Actor is the acting principal's context as a value map, keyed by the field
// paths the context mapping resolves to: {"id": 7, "role": "admin"}.
type Actor map[string]any

// Lookup resolves a field path against the actor context.
func (a Actor) Lookup(path FieldPath) (any, bool) {
	return lookupPath(map[string]any(a), path)
}

func lookupPath(m map[string]any, path FieldPath) (any, bool) {
	if len(path) == 0 {
		return nil, false
	}
	var cur any = m
	for _, seg := range path {
		node, ok := cur.(map[string]any)
		if !ok {
			if rec, isRec := cur.(Record); isRec {
				node = map[string]any(rec)
			} else if act, isAct := cur.(Actor); isAct {
				node = map[string]any(act)
			} else {
				return nil, false
			}
		}
		v, present := node[seg]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Querier executes queries against PostgreSQL.
// Implemented by *sql.DB, *sql.Tx, and *sql.Conn.
//
// The minimal interface lets the introspection layer read policy and function
// definitions inside a transaction or from a pooled connection without
// requiring a concrete handle type.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer extends Querier with ExecContext.
// Only required by test fixtures and tooling that create policies, not by
// introspection or compilation.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

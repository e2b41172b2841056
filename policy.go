package rowguard

import "sort"

// Policy is one declarative row-level security rule: a boolean expression
// gating one operation on one entity. Policies are inputs to compilation;
// they carry raw expression text, never parsed trees.
//
// Roles optionally restricts the policy to actors holding one of the named
// roles, mirroring role-scoped database policies. An empty Roles list applies
// the policy to every actor.
type Policy struct {
	Entity     string    `json:"entity"`
	Operation  Operation `json:"operation"`
	Expression string    `json:"expression"`
	Roles      []string  `json:"roles,omitempty"`
}

// Key returns the canonical "entity/operation" identifier used in
// diagnostics and generated artifacts.
func (p Policy) Key() string {
	return p.Entity + "/" + p.Operation.String()
}

// Validate checks the structural fields of a policy. Expression syntax is
// checked during compilation, not here; an empty expression is legal and
// means fully permissive.
func (p Policy) Validate() error {
	if p.Entity == "" {
		return invalidPolicyf("policy missing entity")
	}
	if !p.Operation.Valid() {
		return invalidPolicyf("policy %s: unknown operation %q", p.Entity, string(p.Operation))
	}
	for _, r := range p.Roles {
		if r == "" {
			return invalidPolicyf("policy %s: empty role name", p.Key())
		}
	}
	return nil
}

// Predicate is a compiled boolean expression over a fetched record and an
// acting principal. Implementations are immutable and safe for concurrent
// use. Missing or null fields compare as unequal; Eval never panics on
// absent data.
type Predicate interface {
	Eval(record Record, actor Actor) bool
	String() string
}

// Filter is a compiled query restriction. Implementations form an immutable
// tree the caller renders into its query layer.
//
// Bind resolves actor-conditional branches (role-gated alternatives) against
// a concrete actor, returning a filter free of actor conditionals. Binding
// never mutates the receiver.
type Filter interface {
	Bind(actor Actor) Filter
	String() string
}

// CompiledPolicy pairs a source policy with its two compiled artifacts and
// the diagnostics produced while compiling them. Both artifacts are pure
// functions of the same parsed expression; recompiling identical inputs
// yields structurally identical values.
type CompiledPolicy struct {
	Policy Policy

	// Predicate evaluates row access for one record. Never nil after a
	// successful compile.
	Predicate Predicate

	// Filter restricts queries to accessible rows. Never nil after a
	// successful compile; pure role policies compile to an always-true
	// filter because their enforcement happens in Predicate.
	Filter Filter

	// RoleOnly marks policies that grant access purely by actor role with
	// no record-level constraint. Callers special-case these as
	// unconditional allows once the role check passes.
	RoleOnly bool

	Diagnostics []Diagnostic
}

// SortCompiled orders compiled policies by entity then operation, the
// canonical order for generated artifacts and reports. Sorting is stable
// across runs so identical inputs produce identical output ordering.
func SortCompiled(cps []CompiledPolicy) {
	sort.SliceStable(cps, func(i, j int) bool {
		if cps[i].Policy.Entity != cps[j].Policy.Entity {
			return cps[i].Policy.Entity < cps[j].Policy.Entity
		}
		return opOrder(cps[i].Policy.Operation) < opOrder(cps[j].Policy.Operation)
	})
}

func opOrder(op Operation) int {
	for i, o := range Operations() {
		if o == op {
			return i
		}
	}
	return len(Operations())
}

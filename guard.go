package rowguard

import (
	"context"
	"fmt"
)

// Guard evaluates compiled policies against records and actors.
// It answers the per-record question ("may this actor touch this row?") and
// hands out the per-query filter for list endpoints.
//
// Guards are lightweight and safe to create per-request. They hold no state
// beyond the policy index and the decision override; all compiled artifacts
// are immutable, so a single Guard is safe for concurrent use.
//
// A Guard never consults a database. Compilation and any introspection happen
// strictly before construction; the Guard only walks in-memory trees.
type Guard struct {
	policies           map[policyKey]CompiledPolicy
	decision           Decision
	useContextDecision bool
}

type policyKey struct {
	entity string
	op     Operation
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithDecision sets a decision override that bypasses policy evaluation.
// Use DecisionAllow for admin tools or testing authorized paths.
// Use DecisionDeny for testing unauthorized paths.
// This is intentionally separate from context-based overrides to make the
// bypass explicit at Guard construction time.
func WithDecision(d Decision) GuardOption {
	return func(g *Guard) {
		g.decision = d
	}
}

// WithContextDecision enables context-based decision overrides.
// When enabled, Allows will consult GetDecisionContext(ctx) before
// evaluating the compiled policy.
//
// Decision precedence when enabled:
//  1. Context decision (via WithDecisionContext)
//  2. Guard decision (via WithDecision)
//  3. Compiled policy evaluation
//
// By default, context decisions are NOT consulted. This opt-in design
// ensures explicit control over when context can override access checks.
func WithContextDecision() GuardOption {
	return func(g *Guard) {
		g.useContextDecision = true
	}
}

// NewGuard creates a Guard over a set of compiled policies.
// Later policies for the same (entity, operation) replace earlier ones,
// matching the replace-on-recompile behavior of a rebuild.
func NewGuard(policies []CompiledPolicy, opts ...GuardOption) *Guard {
	g := &Guard{
		policies: make(map[policyKey]CompiledPolicy, len(policies)),
		decision: DecisionUnset,
	}
	for _, cp := range policies {
		g.policies[policyKey{cp.Policy.Entity, cp.Policy.Operation}] = cp
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the compiled policy for (entity, operation).
// The second return is false when no policy was compiled for the pair.
func (g *Guard) Policy(entity string, op Operation) (CompiledPolicy, bool) {
	cp, ok := g.policies[policyKey{entity, op}]
	return cp, ok
}

// Allows reports whether actor may perform op on the given record of entity.
//
// A missing policy denies with ErrNoPolicy rather than returning (false, nil),
// so callers can distinguish "policy says no" from "nothing was compiled for
// this entity". Treating absence as denial mirrors row security semantics:
// once row filtering is enabled, a table with no applicable policy exposes
// nothing.
//
// If a decision override is set via WithDecision, the policy is not
// evaluated. If WithContextDecision is enabled, context decisions are also
// consulted, taking precedence over the Guard-level override.
func (g *Guard) Allows(ctx context.Context, entity string, op Operation, record Record, actor Actor) (bool, error) {
	if g.useContextDecision {
		if d := GetDecisionContext(ctx); d != DecisionUnset {
			return d == DecisionAllow, nil
		}
	}
	if g.decision != DecisionUnset {
		return g.decision == DecisionAllow, nil
	}

	cp, ok := g.Policy(entity, op)
	if !ok {
		return false, fmt.Errorf("%w: %s/%s", ErrNoPolicy, entity, op)
	}
	return cp.Predicate.Eval(record, actor), nil
}

// FilterFor returns the query filter for (entity, op) bound to the given
// actor: role-conditional branches are resolved, so the result is ready to
// render into a query.
//
// Decision overrides do not apply here; they gate boolean checks, not
// artifact retrieval. A caller honoring DecisionAllow should skip filtering
// entirely, and one honoring DecisionDeny should skip the query.
func (g *Guard) FilterFor(entity string, op Operation, actor Actor) (Filter, error) {
	cp, ok := g.Policy(entity, op)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPolicy, entity, op)
	}
	return cp.Filter.Bind(actor), nil
}

// Diagnostics returns all diagnostics across the guarded policies, ordered
// by entity then operation. Use at startup to log every fail-open widening
// and low-confidence mapping the compilation produced.
func (g *Guard) Diagnostics() []Diagnostic {
	cps := make([]CompiledPolicy, 0, len(g.policies))
	for _, cp := range g.policies {
		cps = append(cps, cp)
	}
	SortCompiled(cps)

	var out []Diagnostic
	for _, cp := range cps {
		out = append(out, cp.Diagnostics...)
	}
	return out
}

// Must panics if the access check fails or errors.
// Use in handlers after authentication has already verified the actor.
//
// Prefer Allows() for user-facing authorization where you need to return
// a 403 response. Use Must() for internal invariants where unauthorized
// access indicates a bug in the calling code.
func (g *Guard) Must(ctx context.Context, entity string, op Operation, record Record, actor Actor) {
	ok, err := g.Allows(ctx, entity, op, record, actor)
	if err != nil {
		panic(fmt.Sprintf("rowguard.Must: %v", err))
	}
	if !ok {
		panic(fmt.Sprintf("rowguard.Must: access denied for %s/%s", entity, op))
	}
}

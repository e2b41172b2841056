package rowguard

import "context"

// Decision allows bypassing compiled-policy evaluation for admin tools and
// tests. Decisions are set at Guard construction time via WithDecision,
// making the bypass explicit and visible in code.
type Decision int

// decisionContextKey is a custom type for context keys to avoid collisions.
type decisionContextKey struct{}

var decisionKey = decisionContextKey{}

const (
	// DecisionUnset means no override - evaluate the compiled policy.
	DecisionUnset Decision = iota

	// DecisionAllow bypasses evaluation and always returns true (allowed).
	// Use for admin tools, background jobs, or testing authorized code paths.
	DecisionAllow

	// DecisionDeny bypasses evaluation and always returns false (denied).
	// Use for testing unauthorized code paths without compiling policies.
	DecisionDeny
)

// WithDecisionContext returns a new context with the given decision.
// This allows decision overrides to flow through context rather than
// requiring explicit Guard construction.
//
// Prefer the WithDecision option for explicit control. Use context-based
// decisions when the override needs to propagate through multiple layers
// where passing a Guard instance is impractical.
//
// Note: The Guard does NOT automatically consult this context value unless
// WithContextDecision is enabled. This is a utility for applications that
// want to propagate access decisions through their own middleware chains.
func WithDecisionContext(ctx context.Context, decision Decision) context.Context {
	return context.WithValue(ctx, decisionKey, decision)
}

// GetDecisionContext retrieves the decision from context.
// Returns DecisionUnset if no decision is set.
func GetDecisionContext(ctx context.Context) Decision {
	if decision, ok := ctx.Value(decisionKey).(Decision); ok {
		return decision
	}
	return DecisionUnset
}

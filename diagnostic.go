package rowguard

import "fmt"

// Category classifies a compilation diagnostic.
type Category int

const (
	// CategoryLowConfidenceMapping marks a context-provider reference that
	// resolved only through the literal-identifier fallback. The compiled
	// artifacts use the guessed field path; review before trusting.
	CategoryLowConfidenceMapping Category = iota

	// CategoryUnresolvedConstruct marks a sub-expression the compiler could
	// not model (EXISTS subqueries, multi-argument functions). The affected
	// artifact defaults to permissive, widening access.
	CategoryUnresolvedConstruct

	// CategoryRoleConditionSplit marks a policy whose filter was split into
	// a role-conditional shape: role match grants an unconditional pass,
	// otherwise the data filter applies.
	CategoryRoleConditionSplit
)

// String returns the category identifier used in reports.
func (c Category) String() string {
	switch c {
	case CategoryLowConfidenceMapping:
		return "low-confidence-mapping"
	case CategoryUnresolvedConstruct:
		return "unresolved-construct"
	case CategoryRoleConditionSplit:
		return "role-condition-split"
	default:
		return "unknown"
	}
}

// Diagnostic records one noteworthy event from compiling a single policy.
// Diagnostics are data, not errors: compilation continues past them, and the
// reporting layer decides how loudly to surface each category.
//
// Every diagnostic names the policy (entity, operation), the offending
// sub-expression text, and the category, so a reviewer can locate the exact
// construct and hand-author a replacement if needed.
type Diagnostic struct {
	Entity    string    `json:"entity"`
	Operation Operation `json:"operation"`
	Category  Category  `json:"category"`

	// Construct is the source text of the sub-expression that triggered
	// the diagnostic.
	Construct string `json:"construct"`

	// Detail explains what the compiler did about it.
	Detail string `json:"detail"`
}

// String renders the diagnostic in the single-line report form.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%s/%s [%s] %s: %s", d.Entity, d.Operation, d.Category, d.Construct, d.Detail)
}

// FailOpen reports whether the diagnostic indicates access was widened
// beyond what the source policy expressed.
func (d Diagnostic) FailOpen() bool {
	return d.Category == CategoryUnresolvedConstruct
}

package rowguard

import (
	"errors"
	"fmt"
)

// Sentinel errors for compilation and runtime failure modes.
// These errors indicate malformed inputs or setup issues, not access
// denials. Access checks return (false, nil) for denied access.
//
// Use the Is*Err helper functions to check for specific errors and provide
// helpful messages to users.
var (
	// ErrSyntax is returned when predicate text cannot be parsed.
	// The wrapped error carries the source position and what was expected.
	// Fatal for the affected policy only; sibling policies still compile.
	ErrSyntax = errors.New("rowguard: syntax error")

	// ErrSchemaResolution is returned when a predicate references a field
	// or relation that does not exist anywhere reachable from the policy's
	// entity. Fatal for the affected policy; never downgraded to a
	// diagnostic because a typo here would silently change who gets access.
	ErrSchemaResolution = errors.New("rowguard: schema resolution failed")

	// ErrUnknownEntity is returned when a schema graph lookup names an
	// entity the graph does not contain.
	ErrUnknownEntity = errors.New("rowguard: unknown entity")

	// ErrInvalidGraph is returned when a schema graph fails validation,
	// such as a relation targeting an entity missing from the graph.
	ErrInvalidGraph = errors.New("rowguard: invalid schema graph")

	// ErrInvalidPolicy is returned for structurally malformed policy
	// entries: missing entity, unknown operation, empty role names.
	ErrInvalidPolicy = errors.New("rowguard: invalid policy")

	// ErrNoPolicy is returned by Guard lookups when no compiled policy
	// exists for the requested (entity, operation). Absent policies deny:
	// callers should treat this as no access rather than unrestricted.
	ErrNoPolicy = errors.New("rowguard: no policy for entity/operation")
)

// IsSyntaxErr returns true if err is or wraps ErrSyntax.
func IsSyntaxErr(err error) bool {
	return errors.Is(err, ErrSyntax)
}

// IsSchemaResolutionErr returns true if err is or wraps ErrSchemaResolution.
func IsSchemaResolutionErr(err error) bool {
	return errors.Is(err, ErrSchemaResolution)
}

// IsUnknownEntityErr returns true if err is or wraps ErrUnknownEntity.
func IsUnknownEntityErr(err error) bool {
	return errors.Is(err, ErrUnknownEntity)
}

// IsInvalidGraphErr returns true if err is or wraps ErrInvalidGraph.
func IsInvalidGraphErr(err error) bool {
	return errors.Is(err, ErrInvalidGraph)
}

// IsInvalidPolicyErr returns true if err is or wraps ErrInvalidPolicy.
func IsInvalidPolicyErr(err error) bool {
	return errors.Is(err, ErrInvalidPolicy)
}

// IsNoPolicyErr returns true if err is or wraps ErrNoPolicy.
func IsNoPolicyErr(err error) bool {
	return errors.Is(err, ErrNoPolicy)
}

func invalidPolicyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...))
}

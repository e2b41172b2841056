// Package typescript implements a stub TypeScript guard source generator.
//
// This generator is not yet implemented. It registers with the generator
// registry to provide helpful error messages when users attempt to generate
// TypeScript guards.
package typescript

import (
	"errors"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/codegen"
)

func init() {
	codegen.Register(&Generator{})
}

// Generator implements codegen.Generator for TypeScript.
// Currently a stub that returns "not implemented" errors.
type Generator struct{}

// Name returns "typescript" as the target identifier.
func (g *Generator) Name() string { return "typescript" }

// DefaultConfig returns default configuration for TypeScript guard generation.
func (g *Generator) DefaultConfig() *codegen.Config {
	return &codegen.Config{
		Package: "",
		Options: make(map[string]any),
	}
}

// ErrNotImplemented is returned when attempting to generate TypeScript guards.
var ErrNotImplemented = errors.New("typescript generator not yet implemented")

// Generate returns an error as TypeScript generation is not yet implemented.
//
// Future implementation will produce:
//   - policies.ts: Entity constants and the declarative policy set
//   - guard.ts: A predicate evaluator over records and actors
//   - index.ts: Re-exports for clean imports
func (g *Generator) Generate(_ []rowguard.CompiledPolicy, _ *codegen.Config) (map[string][]byte, error) {
	return nil, ErrNotImplemented
}

// Package python implements a stub Python guard source generator.
//
// This generator is not yet implemented. It registers with the generator
// registry to provide helpful error messages when users attempt to generate
// Python guards.
package python

import (
	"errors"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/codegen"
)

func init() {
	codegen.Register(&Generator{})
}

// Generator implements codegen.Generator for Python.
// Currently a stub that returns "not implemented" errors.
type Generator struct{}

// Name returns "python" as the target identifier.
func (g *Generator) Name() string { return "python" }

// DefaultConfig returns default configuration for Python guard generation.
func (g *Generator) DefaultConfig() *codegen.Config {
	return &codegen.Config{
		Package: "authz",
		Options: make(map[string]any),
	}
}

// ErrNotImplemented is returned when attempting to generate Python guards.
var ErrNotImplemented = errors.New("python generator not yet implemented")

// Generate returns an error as Python generation is not yet implemented.
//
// Future implementation will produce:
//   - policies.py: Entity constants and the declarative policy set
//   - __init__.py: Re-exports for clean imports
func (g *Generator) Generate(_ []rowguard.CompiledPolicy, _ *codegen.Config) (map[string][]byte, error) {
	return nil, ErrNotImplemented
}

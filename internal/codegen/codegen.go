// Package codegen provides a registry of language-specific guard source
// generators.
//
// Generators turn a compiled policy set into source for an application's
// own codebase: constants for the covered entities, the declarative policy
// set, and a constructor that compiles it into a guard at startup.
// Implementations register themselves in an init function; the CLI
// dispatches on the --target flag through the registry.
//
// This is an internal package used by the rowguard CLI. For programmatic
// generation use pkg/codegen, which provides a stable public API.
package codegen

import (
	"fmt"
	"sort"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ctxmap"
)

// Generator produces guard source for one target language.
type Generator interface {
	// Name returns the target identifier ("go", "typescript"), the
	// value for --target in the CLI.
	Name() string

	// Generate returns a map of filename to content for all generated
	// files. Single-file targets return one entry. Filenames are
	// relative paths; the caller decides where they land.
	Generate(policies []rowguard.CompiledPolicy, cfg *Config) (map[string][]byte, error)

	// DefaultConfig returns the configuration used when the caller
	// provides none.
	DefaultConfig() *Config
}

// Config holds language-agnostic generation options. Each generator maps
// them onto its language's conventions.
type Config struct {
	// Package is the package or module name for generated code.
	Package string

	// Mapping carries the context-provider entries discovered at
	// generation time, embedded so the generated guard resolves the
	// same providers the generator saw.
	Mapping []ctxmap.Entry

	// Options holds language-specific settings. Each generator
	// documents the keys it reads.
	Options map[string]any
}

var registry = make(map[string]Generator)

// Register adds a generator to the registry. Generators call this from
// their init function; a duplicate name is a programming error and
// panics.
func Register(g Generator) {
	name := g.Name()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("codegen: generator %q already registered", name))
	}
	registry[name] = g
}

// Get returns the generator for the given target name, or nil when none
// is registered.
func Get(name string) Generator {
	return registry[name]
}

// List returns all registered target names, sorted.
func List() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registered reports whether a generator exists for the given name.
func Registered(name string) bool {
	_, ok := registry[name]
	return ok
}

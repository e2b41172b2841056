// Package codegen generates guard source code from compiled policies.
//
// It is the public face of the generator registry: importing it registers
// every built-in target, and Generate dispatches by target name.
package codegen

import (
	"fmt"
	"io"
	"strings"

	"github.com/rowguard/rowguard"
	registry "github.com/rowguard/rowguard/internal/codegen"
	_ "github.com/rowguard/rowguard/internal/codegen/go"
	_ "github.com/rowguard/rowguard/internal/codegen/python"
	_ "github.com/rowguard/rowguard/internal/codegen/typescript"
)

// Config is an alias for the registry configuration.
// This allows callers to configure generation without importing the
// internal registry package separately.
type Config = registry.Config

// Generator is an alias for the registry generator interface.
type Generator = registry.Generator

// Targets returns the names of all registered generators, sorted.
func Targets() []string {
	return registry.List()
}

// Registered reports whether a generator exists for the named target.
func Registered(target string) bool {
	return registry.Registered(target)
}

// Generate renders guard source for the named target and returns the
// produced files keyed by filename.
func Generate(target string, policies []rowguard.CompiledPolicy, cfg *Config) (map[string][]byte, error) {
	gen := registry.Get(target)
	if gen == nil {
		return nil, fmt.Errorf("unknown generator %q (available: %s)", target, strings.Join(registry.List(), ", "))
	}
	return gen.Generate(policies, cfg)
}

// GenerateGo writes compiled policies back out as Go guard source.
//
// The generated package pins the policy set at generation time: entity
// constants, the policy literals, the context mappings that were in effect,
// and a NewGuard constructor that recompiles the set at startup. Committing
// the file to version control gives services a guard that does not depend
// on database access at boot:
//
//	//go:generate go run scripts/generate-guard.go
//
//	var compiled []rowguard.CompiledPolicy
//	for _, p := range policies {
//		cp, _ := compiler.CompilePolicy(p, mapping, graph)
//		compiled = append(compiled, cp)
//	}
//
//	f, _ := os.Create("internal/authz/guard_gen.go")
//	defer f.Close()
//
//	codegen.GenerateGo(f, compiled, &codegen.Config{Package: "authz"})
//
// Services then construct their guard from the generated package alone:
//
//	guard, err := authz.NewGuard(graph)
func GenerateGo(w io.Writer, policies []rowguard.CompiledPolicy, cfg *Config) error {
	files, err := Generate("go", policies, cfg)
	if err != nil {
		return err
	}
	_, err = w.Write(files["guard_gen.go"])
	return err
}

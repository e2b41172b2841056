// Package gogen implements the Go guard source generator.
//
// The generated file carries entity constants, the declarative policy set,
// the context mappings discovered at generation time, and a NewGuard
// constructor that compiles the set at startup. Output is plain gofmt-shaped
// text built in one pass, so identical inputs generate identical bytes.
package gogen

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/codegen"
	"github.com/rowguard/rowguard/pkg/ctxmap"
)

func init() {
	codegen.Register(&Generator{})
}

// Generator implements codegen.Generator for Go.
type Generator struct{}

// Name returns "go" as the target identifier.
func (g *Generator) Name() string { return "go" }

// DefaultConfig returns the default configuration: package authz, no
// mappings.
func (g *Generator) DefaultConfig() *codegen.Config {
	return &codegen.Config{
		Package: "authz",
		Options: make(map[string]any),
	}
}

// Generate renders the guard source as a single guard_gen.go file.
func (g *Generator) Generate(policies []rowguard.CompiledPolicy, cfg *codegen.Config) (map[string][]byte, error) {
	if cfg == nil {
		cfg = g.DefaultConfig()
	}
	pkg := cfg.Package
	if pkg == "" {
		pkg = "authz"
	}

	sorted := make([]rowguard.CompiledPolicy, len(policies))
	copy(sorted, policies)
	rowguard.SortCompiled(sorted)

	var b strings.Builder
	b.WriteString("// Code generated by rowguard. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	b.WriteString("import (\n")
	b.WriteString("\t\"fmt\"\n\n")
	b.WriteString("\t\"github.com/rowguard/rowguard\"\n")
	b.WriteString("\t\"github.com/rowguard/rowguard/pkg/compiler\"\n")
	b.WriteString("\t\"github.com/rowguard/rowguard/pkg/ctxmap\"\n")
	b.WriteString("\t\"github.com/rowguard/rowguard/pkg/schema\"\n")
	b.WriteString(")\n")

	writeEntities(&b, sorted)
	writePolicies(&b, sorted)
	writeMapping(&b, cfg.Mapping)
	writeGuard(&b)

	return map[string][]byte{"guard_gen.go": []byte(b.String())}, nil
}

func writeEntities(b *strings.Builder, policies []rowguard.CompiledPolicy) {
	var names []string
	seen := make(map[string]bool)
	width := 0
	for _, cp := range policies {
		if seen[cp.Policy.Entity] {
			continue
		}
		seen[cp.Policy.Entity] = true
		names = append(names, cp.Policy.Entity)
		if n := len("Entity" + exportName(cp.Policy.Entity)); n > width {
			width = n
		}
	}
	if len(names) == 0 {
		return
	}

	b.WriteString("\n// Entities covered by the generated policy set.\n")
	b.WriteString("const (\n")
	for _, name := range names {
		ident := "Entity" + exportName(name)
		fmt.Fprintf(b, "\t%s%s= %s\n", ident, strings.Repeat(" ", width-len(ident)+1), strconv.Quote(name))
	}
	b.WriteString(")\n")
}

func writePolicies(b *strings.Builder, policies []rowguard.CompiledPolicy) {
	b.WriteString("\n// Policies returns the declarative policy set this package was generated\n")
	b.WriteString("// from, ordered by entity then operation.\n")
	b.WriteString("func Policies() []rowguard.Policy {\n")
	if len(policies) == 0 {
		b.WriteString("\treturn nil\n}\n")
		return
	}

	b.WriteString("\treturn []rowguard.Policy{\n")
	for _, cp := range policies {
		p := cp.Policy
		b.WriteString("\t\t{\n")
		fmt.Fprintf(b, "\t\t\tEntity:     Entity%s,\n", exportName(p.Entity))
		fmt.Fprintf(b, "\t\t\tOperation:  %s,\n", opName(p.Operation))
		fmt.Fprintf(b, "\t\t\tExpression: %s,\n", strconv.Quote(p.Expression))
		if len(p.Roles) > 0 {
			fmt.Fprintf(b, "\t\t\tRoles:      []string{%s},\n", quoteList(p.Roles))
		}
		b.WriteString("\t\t},\n")
	}
	b.WriteString("\t}\n}\n")
}

func writeMapping(b *strings.Builder, entries []ctxmap.Entry) {
	b.WriteString("\n// MappingEntries returns the context-provider mappings discovered at\n")
	b.WriteString("// generation time.\n")
	b.WriteString("func MappingEntries() []ctxmap.Entry {\n")
	if len(entries) == 0 {
		b.WriteString("\treturn nil\n}\n")
		return
	}

	sorted := make([]ctxmap.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Provider < sorted[j].Provider })

	b.WriteString("\treturn []ctxmap.Entry{\n")
	for _, e := range sorted {
		fmt.Fprintf(b, "\t\t{Provider: %s, Path: []string{%s}},\n", strconv.Quote(e.Provider), quoteList(e.Path))
	}
	b.WriteString("\t}\n}\n")
}

func writeGuard(b *strings.Builder) {
	b.WriteString(`
// NewGuard compiles the generated policy set into a guard. The graph
// resolves relationship references and may be nil when every column is a
// direct field of its entity.
func NewGuard(graph *schema.Graph, opts ...rowguard.GuardOption) (*rowguard.Guard, error) {
	mapping := ctxmap.New(MappingEntries()...)
	policies := Policies()
	compiled := make([]rowguard.CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compiler.CompilePolicy(p, mapping, graph)
		if err != nil {
			return nil, fmt.Errorf("compiling %s: %w", p.Key(), err)
		}
		compiled = append(compiled, cp)
	}
	return rowguard.NewGuard(compiled, opts...), nil
}
`)
}

func opName(op rowguard.Operation) string {
	switch op {
	case rowguard.OpSelect:
		return "rowguard.OpSelect"
	case rowguard.OpInsert:
		return "rowguard.OpInsert"
	case rowguard.OpUpdate:
		return "rowguard.OpUpdate"
	case rowguard.OpDelete:
		return "rowguard.OpDelete"
	default:
		return fmt.Sprintf("rowguard.Operation(%s)", strconv.Quote(string(op)))
	}
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return strings.Join(quoted, ", ")
}

// exportName turns an entity name into an exported Go identifier:
// blog_posts becomes BlogPosts.
func exportName(s string) string {
	var b strings.Builder
	up := true
	for _, r := range s {
		switch {
		case r == '_' || r == '-' || r == '.':
			up = true
		case up:
			b.WriteRune(unicode.ToUpper(r))
			up = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

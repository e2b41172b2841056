// Package ctxmap resolves context-provider names to actor field paths.
//
// Predicates reference the acting principal through provider functions
// (current_user_id(), auth.uid()) and session settings
// (current_setting('app.tenant_id')). A Mapping translates each provider
// name into the field path on the actor that holds the corresponding value.
//
// Resolution never fails. Names with no discovered or built-in mapping fall
// through convention-based inference and finally to a literal-identifier
// guess tagged as low confidence; compilers surface those as diagnostics
// instead of refusing to compile. A hard failure here would make every
// predicate referencing an unknown provider uncompilable, which is worse
// than a loud guess.
//
// # Resolution Order
//
//  1. Discovered table (introspected provider definitions, user overrides).
//  2. Built-in conventions (current_user_id, auth.uid, current_user, ...).
//  3. Pattern inference: get_current_<x>_id yields <x>_id, current_<x>
//     yields <x>, and a session key <namespace>.current_<x> yields <x>.
//  4. Literal fallback: the name's terminal segment, tagged low confidence.
package ctxmap

import (
	"sort"
	"strings"

	"github.com/rowguard/rowguard"
)

// Provenance records how a binding was obtained. Bindings obtained by
// fallback are low confidence and must stay diagnostics-visible.
type Provenance int

const (
	ProvenanceBuiltin Provenance = iota
	ProvenanceIntrospected
	ProvenanceInferred
	ProvenanceFallback
)

// String returns the provenance label used in diagnostics and reports.
func (p Provenance) String() string {
	switch p {
	case ProvenanceBuiltin:
		return "builtin"
	case ProvenanceIntrospected:
		return "introspected"
	case ProvenanceInferred:
		return "inferred"
	case ProvenanceFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Binding is the result of resolving a provider name: the actor field path
// holding the provider's value, plus how the mapping was obtained.
type Binding struct {
	Provider   string
	Path       rowguard.FieldPath
	Provenance Provenance
}

// LowConfidence reports whether the binding is a literal-identifier guess
// rather than a known or inferred mapping.
func (b Binding) LowConfidence() bool {
	return b.Provenance == ProvenanceFallback
}

// IsRole reports whether the binding refers to the actor's role rather than
// a data value. Role references get special treatment in both compilers: a
// policy granting access purely by role carries no record-level constraint.
func (b Binding) IsRole() bool {
	switch b.Path.Terminal() {
	case "role", "roles":
		return true
	}
	return false
}

// Entry is one discovered provider mapping, as produced by introspection or
// loaded from a mapping-override file.
type Entry struct {
	Provider string   `json:"provider"`
	Path     []string `json:"path"`
}

// Mapping is an immutable provider-name resolver. Build it once per run with
// New; it is safe for concurrent readers.
type Mapping struct {
	discovered map[string]Binding
}

// New builds a Mapping whose discovered table holds the given entries.
// Later entries replace earlier ones with the same provider name, so
// user-supplied overrides can be appended after introspected discoveries.
func New(entries ...Entry) *Mapping {
	m := &Mapping{discovered: make(map[string]Binding, len(entries))}
	for _, e := range entries {
		name := normalize(e.Provider)
		if name == "" || len(e.Path) == 0 {
			continue
		}
		m.discovered[name] = Binding{
			Provider:   name,
			Path:       rowguard.FieldPath(e.Path),
			Provenance: ProvenanceIntrospected,
		}
	}
	return m
}

// builtins map well-known provider names straight to actor fields. The
// get_current_user_id entry shadows the generic get_current_<x>_id pattern:
// the acting principal's own identifier lives at "id", not "user_id".
var builtins = map[string][]string{
	"current_user_id":     {"id"},
	"get_current_user_id": {"id"},
	"auth.uid":            {"id"},
	"current_user_role":   {"role"},
	"auth.role":           {"role"},
	"role":                {"role"},
	"current_role":        {"role"},
	"current_user":        {"username"},
	"session_user":        {"username"},
}

// Resolve translates a provider name into a Binding. It never fails: names
// that match nothing resolve to a low-confidence literal fallback.
func (m *Mapping) Resolve(name string) Binding {
	key := normalize(name)
	if key == "" {
		return Binding{Provider: key, Provenance: ProvenanceFallback}
	}

	if b, ok := m.discovered[key]; ok {
		return b
	}
	if path, ok := builtins[key]; ok {
		return Binding{Provider: key, Path: rowguard.FieldPath(path), Provenance: ProvenanceBuiltin}
	}
	if path, ok := infer(key); ok {
		return Binding{Provider: key, Path: path, Provenance: ProvenanceInferred}
	}
	return Binding{Provider: key, Path: rowguard.FieldPath{terminal(key)}, Provenance: ProvenanceFallback}
}

// Discovered returns the discovered table sorted by provider name, for
// inspection output.
func (m *Mapping) Discovered() []Binding {
	out := make([]Binding, 0, len(m.discovered))
	for _, b := range m.discovered {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// infer applies the convention patterns to the namespace-stripped name.
func infer(name string) (rowguard.FieldPath, bool) {
	base := terminal(name)
	if rest, ok := strings.CutPrefix(base, "get_current_"); ok {
		if x, ok := strings.CutSuffix(rest, "_id"); ok && x != "" {
			return rowguard.FieldPath{x + "_id"}, true
		}
	}
	if rest, ok := strings.CutPrefix(base, "current_"); ok && rest != "" {
		return rowguard.FieldPath{rest}, true
	}
	return nil, false
}

// terminal strips any dotted namespace: app.tenant_id becomes tenant_id.
// Namespaces qualify providers, not actor fields.
func terminal(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

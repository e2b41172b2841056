// Package schema models the entity graph that predicates are compiled
// against: entities with their fields and relations, loaded from a YAML
// description or assembled by introspection.
//
// A Graph is validated on construction and immutable afterwards; compilers
// share one Graph across goroutines without synchronization. Entity and
// field names match their catalog spelling exactly.
package schema

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/rowguard/rowguard"
)

// FieldKind distinguishes scalar columns from relation pointers.
type FieldKind string

const (
	KindScalar   FieldKind = "scalar"
	KindRelation FieldKind = "relation"
)

// Cardinality is the arity of a relation as seen from its declaring entity.
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Field represents one column of an entity. An empty Kind means scalar.
type Field struct {
	Name       string    `json:"name"`
	Kind       FieldKind `json:"kind,omitempty"`
	Nullable   bool      `json:"nullable,omitempty"`
	PrimaryKey bool      `json:"primaryKey,omitempty"`
}

// Relation represents a named edge to another entity. ForeignKey names the
// owning-side key column on the declaring entity. JoinFields optionally
// spells out the composite key of a junction target; when absent it is
// derived from the target's primary-key fields.
type Relation struct {
	Name        string      `json:"name"`
	Target      string      `json:"target"`
	Cardinality Cardinality `json:"cardinality,omitempty"`
	ForeignKey  string      `json:"foreignKey,omitempty"`
	JoinFields  []string    `json:"joinFields,omitempty"`
}

// Entity represents one table with its fields and outgoing relations.
type Entity struct {
	Name      string     `json:"name"`
	Fields    []Field    `json:"fields"`
	Relations []Relation `json:"relations,omitempty"`
}

// Field returns the named field.
func (e Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Relation returns the named relation.
func (e Entity) Relation(name string) (Relation, bool) {
	for _, r := range e.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// primaryKey returns the primary-key field names in declaration order.
func (e Entity) primaryKey() []string {
	var out []string
	for _, f := range e.Fields {
		if f.PrimaryKey {
			out = append(out, f.Name)
		}
	}
	return out
}

// Graph is a validated, immutable set of entities.
type Graph struct {
	entities []Entity
	byName   map[string]int
}

// graphFile is the on-disk YAML shape.
type graphFile struct {
	Entities []Entity `json:"entities"`
}

// NewGraph validates the entities and builds the lookup index. Validation
// failures wrap rowguard.ErrInvalidGraph; an unresolved relation target is a
// hard error, never a silent fallback.
func NewGraph(entities []Entity) (*Graph, error) {
	g := &Graph{entities: entities, byName: make(map[string]int, len(entities))}
	for i, e := range entities {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entity %d has no name", rowguard.ErrInvalidGraph, i)
		}
		if _, dup := g.byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate entity %q", rowguard.ErrInvalidGraph, e.Name)
		}
		g.byName[e.Name] = i
	}

	for _, e := range entities {
		if err := g.validateEntity(e); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func (g *Graph) validateEntity(e Entity) error {
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: entity %q has an unnamed field", rowguard.ErrInvalidGraph, e.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: entity %q: duplicate field %q", rowguard.ErrInvalidGraph, e.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case "", KindScalar, KindRelation:
		default:
			return fmt.Errorf("%w: entity %q: field %q has unknown kind %q", rowguard.ErrInvalidGraph, e.Name, f.Name, f.Kind)
		}
	}

	rels := make(map[string]bool, len(e.Relations))
	for _, r := range e.Relations {
		if r.Name == "" {
			return fmt.Errorf("%w: entity %q has an unnamed relation", rowguard.ErrInvalidGraph, e.Name)
		}
		if rels[r.Name] {
			return fmt.Errorf("%w: entity %q: duplicate relation %q", rowguard.ErrInvalidGraph, e.Name, r.Name)
		}
		rels[r.Name] = true

		target, ok := g.Entity(r.Target)
		if !ok {
			return fmt.Errorf("%w: entity %q: relation %q targets unknown entity %q",
				rowguard.ErrInvalidGraph, e.Name, r.Name, r.Target)
		}
		switch r.Cardinality {
		case "", CardinalityOne, CardinalityMany:
		default:
			return fmt.Errorf("%w: entity %q: relation %q has unknown cardinality %q",
				rowguard.ErrInvalidGraph, e.Name, r.Name, r.Cardinality)
		}
		if r.ForeignKey != "" {
			if _, ok := e.Field(r.ForeignKey); !ok {
				return fmt.Errorf("%w: entity %q: relation %q names foreign key %q not declared on %q",
					rowguard.ErrInvalidGraph, e.Name, r.Name, r.ForeignKey, e.Name)
			}
		}
		for _, jf := range r.JoinFields {
			if _, ok := target.Field(jf); !ok {
				return fmt.Errorf("%w: entity %q: relation %q join field %q not declared on target %q",
					rowguard.ErrInvalidGraph, e.Name, r.Name, jf, r.Target)
			}
		}
	}
	return nil
}

// ParseGraph unmarshals and validates a YAML graph description.
func ParseGraph(data []byte) (*Graph, error) {
	var file graphFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", rowguard.ErrInvalidGraph, err)
	}
	return NewGraph(file.Entities)
}

// LoadGraph reads and parses a YAML graph file.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema graph: %w", err)
	}
	return ParseGraph(data)
}

// Entities returns the entities in declaration order.
func (g *Graph) Entities() []Entity {
	return g.entities
}

// Entity returns the named entity.
func (g *Graph) Entity(name string) (Entity, bool) {
	i, ok := g.byName[name]
	if !ok {
		return Entity{}, false
	}
	return g.entities[i], true
}

// IsJunction reports whether the named entity implements a many-to-many
// association: a composite primary key spanning at least two foreign keys.
func (g *Graph) IsJunction(name string) bool {
	e, ok := g.Entity(name)
	if !ok {
		return false
	}
	pk := e.primaryKey()
	if len(pk) < 2 {
		return false
	}
	fks := 0
	for _, key := range pk {
		for _, r := range e.Relations {
			if r.ForeignKey == key {
				fks++
				break
			}
		}
	}
	return fks >= 2
}

package schema

import (
	"fmt"

	"github.com/rowguard/rowguard"
)

// LocationKind classifies where a referenced field was found.
type LocationKind int

const (
	// LocationDirect: the field is declared on the entity itself.
	LocationDirect LocationKind = iota
	// LocationViaRelation: the field lives on a one-hop related entity.
	LocationViaRelation
	// LocationViaJunction: the field lives on a junction entity reached
	// through a to-many relation; filtering goes through the composite key.
	LocationViaJunction
)

// String returns the kind label used in diagnostics.
func (k LocationKind) String() string {
	switch k {
	case LocationDirect:
		return "direct"
	case LocationViaRelation:
		return "via-relation"
	case LocationViaJunction:
		return "via-junction"
	default:
		return "unknown"
	}
}

// Location describes how to reach a referenced field from an entity.
// For the via kinds, Relation/Target/Cardinality identify the edge; for
// junctions, JoinFields is the composite key reordered with the locating
// entity's own key first. That ordering is load-bearing: downstream
// composite filters must read "my key matches me, the other key matches
// the actor", never the reverse.
type Location struct {
	Kind        LocationKind
	Field       Field
	Relation    string
	Target      string
	Cardinality Cardinality
	JoinFields  []string
}

// Locate finds the named field starting from the entity: directly on the
// entity, or on the target of one of its relations. Junction targets win
// over plain one-hop targets because many-to-many associations must filter
// through an existential join, not a direct equality. An unknown entity
// wraps rowguard.ErrUnknownEntity; a field reachable nowhere wraps
// rowguard.ErrSchemaResolution. Both are hard errors for the predicate.
func (g *Graph) Locate(entity, field string) (Location, error) {
	e, ok := g.Entity(entity)
	if !ok {
		return Location{}, fmt.Errorf("%w: %s", rowguard.ErrUnknownEntity, entity)
	}

	if f, ok := e.Field(field); ok {
		return Location{Kind: LocationDirect, Field: f}, nil
	}

	var plain *Location
	for _, rel := range e.Relations {
		target, ok := g.Entity(rel.Target)
		if !ok {
			continue
		}
		f, ok := target.Field(field)
		if !ok {
			continue
		}

		if g.IsJunction(rel.Target) {
			return Location{
				Kind:        LocationViaJunction,
				Field:       f,
				Relation:    rel.Name,
				Target:      rel.Target,
				Cardinality: cardinalityOf(rel),
				JoinFields:  g.junctionKey(entity, rel, target),
			}, nil
		}
		if plain == nil {
			plain = &Location{
				Kind:        LocationViaRelation,
				Field:       f,
				Relation:    rel.Name,
				Target:      rel.Target,
				Cardinality: cardinalityOf(rel),
			}
		}
	}
	if plain != nil {
		return *plain, nil
	}
	return Location{}, fmt.Errorf("%w: field %q not reachable from entity %q",
		rowguard.ErrSchemaResolution, field, entity)
}

// junctionKey returns the junction's composite key with the locating
// entity's own key member first. The own key is the foreign key of the
// junction relation pointing back at the locating entity.
func (g *Graph) junctionKey(from string, rel Relation, junction Entity) []string {
	key := rel.JoinFields
	if len(key) == 0 {
		key = junction.primaryKey()
	}

	own := ""
	for _, jr := range junction.Relations {
		if jr.Target == from && jr.ForeignKey != "" {
			own = jr.ForeignKey
			break
		}
	}
	if own == "" {
		return key
	}

	out := make([]string, 0, len(key))
	rest := make([]string, 0, len(key))
	for _, k := range key {
		if k == own {
			out = append(out, k)
		} else {
			rest = append(rest, k)
		}
	}
	if len(out) == 0 {
		return key
	}
	return append(out, rest...)
}

func cardinalityOf(rel Relation) Cardinality {
	if rel.Cardinality == "" {
		return CardinalityOne
	}
	return rel.Cardinality
}

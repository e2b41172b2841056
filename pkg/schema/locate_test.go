package schema

import (
	"testing"

	"github.com/rowguard/rowguard"
)

func TestLocateDirect(t *testing.T) {
	g := testGraph(t)
	loc, err := g.Locate("posts", "visibility")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc.Kind != LocationDirect {
		t.Errorf("kind %v, want direct", loc.Kind)
	}
	if loc.Field.Name != "visibility" {
		t.Errorf("field %q", loc.Field.Name)
	}
}

func TestLocateViaRelation(t *testing.T) {
	g := testGraph(t)
	loc, err := g.Locate("posts", "username")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc.Kind != LocationViaRelation {
		t.Fatalf("kind %v, want via-relation", loc.Kind)
	}
	if loc.Relation != "author" || loc.Target != "users" {
		t.Errorf("edge %s -> %s", loc.Relation, loc.Target)
	}
	if loc.Cardinality != CardinalityOne {
		t.Errorf("cardinality %v", loc.Cardinality)
	}
}

func TestLocateViaJunction(t *testing.T) {
	g := testGraph(t)
	loc, err := g.Locate("courses", "enrolled_at")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc.Kind != LocationViaJunction {
		t.Fatalf("kind %v, want via-junction", loc.Kind)
	}
	if loc.Relation != "enrollments" {
		t.Errorf("relation %q", loc.Relation)
	}
}

func TestLocateCompositeKeyOrder(t *testing.T) {
	g := testGraph(t)

	// The junction declares its key as (course_id, teacher_id). Located from
	// teachers, the key must reorder so the teacher's own key comes first.
	loc, err := g.Locate("teachers", "teacher_id")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc.Kind != LocationViaJunction {
		t.Fatalf("kind %v, want via-junction", loc.Kind)
	}
	if len(loc.JoinFields) != 2 || loc.JoinFields[0] != "teacher_id" || loc.JoinFields[1] != "course_id" {
		t.Errorf("join fields %v, want [teacher_id course_id]", loc.JoinFields)
	}

	// Located from courses, the declared order already leads with the
	// course's own key and must be preserved.
	loc, err = g.Locate("courses", "teacher_id")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(loc.JoinFields) != 2 || loc.JoinFields[0] != "course_id" || loc.JoinFields[1] != "teacher_id" {
		t.Errorf("join fields %v, want [course_id teacher_id]", loc.JoinFields)
	}
}

func TestLocateJunctionPriority(t *testing.T) {
	// Both a plain relation target and a junction target declare user_id;
	// the junction must win even though the plain relation is declared first.
	entities := []Entity{
		{
			Name: "users",
			Fields: []Field{
				{Name: "id", PrimaryKey: true},
				{Name: "user_id"},
			},
		},
		{
			Name: "docs",
			Fields: []Field{
				{Name: "id", PrimaryKey: true},
				{Name: "owner_id"},
			},
			Relations: []Relation{
				{Name: "owner", Target: "users", Cardinality: CardinalityOne, ForeignKey: "owner_id"},
				{Name: "shares", Target: "doc_shares", Cardinality: CardinalityMany},
			},
		},
		{
			Name: "doc_shares",
			Fields: []Field{
				{Name: "doc_id", PrimaryKey: true},
				{Name: "user_id", PrimaryKey: true},
			},
			Relations: []Relation{
				{Name: "doc", Target: "docs", Cardinality: CardinalityOne, ForeignKey: "doc_id"},
				{Name: "user", Target: "users", Cardinality: CardinalityOne, ForeignKey: "user_id"},
			},
		},
	}
	g, err := NewGraph(entities)
	if err != nil {
		t.Fatal(err)
	}

	loc, err := g.Locate("docs", "user_id")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if loc.Kind != LocationViaJunction {
		t.Fatalf("kind %v, want via-junction", loc.Kind)
	}
	if loc.Relation != "shares" {
		t.Errorf("relation %q, want shares", loc.Relation)
	}
	if len(loc.JoinFields) != 2 || loc.JoinFields[0] != "doc_id" || loc.JoinFields[1] != "user_id" {
		t.Errorf("join fields %v, want [doc_id user_id]", loc.JoinFields)
	}
}

func TestLocateExplicitJoinFields(t *testing.T) {
	entities := testEntities()
	// Declare the junction key explicitly on the relation, reversed from the
	// primary-key order; reordering still applies on top of it.
	entities[3].Relations[0].JoinFields = []string{"course_id", "teacher_id"}
	g, err := NewGraph(entities)
	if err != nil {
		t.Fatal(err)
	}
	loc, err := g.Locate("teachers", "enrolled_at")
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if len(loc.JoinFields) != 2 || loc.JoinFields[0] != "teacher_id" {
		t.Errorf("join fields %v, want teacher_id first", loc.JoinFields)
	}
}

func TestLocateUnknownEntity(t *testing.T) {
	g := testGraph(t)
	_, err := g.Locate("ghosts", "id")
	if err == nil {
		t.Fatal("expected error")
	}
	if !rowguard.IsUnknownEntityErr(err) {
		t.Errorf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestLocateNotFound(t *testing.T) {
	g := testGraph(t)
	_, err := g.Locate("posts", "no_such_field")
	if err == nil {
		t.Fatal("expected error")
	}
	if !rowguard.IsSchemaResolutionErr(err) {
		t.Errorf("expected ErrSchemaResolution, got %v", err)
	}
}

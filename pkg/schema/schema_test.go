package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rowguard/rowguard"
)

func testEntities() []Entity {
	return []Entity{
		{
			Name: "users",
			Fields: []Field{
				{Name: "id", PrimaryKey: true},
				{Name: "username"},
				{Name: "role"},
			},
		},
		{
			Name: "posts",
			Fields: []Field{
				{Name: "id", PrimaryKey: true},
				{Name: "owner_id"},
				{Name: "visibility"},
			},
			Relations: []Relation{
				{Name: "author", Target: "users", Cardinality: CardinalityOne, ForeignKey: "owner_id"},
			},
		},
		{
			Name: "courses",
			Fields: []Field{
				{Name: "id", PrimaryKey: true},
				{Name: "title"},
			},
			Relations: []Relation{
				{Name: "enrollments", Target: "enrollments", Cardinality: CardinalityMany},
			},
		},
		{
			Name: "teachers",
			Fields: []Field{
				{Name: "id", PrimaryKey: true},
				{Name: "name"},
			},
			Relations: []Relation{
				{Name: "enrollments", Target: "enrollments", Cardinality: CardinalityMany},
			},
		},
		{
			Name: "enrollments",
			Fields: []Field{
				{Name: "course_id", PrimaryKey: true},
				{Name: "teacher_id", PrimaryKey: true},
				{Name: "enrolled_at", Nullable: true},
			},
			Relations: []Relation{
				{Name: "course", Target: "courses", Cardinality: CardinalityOne, ForeignKey: "course_id"},
				{Name: "teacher", Target: "teachers", Cardinality: CardinalityOne, ForeignKey: "teacher_id"},
			},
		},
	}
}

func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewGraph(testEntities())
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func TestNewGraphValidation(t *testing.T) {
	cases := []struct {
		name     string
		entities []Entity
	}{
		{"unnamed entity", []Entity{{}}},
		{"duplicate entity", []Entity{{Name: "a"}, {Name: "a"}}},
		{"unnamed field", []Entity{{Name: "a", Fields: []Field{{}}}}},
		{"duplicate field", []Entity{{Name: "a", Fields: []Field{{Name: "x"}, {Name: "x"}}}}},
		{"unknown field kind", []Entity{{Name: "a", Fields: []Field{{Name: "x", Kind: "vector"}}}}},
		{"unnamed relation", []Entity{{Name: "a", Relations: []Relation{{Target: "a"}}}}},
		{"duplicate relation", []Entity{{Name: "a", Relations: []Relation{
			{Name: "r", Target: "a"}, {Name: "r", Target: "a"},
		}}}},
		{"unknown target", []Entity{{Name: "a", Relations: []Relation{{Name: "r", Target: "ghost"}}}}},
		{"unknown cardinality", []Entity{{Name: "a", Relations: []Relation{
			{Name: "r", Target: "a", Cardinality: "lots"},
		}}}},
		{"undeclared foreign key", []Entity{{Name: "a", Relations: []Relation{
			{Name: "r", Target: "a", ForeignKey: "missing"},
		}}}},
		{"join field not on target", []Entity{
			{Name: "a", Relations: []Relation{{Name: "r", Target: "b", JoinFields: []string{"nope"}}}},
			{Name: "b", Fields: []Field{{Name: "x"}}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(tc.entities)
			if err == nil {
				t.Fatal("expected error")
			}
			if !rowguard.IsInvalidGraphErr(err) {
				t.Errorf("expected ErrInvalidGraph, got %v", err)
			}
		})
	}
}

func TestParseGraph(t *testing.T) {
	data := []byte(`
entities:
  - name: users
    fields:
      - name: id
        primaryKey: true
      - name: role
  - name: posts
    fields:
      - name: id
        primaryKey: true
      - name: owner_id
    relations:
      - name: author
        target: users
        cardinality: one
        foreignKey: owner_id
`)
	g, err := ParseGraph(data)
	if err != nil {
		t.Fatalf("ParseGraph: %v", err)
	}
	e, ok := g.Entity("posts")
	if !ok {
		t.Fatal("posts entity missing")
	}
	rel, ok := e.Relation("author")
	if !ok {
		t.Fatal("author relation missing")
	}
	if rel.ForeignKey != "owner_id" {
		t.Errorf("foreign key %q", rel.ForeignKey)
	}
}

func TestParseGraphMalformed(t *testing.T) {
	_, err := ParseGraph([]byte("entities: {not: a list}"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !rowguard.IsInvalidGraphErr(err) {
		t.Errorf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestLoadGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.yaml")
	data := []byte("entities:\n  - name: users\n    fields:\n      - name: id\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	g, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	if _, ok := g.Entity("users"); !ok {
		t.Error("users entity missing")
	}

	if _, err := LoadGraph(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsJunction(t *testing.T) {
	g := testGraph(t)
	if !g.IsJunction("enrollments") {
		t.Error("enrollments should be a junction")
	}
	for _, name := range []string{"users", "posts", "courses", "ghost"} {
		if g.IsJunction(name) {
			t.Errorf("%s should not be a junction", name)
		}
	}
}

func TestIsJunctionNeedsForeignKeys(t *testing.T) {
	// A composite primary key alone is not a junction; the key members must
	// be foreign keys.
	g, err := NewGraph([]Entity{{
		Name: "ledger",
		Fields: []Field{
			{Name: "year", PrimaryKey: true},
			{Name: "seq", PrimaryKey: true},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if g.IsJunction("ledger") {
		t.Error("composite key without foreign keys must not be a junction")
	}
}

func TestEntitiesDeclarationOrder(t *testing.T) {
	g := testGraph(t)
	got := g.Entities()
	want := []string{"users", "posts", "courses", "teachers", "enrollments"}
	if len(got) != len(want) {
		t.Fatalf("got %d entities", len(got))
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Errorf("entity %d: %q, want %q", i, got[i].Name, want[i])
		}
	}
}

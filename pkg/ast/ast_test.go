package ast

import (
	"reflect"
	"testing"
)

func TestNodeString(t *testing.T) {
	tests := []struct {
		name   string
		node   Node
		expect string
	}{
		{
			name:   "string literal escapes quotes",
			node:   Text("it's"),
			expect: "'it''s'",
		},
		{
			name:   "integer keeps source text",
			node:   Number("042"),
			expect: "042",
		},
		{
			name:   "bool",
			node:   Bool(true),
			expect: "true",
		},
		{
			name:   "null",
			node:   Null(),
			expect: "NULL",
		},
		{
			name:   "column",
			node:   ColumnRef{Name: "owner_id"},
			expect: "owner_id",
		},
		{
			name:   "qualified column",
			node:   ColumnRef{Entity: "posts", Name: "owner_id"},
			expect: "posts.owner_id",
		},
		{
			name:   "session setting",
			node:   SessionSetting{Key: "app.tenant_id"},
			expect: "current_setting('app.tenant_id')",
		},
		{
			name:   "function call",
			node:   FunctionCall{Name: "current_user_id"},
			expect: "current_user_id()",
		},
		{
			name: "comparison",
			node: Comparison{
				Op:   OpEq,
				Left: ColumnRef{Name: "owner_id"},
				Right: FunctionCall{
					Name: "current_user_id",
				},
			},
			expect: "owner_id = current_user_id()",
		},
		{
			name:   "is null",
			node:   Comparison{Op: OpIsNull, Left: ColumnRef{Name: "deleted_at"}},
			expect: "deleted_at IS NULL",
		},
		{
			name: "in membership",
			node: Comparison{
				Op:    OpIn,
				Left:  ColumnRef{Name: "status"},
				Right: ArrayLiteral{Items: []Node{Text("draft"), Text("published")}},
			},
			expect: "status IN (ARRAY['draft', 'published'])",
		},
		{
			name: "conjunction",
			node: And{Operands: []Node{
				Comparison{Op: OpEq, Left: ColumnRef{Name: "a"}, Right: Number("1")},
				Comparison{Op: OpEq, Left: ColumnRef{Name: "b"}, Right: Number("2")},
			}},
			expect: "(a = 1 AND b = 2)",
		},
		{
			name: "negation",
			node: Not{Operand: Comparison{Op: OpEq, Left: ColumnRef{Name: "a"}, Right: Number("1")}},
			expect: "NOT (a = 1)",
		},
		{
			name: "case with discriminant",
			node: Case{
				Discriminant: FunctionCall{Name: "role"},
				Branches: []CaseBranch{
					{When: Text("admin"), Then: Bool(true)},
					{When: Text("guest"), Then: Bool(false)},
				},
				Else: Bool(false),
			},
			expect: "CASE role() WHEN 'admin' THEN true WHEN 'guest' THEN false ELSE false END",
		},
		{
			name:   "exists",
			node:   Exists{Entity: "enrollments", Subquery: "SELECT 1 FROM enrollments"},
			expect: "EXISTS (SELECT 1 FROM enrollments)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.String(); got != tt.expect {
				t.Errorf("String() = %q, want %q", got, tt.expect)
			}
		})
	}
}

func TestNumberParsing(t *testing.T) {
	t.Run("integer", func(t *testing.T) {
		n := Number("42")
		if n.Value != int64(42) {
			t.Errorf("Value = %v (%T), want int64 42", n.Value, n.Value)
		}
	})
	t.Run("decimal", func(t *testing.T) {
		n := Number("3.14")
		if n.Value != float64(3.14) {
			t.Errorf("Value = %v (%T), want float64 3.14", n.Value, n.Value)
		}
	})
	t.Run("large integer exact", func(t *testing.T) {
		n := Number("9007199254740993") // beyond float64 integer precision
		if n.Value != int64(9007199254740993) {
			t.Errorf("Value = %v, want exact int64", n.Value)
		}
	})
}

func TestInspect(t *testing.T) {
	tree := Or{Operands: []Node{
		And{Operands: []Node{
			Comparison{Op: OpEq, Left: ColumnRef{Name: "a"}, Right: Number("1")},
			Comparison{Op: OpEq, Left: ColumnRef{Name: "b"}, Right: Number("2")},
		}},
		Comparison{Op: OpEq, Left: ColumnRef{Name: "c"}, Right: Number("3")},
	}}

	var cols []string
	Inspect(tree, func(n Node) bool {
		if c, ok := n.(ColumnRef); ok {
			cols = append(cols, c.Name)
		}
		return true
	})

	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(cols, want) {
		t.Errorf("visited columns %v, want %v", cols, want)
	}
}

func TestInspectSkipsChildren(t *testing.T) {
	tree := Not{Operand: Comparison{Op: OpEq, Left: ColumnRef{Name: "a"}, Right: Number("1")}}

	var count int
	Inspect(tree, func(n Node) bool {
		count++
		_, isNot := n.(Not)
		return !isNot // skip children of Not
	})

	if count != 1 {
		t.Errorf("visited %d nodes, want 1", count)
	}
}

func TestCaseBranchOrderPreserved(t *testing.T) {
	c := Case{
		Discriminant: FunctionCall{Name: "role"},
		Branches: []CaseBranch{
			{When: Text("admin"), Then: Bool(true)},
			{When: Text("mod"), Then: Bool(true)},
			{When: Text("guest"), Then: Bool(false)},
		},
	}

	var whens []string
	Inspect(c, func(n Node) bool {
		if l, ok := n.(Literal); ok && l.Kind == StringKind {
			whens = append(whens, l.Value.(string))
		}
		return true
	})

	want := []string{"admin", "mod", "guest"}
	if !reflect.DeepEqual(whens, want) {
		t.Errorf("branch visit order %v, want %v", whens, want)
	}
}

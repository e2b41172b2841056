package compiler

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/filter"
	"github.com/rowguard/rowguard/pkg/schema"
)

func compileGraph(t *testing.T) *schema.Graph {
	t.Helper()
	g, err := schema.NewGraph([]schema.Entity{
		{
			Name: "users",
			Fields: []schema.Field{
				{Name: "id", PrimaryKey: true},
				{Name: "username"},
				{Name: "role"},
			},
		},
		{
			Name: "posts",
			Fields: []schema.Field{
				{Name: "id", PrimaryKey: true},
				{Name: "owner_id"},
				{Name: "visibility"},
			},
			Relations: []schema.Relation{
				{Name: "author", Target: "users", Cardinality: schema.CardinalityOne, ForeignKey: "owner_id"},
			},
		},
		{
			Name: "courses",
			Fields: []schema.Field{
				{Name: "id", PrimaryKey: true},
				{Name: "title"},
			},
			Relations: []schema.Relation{
				{Name: "enrollments", Target: "enrollments", Cardinality: schema.CardinalityMany},
			},
		},
		{
			Name: "enrollments",
			Fields: []schema.Field{
				{Name: "course_id", PrimaryKey: true},
				{Name: "teacher_id", PrimaryKey: true},
			},
			Relations: []schema.Relation{
				{Name: "course", Target: "courses", Cardinality: schema.CardinalityOne, ForeignKey: "course_id"},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func mustCompilePolicy(t *testing.T, p rowguard.Policy, graph *schema.Graph) rowguard.CompiledPolicy {
	t.Helper()
	cp, err := CompilePolicy(p, nil, graph)
	if err != nil {
		t.Fatalf("CompilePolicy(%s): %v", p.Key(), err)
	}
	return cp
}

func TestCompilePolicyDualArtifacts(t *testing.T) {
	cp := mustCompilePolicy(t, rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpSelect,
		Expression: "current_user_role() = 'admin' OR owner_id = current_user_id()",
	}, compileGraph(t))

	if cp.RoleOnly {
		t.Error("RoleOnly = true for a policy with a data arm")
	}

	record := rowguard.Record{"owner_id": 7}
	evals := []struct {
		actor rowguard.Actor
		want  bool
	}{
		{rowguard.Actor{"id": 99, "role": "admin"}, true},
		{rowguard.Actor{"id": 7, "role": "viewer"}, true},
		{rowguard.Actor{"id": 8, "role": "viewer"}, false},
	}
	for _, tt := range evals {
		if got := cp.Predicate.Eval(record, tt.actor); got != tt.want {
			t.Errorf("Eval(%v) = %v, want %v", tt.actor, got, tt.want)
		}
	}

	admin := cp.Filter.Bind(rowguard.Actor{"id": 99, "role": "admin"})
	if !filter.Unrestricted(admin) {
		t.Errorf("admin filter = %s, want unrestricted", admin)
	}
	viewer := cp.Filter.Bind(rowguard.Actor{"id": 7, "role": "viewer"})
	if got := viewer.String(); got != "owner_id = 7" {
		t.Errorf("viewer filter = %q, want %q", got, "owner_id = 7")
	}
	if _, ok := cp.Filter.Bind(rowguard.Actor{}).(filter.False); !ok {
		t.Errorf("empty actor filter = %s, want false", cp.Filter.Bind(rowguard.Actor{}))
	}

	if len(cp.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v, want exactly one", cp.Diagnostics)
	}
	d := cp.Diagnostics[0]
	if d.Category != rowguard.CategoryRoleConditionSplit {
		t.Errorf("category = %v, want role condition split", d.Category)
	}
	if d.Entity != "posts" || d.Operation != rowguard.OpSelect {
		t.Errorf("diagnostic scoped to %s/%s, want posts/select", d.Entity, d.Operation)
	}
}

func TestCompilePolicySubqueryReportedOnce(t *testing.T) {
	cp := mustCompilePolicy(t, rowguard.Policy{
		Entity:     "courses",
		Operation:  rowguard.OpDelete,
		Expression: "EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = courses.id)",
	}, compileGraph(t))

	if len(cp.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v, want the two backends' reports merged into one", cp.Diagnostics)
	}
	d := cp.Diagnostics[0]
	if d.Category != rowguard.CategoryUnresolvedConstruct {
		t.Errorf("category = %v, want unresolved construct", d.Category)
	}
	if d.Operation != rowguard.OpDelete {
		t.Errorf("operation = %v, want delete", d.Operation)
	}
	if !strings.Contains(d.Detail, "enrollments") {
		t.Errorf("detail %q does not name the subquery entity", d.Detail)
	}
	if !d.FailOpen() {
		t.Error("unresolved subquery diagnostic should report fail-open")
	}

	if !cp.Predicate.Eval(rowguard.Record{}, rowguard.Actor{}) {
		t.Error("unresolved subquery predicate should admit every record")
	}
	if !filter.Unrestricted(cp.Filter.Bind(rowguard.Actor{"id": 1})) {
		t.Error("unresolved subquery filter should be unrestricted")
	}
}

func TestCompilePolicyRoleOnly(t *testing.T) {
	cp := mustCompilePolicy(t, rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpDelete,
		Expression: "current_user_role() = 'admin'",
	}, compileGraph(t))

	if !cp.RoleOnly {
		t.Fatal("RoleOnly = false for a pure role policy")
	}
	if !filter.Unrestricted(cp.Filter) {
		t.Errorf("filter = %s, want always-true for a pure role policy", cp.Filter)
	}
	if !cp.Predicate.Eval(rowguard.Record{}, rowguard.Actor{"role": "admin"}) {
		t.Error("admin denied by role-only predicate")
	}
	if cp.Predicate.Eval(rowguard.Record{}, rowguard.Actor{"role": "viewer"}) {
		t.Error("viewer allowed by role-only predicate")
	}
	if len(cp.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want none", cp.Diagnostics)
	}
}

func TestCompilePolicyRoleScoped(t *testing.T) {
	cp := mustCompilePolicy(t, rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpUpdate,
		Expression: "owner_id = current_user_id()",
		Roles:      []string{"admin", "editor"},
	}, compileGraph(t))

	if cp.RoleOnly {
		t.Error("RoleOnly = true for a role-scoped data policy")
	}
	if len(cp.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v, want none for a conjunctive role scope", cp.Diagnostics)
	}

	record := rowguard.Record{"owner_id": 7}
	evals := []struct {
		actor rowguard.Actor
		want  bool
	}{
		{rowguard.Actor{"id": 7, "role": "admin"}, true},
		{rowguard.Actor{"id": 7, "role": "editor"}, true},
		{rowguard.Actor{"id": 7, "role": "viewer"}, false},
		{rowguard.Actor{"id": 8, "role": "admin"}, false},
	}
	for _, tt := range evals {
		if got := cp.Predicate.Eval(record, tt.actor); got != tt.want {
			t.Errorf("Eval(%v) = %v, want %v", tt.actor, got, tt.want)
		}
	}

	editor := cp.Filter.Bind(rowguard.Actor{"id": 7, "role": "editor"})
	if got := editor.String(); got != "owner_id = 7" {
		t.Errorf("editor filter = %q, want %q", got, "owner_id = 7")
	}
	if _, ok := cp.Filter.Bind(rowguard.Actor{"id": 7, "role": "viewer"}).(filter.False); !ok {
		t.Error("out-of-scope role should bind to a match-nothing filter")
	}
}

func TestCompilePolicyRoleScopedEmptyExpression(t *testing.T) {
	cp := mustCompilePolicy(t, rowguard.Policy{
		Entity:    "posts",
		Operation: rowguard.OpInsert,
		Roles:     []string{"service"},
	}, compileGraph(t))

	if !cp.RoleOnly {
		t.Fatal("role restriction alone should compile as a pure role policy")
	}
	if !cp.Predicate.Eval(rowguard.Record{}, rowguard.Actor{"role": "service"}) {
		t.Error("service role denied")
	}
	if cp.Predicate.Eval(rowguard.Record{}, rowguard.Actor{"role": "admin"}) {
		t.Error("unlisted role allowed")
	}
	if !filter.Unrestricted(cp.Filter) {
		t.Errorf("filter = %s, want always-true", cp.Filter)
	}
}

func TestCompilePolicyLowConfidenceReportedOnce(t *testing.T) {
	cp := mustCompilePolicy(t, rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpSelect,
		Expression: "current_setting('app.stamp') = visibility",
	}, compileGraph(t))

	if len(cp.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %v, want the backends' duplicate fallback reports merged", cp.Diagnostics)
	}
	d := cp.Diagnostics[0]
	if d.Category != rowguard.CategoryLowConfidenceMapping {
		t.Errorf("category = %v, want low confidence mapping", d.Category)
	}
	if d.Operation != rowguard.OpSelect {
		t.Errorf("operation = %v, want select", d.Operation)
	}

	if got := cp.Filter.String(); got != "visibility = actor.stamp" {
		t.Errorf("filter = %q, want mirrored comparison against the fallback path", got)
	}
	if !cp.Predicate.Eval(rowguard.Record{"visibility": "internal"}, rowguard.Actor{"stamp": "internal"}) {
		t.Error("matching fallback value denied")
	}
}

func TestCompilePolicyInvalid(t *testing.T) {
	tests := []struct {
		name string
		p    rowguard.Policy
	}{
		{"missing entity", rowguard.Policy{Operation: rowguard.OpSelect}},
		{"unknown operation", rowguard.Policy{Entity: "posts", Operation: rowguard.Operation("drop")}},
		{"empty role", rowguard.Policy{Entity: "posts", Operation: rowguard.OpSelect, Roles: []string{""}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompilePolicy(tt.p, nil, nil)
			if !errors.Is(err, rowguard.ErrInvalidPolicy) {
				t.Fatalf("err = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestCompilePolicySyntaxError(t *testing.T) {
	_, err := CompilePolicy(rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpSelect,
		Expression: "owner_id = (",
	}, nil, nil)
	if !errors.Is(err, rowguard.ErrSyntax) {
		t.Fatalf("err = %v, want ErrSyntax", err)
	}
}

func TestCompilePolicyResolutionErrors(t *testing.T) {
	g := compileGraph(t)

	_, err := CompilePolicy(rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpSelect,
		Expression: "ghost = 1",
	}, nil, g)
	if !errors.Is(err, rowguard.ErrSchemaResolution) {
		t.Fatalf("unknown field err = %v, want ErrSchemaResolution", err)
	}

	_, err = CompilePolicy(rowguard.Policy{
		Entity:     "ghosts",
		Operation:  rowguard.OpSelect,
		Expression: "id = 1",
	}, nil, g)
	if !errors.Is(err, rowguard.ErrUnknownEntity) {
		t.Fatalf("unknown entity err = %v, want ErrUnknownEntity", err)
	}
}

func TestCompilePolicyDeterministic(t *testing.T) {
	p := rowguard.Policy{
		Entity:     "posts",
		Operation:  rowguard.OpSelect,
		Expression: "current_user_role() IN ('admin', 'mod') OR owner_id = current_user_id()",
	}
	g := compileGraph(t)

	a := mustCompilePolicy(t, p, g)
	b := mustCompilePolicy(t, p, g)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("recompiling identical inputs diverged:\n%#v\n%#v", a, b)
	}
}

package predicate

import (
	"errors"
	"strings"
	"testing"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/parser"
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
				{Name: "tenant_id"},
				{Name: "visibility"},
				{Name: "is_published"},
				{Name: "deleted_at", Nullable: true},
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
			Name: "teachers",
			Fields: []schema.Field{
				{Name: "id", PrimaryKey: true},
				{Name: "name"},
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
				{Name: "teacher", Target: "teachers", Cardinality: schema.CardinalityOne, ForeignKey: "teacher_id"},
			},
		},
	})
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	return g
}

func mustCompile(t *testing.T, expr, entity string, mapping *ctxmap.Mapping, graph *schema.Graph) (rowguard.Predicate, []rowguard.Diagnostic) {
	t.Helper()
	node, err := parser.Parse(expr, entity)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expr, err)
	}
	p, diags, err := Compile(node, mapping, graph, entity)
	if err != nil {
		t.Fatalf("Compile(%q): %v", expr, err)
	}
	return p, diags
}

func TestCompileOwnership(t *testing.T) {
	p, diags := mustCompile(t, "owner_id = current_user_id()", "posts", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if PureRole(p) {
		t.Error("ownership predicate reported as pure role")
	}

	actor := rowguard.Actor{"id": int64(7)}
	if !p.Eval(rowguard.Record{"owner_id": int64(7)}, actor) {
		t.Error("owner denied")
	}
	if p.Eval(rowguard.Record{"owner_id": int64(9)}, actor) {
		t.Error("non-owner allowed")
	}
	if p.Eval(rowguard.Record{}, actor) {
		t.Error("record without owner_id allowed")
	}
}

func TestCompileRoleSplit(t *testing.T) {
	p, diags := mustCompile(t, "current_user_role() = 'admin' OR owner_id = current_user_id()", "posts", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if !strings.Contains(p.String(), "actor.role IN ['admin']") {
		t.Errorf("role arm not recognized as role check: %s", p)
	}

	record := rowguard.Record{"owner_id": int64(7)}
	if !p.Eval(record, rowguard.Actor{"id": int64(1), "role": "admin"}) {
		t.Error("admin denied a row they do not own")
	}
	if !p.Eval(record, rowguard.Actor{"id": int64(7), "role": "viewer"}) {
		t.Error("owner denied")
	}
	if p.Eval(record, rowguard.Actor{"id": int64(1), "role": "viewer"}) {
		t.Error("unrelated viewer allowed")
	}
}

func TestCompileRoleAnyArray(t *testing.T) {
	p, diags := mustCompile(t, "current_user_role() = ANY (ARRAY['admin', 'staff'])", "posts", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if !PureRole(p) {
		t.Errorf("role membership not pure role: %s", p)
	}

	if !p.Eval(nil, rowguard.Actor{"role": "staff"}) {
		t.Error("staff denied")
	}
	if !p.Eval(nil, rowguard.Actor{"role": []string{"editor", "staff"}}) {
		t.Error("role list containing staff denied")
	}
	if p.Eval(nil, rowguard.Actor{"role": "viewer"}) {
		t.Error("viewer allowed")
	}
}

func TestCompileReversedRoleEquality(t *testing.T) {
	p, _ := mustCompile(t, "'admin' = current_user_role()", "posts", nil, compileGraph(t))
	if !PureRole(p) {
		t.Errorf("reversed role equality not recognized: %s", p)
	}
	if !p.Eval(nil, rowguard.Actor{"role": "admin"}) {
		t.Error("admin denied")
	}
}

func TestCompileSessionSettingFallback(t *testing.T) {
	p, diags := mustCompile(t, "tenant_id = current_setting('app.tenant_id')", "posts", ctxmap.New(), compileGraph(t))
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v, want exactly one", diags)
	}
	d := diags[0]
	if d.Category != rowguard.CategoryLowConfidenceMapping {
		t.Errorf("category = %v, want low-confidence-mapping", d.Category)
	}
	if d.Entity != "posts" {
		t.Errorf("entity = %q, want posts", d.Entity)
	}
	if !strings.Contains(d.Construct, "app.tenant_id") {
		t.Errorf("construct = %q, want the provider reference", d.Construct)
	}

	// The guessed binding still works when the actor carries the field.
	if !p.Eval(rowguard.Record{"tenant_id": "t1"}, rowguard.Actor{"tenant_id": "t1"}) {
		t.Error("matching tenant denied")
	}
	if p.Eval(rowguard.Record{"tenant_id": "t1"}, rowguard.Actor{"tenant_id": "t2"}) {
		t.Error("mismatched tenant allowed")
	}
}

func TestCompileDiscoveredMappingSilent(t *testing.T) {
	mapping := ctxmap.New(ctxmap.Entry{Provider: "app.tenant_id", Path: []string{"org", "id"}})
	p, diags := mustCompile(t, "tenant_id = current_setting('app.tenant_id')", "posts", mapping, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none for a discovered mapping", diags)
	}
	actor := rowguard.Actor{"org": map[string]any{"id": "t1"}}
	if !p.Eval(rowguard.Record{"tenant_id": "t1"}, actor) {
		t.Error("discovered path not used")
	}
}

func TestCompileIsNull(t *testing.T) {
	p, _ := mustCompile(t, "deleted_at IS NULL", "posts", nil, compileGraph(t))
	if !p.Eval(rowguard.Record{"deleted_at": nil}, nil) {
		t.Error("null value denied")
	}
	if !p.Eval(rowguard.Record{}, nil) {
		t.Error("absent value denied")
	}
	if p.Eval(rowguard.Record{"deleted_at": "2024-03-01"}, nil) {
		t.Error("present value allowed")
	}

	q, _ := mustCompile(t, "deleted_at IS NOT NULL", "posts", nil, compileGraph(t))
	if !q.Eval(rowguard.Record{"deleted_at": "2024-03-01"}, nil) {
		t.Error("present value denied by IS NOT NULL")
	}
	if q.Eval(rowguard.Record{}, nil) {
		t.Error("absent value allowed by IS NOT NULL")
	}
}

func TestCompileLikePatterns(t *testing.T) {
	p, _ := mustCompile(t, "username LIKE 'admin%'", "users", nil, compileGraph(t))
	if !p.Eval(rowguard.Record{"username": "admin_jane"}, nil) {
		t.Error("prefix match denied")
	}
	if p.Eval(rowguard.Record{"username": "Admin_jane"}, nil) {
		t.Error("LIKE matched case-insensitively")
	}

	q, _ := mustCompile(t, "username ILIKE 'admin%'", "users", nil, compileGraph(t))
	if !q.Eval(rowguard.Record{"username": "Admin_jane"}, nil) {
		t.Error("ILIKE did not fold case")
	}
}

func TestCompileBareBooleanColumn(t *testing.T) {
	p, diags := mustCompile(t, "is_published", "posts", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if !p.Eval(rowguard.Record{"is_published": true}, nil) {
		t.Error("published row denied")
	}
	if p.Eval(rowguard.Record{"is_published": false}, nil) {
		t.Error("unpublished row allowed")
	}
	if p.Eval(rowguard.Record{}, nil) {
		t.Error("row without the flag allowed")
	}

	q, _ := mustCompile(t, "NOT is_published", "posts", nil, compileGraph(t))
	if !q.Eval(rowguard.Record{"is_published": false}, nil) {
		t.Error("negated flag denied")
	}
}

func TestCompileViaRelationField(t *testing.T) {
	// username lives on users; from posts it resolves through the author
	// relation and reads the embedded related row.
	p, diags := mustCompile(t, "username = 'alice'", "posts", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if got, want := p.String(), "record.author.username = 'alice'"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	if !p.Eval(rowguard.Record{"author": map[string]any{"username": "alice"}}, nil) {
		t.Error("embedded author row denied")
	}
	if p.Eval(rowguard.Record{"author": map[string]any{"username": "bob"}}, nil) {
		t.Error("wrong author allowed")
	}
	if p.Eval(rowguard.Record{"id": 1}, nil) {
		t.Error("record without embedded author allowed")
	}
}

func TestCompileJunctionSome(t *testing.T) {
	p, diags := mustCompile(t, "course_id = 42", "teachers", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	some, ok := p.(Some)
	if !ok {
		t.Fatalf("predicate = %T (%s), want Some", p, p)
	}
	if some.Relation != "enrollments" {
		t.Errorf("relation = %q, want enrollments", some.Relation)
	}

	enrolled := rowguard.Record{"enrollments": []map[string]any{{"course_id": int64(41)}, {"course_id": int64(42)}}}
	if !p.Eval(enrolled, nil) {
		t.Error("teacher with a matching enrollment denied")
	}
	other := rowguard.Record{"enrollments": []map[string]any{{"course_id": int64(41)}}}
	if p.Eval(other, nil) {
		t.Error("teacher without a matching enrollment allowed")
	}
	if p.Eval(rowguard.Record{"id": 3}, nil) {
		t.Error("teacher without loaded enrollments allowed")
	}
}

func TestCompileExistsFailsOpen(t *testing.T) {
	expr := "(current_user_role() = ANY (ARRAY['admin', 'staff'])) OR " +
		"EXISTS (SELECT 1 FROM enrollments WHERE enrollments.course_id = courses.id AND enrollments.teacher_id = get_current_user_id())"
	p, diags := mustCompile(t, expr, "courses", nil, compileGraph(t))

	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v, want exactly one", diags)
	}
	d := diags[0]
	if d.Category != rowguard.CategoryUnresolvedConstruct {
		t.Errorf("category = %v, want unresolved-construct", d.Category)
	}
	if d.Entity != "courses" {
		t.Errorf("entity = %q, want courses", d.Entity)
	}
	if !strings.HasPrefix(d.Construct, "EXISTS") {
		t.Errorf("construct = %q, want the EXISTS expression", d.Construct)
	}
	if !strings.Contains(d.Detail, "enrollments") {
		t.Errorf("detail = %q, want the subquery entity named", d.Detail)
	}
	if !d.FailOpen() {
		t.Error("unresolved diagnostic not marked fail-open")
	}

	// The unresolved arm admits everyone; the diagnostic is the only signal.
	if !p.Eval(rowguard.Record{"id": 1}, rowguard.Actor{"id": 99, "role": "viewer"}) {
		t.Error("fail-open predicate denied")
	}
}

func TestCompileSubqueryMembership(t *testing.T) {
	p, diags := mustCompile(t, "owner_id IN (SELECT user_id FROM banned_users)", "posts", nil, compileGraph(t))
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v, want exactly one", diags)
	}
	if !strings.Contains(diags[0].Detail, "banned_users") {
		t.Errorf("detail = %q, want the subquery entity named", diags[0].Detail)
	}
	if !p.Eval(rowguard.Record{"owner_id": 1}, nil) {
		t.Error("unresolved membership denied")
	}
}

func TestCompileCaseSearched(t *testing.T) {
	expr := "CASE WHEN current_user_role() = 'admin' THEN true ELSE owner_id = current_user_id() END"
	p, _ := mustCompile(t, expr, "posts", nil, compileGraph(t))

	record := rowguard.Record{"owner_id": int64(7)}
	if !p.Eval(record, rowguard.Actor{"id": int64(1), "role": "admin"}) {
		t.Error("admin denied")
	}
	if !p.Eval(record, rowguard.Actor{"id": int64(7), "role": "viewer"}) {
		t.Error("owner denied")
	}
	if p.Eval(record, rowguard.Actor{"id": int64(1), "role": "viewer"}) {
		t.Error("unrelated viewer allowed")
	}
}

func TestCompileCaseDiscriminantOrder(t *testing.T) {
	expr := "CASE current_user_role() WHEN 'admin' THEN true WHEN 'banned' THEN false ELSE owner_id = current_user_id() END"
	p, _ := mustCompile(t, expr, "posts", nil, compileGraph(t))

	owned := rowguard.Record{"owner_id": int64(7)}
	if !p.Eval(owned, rowguard.Actor{"id": int64(1), "role": "admin"}) {
		t.Error("admin denied")
	}
	// A banned owner hits the banned branch before the ELSE ownership test.
	if p.Eval(owned, rowguard.Actor{"id": int64(7), "role": "banned"}) {
		t.Error("banned owner allowed")
	}
	if !p.Eval(owned, rowguard.Actor{"id": int64(7), "role": "viewer"}) {
		t.Error("owner denied by ELSE branch")
	}
}

func TestCompileNiladicCurrentUser(t *testing.T) {
	p, diags := mustCompile(t, "username = CURRENT_USER", "users", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if !p.Eval(rowguard.Record{"username": "ann"}, rowguard.Actor{"username": "ann"}) {
		t.Error("matching username denied")
	}
	if p.Eval(rowguard.Record{"username": "ann"}, rowguard.Actor{"username": "bob"}) {
		t.Error("mismatched username allowed")
	}
}

func TestCompileUnmodeledFunction(t *testing.T) {
	p, diags := mustCompile(t, "owner_id = date_trunc('day', created_at)", "posts", nil, compileGraph(t))
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v, want exactly one", diags)
	}
	if diags[0].Category != rowguard.CategoryUnresolvedConstruct {
		t.Errorf("category = %v, want unresolved-construct", diags[0].Category)
	}
	if !p.Eval(rowguard.Record{}, nil) {
		t.Error("unresolved comparison denied")
	}
}

func TestCompileNonLiteralMembership(t *testing.T) {
	_, diags := mustCompile(t, "owner_id IN (id, 2)", "posts", nil, compileGraph(t))
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %v, want exactly one", diags)
	}
	if diags[0].Category != rowguard.CategoryUnresolvedConstruct {
		t.Errorf("category = %v, want unresolved-construct", diags[0].Category)
	}
}

func TestCompileUnknownEntity(t *testing.T) {
	node, err := parser.Parse("owner_id = 1", "ghosts")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, _, err = Compile(node, nil, compileGraph(t), "ghosts")
	if !errors.Is(err, rowguard.ErrUnknownEntity) {
		t.Fatalf("err = %v, want ErrUnknownEntity", err)
	}
}

func TestCompileUnknownField(t *testing.T) {
	node, err := parser.Parse("nonexistent = 1", "posts")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, _, err = Compile(node, nil, compileGraph(t), "posts")
	if !errors.Is(err, rowguard.ErrSchemaResolution) {
		t.Fatalf("err = %v, want ErrSchemaResolution", err)
	}
}

func TestCompileNilGraph(t *testing.T) {
	p, diags := mustCompile(t, "owner_id = current_user_id()", "posts", nil, nil)
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if !p.Eval(rowguard.Record{"owner_id": 7}, rowguard.Actor{"id": 7}) {
		t.Error("direct field read failed without a graph")
	}
}

func TestCompileEmptyExpression(t *testing.T) {
	p, diags := mustCompile(t, "", "posts", nil, compileGraph(t))
	if len(diags) != 0 {
		t.Fatalf("diagnostics = %v, want none", diags)
	}
	if !p.Eval(rowguard.Record{}, rowguard.Actor{}) {
		t.Error("empty expression denied")
	}
	if !PureRole(p) {
		t.Error("always-true predicate not pure role")
	}
}

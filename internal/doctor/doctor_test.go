package doctor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func findCheck(t *testing.T, r *Report, category, name string) CheckResult {
	t.Helper()
	for _, c := range r.Checks {
		if c.Category == category && c.Name == name {
			return c
		}
	}
	t.Fatalf("check %s/%s not found in %+v", category, name, r.Checks)
	return CheckResult{}
}

const healthyPolicies = `
policies:
  - entity: posts
    operation: select
    expression: visibility = 'public' OR owner_id = current_user_id()
  - entity: posts
    operation: delete
    expression: owner_id = current_user_id()
    roles: [admin]
`

const healthySchema = `
entities:
  - name: posts
    fields:
      - name: id
        primaryKey: true
      - name: owner_id
      - name: visibility
`

func TestDoctorOfflineHealthy(t *testing.T) {
	policies := writeFixture(t, "policies.yaml", healthyPolicies)
	schema := writeFixture(t, "schema.yaml", healthySchema)

	d := New(nil, schema, policies, "")
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())

	valid := findCheck(t, report, "Policy File", "valid")
	assert.Equal(t, StatusPass, valid.Status)
	assert.Contains(t, valid.Message, "2 policies across 1 entities")

	graph := findCheck(t, report, "Schema Graph", "valid")
	assert.Equal(t, StatusPass, graph.Status)
	assert.Contains(t, graph.Message, "1 entities")

	compile := findCheck(t, report, "Compilation", "compile")
	assert.Equal(t, StatusPass, compile.Status)
	assert.Contains(t, compile.Message, "All 2 policies compile")

	diags := findCheck(t, report, "Compilation", "diagnostics")
	assert.Equal(t, StatusPass, diags.Status)
}

func TestDoctorMissingPolicyFileFailsOffline(t *testing.T) {
	schema := writeFixture(t, "schema.yaml", healthySchema)

	d := New(nil, schema, filepath.Join(t.TempDir(), "absent.yaml"), "")
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.HasErrors())
	exists := findCheck(t, report, "Policy File", "exists")
	assert.Equal(t, StatusFail, exists.Status)
}

func TestDoctorInvalidPolicyFile(t *testing.T) {
	policies := writeFixture(t, "policies.yaml", `
policies:
  - entity: posts
    operation: truncate
    expression: "true"
`)
	schema := writeFixture(t, "schema.yaml", healthySchema)

	d := New(nil, schema, policies, "")
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.HasErrors())
	valid := findCheck(t, report, "Policy File", "valid")
	assert.Equal(t, StatusFail, valid.Status)
	assert.Contains(t, valid.Details, "truncate")
}

func TestDoctorMissingGraphWarnsButCompiles(t *testing.T) {
	policies := writeFixture(t, "policies.yaml", healthyPolicies)

	d := New(nil, filepath.Join(t.TempDir(), "absent.yaml"), policies, "")
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())

	graph := findCheck(t, report, "Schema Graph", "exists")
	assert.Equal(t, StatusWarn, graph.Status)

	// Direct-field predicates compile without a graph.
	compile := findCheck(t, report, "Compilation", "compile")
	assert.Equal(t, StatusPass, compile.Status)
}

func TestDoctorBrokenExpressionFailsCompilation(t *testing.T) {
	policies := writeFixture(t, "policies.yaml", `
policies:
  - entity: posts
    operation: select
    expression: owner_id = (
`)
	schema := writeFixture(t, "schema.yaml", healthySchema)

	d := New(nil, schema, policies, "")
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.HasErrors())
	compile := findCheck(t, report, "Compilation", "compile")
	assert.Equal(t, StatusFail, compile.Status)
	assert.Contains(t, compile.Details, "posts/select")
}

func TestDoctorFailOpenConstructWarns(t *testing.T) {
	policies := writeFixture(t, "policies.yaml", `
policies:
  - entity: courses
    operation: delete
    expression: EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = courses.id)
`)
	schema := writeFixture(t, "schema.yaml", `
entities:
  - name: courses
    fields:
      - name: id
        primaryKey: true
`)

	d := New(nil, schema, policies, "")
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, report.HasErrors())
	failOpen := findCheck(t, report, "Compilation", "fail_open")
	assert.Equal(t, StatusWarn, failOpen.Status)
	assert.Contains(t, failOpen.Details, "enrollments")
}

func TestDoctorMappingOverrides(t *testing.T) {
	policies := writeFixture(t, "policies.yaml", healthyPolicies)
	schema := writeFixture(t, "schema.yaml", healthySchema)
	mapping := writeFixture(t, "mapping.yaml", `
- provider: app.stamp
  path: [stamp]
`)

	d := New(nil, schema, policies, mapping)
	report, err := d.Run(context.Background())
	require.NoError(t, err)

	overrides := findCheck(t, report, "Context Mapping", "overrides")
	assert.Equal(t, StatusPass, overrides.Status)
	assert.Contains(t, overrides.Message, "1 entries")
}

func TestReportPrint(t *testing.T) {
	r := &Report{}
	r.AddCheck(CheckResult{Category: "Policy File", Name: "exists", Status: StatusPass, Message: "Policy file exists"})
	r.AddCheck(CheckResult{
		Category: "Compilation",
		Name:     "compile",
		Status:   StatusFail,
		Message:  "1 policies failed to compile",
		Details:  "posts/select: syntax error",
		FixHint:  "Fix the listed expressions",
	})

	var buf bytes.Buffer
	r.Print(&buf, true)

	out := buf.String()
	assert.Contains(t, out, "✓ Policy file exists")
	assert.Contains(t, out, "✗ 1 policies failed to compile")
	assert.Contains(t, out, "posts/select: syntax error")
	assert.Contains(t, out, "Fix: Fix the listed expressions")
	assert.Contains(t, out, "Summary: 1 passed, 0 warnings, 1 errors")
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "pass", StatusPass.String())
	assert.Equal(t, "warn", StatusWarn.String())
	assert.Equal(t, "fail", StatusFail.String())
	assert.Equal(t, "✓", StatusPass.Symbol())
	assert.Equal(t, "⚠", StatusWarn.Symbol())
	assert.Equal(t, "✗", StatusFail.Symbol())
}

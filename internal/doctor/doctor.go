// Package doctor provides health checks for rowguard policy infrastructure.
//
// The doctor command validates that policy compilation is properly set up by
// checking the configured files, compiling the policy set, and inspecting
// live row security state when a database connection is available.
//
// Example usage:
//
//	d := doctor.New(db, "rowguard/schema.yaml", "rowguard/policies.yaml", "")
//	report, err := d.Run(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	report.Print(os.Stdout, true) // verbose=true
package doctor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rowguard/rowguard/internal/build"
	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/internal/introspect"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/schema"
)

// Status represents the result of a health check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical issue that will cause failures.
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns a status indicator symbol for terminal output.
func (s Status) Symbol() string {
	switch s {
	case StatusPass:
		return "✓"
	case StatusWarn:
		return "⚠"
	case StatusFail:
		return "✗"
	default:
		return "?"
	}
}

// CheckResult represents the outcome of a single health check.
type CheckResult struct {
	// Category groups related checks (e.g., "Policy File", "Row Security").
	Category string

	// Name is a short identifier for the check.
	Name string

	// Status is the check outcome.
	Status Status

	// Message is a human-readable description of the result.
	Message string

	// Details provides additional information for verbose output.
	Details string

	// FixHint suggests how to resolve issues.
	FixHint string
}

// Report contains all health check results.
type Report struct {
	Checks []CheckResult

	// Summary counts.
	Passed   int
	Warnings int
	Errors   int
}

// AddCheck adds a check result and updates summary counts.
func (r *Report) AddCheck(check CheckResult) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case StatusPass:
		r.Passed++
	case StatusWarn:
		r.Warnings++
	case StatusFail:
		r.Errors++
	}
}

// Print writes the report to the given writer.
func (r *Report) Print(w io.Writer, verbose bool) {
	// Group checks by category
	categories := make(map[string][]CheckResult)
	var categoryOrder []string
	for _, check := range r.Checks {
		if _, exists := categories[check.Category]; !exists {
			categoryOrder = append(categoryOrder, check.Category)
		}
		categories[check.Category] = append(categories[check.Category], check)
	}

	// Print each category
	for _, cat := range categoryOrder {
		_, _ = fmt.Fprintf(w, "\n%s\n", cat)
		for _, check := range categories[cat] {
			_, _ = fmt.Fprintf(w, "  %s %s\n", check.Status.Symbol(), check.Message)
			if verbose && check.Details != "" {
				// Indent details
				for _, line := range strings.Split(check.Details, "\n") {
					_, _ = fmt.Fprintf(w, "      %s\n", line)
				}
			}
			if check.Status != StatusPass && check.FixHint != "" {
				_, _ = fmt.Fprintf(w, "      Fix: %s\n", check.FixHint)
			}
		}
	}

	// Print summary
	_, _ = fmt.Fprintf(w, "\nSummary: %d passed, %d warnings, %d errors\n",
		r.Passed, r.Warnings, r.Errors)
}

// HasErrors returns true if any check failed.
func (r *Report) HasErrors() bool {
	return r.Errors > 0
}

// Doctor performs health checks on rowguard policy infrastructure.
// A nil db limits the run to offline checks.
type Doctor struct {
	db           *sql.DB
	schemaPath   string
	policiesPath string
	mappingPath  string
	dbSchema     string

	// Cached data from checks (populated during Run)
	policyFile *cli.PolicyFile
	graph      *schema.Graph
	overrides  []ctxmap.Entry
	discovered []ctxmap.Entry
}

// New creates a new Doctor instance. mappingPath may be empty when no
// override file is configured.
func New(db *sql.DB, schemaPath, policiesPath, mappingPath string) *Doctor {
	return &Doctor{
		db:           db,
		schemaPath:   schemaPath,
		policiesPath: policiesPath,
		mappingPath:  mappingPath,
	}
}

// WithDBSchema sets the database schema inspected by the live checks.
// Defaults to public.
func (d *Doctor) WithDBSchema(name string) *Doctor {
	d.dbSchema = name
	return d
}

// Run executes all health checks and returns a report.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{}

	// Offline checks first, building up cached data
	d.checkPolicyFile(report)
	d.checkSchemaGraph(report)
	d.checkMappingOverrides(report)

	if d.db != nil {
		if err := d.checkRowSecurity(ctx, report); err != nil {
			return nil, fmt.Errorf("checking row security state: %w", err)
		}
		if err := d.checkSettingProviders(ctx, report); err != nil {
			return nil, fmt.Errorf("checking setting providers: %w", err)
		}
	}

	// Compilation last: it uses whatever the earlier checks loaded.
	if err := d.checkCompilation(report); err != nil {
		return nil, fmt.Errorf("checking compilation: %w", err)
	}

	return report, nil
}

// checkPolicyFile validates the policy file exists and parses.
func (d *Doctor) checkPolicyFile(report *Report) {
	if _, err := os.Stat(d.policiesPath); err != nil {
		status := StatusFail
		hint := fmt.Sprintf("Create %s or point the policies setting at your policy document", d.policiesPath)
		if d.db != nil {
			// With a live connection the policy set can come from
			// pg_policies instead.
			status = StatusWarn
			hint = "Live introspection will be used instead; create a policy file to pin the set"
		}
		report.AddCheck(CheckResult{
			Category: "Policy File",
			Name:     "exists",
			Status:   status,
			Message:  fmt.Sprintf("Policy file not found at %s", d.policiesPath),
			FixHint:  hint,
		})
		return
	}

	report.AddCheck(CheckResult{
		Category: "Policy File",
		Name:     "exists",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Policy file exists at %s", d.policiesPath),
	})

	pf, err := cli.LoadPolicyFile(d.policiesPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Policy File",
			Name:     "valid",
			Status:   StatusFail,
			Message:  "Policy file has errors",
			Details:  err.Error(),
			FixHint:  "Fix the reported entry; every policy needs an entity and a known operation",
		})
		return
	}

	d.policyFile = pf

	entities := make(map[string]bool)
	for _, p := range pf.Policies {
		entities[p.Entity] = true
	}

	report.AddCheck(CheckResult{
		Category: "Policy File",
		Name:     "valid",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Policy file is valid (%d policies across %d entities)", len(pf.Policies), len(entities)),
	})
}

// checkSchemaGraph validates the schema graph if one is configured. A
// missing graph is only a warning: direct-field predicates compile without
// one, relationship traversal does not.
func (d *Doctor) checkSchemaGraph(report *Report) {
	if _, err := os.Stat(d.schemaPath); err != nil {
		report.AddCheck(CheckResult{
			Category: "Schema Graph",
			Name:     "exists",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("Schema graph not found at %s", d.schemaPath),
			Details:  "Predicates over direct fields compile without a graph; relationship references will not",
			FixHint:  "Describe entities, fields and relations in a schema.yaml",
		})
		return
	}

	g, err := schema.LoadGraph(d.schemaPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Schema Graph",
			Name:     "valid",
			Status:   StatusFail,
			Message:  "Schema graph has errors",
			Details:  err.Error(),
			FixHint:  fmt.Sprintf("Fix the entity descriptions in %s", d.schemaPath),
		})
		return
	}

	d.graph = g

	entities := g.Entities()
	relationCount := 0
	for _, e := range entities {
		relationCount += len(e.Relations)
	}

	report.AddCheck(CheckResult{
		Category: "Schema Graph",
		Name:     "valid",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Schema graph is valid (%d entities, %d relations)", len(entities), relationCount),
	})
}

// checkMappingOverrides validates the mapping override file when one is
// configured.
func (d *Doctor) checkMappingOverrides(report *Report) {
	if d.mappingPath == "" {
		return
	}

	entries, err := cli.LoadMappingFile(d.mappingPath)
	if err != nil {
		report.AddCheck(CheckResult{
			Category: "Context Mapping",
			Name:     "overrides",
			Status:   StatusFail,
			Message:  "Mapping override file has errors",
			Details:  err.Error(),
			FixHint:  fmt.Sprintf("Fix %s; each entry needs a provider and a path", d.mappingPath),
		})
		return
	}

	d.overrides = entries

	report.AddCheck(CheckResult{
		Category: "Context Mapping",
		Name:     "overrides",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Mapping overrides loaded (%d entries)", len(entries)),
	})
}

// checkRowSecurity inspects live row security state: which tables enforce
// it and whether any of them lock every row out.
func (d *Doctor) checkRowSecurity(ctx context.Context, report *Report) error {
	status, err := introspect.FetchTableStatus(ctx, d.db, d.dbSchema)
	if err != nil {
		return err
	}

	if len(status) == 0 {
		report.AddCheck(CheckResult{
			Category: "Row Security",
			Name:     "enabled",
			Status:   StatusWarn,
			Message:  "No tables have row security enabled",
			Details:  "Policies only apply to tables with ALTER TABLE ... ENABLE ROW LEVEL SECURITY",
		})
		return nil
	}

	var lockouts []string
	policyCount := 0
	for _, ts := range status {
		policyCount += ts.Policies
		if ts.Policies == 0 {
			lockouts = append(lockouts, ts.Table)
		}
	}

	report.AddCheck(CheckResult{
		Category: "Row Security",
		Name:     "enabled",
		Status:   StatusPass,
		Message:  fmt.Sprintf("Row security enabled on %d tables (%d policies)", len(status), policyCount),
	})

	if len(lockouts) > 0 {
		report.AddCheck(CheckResult{
			Category: "Row Security",
			Name:     "lockout",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d tables enforce row security with no policies", len(lockouts)),
			Details:  strings.Join(lockouts, ", "),
			FixHint:  "CREATE POLICY on these tables; row security with no policies denies every row to non-owners",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Row Security",
			Name:     "lockout",
			Status:   StatusPass,
			Message:  "Every protected table has at least one policy",
		})
	}

	return nil
}

// checkSettingProviders discovers session-setting provider functions and
// caches them for the compilation check.
func (d *Doctor) checkSettingProviders(ctx context.Context, report *Report) error {
	entries, err := introspect.FetchSettingProviders(ctx, d.db)
	if err != nil {
		return err
	}

	d.discovered = entries

	if len(entries) == 0 {
		report.AddCheck(CheckResult{
			Category: "Context Mapping",
			Name:     "providers",
			Status:   StatusWarn,
			Message:  "No setting provider functions discovered",
			Details:  "current_setting() references will resolve by convention or literal fallback",
		})
		return nil
	}

	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s -> actor.%s", e.Provider, strings.Join(e.Path, ".")))
	}

	report.AddCheck(CheckResult{
		Category: "Context Mapping",
		Name:     "providers",
		Status:   StatusPass,
		Message:  fmt.Sprintf("%d setting provider functions discovered", len(entries)),
		Details:  strings.Join(lines, "\n"),
	})
	return nil
}

// checkCompilation compiles the loaded policy set and reports failures and
// fail-open diagnostics.
func (d *Doctor) checkCompilation(report *Report) error {
	if d.policyFile == nil {
		return nil // Already reported in the policy file check
	}

	entries := append([]ctxmap.Entry{}, d.discovered...)
	entries = append(entries, d.policyFile.Mapping...)
	entries = append(entries, d.overrides...)

	res, err := build.Run(d.policyFile.Policies, build.Options{
		Mapping: ctxmap.New(entries...),
		Graph:   d.graph,
	})
	if err != nil {
		return err
	}

	if len(res.Failures) > 0 {
		var lines []string
		for _, f := range res.Failures {
			lines = append(lines, fmt.Sprintf("%s: %v", f.Policy.Key(), f.Err))
		}
		details := strings.Join(lines, "\n")
		if len(lines) > 10 {
			details = strings.Join(lines[:10], "\n") + fmt.Sprintf("\n... and %d more", len(lines)-10)
		}
		report.AddCheck(CheckResult{
			Category: "Compilation",
			Name:     "compile",
			Status:   StatusFail,
			Message:  fmt.Sprintf("%d policies failed to compile", len(res.Failures)),
			Details:  details,
			FixHint:  "Fix the listed expressions; run 'rowguard validate' for full output",
		})
	} else {
		report.AddCheck(CheckResult{
			Category: "Compilation",
			Name:     "compile",
			Status:   StatusPass,
			Message:  fmt.Sprintf("All %d policies compile", len(d.policyFile.Policies)),
		})
	}

	var failOpen, advisory []string
	for _, diag := range res.Diagnostics() {
		if diag.FailOpen() {
			failOpen = append(failOpen, diag.String())
		} else {
			advisory = append(advisory, diag.String())
		}
	}

	if len(failOpen) > 0 {
		report.AddCheck(CheckResult{
			Category: "Compilation",
			Name:     "fail_open",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d constructs default to allow", len(failOpen)),
			Details:  strings.Join(failOpen, "\n"),
			FixHint:  "Hand-author guard checks for these policies or simplify the expressions",
		})
	}

	if len(advisory) > 0 {
		report.AddCheck(CheckResult{
			Category: "Compilation",
			Name:     "diagnostics",
			Status:   StatusWarn,
			Message:  fmt.Sprintf("%d advisory diagnostics", len(advisory)),
			Details:  strings.Join(advisory, "\n"),
		})
	} else if len(failOpen) == 0 {
		report.AddCheck(CheckResult{
			Category: "Compilation",
			Name:     "diagnostics",
			Status:   StatusPass,
			Message:  "No diagnostics reported",
		})
	}

	return nil
}

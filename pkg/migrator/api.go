// Package migrator loads declarative row security policies into PostgreSQL
// as native policies, so the database enforces exactly the rules an
// application's guard evaluates in memory.
package migrator

import (
	"context"
	"fmt"
	"os"

	"github.com/rowguard/rowguard/internal/cli"
)

// Migrate parses a YAML policy file and applies it to the database in one
// operation. This is the recommended high-level API for most applications.
//
// The function is idempotent and safe to call on every application
// startup. It validates the policies, renders native row security DDL,
// and applies everything atomically within a transaction (when db
// supports BeginTx). Generated policies that are no longer declared are
// dropped; hand-written policies are never touched.
//
// Example usage on application startup:
//
//	if err := migrator.Migrate(ctx, db, "policies.yaml"); err != nil {
//	    log.Fatalf("policy migration failed: %v", err)
//	}
//
// For embedded policy files (no file I/O), use MigrateFromString.
// For fine-grained control (dry-run, force), use MigrateWithOptions.
// For programmatic use with pre-parsed policies, use Migrator directly:
//
//	pf, _ := cli.LoadPolicyFile("policies.yaml")
//	m := migrator.NewMigrator(db, "policies.yaml")
//	err := m.MigrateWithPolicies(ctx, pf.Policies)
func Migrate(ctx context.Context, db Execer, policyPath string) error {
	m := NewMigrator(db, policyPath)

	if !m.HasPolicyFile() {
		return fmt.Errorf("no policy file found at %s", m.PolicyPath())
	}

	content, err := os.ReadFile(m.PolicyPath())
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	pf, err := cli.ParsePolicyFile(content)
	if err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}

	return m.MigrateWithPoliciesAndOptions(ctx, pf.Policies, InternalMigrateOptions{
		PolicyContent: string(content),
	})
}

// MigrateFromString parses policy content and applies it to the database.
// Useful for testing or when the policy file is embedded in the
// application binary, which simplifies deployment and versioning.
//
// Example:
//
//	//go:embed policies.yaml
//	var policyYAML string
//
//	err := migrator.MigrateFromString(ctx, db, policyYAML)
//
// The migration is idempotent and transactional (when using *sql.DB).
func MigrateFromString(ctx context.Context, db Execer, content string) error {
	pf, err := cli.ParsePolicyFile([]byte(content))
	if err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}

	m := NewMigrator(db, "")
	return m.MigrateWithPoliciesAndOptions(ctx, pf.Policies, InternalMigrateOptions{
		PolicyContent: content,
	})
}

// MigrateWithOptions performs migration with control over dry-run and skip
// behavior. Use this when you need to preview migrations, force
// re-application, or detect skips.
//
// The skip-if-unchanged optimization compares the policy content hash and
// DDL version against the last successful migration. If both match and
// Force is false, the migration is skipped (skipped=true). This avoids
// redundant DDL churn on every application restart when policies are
// stable.
//
// Returns (skipped, error):
//   - skipped=true if migration was skipped due to an unchanged policy
//     set (only when Force=false and DryRun=nil)
//   - error is non-nil if migration failed (parse error, validation
//     error, DB error)
//
// Example: generate a migration script without applying
//
//	var buf bytes.Buffer
//	_, err := migrator.MigrateWithOptions(ctx, db, "policies.yaml", migrator.MigrateOptions{
//	    DryRun: &buf,
//	})
//	os.WriteFile("migrations/001_row_security.sql", buf.Bytes(), 0644)
func MigrateWithOptions(ctx context.Context, db Execer, policyPath string, opts MigrateOptions) (skipped bool, err error) {
	m := NewMigrator(db, policyPath)

	if !m.HasPolicyFile() {
		return false, fmt.Errorf("no policy file found at %s", m.PolicyPath())
	}

	content, err := os.ReadFile(m.PolicyPath())
	if err != nil {
		return false, fmt.Errorf("reading policy file: %w", err)
	}

	pf, err := cli.ParsePolicyFile(content)
	if err != nil {
		return false, fmt.Errorf("parsing policy file: %w", err)
	}

	// Check if we should skip (only if not dry-run and not force)
	if !opts.Force && opts.DryRun == nil {
		checksum := ComputePolicyChecksum(string(content))
		last, err := m.GetLastMigration(ctx)
		if err != nil {
			return false, fmt.Errorf("checking last migration: %w", err)
		}
		if shouldSkipMigration(last, checksum) {
			return true, nil
		}
	}

	err = m.MigrateWithPoliciesAndOptions(ctx, pf.Policies, InternalMigrateOptions{
		DryRun:        opts.DryRun,
		Force:         opts.Force,
		PolicyContent: string(content),
	})
	return false, err
}

package migrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/rowguard/rowguard"
)

// DDLVersion is incremented when DDL rendering changes. This ensures
// migrations re-run even if the policy checksum matches.
// Bump this when:
//   - Statement rendering in ddl.go changes
//   - The generated policy naming scheme changes
const DDLVersion = "1"

// MigrateOptions controls migration behavior (public API).
type MigrateOptions struct {
	// DryRun outputs DDL to the provided writer without applying changes
	// to the database. If nil, migration proceeds normally. Use for
	// previewing migrations or producing migration scripts.
	DryRun io.Writer

	// Force re-applies even if the policy set is unchanged. Use when
	// manually fixing corrupted state or testing.
	Force bool
}

// InternalMigrateOptions extends MigrateOptions with internal fields.
type InternalMigrateOptions struct {
	DryRun io.Writer
	Force  bool

	// PolicyContent is the raw policy file text used for checksum
	// calculation to detect changes. If empty, the skip-if-unchanged
	// optimization is disabled.
	PolicyContent string
}

// MigrationRecord represents a row in the rowguard_migrations table.
type MigrationRecord struct {
	PolicyChecksum string
	DDLVersion     string
	PolicyNames    []string
}

// Migrator loads declarative row security policies into PostgreSQL as
// native policies. It is idempotent and safe to run on every application
// startup.
//
// The migration process:
//  1. Renders ALTER TABLE ... ENABLE ROW LEVEL SECURITY plus one
//     drop-and-create pair per policy
//  2. Applies everything atomically in a transaction (when db supports
//     BeginTx)
//  3. Drops previously generated policies that are no longer declared
//
// Use the convenience functions for most cases:
//
//	import "github.com/rowguard/rowguard/pkg/migrator"
//	err := migrator.Migrate(ctx, db, "policies.yaml")
//
// For embedded policy files (no file I/O):
//
//	err := migrator.MigrateFromString(ctx, db, policyYAML)
//
// Use the Migrator directly when you already hold parsed policies or need
// fine-grained control:
//
//	m := migrator.NewMigrator(db, "policies.yaml")
//	err := m.MigrateWithPolicies(ctx, pf.Policies)
type Migrator struct {
	db   Execer
	path string
}

// NewMigrator creates a new policy migrator. The path names the YAML
// policy file; leave it empty when policies arrive pre-parsed. The Execer
// is typically *sql.DB but can be *sql.Tx for testing.
func NewMigrator(db Execer, path string) *Migrator {
	return &Migrator{db: db, path: path}
}

// PolicyPath returns the path to the policy file.
func (m *Migrator) PolicyPath() string {
	return m.path
}

// HasPolicyFile returns true if the policy file exists.
func (m *Migrator) HasPolicyFile() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

const migrationsDDL = `CREATE TABLE IF NOT EXISTS rowguard_migrations (
    id BIGSERIAL PRIMARY KEY,
    policy_checksum TEXT NOT NULL,
    ddl_version TEXT NOT NULL,
    policy_names TEXT[] NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// MigrateWithPolicies applies the given policies to the database.
// This is the core migration method used by the high-level Migrate
// functions.
//
// Idempotent: rerunning with the same policies recreates the same
// database policies. Uses a transaction when the db supports it, so the
// policy set updates atomically or not at all.
func (m *Migrator) MigrateWithPolicies(ctx context.Context, policies []rowguard.Policy) error {
	return m.MigrateWithPoliciesAndOptions(ctx, policies, InternalMigrateOptions{})
}

// MigrateWithPoliciesAndOptions performs migration with options.
// This is the full-featured migration method supporting dry-run,
// skip-if-unchanged, and orphan cleanup.
//
// See MigrateWithPolicies for basic usage without options.
func (m *Migrator) MigrateWithPoliciesAndOptions(ctx context.Context, policies []rowguard.Policy, opts InternalMigrateOptions) error {
	// 1. Render DDL; this also validates every policy
	ddl, err := RenderDDL(policies)
	if err != nil {
		return err
	}

	// 2. Compute policy checksum if content provided
	var checksum string
	if opts.PolicyContent != "" {
		checksum = ComputePolicyChecksum(opts.PolicyContent)
	}

	// 3. Check if we can skip migration (unless force or dry-run)
	if !opts.Force && opts.DryRun == nil && checksum != "" {
		last, err := m.getLastMigration(ctx, m.db)
		if err != nil {
			return fmt.Errorf("checking last migration: %w", err)
		}
		if shouldSkipMigration(last, checksum) {
			return nil
		}
	}

	// 4. Handle dry-run mode
	if opts.DryRun != nil {
		m.outputDryRun(opts.DryRun, checksum, ddl)
		return nil
	}

	// 5. Apply everything atomically
	if txer, ok := m.db.(interface {
		BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	}); ok {
		tx, err := txer.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("starting transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := m.migrate(ctx, tx, ddl, checksum); err != nil {
			return err
		}
		return tx.Commit()
	}

	// Fall back to non-transactional (for *sql.Conn)
	return m.migrate(ctx, m.db, ddl, checksum)
}

// migrate runs the apply sequence against db, which is either the
// migration transaction or the raw handle.
func (m *Migrator) migrate(ctx context.Context, db Execer, ddl RenderedDDL, checksum string) error {
	if err := m.applyMigrationsDDL(ctx, db); err != nil {
		return err
	}

	// Snapshot generated policies before applying, for orphan detection
	current, err := m.getCurrentPolicies(ctx, db)
	if err != nil {
		return fmt.Errorf("getting current policies: %w", err)
	}

	if err := m.applyStatements(ctx, db, ddl); err != nil {
		return err
	}

	if err := m.dropOrphanedPolicies(ctx, db, current, ddl.PolicyNames); err != nil {
		return err
	}

	if checksum != "" {
		if err := m.insertMigrationRecord(ctx, db, checksum, ddl.PolicyNames); err != nil {
			return err
		}
	}
	return nil
}

// applyStatements executes the rendered DDL in order.
func (m *Migrator) applyStatements(ctx context.Context, db Execer, ddl RenderedDDL) error {
	for i, stmt := range ddl.Statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying statement %d: %w", i, err)
		}
	}
	return nil
}

// getCurrentPolicies returns all generated policies from pg_policies as
// "table/name" pairs. Only rg_-prefixed names are considered; hand-written
// policies are never touched.
func (m *Migrator) getCurrentPolicies(ctx context.Context, db Execer) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename, policyname
		FROM pg_policies
		WHERE schemaname = current_schema()
		AND policyname LIKE 'rg\_%'
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pg_policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	policies := make([]string, 0, 16)
	for rows.Next() {
		var table, name string
		if err := rows.Scan(&table, &name); err != nil {
			return nil, fmt.Errorf("scanning policy name: %w", err)
		}
		policies = append(policies, table+"/"+name)
	}
	return policies, rows.Err()
}

// dropOrphanedPolicies drops generated policies that exist but are not in
// the expected list.
func (m *Migrator) dropOrphanedPolicies(ctx context.Context, db Execer, current, expected []string) error {
	keep := make(map[string]bool)
	for _, name := range expected {
		keep[name] = true
	}

	for _, name := range current {
		if keep[name] {
			continue
		}
		table, policy, ok := strings.Cut(name, "/")
		if !ok {
			continue
		}
		stmt := fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", pq.QuoteIdentifier(policy), pq.QuoteIdentifier(table))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dropping orphaned policy %s: %w", name, err)
		}
	}
	return nil
}

// applyMigrationsDDL creates the rowguard_migrations table if it doesn't
// exist.
func (m *Migrator) applyMigrationsDDL(ctx context.Context, db Execer) error {
	if _, err := db.ExecContext(ctx, migrationsDDL); err != nil {
		return fmt.Errorf("applying migrations DDL: %w", err)
	}
	return nil
}

// insertMigrationRecord records the migration in rowguard_migrations.
func (m *Migrator) insertMigrationRecord(ctx context.Context, db Execer, checksum string, policyNames []string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO rowguard_migrations (policy_checksum, ddl_version, policy_names)
		VALUES ($1, $2, $3)
	`, checksum, DDLVersion, pq.Array(policyNames))
	if err != nil {
		return fmt.Errorf("inserting migration record: %w", err)
	}
	return nil
}

// GetLastMigration returns the most recent migration record, or nil if
// none exists. Use this to check whether migration is needed before
// calling MigrateWithPoliciesAndOptions.
func (m *Migrator) GetLastMigration(ctx context.Context) (*MigrationRecord, error) {
	return m.getLastMigration(ctx, m.db)
}

func (m *Migrator) getLastMigration(ctx context.Context, db Execer) (*MigrationRecord, error) {
	// First check if the migrations table exists
	var tableExists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE c.relname = 'rowguard_migrations'
			AND n.nspname = current_schema()
		)
	`).Scan(&tableExists)
	if err != nil {
		return nil, fmt.Errorf("checking rowguard_migrations table: %w", err)
	}
	if !tableExists {
		return nil, nil
	}

	var rec MigrationRecord
	err = db.QueryRowContext(ctx, `
		SELECT policy_checksum, ddl_version, policy_names
		FROM rowguard_migrations
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&rec.PolicyChecksum, &rec.DDLVersion, pq.Array(&rec.PolicyNames))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying last migration: %w", err)
	}
	return &rec, nil
}

// shouldSkipMigration returns true if the policy set and DDL version are
// unchanged.
func shouldSkipMigration(last *MigrationRecord, checksum string) bool {
	if last == nil {
		return false
	}
	return last.PolicyChecksum == checksum && last.DDLVersion == DDLVersion
}

// ComputePolicyChecksum returns a SHA256 hash of the policy file content.
// Used to detect policy changes for the skip-if-unchanged optimization.
func ComputePolicyChecksum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// Status represents the current migration state. Use GetStatus for health
// checks or migration diagnostics.
type Status struct {
	// PolicyFileExists indicates whether the policy file exists on disk.
	PolicyFileExists bool

	// LastMigration is the most recent applied migration, or nil when no
	// migration has run against this database.
	LastMigration *MigrationRecord
}

// GetStatus returns the current migration status.
func (m *Migrator) GetStatus(ctx context.Context) (*Status, error) {
	last, err := m.getLastMigration(ctx, m.db)
	if err != nil {
		return nil, err
	}
	return &Status{
		PolicyFileExists: m.HasPolicyFile(),
		LastMigration:    last,
	}, nil
}

// outputDryRun writes the migration DDL to the provided writer.
func (m *Migrator) outputDryRun(w io.Writer, checksum string, ddl RenderedDDL) {
	_, _ = fmt.Fprintf(w, "-- Rowguard Migration (dry-run)\n")
	_, _ = fmt.Fprintf(w, "-- Policy checksum: %s\n", checksum)
	_, _ = fmt.Fprintf(w, "-- DDL version: %s\n", DDLVersion)
	_, _ = fmt.Fprintf(w, "\n")

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- DDL: Migration Tracking Table\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	_, _ = fmt.Fprintf(w, "%s;\n\n", migrationsDDL)

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Row Security Policies (%d statements)\n", len(ddl.Statements))
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")
	for _, stmt := range ddl.Statements {
		_, _ = fmt.Fprintf(w, "%s;\n", stmt)
	}
	_, _ = fmt.Fprintf(w, "\n")

	_, _ = fmt.Fprintf(w, "-- ============================================================\n")
	_, _ = fmt.Fprintf(w, "-- Migration Record\n")
	_, _ = fmt.Fprintf(w, "-- ============================================================\n\n")

	sorted := make([]string, len(ddl.PolicyNames))
	copy(sorted, ddl.PolicyNames)
	sort.Strings(sorted)

	quoted := make([]string, len(sorted))
	for i, name := range sorted {
		quoted[i] = fmt.Sprintf("'%s'", name)
	}
	_, _ = fmt.Fprintf(w, "INSERT INTO rowguard_migrations (policy_checksum, ddl_version, policy_names)\n")
	_, _ = fmt.Fprintf(w, "VALUES ('%s', '%s', ARRAY[%s]);\n", checksum, DDLVersion, strings.Join(quoted, ", "))
}

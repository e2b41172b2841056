// Package introspect reads row security state from a live PostgreSQL
// database: the policies attached to tables and the session-setting
// provider functions applications define for them. Raw policy rows are
// composed into one declarative policy per entity and operation; provider
// functions become context-mapping entries.
//
// All reads go through rowguard.Querier, so introspection works on
// *sql.DB, *sql.Tx, and *sql.Conn alike. Nothing here mutates the
// database.
package introspect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/rowguard/rowguard"
	rowguardsql "github.com/rowguard/rowguard/sql"
)

// Open connects through the pgx stdlib driver and verifies the connection
// with a ping. The caller owns the returned handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// Row is one pg_policies entry in raw form, before composition.
type Row struct {
	// Table is the entity the policy is attached to.
	Table string

	// Name is the policy name, unique per table.
	Name string

	// Permissive is false for AS RESTRICTIVE policies.
	Permissive bool

	// Roles scopes the policy to the named database roles. Empty means
	// the policy applies to every role.
	Roles []string

	// Command is the pg_policies cmd column: ALL, SELECT, INSERT, UPDATE
	// or DELETE.
	Command string

	// Using is the USING expression text, empty when omitted.
	Using string

	// WithCheck is the WITH CHECK expression text, empty when omitted.
	WithCheck string
}

// FetchPolicies reads the row security policies of one schema. An empty
// schema name means "public". Results are ordered by table then policy
// name.
func FetchPolicies(ctx context.Context, q rowguard.Querier, schemaName string) ([]Row, error) {
	if schemaName == "" {
		schemaName = "public"
	}

	rows, err := q.QueryContext(ctx, rowguardsql.PoliciesSQL, schemaName)
	if err != nil {
		return nil, fmt.Errorf("querying pg_policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			permissive string
			roles      pq.StringArray
			qual       sql.NullString
			withCheck  sql.NullString
		)
		if err := rows.Scan(&r.Table, &r.Name, &permissive, &roles, &r.Command, &qual, &withCheck); err != nil {
			return nil, fmt.Errorf("scanning pg_policies row: %w", err)
		}
		r.Permissive = strings.EqualFold(permissive, "PERMISSIVE")
		r.Roles = normalizeRoles(roles)
		r.Using = qual.String
		r.WithCheck = withCheck.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading pg_policies: %w", err)
	}
	return out, nil
}

// normalizeRoles drops the pseudo-role public, which pg_policies reports
// for policies declared without a TO clause.
func normalizeRoles(roles []string) []string {
	var out []string
	for _, r := range roles {
		if strings.EqualFold(r, "public") {
			continue
		}
		out = append(out, r)
	}
	return out
}

// TableStatus reports one row-security-enabled table and how many policies
// it carries. A protected table with zero policies denies every row to
// non-owners.
type TableStatus struct {
	Table    string
	Policies int
}

// FetchTableStatus lists the tables of one schema that have row security
// enabled, with their policy counts. An empty schema name means "public".
func FetchTableStatus(ctx context.Context, q rowguard.Querier, schemaName string) ([]TableStatus, error) {
	if schemaName == "" {
		schemaName = "public"
	}

	rows, err := q.QueryContext(ctx, rowguardsql.TableStatusSQL, schemaName)
	if err != nil {
		return nil, fmt.Errorf("querying table status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []TableStatus
	for rows.Next() {
		var ts TableStatus
		if err := rows.Scan(&ts.Table, &ts.Policies); err != nil {
			return nil, fmt.Errorf("scanning table status row: %w", err)
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading table status: %w", err)
	}
	return out, nil
}

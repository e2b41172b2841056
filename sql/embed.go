// Package sql provides the embedded catalog queries used by live
// introspection.
package sql

import (
	_ "embed"
)

// The SQL is embedded at compile time so the binary never depends on
// external query files. All queries read system catalogs only; nothing
// here mutates the database.

// PoliciesSQL lists the row security policies of one schema from
// pg_policies: table, policy name, permissive kind, role scope, command,
// and the USING and WITH CHECK expression text. Ordered by table then
// policy name so composition input is stable across runs.
//
//go:embed policies.sql
var PoliciesSQL string

// SettingProvidersSQL lists user-defined zero-argument functions whose
// bodies read a session setting. Their sources are scanned for
// current_setting calls to derive context mappings.
//
//go:embed setting_providers.sql
var SettingProvidersSQL string

// TableStatusSQL lists tables with row security enabled and how many
// policies each carries. A protected table with zero policies denies every
// row to non-owners, which the doctor flags.
//
//go:embed table_status.sql
var TableStatusSQL string

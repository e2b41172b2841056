package introspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rowguard/rowguard"
)

// Compose folds raw policy rows into one declarative policy per entity and
// operation, mirroring how PostgreSQL combines multiple policies on a
// table: at least one permissive policy must pass and every restrictive
// policy must hold. Permissive expressions are joined with OR, restrictive
// expressions are ANDed onto that disjunction, and role-scoped policies
// keep their scope as a role membership guard inside their own expression.
//
// A single unscoped permissive policy composes to its expression text
// unchanged. Output is ordered by entity then operation regardless of
// input order, so identical catalogs compose identically.
func Compose(rows []Row) []rowguard.Policy {
	type group struct {
		permissive  []string
		restrictive []string
	}
	type key struct {
		table string
		op    rowguard.Operation
	}

	groups := make(map[key]*group)
	tables := make(map[string]bool)
	for _, r := range rows {
		for _, op := range opsFor(r.Command) {
			text := textFor(r, op)
			text = wrapRoles(text, r.Roles)

			k := key{r.Table, op}
			g := groups[k]
			if g == nil {
				g = &group{}
				groups[k] = g
			}
			if r.Permissive {
				g.permissive = append(g.permissive, text)
			} else {
				g.restrictive = append(g.restrictive, text)
			}
			tables[r.Table] = true
		}
	}

	order := make([]string, 0, len(tables))
	for t := range tables {
		order = append(order, t)
	}
	sort.Strings(order)

	var out []rowguard.Policy
	for _, table := range order {
		for _, op := range rowguard.Operations() {
			g, ok := groups[key{table, op}]
			if !ok {
				continue
			}
			out = append(out, rowguard.Policy{
				Entity:     table,
				Operation:  op,
				Expression: composeGroup(g.permissive, g.restrictive),
			})
		}
	}
	return out
}

// composeGroup joins one (entity, operation) group's expressions. With no
// permissive policy the permissive part is false: PostgreSQL denies every
// row when only restrictive policies apply.
func composeGroup(permissive, restrictive []string) string {
	var text string
	switch len(permissive) {
	case 0:
		text = "false"
	case 1:
		text = permissive[0]
	default:
		parts := make([]string, len(permissive))
		for i, p := range permissive {
			parts[i] = "(" + p + ")"
		}
		text = strings.Join(parts, " OR ")
	}

	if len(restrictive) > 0 {
		parts := make([]string, 0, len(restrictive)+1)
		parts = append(parts, "("+text+")")
		for _, r := range restrictive {
			parts = append(parts, "("+r+")")
		}
		text = strings.Join(parts, " AND ")
	}
	return text
}

// opsFor expands the pg_policies cmd column into the operations the policy
// gates.
func opsFor(cmd string) []rowguard.Operation {
	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case "SELECT":
		return []rowguard.Operation{rowguard.OpSelect}
	case "INSERT":
		return []rowguard.Operation{rowguard.OpInsert}
	case "UPDATE":
		return []rowguard.Operation{rowguard.OpUpdate}
	case "DELETE":
		return []rowguard.Operation{rowguard.OpDelete}
	default:
		// ALL, and the "*" spelling older catalogs report.
		return rowguard.Operations()
	}
}

// textFor picks the expression governing one operation. Reads check the
// USING clause, inserts check WITH CHECK, updates check both with USING
// taking precedence. When the preferred clause was omitted PostgreSQL
// falls back to the other; an entirely bare policy admits every row.
func textFor(r Row, op rowguard.Operation) string {
	var text string
	switch op {
	case rowguard.OpSelect, rowguard.OpDelete:
		text = r.Using
	case rowguard.OpInsert:
		text = r.WithCheck
		if text == "" {
			text = r.Using
		}
	case rowguard.OpUpdate:
		text = r.Using
		if text == "" {
			text = r.WithCheck
		}
	}
	if text == "" {
		text = "true"
	}
	return text
}

// wrapRoles guards an expression with the policy's role scope. A bare or
// always-true expression reduces to the role check alone.
func wrapRoles(text string, roles []string) string {
	if len(roles) == 0 {
		return text
	}
	quoted := make([]string, len(roles))
	for i, r := range roles {
		quoted[i] = "'" + strings.ReplaceAll(r, "'", "''") + "'"
	}
	check := fmt.Sprintf("current_user_role() = ANY (ARRAY[%s])", strings.Join(quoted, ", "))
	if text == "true" {
		return check
	}
	return fmt.Sprintf("(%s) AND (%s)", check, text)
}

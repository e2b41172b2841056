package migrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/rowguard/rowguard"
)

// PolicyName returns the database policy name for one declarative policy.
// Generated names carry the rg_ prefix so they are distinguishable from
// hand-written policies in pg_policies, which is what orphan cleanup keys
// on.
func PolicyName(p rowguard.Policy) string {
	return "rg_" + p.Entity + "_" + p.Operation.String()
}

// RenderedDDL is the full statement set for one policy set: a row security
// toggle per entity followed by a drop-and-create pair per policy.
type RenderedDDL struct {
	Statements []string

	// PolicyNames holds "entity/name" pairs for every rendered policy,
	// recorded in the tracking table and used for orphan cleanup.
	PolicyNames []string
}

// RenderDDL renders native row security DDL for the given policies.
// Output is deterministic: entities alphabetical, operations in
// select/insert/update/delete order, so reruns produce identical scripts.
//
// Each policy becomes DROP POLICY IF EXISTS followed by CREATE POLICY, so
// applying is idempotent without CREATE OR REPLACE, which PostgreSQL does
// not support for policies. Insert policies render as WITH CHECK; every
// other operation renders as USING, matching how the statements are
// enforced.
func RenderDDL(policies []rowguard.Policy) (RenderedDDL, error) {
	sorted := make([]rowguard.Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Entity != sorted[j].Entity {
			return sorted[i].Entity < sorted[j].Entity
		}
		return opIndex(sorted[i].Operation) < opIndex(sorted[j].Operation)
	})

	var out RenderedDDL
	seenEntity := make(map[string]bool)
	seenKey := make(map[string]bool)
	for _, p := range sorted {
		if err := p.Validate(); err != nil {
			return RenderedDDL{}, err
		}
		if seenKey[p.Key()] {
			return RenderedDDL{}, fmt.Errorf("duplicate policy for %s", p.Key())
		}
		seenKey[p.Key()] = true

		if !seenEntity[p.Entity] {
			seenEntity[p.Entity] = true
			out.Statements = append(out.Statements,
				fmt.Sprintf("ALTER TABLE %s ENABLE ROW LEVEL SECURITY", pq.QuoteIdentifier(p.Entity)))
		}

		name := PolicyName(p)
		out.Statements = append(out.Statements,
			fmt.Sprintf("DROP POLICY IF EXISTS %s ON %s", pq.QuoteIdentifier(name), pq.QuoteIdentifier(p.Entity)),
			createPolicySQL(name, p))
		out.PolicyNames = append(out.PolicyNames, p.Entity+"/"+name)
	}
	return out, nil
}

func createPolicySQL(name string, p rowguard.Policy) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE POLICY %s ON %s", pq.QuoteIdentifier(name), pq.QuoteIdentifier(p.Entity))
	fmt.Fprintf(&b, " FOR %s", strings.ToUpper(p.Operation.String()))
	if len(p.Roles) > 0 {
		quoted := make([]string, len(p.Roles))
		for i, r := range p.Roles {
			quoted[i] = pq.QuoteIdentifier(r)
		}
		fmt.Fprintf(&b, " TO %s", strings.Join(quoted, ", "))
	}

	// An empty expression means fully permissive, which PostgreSQL spells
	// as a literal true.
	expr := p.Expression
	if expr == "" {
		expr = "true"
	}
	if p.Operation == rowguard.OpInsert {
		fmt.Fprintf(&b, " WITH CHECK (%s)", expr)
	} else {
		fmt.Fprintf(&b, " USING (%s)", expr)
	}
	return b.String()
}

func opIndex(op rowguard.Operation) int {
	for i, o := range rowguard.Operations() {
		if o == op {
			return i
		}
	}
	return len(rowguard.Operations())
}

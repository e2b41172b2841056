// Command dumppolicies dumps the compiled artifacts for a policy file or a
// single inline expression. It runs the same compilation path the generate
// command uses and prints the predicate tree, the query filter, and any
// diagnostics the compiler raised.
//
// Usage:
//
//	dumppolicies <file.yaml>                 # Compile every policy in a YAML policy file
//	dumppolicies -expr <expression> [flags]  # Compile one inline expression
//
// Output Sections:
//
//	POLICY:      The source policy (entity, operation, roles, expression)
//	PREDICATE:   The compiled boolean predicate in normalized form
//	FILTER:      The compiled query filter in normalized form
//	DIAGNOSTICS: Constructs the compiler could not model and what it did
//
// Examples:
//
//	dumppolicies policies.yaml
//	dumppolicies -expr "owner_id = current_user_id()"
//	dumppolicies -entity invoices -op update -expr "total < 10000"
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/pkg/compiler"
	"github.com/rowguard/rowguard/pkg/ctxmap"
)

func main() {
	expr := flag.String("expr", "", "Compile a single inline expression instead of a file")
	entity := flag.String("entity", "records", "Entity for the inline expression")
	op := flag.String("op", "select", "Operation for the inline expression")
	flag.Parse()

	var policies []rowguard.Policy
	var mapping *ctxmap.Mapping

	switch {
	case *expr != "":
		policies = []rowguard.Policy{{
			Entity:     *entity,
			Operation:  rowguard.Operation(strings.ToLower(*op)),
			Expression: *expr,
		}}
		mapping = ctxmap.New()
	case flag.NArg() == 1:
		pf, err := cli.LoadPolicyFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		policies = pf.Policies
		mapping = ctxmap.New(pf.Mapping...)
	default:
		fmt.Fprintf(os.Stderr, "Usage: dumppolicies [options] <policies.yaml>\n\n")
		fmt.Fprintf(os.Stderr, "Dump the compiled predicate and filter for each policy.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fmt.Fprintf(os.Stderr, "  -expr <expression>   Compile one inline expression instead of a file\n")
		fmt.Fprintf(os.Stderr, "  -entity <name>       Entity for the inline expression (default records)\n")
		fmt.Fprintf(os.Stderr, "  -op <operation>      Operation for the inline expression (default select)\n")
		os.Exit(1)
	}

	for i, p := range policies {
		if i > 0 {
			fmt.Println("\n" + strings.Repeat("-", 40))
		}
		dumpPolicy(p, mapping)
	}
}

func dumpPolicy(p rowguard.Policy, mapping *ctxmap.Mapping) {
	fmt.Printf("Policy: %s\n", p.Key())
	fmt.Println(strings.Repeat("-", len(p.Key())+8))

	fmt.Println("\n## POLICY")
	fmt.Printf("entity:     %s\n", p.Entity)
	fmt.Printf("operation:  %s\n", p.Operation)
	if len(p.Roles) > 0 {
		fmt.Printf("roles:      %s\n", strings.Join(p.Roles, ", "))
	}
	if p.Expression == "" {
		fmt.Println("expression: (empty, fully permissive)")
	} else {
		fmt.Printf("expression: %s\n", p.Expression)
	}

	cp, err := compiler.CompilePolicy(p, mapping, nil)
	if err != nil {
		fmt.Printf("\n⚠️  Compile error: %v\n", err)
		return
	}

	fmt.Println("\n## PREDICATE")
	fmt.Println(cp.Predicate.String())

	fmt.Println("\n## FILTER")
	fmt.Println(cp.Filter.String())
	if cp.RoleOnly {
		fmt.Println("(role-only policy: the filter stays true and the predicate enforces the role)")
	}

	fmt.Println("\n## DIAGNOSTICS")
	if len(cp.Diagnostics) == 0 {
		fmt.Println("(none)")
	} else {
		for _, d := range cp.Diagnostics {
			fmt.Println(d.String())
		}
	}
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/internal/introspect"
)

var (
	inspectDB       string
	inspectDBSchema string
	inspectYAML     bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show row security state from a database",
	Long: `Read row security policies and setting providers from a live database
and show the composed policy set.`,
	Example: `  # Inspect the configured database
  rowguard inspect

  # Inspect a specific database and schema
  rowguard inspect --db postgres://localhost/mydb --db-schema tenant

  # Pin the database state to a policy file
  rowguard inspect --yaml > rowguard/policies.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbSchema := resolveString(inspectDBSchema, cfg.Inspect.DBSchema, "public")

		dsn, err := resolveDSN(inspectDB)
		if err != nil {
			return err
		}

		return runInspect(cmd.Context(), dsn, dbSchema, inspectYAML)
	},
}

func init() {
	f := inspectCmd.Flags()
	f.StringVar(&inspectDB, "db", "", "database URL")
	f.StringVar(&inspectDBSchema, "db-schema", "", "database schema to introspect (default: public)")
	f.BoolVar(&inspectYAML, "yaml", false, "emit the composed state as a policy file document")
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

func runInspect(ctx context.Context, dsn, dbSchema string, asYAML bool) error {
	db, err := introspect.Open(ctx, dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := introspect.FetchPolicies(ctx, db, dbSchema)
	if err != nil {
		return cli.GeneralError("reading policies", err)
	}
	policies := introspect.Compose(rows)

	entries, err := introspect.FetchSettingProviders(ctx, db)
	if err != nil {
		return cli.GeneralError("reading setting providers", err)
	}

	if asYAML {
		out, err := yaml.Marshal(cli.PolicyFile{Policies: policies, Mapping: entries})
		if err != nil {
			return cli.GeneralError("marshaling policy document", err)
		}
		fmt.Print(string(out))
		return nil
	}

	tables, err := introspect.FetchTableStatus(ctx, db, dbSchema)
	if err != nil {
		return cli.GeneralError("reading table status", err)
	}

	fmt.Printf("Schema %s: %d tables enforce row security\n", dbSchema, len(tables))
	for _, t := range tables {
		fmt.Printf("  %s (%d policies)\n", t.Table, t.Policies)
	}

	fmt.Println()
	fmt.Printf("Composed policies: %d\n", len(policies))
	for _, p := range policies {
		fmt.Printf("  %s: %s\n", p.Key(), p.Expression)
	}

	fmt.Println()
	fmt.Printf("Setting providers: %d\n", len(entries))
	for _, e := range entries {
		fmt.Printf("  %s -> actor.%s\n", e.Provider, strings.Join(e.Path, "."))
	}

	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/internal/introspect"
	"github.com/rowguard/rowguard/pkg/migrator"
)

var (
	applyDB       string
	applyPolicies string
	applyDryRun   bool
	applyForce    bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the policy file to the database",
	Long: `Apply the declarative policy file to PostgreSQL as native row
security policies. The migration is idempotent and atomic, and drops
generated policies that are no longer declared.`,
	Example: `  # Apply policies to the database
  rowguard apply --db postgres://localhost/mydb

  # Preview the DDL without applying
  rowguard apply --db postgres://localhost/mydb --dry-run

  # Force re-apply even if policies are unchanged
  rowguard apply --db postgres://localhost/mydb --force`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policiesPath := resolveString(applyPolicies, cfg.Policies)
		dryRun := resolveBool(applyDryRun, cfg.Apply.DryRun)
		force := resolveBool(applyForce, cfg.Apply.Force)

		dsn, err := resolveDSN(applyDB)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		db, err := introspect.Open(ctx, dsn)
		if err != nil {
			return cli.DBConnectError("connecting to database", err)
		}
		defer func() { _ = db.Close() }()

		opts := migrator.MigrateOptions{
			Force: force,
		}
		if dryRun {
			opts.DryRun = os.Stdout
			if !quiet {
				fmt.Fprintln(os.Stderr, "-- Dry-run mode: DDL will be output but not applied")
				fmt.Fprintln(os.Stderr, "")
			}
		} else if !quiet {
			fmt.Println("Applying row security policies...")
		}

		skipped, err := migrator.MigrateWithOptions(ctx, db, policiesPath, opts)
		if err != nil {
			return cli.GeneralError("migration failed", err)
		}

		if dryRun {
			return nil
		}

		if !quiet {
			if skipped {
				fmt.Println("Policies unchanged, migration skipped.")
				fmt.Println("Use --force to re-apply.")
			} else {
				fmt.Println("Row security policies applied successfully.")
			}
		}

		return nil
	},
}

func init() {
	f := applyCmd.Flags()
	f.StringVar(&applyDB, "db", "", "database URL")
	f.StringVar(&applyPolicies, "policies", "", "path to policy file")
	f.BoolVar(&applyDryRun, "dry-run", false, "output migration DDL without applying")
	f.BoolVar(&applyForce, "force", false, "force migration even if policies unchanged")
}

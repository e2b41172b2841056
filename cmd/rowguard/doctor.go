package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/internal/doctor"
	"github.com/rowguard/rowguard/internal/introspect"
)

var (
	doctorDB       string
	doctorPolicies string
	doctorSchema   string
	doctorMapping  string
	doctorDBSchema string
	doctorVerbose  bool
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks",
	Long: `Run health checks on the policy setup. With a database configured the
checks extend to live row security state; without one the offline
checks still run.`,
	Example: `  # Run offline health checks
  rowguard doctor

  # Include live database checks
  rowguard doctor --db postgres://localhost/mydb

  # Run with verbose output
  rowguard doctor --db postgres://localhost/mydb --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		policiesPath := resolveString(doctorPolicies, cfg.Policies)
		schemaPath := resolveString(doctorSchema, cfg.Schema)
		mappingPath := resolveString(doctorMapping, cfg.Mapping)
		dbSchema := resolveString(doctorDBSchema, cfg.Inspect.DBSchema, "public")
		verboseFlag := resolveBool(doctorVerbose, cfg.Doctor.Verbose)

		// No database configured means offline checks only. A configured
		// database that fails to resolve is still an error.
		dsn := doctorDB
		if dsn == "" && (cfg.Database.URL != "" || cfg.Database.Host != "") {
			var err error
			dsn, err = cfg.DSN()
			if err != nil {
				return cli.ConfigError("database configuration", err)
			}
		}

		return runDoctor(cmd.Context(), dsn, dbSchema, schemaPath, policiesPath, mappingPath, verboseFlag)
	},
}

func init() {
	f := doctorCmd.Flags()
	f.StringVar(&doctorDB, "db", "", "database URL")
	f.StringVar(&doctorPolicies, "policies", "", "path to policy file")
	f.StringVar(&doctorSchema, "schema", "", "path to schema graph file")
	f.StringVar(&doctorMapping, "mapping", "", "path to mapping-override file")
	f.StringVar(&doctorDBSchema, "db-schema", "", "database schema to check (default: public)")
	f.BoolVar(&doctorVerbose, "verbose", false, "show detailed output")
}

func runDoctor(ctx context.Context, dsn, dbSchema, schemaPath, policiesPath, mappingPath string, verboseFlag bool) error {
	var db *sql.DB
	if dsn != "" {
		var err error
		db, err = introspect.Open(ctx, dsn)
		if err != nil {
			return cli.DBConnectError("connecting to database", err)
		}
		defer func() { _ = db.Close() }()
	}

	if !quiet {
		fmt.Println("rowguard doctor - Health Check")
	}

	d := doctor.New(db, schemaPath, policiesPath, mappingPath).WithDBSchema(dbSchema)
	report, err := d.Run(ctx)
	if err != nil {
		return cli.GeneralError("running doctor", err)
	}

	report.Print(os.Stdout, verboseFlag)

	if report.HasErrors() {
		return cli.GeneralError("health checks failed", nil)
	}

	return nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/internal/build"
	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/internal/introspect"
	"github.com/rowguard/rowguard/pkg/codegen"
	"github.com/rowguard/rowguard/pkg/ctxmap"
)

var (
	genTarget   string
	genPolicies string
	genSchema   string
	genMapping  string
	genOutput   string
	genPackage  string
	genFromDB   bool
	genDB       string
	genDBSchema string
	genWorkers  int
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate guard source code",
	Long: `Generate guard source code from compiled policies.

Supported targets: ` + strings.Join(codegen.Targets(), ", "),
	Example: `  # Generate Go code from the policy file
  rowguard generate --output internal/authz/

  # Generate from live database policies
  rowguard generate --from-db --db postgres://localhost/mydb --output internal/authz/

  # Generate with a custom package name
  rowguard generate --output . --package myauthz

  # Output to stdout
  rowguard generate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve values: flags > config > defaults
		target := resolveString(genTarget, cfg.Generate.Target, "go")
		policiesPath := resolveString(genPolicies, cfg.Policies)
		schemaPath := resolveString(genSchema, cfg.Schema)
		mappingPath := resolveString(genMapping, cfg.Mapping)
		output := resolveString(genOutput, cfg.Generate.Output)
		pkg := resolveString(genPackage, cfg.Generate.Package, "authz")
		fromDB := resolveBool(genFromDB, cfg.Generate.FromDB)
		dbSchema := resolveString(genDBSchema, cfg.Inspect.DBSchema, "public")
		workers := resolveInt(genWorkers, cfg.Generate.Workers)

		// Validate target
		if !codegen.Registered(target) {
			return cli.ConfigError(
				fmt.Sprintf("unknown target %q", target),
				fmt.Errorf("supported targets: %s", strings.Join(codegen.Targets(), ", ")),
			)
		}

		// Load the policy set: live introspection or the policy file
		var (
			policies []rowguard.Policy
			entries  []ctxmap.Entry
		)
		if fromDB {
			dsn, err := resolveDSN(genDB)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := introspect.Open(ctx, dsn)
			if err != nil {
				return cli.DBConnectError("connecting to database", err)
			}
			defer func() { _ = db.Close() }()

			rows, err := introspect.FetchPolicies(ctx, db, dbSchema)
			if err != nil {
				return cli.GeneralError("reading policies", err)
			}
			policies = introspect.Compose(rows)

			entries, err = introspect.FetchSettingProviders(ctx, db)
			if err != nil {
				return cli.GeneralError("reading setting providers", err)
			}
		} else {
			if _, err := os.Stat(policiesPath); err != nil {
				return cli.CompileError(fmt.Sprintf("policy file not found: %s", policiesPath), nil)
			}
			pf, err := cli.LoadPolicyFile(policiesPath)
			if err != nil {
				return cli.CompileError("parsing policy file", err)
			}
			policies = pf.Policies
			entries = append(entries, pf.Mapping...)
		}

		graph, err := loadGraph(schemaPath)
		if err != nil {
			return err
		}
		overrides, err := mappingOverrides(mappingPath)
		if err != nil {
			return err
		}
		entries = append(entries, overrides...)

		// Compile
		res, err := build.Run(policies, build.Options{
			Mapping: ctxmap.New(entries...),
			Graph:   graph,
			Workers: workers,
		})
		if err != nil {
			return cli.GeneralError("running compilation", err)
		}
		if len(res.Failures) > 0 {
			for _, f := range res.Failures {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", f.Policy.Key(), f.Err)
			}
			return cli.CompileError(fmt.Sprintf("%d policies failed to compile", len(res.Failures)), nil)
		}
		if !quiet {
			for _, d := range res.Diagnostics() {
				fmt.Fprintf(os.Stderr, "warning: %s\n", d)
			}
		}

		// Generate code
		genCfg := &codegen.Config{
			Package: pkg,
			Mapping: entries,
		}
		files, err := codegen.Generate(target, res.Compiled, genCfg)
		if err != nil {
			return cli.GeneralError("generation failed", err)
		}

		// Output
		if output == "" {
			if len(files) > 1 {
				return cli.ConfigError("--output is required for multi-file generation", nil)
			}
			for _, content := range files {
				if _, err := os.Stdout.Write(content); err != nil {
					return cli.GeneralError("writing to stdout", err)
				}
			}
		} else {
			if err := os.MkdirAll(output, 0o755); err != nil {
				return cli.GeneralError("creating output directory", err)
			}
			for filename, content := range files {
				outPath := filepath.Join(output, filename)
				if err := os.WriteFile(outPath, content, 0o644); err != nil {
					return cli.GeneralError(fmt.Sprintf("writing %s", outPath), err)
				}
				if !quiet {
					fmt.Printf("Generated %s\n", outPath)
				}
			}
		}

		return nil
	},
}

func init() {
	f := generateCmd.Flags()
	f.StringVar(&genTarget, "target", "", "target language: "+strings.Join(codegen.Targets(), ", "))
	f.StringVar(&genPolicies, "policies", "", "path to policy file")
	f.StringVar(&genSchema, "schema", "", "path to schema graph file")
	f.StringVar(&genMapping, "mapping", "", "path to mapping-override file")
	f.StringVar(&genOutput, "output", "", "output directory (default: stdout)")
	f.StringVar(&genPackage, "package", "", "package/module name (default: authz)")
	f.BoolVar(&genFromDB, "from-db", false, "read policies from the database instead of the policy file")
	f.StringVar(&genDB, "db", "", "database URL")
	f.StringVar(&genDBSchema, "db-schema", "", "database schema to introspect (default: public)")
	f.IntVar(&genWorkers, "workers", 0, "concurrent compilations (default: GOMAXPROCS)")
}

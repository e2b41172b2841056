package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/build"
	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/schema"
)

var (
	validatePolicies string
	validateSchema   string
	validateMapping  string
	validateStrict   bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Compile policies and report problems",
	Long: `Compile every policy in the policy file and report compile failures
and diagnostics.`,
	Example: `  # Validate the configured policy file
  rowguard validate

  # Validate a specific policy file
  rowguard validate --policies rowguard/policies.yaml

  # Treat diagnostics as errors
  rowguard validate --strict`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve values: flags > config > defaults
		policiesPath := resolveString(validatePolicies, cfg.Policies)
		schemaPath := resolveString(validateSchema, cfg.Schema)
		mappingPath := resolveString(validateMapping, cfg.Mapping)
		strict := resolveBool(validateStrict, cfg.Validate.Strict)

		if _, err := os.Stat(policiesPath); err != nil {
			return cli.CompileError(fmt.Sprintf("policy file not found: %s", policiesPath), nil)
		}
		pf, err := cli.LoadPolicyFile(policiesPath)
		if err != nil {
			return cli.CompileError("parsing policy file", err)
		}

		graph, err := loadGraph(schemaPath)
		if err != nil {
			return err
		}
		overrides, err := mappingOverrides(mappingPath)
		if err != nil {
			return err
		}
		entries := append(append([]ctxmap.Entry{}, pf.Mapping...), overrides...)

		res, err := build.Run(pf.Policies, build.Options{
			Mapping: ctxmap.New(entries...),
			Graph:   graph,
		})
		if err != nil {
			return cli.GeneralError("running compilation", err)
		}

		if len(res.Failures) > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d policies failed to compile:\n", len(res.Failures), len(pf.Policies))
			for _, f := range res.Failures {
				fmt.Fprintf(os.Stderr, "  %s: %v\n", f.Policy.Key(), f.Err)
			}
			return cli.CompileError("policy validation failed", nil)
		}

		diags := res.Diagnostics()
		if strict && len(diags) > 0 {
			fmt.Fprintf(os.Stderr, "%d diagnostics reported:\n", len(diags))
			for _, d := range diags {
				fmt.Fprintf(os.Stderr, "  %s\n", d)
			}
			return cli.CompileError("diagnostics reported in strict mode", nil)
		}

		if !quiet {
			fmt.Printf("All %d policies compile.\n", len(pf.Policies))
			if len(diags) > 0 {
				fmt.Printf("%d diagnostics:\n", len(diags))
				for _, d := range diags {
					fmt.Printf("  %s\n", d)
				}
			}
		}

		return nil
	},
}

func init() {
	f := validateCmd.Flags()
	f.StringVar(&validatePolicies, "policies", "", "path to policy file")
	f.StringVar(&validateSchema, "schema", "", "path to schema graph file")
	f.StringVar(&validateMapping, "mapping", "", "path to mapping-override file")
	f.BoolVar(&validateStrict, "strict", false, "fail when any diagnostic is reported")
}

// loadGraph loads the schema graph when the file exists. A missing graph is
// not an error: predicates over direct fields compile without one.
func loadGraph(path string) (*schema.Graph, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	g, err := schema.LoadGraph(path)
	if err != nil {
		return nil, cli.ConfigError(fmt.Sprintf("loading schema graph %s", path), err)
	}
	return g, nil
}

// mappingOverrides loads the standalone mapping file when one is configured.
func mappingOverrides(path string) ([]ctxmap.Entry, error) {
	if path == "" {
		return nil, nil
	}
	entries, err := cli.LoadMappingFile(path)
	if err != nil {
		return nil, cli.ConfigError("loading mapping overrides", err)
	}
	return entries, nil
}

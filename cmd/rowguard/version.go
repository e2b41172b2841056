package main

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowguard/rowguard/internal/cli"
	"github.com/rowguard/rowguard/internal/update"
	"github.com/rowguard/rowguard/internal/version"
)

var versionCheck bool

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check for a newer release")

	// If the version wasn't set via ldflags, try to get it from Go module
	// info. This works when installed via
	// "go install github.com/rowguard/rowguard/cmd/rowguard@version".
	if version.Version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.Main.Version != "" && info.Main.Version != "(devel)" {
				version.Version = info.Main.Version
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					if len(setting.Value) >= 7 {
						version.Commit = setting.Value[:7]
					} else {
						version.Commit = setting.Value
					}
				case "vcs.time":
					version.Date = setting.Value
				}
			}
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.Info())

		if !versionCheck {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		info, err := update.CheckWithCache(ctx)
		if err != nil {
			return cli.GeneralError("checking for updates", err)
		}
		if info.UpdateAvailable {
			fmt.Printf("Update available: %s -> %s\n", info.CurrentVersion, info.LatestVersion)
		} else {
			fmt.Println("You are running the latest version.")
		}
		return nil
	},
}

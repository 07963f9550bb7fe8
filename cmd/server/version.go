package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version information, overridable with -ldflags
var (
	version   = "dev"
	gitCommit = ""
)

// GetVersion returns the build version
func GetVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := fmt.Sprintf("%s version %s", serviceName, GetVersion())
		if gitCommit != "" {
			out += fmt.Sprintf(" (commit %s)", gitCommit)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

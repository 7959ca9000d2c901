package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the campus operations CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "campus",
	Short:         "Campus operations CLI",
	Long:          "Operational utilities for the campus inactivity engine (manual sweeps, notifications, diagnostics, schema, dev tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}

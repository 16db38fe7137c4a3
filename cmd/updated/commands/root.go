// Package commands implements the CLI commands of the update
// distribution service.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "updated",
	Short: "Game client update distribution service",
	Long: `updated distributes game client updates. It accepts resumable chunked
uploads of update archives, processes them through a durable job pipeline
(reassemble, verify, classify, compress, publish) and serves delta manifests
that tell installed clients which packed files to fetch.

Configuration is environment-driven; run "updated serve --help" for the
variable list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("updated %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "colony",
	Short: "Orchestrate a fleet of coding agents",
	Long: `Colony launches, supervises, and coordinates a fleet of long-running AI
coding assistants. Each agent runs in an isolated git worktree and an
isolated terminal multiplexer pane, coordinating with the rest of the
colony through a file-based message queue, a file-based task queue, and a
git-backed shared-state ledger.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "colony.yml", "Path to colony config file")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("colony %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

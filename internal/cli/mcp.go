package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/mcpserver"
)

var mcpAgent string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve colony messages and tasks as MCP tools over stdio",
	Long: `Runs an MCP server on stdin/stdout exposing this colony's message and
task queues as tools. Configured per agent in colony.yml via
mcp_servers.colony, giving assistants that speak MCP a schema-validated
path to the same operations the shell helper scripts expose.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		s := mcpserver.New(repo, mcpAgent, logger())
		return mcpserver.ServeStdio(ctx, s)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "", "Agent id this server acts as")
	_ = mcpCmd.MarkFlagRequired("agent")
	rootCmd.AddCommand(mcpCmd)
}

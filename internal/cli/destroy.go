package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/colony"
	"github.com/re-cinq/colony/internal/mux"
)

var destroyYes bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Stop all agents, remove all worktrees, and delete .colony/ (keeps colony.yml)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !destroyYes {
			fmt.Print("This will stop all agents and delete .colony/. Continue? [y/N] ")
			reader := bufio.NewReader(os.Stdin)
			line, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(line)) != "y" {
				fmt.Println("aborted")
				return nil
			}
		}

		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		ctrl, err := colony.New(repo, logger())
		if err != nil {
			return err
		}
		if err := ctrl.LoadState(); err != nil {
			return err
		}
		if driver, derr := mux.New(); derr == nil {
			if err := driver.KillSession(ctrl.SessionName()); err != nil {
				logger().Warn("failed to kill multiplexer session", "error", err)
			}
		}
		if err := ctrl.Destroy(); err != nil {
			return err
		}
		fmt.Println("colony destroyed")
		return nil
	},
}

func init() {
	destroyCmd.Flags().BoolVarP(&destroyYes, "yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(destroyCmd)
}

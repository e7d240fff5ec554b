package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/colony"
	"github.com/re-cinq/colony/internal/mux"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop every agent in the colony",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if err := ctrl.Stop(); err != nil {
			return err
		}
		if driver, derr := mux.New(); derr == nil {
			if err := driver.KillSession(ctrl.SessionName()); err != nil {
				logger().Warn("failed to kill multiplexer session", "error", err)
			}
		}
		fmt.Println("colony stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

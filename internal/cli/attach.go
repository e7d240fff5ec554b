package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/colony"
	"github.com/re-cinq/colony/internal/mux"
)

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach interactively to the colony's multiplexer session",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		ctrl, err := colony.New(repo, nil)
		if err != nil {
			return err
		}
		driver, err := mux.New()
		if err != nil {
			return err
		}
		tmuxCmd := driver.AttachCommand(ctrl.SessionName())
		tmuxCmd.Stdin = os.Stdin
		tmuxCmd.Stdout = os.Stdout
		tmuxCmd.Stderr = os.Stderr
		return tmuxCmd.Run()
	},
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

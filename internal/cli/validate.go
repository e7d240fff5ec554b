package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the colony config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAndValidateConfig(configPath)
		if err != nil {
			return err
		}
		fmt.Printf("%s is valid: %d agent(s)", configPath, len(cfg.Agents))
		if cfg.Name != "" {
			fmt.Printf(", colony %q", cfg.Name)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/helperscript"
)

var initTemplate = `# colony.yml
agents:
  - id: backend-1
    role: "Backend Engineer"
    focus: "API and service layer"
  - id: frontend-1
    role: "Frontend Engineer"
    focus: "UI and client-side logic"
shared_state:
  backend: git-backed
  location: in-repo
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter colony.yml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists", configPath)
		}
		if err := os.WriteFile(configPath, []byte(initTemplate), 0644); err != nil {
			return err
		}
		root, err := resolveRepo(configPath)
		if err == nil {
			_ = helperscript.WriteCommunicationGuide(root)
			_ = fileutil.EnsureDir(fileutil.ColonyDir(root))
		}
		fmt.Printf("wrote %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

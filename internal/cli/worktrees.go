package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/worktree"
)

var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "List the worktrees registered for this repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		mgr := worktree.New(repo, logger())
		wts, err := mgr.ListWorktrees()
		if err != nil {
			return err
		}
		prefix := fileutil.WorktreesDir(repo)
		for _, wt := range wts {
			marker := "  "
			if strings.HasPrefix(wt.Path, prefix) {
				marker = "* " // colony-managed
			}
			fmt.Printf("%s%s\n", marker, worktree.Describe(wt))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(worktreesCmd)
}

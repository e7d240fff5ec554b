package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print task-queue changes as they happen",
	Long: `Watches the task status folders and prints each transition, including
writes made by other processes or arriving via a shared-state git pull.
Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = watch.Tasks(ctx, fileutil.TasksDir(repo), logger(), func(event fsnotify.Event) {
			status := filepath.Base(filepath.Dir(event.Name))
			id := filepath.Base(event.Name)
			id = id[:len(id)-len(filepath.Ext(id))]
			fmt.Printf("%-8s %s → %s\n", event.Op, id, status)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/colony"
	"github.com/re-cinq/colony/internal/helperscript"
	"github.com/re-cinq/colony/internal/mux"
)

var (
	noAttach     bool
	startMonitor bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start every agent in the colony",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		log := logger()
		ctrl, err := colony.New(repo, log)
		if err != nil {
			return err
		}

		if len(ctrl.Cfg.Agents) > 0 && !mux.Available() {
			fmt.Print("tmux is not installed. Attempt to install it now? [y/N] ")
			reader := bufio.NewReader(os.Stdin)
			line, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(line)) != "y" {
				return fmt.Errorf("tmux is required to start a colony")
			}
			if err := mux.TryInstall(); err != nil {
				return err
			}
		}

		if err := ctrl.EnsureDirs(); err != nil {
			return err
		}
		if err := ctrl.CreateWorktrees(); err != nil {
			return err
		}
		for id, rec := range ctrl.Agents {
			if err := helperscript.Emit(repo, id, rec.ProjectPath, rec.WorktreePath, "colony"); err != nil {
				log.Warn("failed to emit helper scripts", "agent", id, "error", err)
			}
		}
		if err := helperscript.WriteCommunicationGuide(repo); err != nil {
			log.Warn("failed to write communication guide", "error", err)
		}
		if err := ctrl.WriteAgentScratch(); err != nil {
			log.Warn("failed to write agent scratch files", "error", err)
		}
		if err := ctrl.Start(!noAttach, startMonitor); err != nil {
			return err
		}
		fmt.Printf("colony %q started with %d agent(s)\n", ctrl.SessionName(), len(ctrl.Agents))
		return nil
	},
}

func init() {
	startCmd.Flags().BoolVar(&noAttach, "no-attach", false, "start without attaching to the multiplexer session")
	startCmd.Flags().BoolVar(&startMonitor, "monitor", false, "add a pane running the live status monitor")
	rootCmd.AddCommand(startCmd)
}

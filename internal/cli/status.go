package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/colony"
)

var (
	statusFollow   bool
	statusInterval float64
)

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "Live-update status (like watch)")
	statusCmd.Flags().Float64VarP(&statusInterval, "interval", "n", 2.0, "Seconds between updates (with --follow)")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of each agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		if statusFollow {
			return followStatus(repo)
		}
		return showStatus(os.Stdout, repo)
	},
}

func followStatus(repo string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	interval := time.Duration(statusInterval * float64(time.Second))
	var lastOutput string

	for {
		var buf bytes.Buffer
		if err := renderStatus(&buf, repo, true); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		output := buf.String()

		if output != lastOutput {
			fmt.Print("\033[H\033[2J")
			fmt.Printf("Every %.1fs: colony status\n\n", statusInterval)
			fmt.Print(output)
			lastOutput = output
		}

		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-time.After(interval):
		}
	}
}

func showStatus(w io.Writer, repo string) error {
	return renderStatus(w, repo, false)
}

func renderStatus(w io.Writer, repo string, showLogs bool) error {
	ctrl, err := colony.New(repo, nil)
	if err != nil {
		return err
	}
	if err := ctrl.LoadState(); err != nil {
		return err
	}

	fmt.Fprintln(w, "Agent Status")
	fmt.Fprintln(w, "──────────────────────────────────────")

	if len(ctrl.Cfg.Agents) == 0 {
		fmt.Fprintln(w, "  (no agents configured)")
		return nil
	}

	var activeAgents []string
	for _, row := range ctrl.StatusRows() {
		symbol, color := statusDisplay(row.Status)
		fmt.Fprintf(w, "  %s%s%s  %-20s  %-12s  %s\n", color, symbol, ansiReset, row.ID, row.Status, row.Role)
		if row.Status == colony.StatusRunning {
			activeAgents = append(activeAgents, row.ID)
		}
	}

	if showLogs {
		for _, id := range activeAgents {
			logPath := ctrl.Agents[id].LogPath
			tail := readLastLines(logPath, 5)
			if tail != "" {
				fmt.Fprintf(w, "\n── %s logs ──\n%s", id, tail)
			}
		}
	}
	return nil
}

// readLastLines reads the last n lines from a file, returning "" if the file doesn't exist.
func readLastLines(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

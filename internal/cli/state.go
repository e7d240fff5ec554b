package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/colony"
	"github.com/re-cinq/colony/internal/config"
	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/sharedstate"
	"github.com/re-cinq/colony/internal/task"
)

var (
	stateTitle       string
	stateDescription string
	stateAssigned    string
	stateBlockers    []string
	stateJSON        bool
	memoryType       string
	memoryKey        string
	memoryValue      string
)

// openEngine builds the shared-state engine from the colony configuration.
func openEngine(repo string) (*sharedstate.Engine, error) {
	cfg, err := config.Load(fileutil.ConfigPath(repo))
	if err != nil {
		// Shared state is usable without a colony.yml; fall back to defaults.
		cfg = &config.Config{}
		cfg.SharedState.Path = ".colony/state"
		cfg.SharedState.Branch = "main"
		cfg.SharedState.AutoCommit = true
	}
	stateDir := cfg.SharedState.Path
	if !filepath.IsAbs(stateDir) {
		stateDir = filepath.Join(repo, stateDir)
	}
	return sharedstate.Open(stateDir, fileutil.CacheDBPath(repo), sharedstate.Config{
		AutoCommit:    cfg.SharedState.AutoCommit,
		AutoPush:      cfg.SharedState.AutoPush,
		CommitMessage: cfg.SharedState.CommitMessage,
		Branch:        cfg.SharedState.Branch,
		Remote:        cfg.SharedState.Repository,
	}, logger())
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read and write the git-backed shared ledger",
}

var stateTaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Shared tasks (cross-machine ledger)",
}

var stateTaskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a shared task",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		t, err := engine.CreateTask(stateTitle, stateDescription, stateAssigned, stateBlockers)
		if err != nil {
			return err
		}
		if stateJSON {
			return json.NewEncoder(os.Stdout).Encode(t)
		}
		fmt.Printf("%s: %s (%s)\n", t.ID, t.Title, t.Status)
		return nil
	},
}

var stateTaskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every shared task",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		tasks, err := engine.ListTasks()
		if err != nil {
			return err
		}
		return printSharedTasks(tasks)
	},
}

var stateTaskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List shared tasks whose blockers are all completed",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		tasks, err := engine.ListTasks()
		if err != nil {
			return err
		}
		return printSharedTasks(sharedstate.ReadyTasks(tasks))
	},
}

var stateTaskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a shared task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		if err := engine.CompleteTask(args[0]); err != nil {
			return err
		}
		fmt.Printf("completed %s\n", args[0])
		return nil
	},
}

var stateWorkflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Shared workflows",
}

var stateWorkflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		workflows, err := engine.ListWorkflows()
		if err != nil {
			return err
		}
		if stateJSON {
			return json.NewEncoder(os.Stdout).Encode(workflows)
		}
		for _, w := range workflows {
			fmt.Printf("%s: %s (%s", w.ID, w.Name, w.Status)
			if w.CurrentStep != "" {
				fmt.Printf(", at %s", w.CurrentStep)
			}
			fmt.Println(")")
		}
		return nil
	},
}

var workflowAgent string

var stateWorkflowStartCmd = &cobra.Command{
	Use:   "start <name> [step...]",
	Short: "Start a workflow with the given steps",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()

		now := time.Now()
		w := sharedstate.Workflow{
			Name:    args[0],
			Status:  "running",
			Started: now,
			Steps:   make(map[string]sharedstate.WorkflowStep, len(args)-1),
		}
		for _, step := range args[1:] {
			w.Steps[step] = sharedstate.WorkflowStep{Status: "pending"}
		}
		if len(args) > 1 {
			w.CurrentStep = args[1]
		}
		if err := engine.SaveWorkflow(w); err != nil {
			return err
		}
		fmt.Printf("started workflow %q\n", w.Name)
		return nil
	},
}

var stateWorkflowStepCmd = &cobra.Command{
	Use:   "step <workflow-id> <step> <pending|running|completed|failed|skipped|retrying>",
	Short: "Update one step of a workflow",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()

		workflows, err := engine.ListWorkflows()
		if err != nil {
			return err
		}
		for _, w := range workflows {
			if w.ID != args[0] {
				continue
			}
			step := w.Steps[args[1]]
			step.Status = args[2]
			step.Agent = workflowAgent
			now := time.Now()
			switch args[2] {
			case "running":
				step.Started = &now
				w.CurrentStep = args[1]
			case "completed", "failed", "skipped":
				step.Completed = &now
			}
			if w.Steps == nil {
				w.Steps = make(map[string]sharedstate.WorkflowStep)
			}
			w.Steps[args[1]] = step
			return engine.SaveWorkflow(w)
		}
		return fmt.Errorf("workflow %s not found", args[0])
	},
}

var stateWorkflowCompleteCmd = &cobra.Command{
	Use:   "complete <workflow-id>",
	Short: "Mark a workflow completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()

		workflows, err := engine.ListWorkflows()
		if err != nil {
			return err
		}
		for _, w := range workflows {
			if w.ID != args[0] {
				continue
			}
			now := time.Now()
			w.Status = "completed"
			w.Completed = &now
			w.CurrentStep = ""
			return engine.SaveWorkflow(w)
		}
		return fmt.Errorf("workflow %s not found", args[0])
	},
}

var stateMemoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Shared memory entries",
}

var stateMemoryAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Append a memory entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		entry := sharedstate.MemoryEntry{
			Type:    memoryType,
			Key:     memoryKey,
			Value:   memoryValue,
			Content: args[0],
		}
		if entry.Type == "" {
			entry.Type = "note"
		}
		return engine.AppendMemory(entry)
	},
}

var stateMemoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memory entries, optionally filtered by --type or --key",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()

		var entries []sharedstate.MemoryEntry
		switch {
		case memoryKey != "":
			entries, err = engine.ListMemoryByKey(memoryKey)
		case memoryType != "":
			entries, err = engine.ListMemoryByType(memoryType)
		default:
			entries, err = engine.ListMemory()
		}
		if err != nil {
			return err
		}
		if stateJSON {
			return json.NewEncoder(os.Stdout).Encode(entries)
		}
		for _, m := range entries {
			line := fmt.Sprintf("[%s] %s", m.Timestamp.Format("2006-01-02 15:04"), m.Type)
			if m.Key != "" {
				line += " " + m.Key + "=" + m.Value
			}
			if m.Content != "" {
				line += ": " + m.Content
			}
			fmt.Println(line)
		}
		return nil
	},
}

var stateSyncCmd = &cobra.Command{
	Use:   "sync-from-queue",
	Short: "Promote completed claim-queue tasks into the shared ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		n, err := colony.SyncFromQueue(task.New(repo), engine, logger())
		if err != nil {
			return err
		}
		fmt.Printf("promoted %d task(s)\n", n)
		return nil
	},
}

var statePullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the shared-state branch from its remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		engine.Pull()
		return nil
	},
}

var statePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the shared-state branch to its remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		engine, err := openEngine(repo)
		if err != nil {
			return err
		}
		defer engine.Close()
		return engine.Push()
	},
}

func printSharedTasks(tasks []sharedstate.SharedTask) error {
	if stateJSON {
		return json.NewEncoder(os.Stdout).Encode(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("(no tasks)")
		return nil
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%-16s %-12s %s", t.ID, t.Status, t.Title)
		if len(t.Blockers) > 0 {
			line += fmt.Sprintf("  (blockers: %s)", strings.Join(t.Blockers, ", "))
		}
		fmt.Println(line)
	}
	return nil
}

func init() {
	stateTaskCreateCmd.Flags().StringVar(&stateTitle, "title", "", "Task title")
	stateTaskCreateCmd.Flags().StringVar(&stateDescription, "description", "", "Task description")
	stateTaskCreateCmd.Flags().StringVar(&stateAssigned, "assigned", "", "Agent id the task is assigned to")
	stateTaskCreateCmd.Flags().StringSliceVar(&stateBlockers, "blockers", nil, "Shared task ids blocking this one")
	stateMemoryCmd.PersistentFlags().StringVar(&memoryType, "type", "", "context|learned|decision|note")
	stateMemoryCmd.PersistentFlags().StringVar(&memoryKey, "key", "", "Entry key")
	stateMemoryAddCmd.Flags().StringVar(&memoryValue, "value", "", "Entry value")
	stateCmd.PersistentFlags().BoolVar(&stateJSON, "json", false, "Emit JSON instead of a table")

	stateWorkflowStepCmd.Flags().StringVar(&workflowAgent, "agent", "", "Agent id performing the step")

	stateTaskCmd.AddCommand(stateTaskCreateCmd, stateTaskListCmd, stateTaskReadyCmd, stateTaskCompleteCmd)
	stateWorkflowCmd.AddCommand(stateWorkflowListCmd, stateWorkflowStartCmd, stateWorkflowStepCmd, stateWorkflowCompleteCmd)
	stateMemoryCmd.AddCommand(stateMemoryAddCmd, stateMemoryListCmd)
	stateCmd.AddCommand(stateTaskCmd, stateWorkflowCmd, stateMemoryCmd, stateSyncCmd, statePullCmd, statePushCmd)
	rootCmd.AddCommand(stateCmd)
}

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/re-cinq/colony/internal/task"
)

var (
	taskTitle       string
	taskDescription string
	taskAssigned    string
	taskPriority    string
	taskDeps        []string
	taskTags        []string
	taskJSON        bool
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage the claim queue of tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <task-id>",
	Short: "Create a pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		priority, err := task.ParsePriority(taskPriority)
		if err != nil {
			return err
		}
		t := &task.Task{
			ID:           args[0],
			Title:        taskTitle,
			Description:  taskDescription,
			AssignedTo:   taskAssigned,
			Priority:     priority,
			Dependencies: taskDeps,
			Tags:         taskTags,
		}
		if t.Title == "" {
			t.Title = t.ID
		}
		if err := task.New(repo).Create(t); err != nil {
			return err
		}
		return printTask(t)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task, sorted by priority then age",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		tasks, err := task.New(repo).LoadAll()
		if err != nil {
			return err
		}
		if taskJSON {
			return json.NewEncoder(os.Stdout).Encode(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("(no tasks)")
			return nil
		}
		for _, t := range tasks {
			line := fmt.Sprintf("%-16s %-12s %-10s %3d%%  %s", t.ID, t.Status, t.Priority, t.Progress, t.Title)
			if len(t.Dependencies) > 0 {
				line += fmt.Sprintf("  (deps: %s)", strings.Join(t.Dependencies, ", "))
			}
			fmt.Println(line)
		}
		return nil
	},
}

var taskClaimableCmd = &cobra.Command{
	Use:   "claimable <agent-id>",
	Short: "List every task the agent may claim right now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		tasks, err := task.New(repo).FindClaimable(args[0])
		if err != nil {
			return err
		}
		if taskJSON {
			return json.NewEncoder(os.Stdout).Encode(tasks)
		}
		for _, t := range tasks {
			fmt.Printf("%s [%s] %s\n", t.ID, t.Priority, t.Title)
		}
		return nil
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <task-id> <agent-id>",
	Short: "Claim a pending task for an agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		t, err := task.New(repo).Claim(args[0], args[1])
		if err != nil {
			return err
		}
		return printTask(t)
	},
}

var taskProgressCmd = &cobra.Command{
	Use:   "progress <task-id> <percent>",
	Short: "Update a task's progress (claimed tasks move to in_progress)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		pct, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("progress must be an integer: %w", err)
		}
		t, err := task.New(repo).UpdateProgress(args[0], pct)
		if err != nil {
			return err
		}
		return printTask(t)
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE(func(q *task.Queue, id string) (*task.Task, error) { return q.Complete(id) }),
}

var taskBlockCmd = &cobra.Command{
	Use:   "block <task-id>",
	Short: "Mark an in-progress task blocked",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE(func(q *task.Queue, id string) (*task.Task, error) { return q.Block(id) }),
}

var taskUnblockCmd = &cobra.Command{
	Use:   "unblock <task-id>",
	Short: "Return a blocked task to in_progress",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE(func(q *task.Queue, id string) (*task.Task, error) { return q.Unblock(id) }),
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a non-terminal task",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionRunE(func(q *task.Queue, id string) (*task.Task, error) { return q.Cancel(id) }),
}

var taskStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-status counts and completion percentage",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		q := task.New(repo)
		stats, err := q.GetStatistics()
		if err != nil {
			return err
		}
		for _, s := range []task.Status{task.StatusPending, task.StatusClaimed, task.StatusInProgress, task.StatusBlocked, task.StatusCompleted, task.StatusCancelled} {
			fmt.Printf("  %-12s %d\n", s, stats.Counts[s])
		}
		fmt.Printf("  total: %d  active: %d  completed: %.0f%%\n", stats.Total, stats.ActiveCount(), stats.CompletionPercentage*100)

		assignments, err := q.AgentAssignments()
		if err != nil {
			return err
		}
		for agent, tasks := range assignments {
			ids := make([]string, len(tasks))
			for i, t := range tasks {
				ids[i] = t.ID
			}
			fmt.Printf("  %s: %s\n", agent, strings.Join(ids, ", "))
		}
		return nil
	},
}

func transitionRunE(op func(*task.Queue, string) (*task.Task, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo(configPath)
		if err != nil {
			return err
		}
		t, err := op(task.New(repo), args[0])
		if err != nil {
			return err
		}
		return printTask(t)
	}
}

func printTask(t *task.Task) error {
	if taskJSON {
		return json.NewEncoder(os.Stdout).Encode(t)
	}
	fmt.Printf("%s: %s (%s, %d%%)\n", t.ID, t.Title, t.Status, t.Progress)
	return nil
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskTitle, "title", "", "Task title (defaults to the id)")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().StringVar(&taskAssigned, "assigned", "", "Agent id the task is assigned to (empty or \"auto\" lets any agent claim)")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", "medium", "low|medium|high|critical")
	taskCreateCmd.Flags().StringSliceVar(&taskDeps, "deps", nil, "Task ids that must complete before this one can be claimed")
	taskCreateCmd.Flags().StringSliceVar(&taskTags, "tags", nil, "Free-form tags")
	taskCmd.PersistentFlags().BoolVar(&taskJSON, "json", false, "Emit JSON instead of a table")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskClaimableCmd, taskClaimCmd,
		taskProgressCmd, taskCompleteCmd, taskBlockCmd, taskUnblockCmd, taskCancelCmd, taskStatsCmd)
	rootCmd.AddCommand(taskCmd)
}

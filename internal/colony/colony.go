// Package colony implements the controller holding agent records, the
// .colony/ directory lifecycle, and the start/stop/destroy sequences.
package colony

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/config"
	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/mux"
	"github.com/re-cinq/colony/internal/worktree"
)

// Status is an agent's runtime lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStale     Status = "stale"
)

// AgentRecord is one agent's full runtime record.
type AgentRecord struct {
	Config       config.AgentConfig `json:"config"`
	WorktreePath string             `json:"worktree_path"`
	ProjectPath  string             `json:"project_path"`
	LogPath      string             `json:"log_path"`
	Status       Status             `json:"status"`
	PID          int                `json:"pid,omitempty"`
}

// Controller holds the in-memory colony state for one repository.
type Controller struct {
	RepoDir string
	Cfg     *config.Config
	Agents  map[string]*AgentRecord

	logger *slog.Logger
	wt     *worktree.Manager
	driver *mux.Driver
}

// New loads colony.yml at repoDir, validates it, and builds the in-memory
// controller. It does not touch the filesystem beyond reading the config.
func New(repoDir string, logger *slog.Logger) (*Controller, error) {
	cfg, err := config.Load(fileutil.ConfigPath(repoDir))
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindConfig, "loading colony.yml", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, cerrors.Config("invalid colony.yml: %s", strings.Join(msgs, "; "))
	}

	c := &Controller{
		RepoDir: repoDir,
		Cfg:     cfg,
		Agents:  make(map[string]*AgentRecord, len(cfg.Agents)),
		logger:  logger,
		wt:      worktree.New(repoDir, logger),
	}
	for _, a := range cfg.Agents {
		c.Agents[a.ID] = &AgentRecord{
			Config:      a,
			ProjectPath: fileutil.ProjectPath(repoDir, a.ID),
			LogPath:     fileutil.LogPath(repoDir, a.ID),
			Status:      StatusIdle,
		}
	}
	return c, nil
}

// SessionName derives this colony's multiplexer session name from the
// configured name or the repo directory's basename.
func (c *Controller) SessionName() string {
	return c.Cfg.SessionName(filepath.Base(c.RepoDir))
}

// EnsureDirs creates every .colony/ subdirectory.
func (c *Controller) EnsureDirs() error {
	dirs := []string{
		fileutil.ColonyDir(c.RepoDir),
		fileutil.WorktreesDir(c.RepoDir),
		fileutil.ProjectsDir(c.RepoDir),
		fileutil.LogsDir(c.RepoDir),
		fileutil.MessagesDir(c.RepoDir),
		fileutil.TasksDir(c.RepoDir),
		fileutil.StateDir(c.RepoDir),
		fileutil.CacheDir(c.RepoDir),
	}
	for _, d := range dirs {
		if err := fileutil.EnsureDir(d); err != nil {
			return cerrors.Wrap(cerrors.KindIO, "creating "+d, err)
		}
	}
	for _, a := range c.Cfg.Agents {
		if err := fileutil.EnsureDir(fileutil.ProjectPath(c.RepoDir, a.ID)); err != nil {
			return cerrors.Wrap(cerrors.KindIO, "creating project dir for "+a.ID, err)
		}
	}
	return nil
}

// CreateWorktrees materializes a worktree for every agent that does not
// pin a custom directory.
func (c *Controller) CreateWorktrees() error {
	for id, rec := range c.Agents {
		if rec.Config.HasCustomDirectory() {
			rec.WorktreePath = rec.Config.Directory
			continue
		}
		path := fileutil.WorktreePath(c.RepoDir, id)
		got, err := c.wt.EnsureWorktree(id, path, rec.Config.Worktree)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("worktree creation failed", "agent", id, "error", err)
			}
			continue
		}
		rec.WorktreePath = got
	}
	return nil
}

// WriteAgentScratch materializes each agent's declared startup prompt and
// instructions into its project directory, where the assistant picks them up.
func (c *Controller) WriteAgentScratch() error {
	for _, a := range c.Cfg.Agents {
		project := fileutil.ProjectPath(c.RepoDir, a.ID)
		if a.StartupPrompt != "" {
			path := filepath.Join(project, "STARTUP_PROMPT.md")
			if err := os.WriteFile(path, []byte(a.StartupPrompt), 0644); err != nil {
				return cerrors.Wrap(cerrors.KindIO, "writing startup prompt for "+a.ID, err)
			}
		}
		if a.Instructions != "" {
			path := filepath.Join(project, "INSTRUCTIONS.md")
			if err := os.WriteFile(path, []byte(a.Instructions), 0644); err != nil {
				return cerrors.Wrap(cerrors.KindIO, "writing instructions for "+a.ID, err)
			}
		}
	}
	return nil
}

// SaveState writes the agent records as pretty JSON to .colony/state.json.
func (c *Controller) SaveState() error {
	records := make([]AgentRecord, 0, len(c.Agents))
	for _, rec := range c.Agents {
		records = append(records, *rec)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "encoding state", err)
	}
	return os.WriteFile(fileutil.StateSnapshotPath(c.RepoDir), data, 0644)
}

// LoadState merges the previously-saved status/pid back into the in-memory
// map. Absence of the file is a silent no-op.
func (c *Controller) LoadState() error {
	data, err := os.ReadFile(fileutil.StateSnapshotPath(c.RepoDir))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "reading state.json", err)
	}
	var records []AgentRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "parsing state.json", err)
	}
	for _, rec := range records {
		if existing, ok := c.Agents[rec.Config.ID]; ok {
			existing.Status = rec.Status
			existing.PID = rec.PID
			if rec.WorktreePath != "" {
				existing.WorktreePath = rec.WorktreePath
			}
		}
	}
	return nil
}

// IsProcessAlive reports whether pid names a live, signalable process.
func IsProcessAlive(pid int) bool {
	if pid <= 0 || pid > 4194304 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// EffectiveStatus reports a record's status for display purposes: a record
// that claims an active lifecycle state but whose recorded pid is not alive
// is reported as "stale" rather than silently presented as running. Records
// without a pid (pane-managed agents) are taken at their word.
func EffectiveStatus(rec *AgentRecord) Status {
	if rec.Status == StatusRunning && rec.PID != 0 && !IsProcessAlive(rec.PID) {
		return StatusStale
	}
	return rec.Status
}

// assistantBinary is the agent process colony launches. Only the --project
// flag matters to the controller; everything else is the assistant's own.
const assistantBinary = "claude"

// launchCommand builds the shell-escaped command line for agent a. Declared
// env vars are prefixed in sorted order so the command is deterministic.
func launchCommand(a config.AgentConfig, worktreePath, projectPath string) string {
	var env strings.Builder
	keys := make([]string, 0, len(a.Env))
	for k := range a.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env.WriteString(k + "=" + shellQuote(a.Env[k]) + " ")
	}
	return fmt.Sprintf("cd %s && %s%s --project %s --dangerously-skip-permissions",
		shellQuote(worktreePath), env.String(), assistantBinary, shellQuote(projectPath))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Start runs the full start sequence: ensure tmux, kill any existing
// session, create the session with one pane per agent (alternating split
// direction), title+pipe-pane each pane, optionally add a monitoring pane,
// optionally attach.
func (c *Controller) Start(attach, monitor bool) error {
	if len(c.Cfg.Agents) == 0 {
		return cerrors.Validation("cannot start a colony with no agents")
	}

	driver, err := mux.New()
	if err != nil {
		return err
	}
	c.driver = driver

	session := c.SessionName()
	if err := driver.KillSession(session); err != nil {
		return err
	}

	horizontal := true
	for i, a := range c.Cfg.Agents {
		rec := c.Agents[a.ID]
		cmd := launchCommand(a, rec.WorktreePath, rec.ProjectPath)

		var target string
		if i == 0 {
			if err := driver.NewSession(session, rec.WorktreePath, cmd); err != nil {
				return cerrors.Mux(err, "starting agent %s", a.ID)
			}
			target = session + ":0.0"
		} else {
			dir := mux.SplitVertical
			if horizontal {
				dir = mux.SplitHorizontal
			}
			horizontal = !horizontal
			idx, err := driver.SplitWindow(session+":0", dir, rec.WorktreePath, cmd)
			if err != nil {
				if c.logger != nil {
					c.logger.Warn("failed to start agent", "agent", a.ID, "error", err)
				}
				continue
			}
			target = fmt.Sprintf("%s:0.%d", session, idx)
		}

		title := mux.AgentPaneTitle(a.ID)
		if err := driver.SetPaneTitle(target, title); err != nil {
			if c.logger != nil {
				c.logger.Warn("failed to set pane title", "agent", a.ID, "error", err)
			}
		}
		if err := driver.PipePane(target, rec.LogPath); err != nil {
			if c.logger != nil {
				c.logger.Warn("failed to pipe pane to log", "agent", a.ID, "error", err)
			}
		}

		rec.Status = StatusRunning
		if c.logger != nil {
			c.logger.Info("agent started", "agent", a.ID, "pane", target)
		}
	}

	if monitor {
		self, err := os.Executable()
		if err != nil {
			self = "colony"
		}
		monitorCmd := fmt.Sprintf("%s status --follow", shellQuote(self))
		idx, err := driver.SplitWindow(session+":0", mux.SplitVertical, c.RepoDir, monitorCmd)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("failed to start monitor pane", "error", err)
			}
		} else {
			target := fmt.Sprintf("%s:0.%d", session, idx)
			if err := driver.SetPaneTitle(target, "Colony Monitor"); err != nil && c.logger != nil {
				c.logger.Warn("failed to title monitor pane", "error", err)
			}
		}
	}

	if err := driver.SelectLayout(session+":0", mux.LayoutTiled); err != nil {
		if c.logger != nil {
			c.logger.Warn("failed to apply tiled layout", "error", err)
		}
	}

	if err := c.SaveState(); err != nil {
		return err
	}

	if attach {
		attachCmd := driver.AttachCommand(session)
		attachCmd.Stdin = os.Stdin
		attachCmd.Stdout = os.Stdout
		attachCmd.Stderr = os.Stderr
		return attachCmd.Run()
	}
	return nil
}

// Stop terminates every agent's process, if alive, and clears its status/pid
// regardless of whether the signal succeeded.
func (c *Controller) Stop() error {
	for id, rec := range c.Agents {
		if rec.PID != 0 && IsProcessAlive(rec.PID) {
			if proc, err := os.FindProcess(rec.PID); err == nil {
				if err := proc.Signal(syscall.SIGTERM); err != nil && c.logger != nil {
					c.logger.Warn("failed to signal agent process", "agent", id, "error", err)
				}
			}
		}
		rec.Status = StatusIdle
		rec.PID = 0
	}
	return c.SaveState()
}

// Destroy stops all agents, removes all worktrees, and deletes .colony/,
// preserving colony.yml. Callers MUST obtain user confirmation before calling this.
func (c *Controller) Destroy() error {
	if err := c.Stop(); err != nil {
		if c.logger != nil {
			c.logger.Warn("stop during destroy reported an error", "error", err)
		}
	}
	for id, rec := range c.Agents {
		if rec.Config.HasCustomDirectory() {
			continue
		}
		path := rec.WorktreePath
		if path == "" {
			path = fileutil.WorktreePath(c.RepoDir, id)
		}
		if err := c.wt.RemoveWorktree(path); err != nil {
			if c.logger != nil {
				c.logger.Warn("failed to remove worktree", "agent", id, "error", err)
			}
		}
	}
	if err := os.RemoveAll(fileutil.ColonyDir(c.RepoDir)); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "removing .colony", err)
	}
	return nil
}

// StatusRow is one line of `colony status` output.
type StatusRow struct {
	ID     string
	Role   string
	Status Status
}

// StatusRows renders each agent's effective status for the CLI.
func (c *Controller) StatusRows() []StatusRow {
	rows := make([]StatusRow, 0, len(c.Cfg.Agents))
	for _, a := range c.Cfg.Agents {
		rec := c.Agents[a.ID]
		rows = append(rows, StatusRow{ID: a.ID, Role: a.Role, Status: EffectiveStatus(rec)})
	}
	return rows
}

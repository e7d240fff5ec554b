// Package sharedstate implements the git-backed JSONL store for tasks,
// workflows, and memory, mirrored into a local embedded SQL cache for fast
// indexed queries.
package sharedstate

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/fileutil"
	"github.com/re-cinq/colony/internal/git"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created TEXT NOT NULL,
	assigned TEXT NOT NULL DEFAULT '',
	blockers_json TEXT NOT NULL DEFAULT '[]',
	completed TEXT NOT NULL DEFAULT '',
	metadata_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	started TEXT NOT NULL,
	completed TEXT NOT NULL DEFAULT '',
	current_step TEXT NOT NULL DEFAULT '',
	steps_json TEXT NOT NULL DEFAULT '{}',
	input_json TEXT NOT NULL DEFAULT '{}',
	output_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
CREATE INDEX IF NOT EXISTS idx_workflows_started ON workflows(started);

CREATE TABLE IF NOT EXISTS memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	type TEXT NOT NULL,
	key TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_memory_timestamp ON memory(timestamp);
CREATE INDEX IF NOT EXISTS idx_memory_type ON memory(type);

CREATE TABLE IF NOT EXISTS cache_metadata (
	schema_name TEXT PRIMARY KEY,
	last_synced_nanos INTEGER NOT NULL
);
`

// SharedTask mirrors the cross-machine task ledger entity (distinct from
// the per-machine claim-queue Task in package task).
type SharedTask struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status"` // ready | blocked | in_progress | completed | cancelled
	Created     time.Time         `json:"created"`
	Assigned    string            `json:"assigned,omitempty"`
	Blockers    []string          `json:"blockers,omitempty"`
	Completed   *time.Time        `json:"completed,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// WorkflowStep is one named step of a Workflow.
type WorkflowStep struct {
	Status    string     `json:"status"` // pending|running|completed|failed|skipped|retrying
	Started   *time.Time `json:"started,omitempty"`
	Completed *time.Time `json:"completed,omitempty"`
	Agent     string     `json:"agent,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Workflow is a named sequence of steps tracked across the colony.
type Workflow struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Status      string                  `json:"status"` // pending|running|completed|failed
	Started     time.Time               `json:"started"`
	Completed   *time.Time              `json:"completed,omitempty"`
	CurrentStep string                  `json:"current_step,omitempty"`
	Steps       map[string]WorkflowStep `json:"steps,omitempty"`
	Input       json.RawMessage         `json:"input,omitempty"`
	Output      json.RawMessage         `json:"output,omitempty"`
}

// MemoryEntry is a single free-form memory record.
type MemoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"` // context|learned|decision|note
	Key       string    `json:"key,omitempty"`
	Value     string    `json:"value,omitempty"`
	Content   string    `json:"content,omitempty"`
}

// Config controls commit/push behavior.
type Config struct {
	AutoCommit    bool
	AutoPush      bool
	CommitMessage string // may contain "{schema}"
	Branch        string
	Remote        string // git remote URL, "" if none configured
}

// Engine is the shared-state store rooted at stateDir.
type Engine struct {
	dir    string
	db     *sql.DB
	repo   *git.Repo
	cfg    Config
	logger *slog.Logger
}

// Open initializes the engine: ensures stateDir is a git repo (running
// `git init` and an empty initial commit on first use, adding the
// configured remote as origin if one is set and none exists yet), and opens
// the local SQLite cache, creating its schema.
func Open(stateDir, cacheDBPath string, cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := fileutil.EnsureDir(stateDir); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "creating state dir", err)
	}
	if err := fileutil.EnsureDir(filepath.Dir(cacheDBPath)); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "creating cache dir", err)
	}

	repo := git.NewRepo(stateDir)
	if !git.IsGitRepo(stateDir) {
		if err := repo.Init(); err != nil {
			return nil, cerrors.Git(err, "initializing shared-state repo")
		}
		repo.EnsureIdentity()
		placeholder := filepath.Join(stateDir, ".gitkeep")
		if err := os.WriteFile(placeholder, nil, 0644); err == nil {
			_ = repo.StageAll()
			_ = repo.Commit("colony: initialize shared state")
		}
	}
	if cfg.Remote != "" && !repo.RemoteExists("origin") {
		if err := repo.AddRemote("origin", cfg.Remote); err != nil && logger != nil {
			logger.Warn("failed to add shared-state remote", "error", err)
		}
	}

	db, err := sql.Open("sqlite", cacheDBPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "opening cache db", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, cerrors.Wrap(cerrors.KindIO, "creating cache schema", err)
	}

	if cfg.CommitMessage == "" {
		cfg.CommitMessage = "colony: sync {schema}"
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}

	return &Engine{dir: stateDir, db: db, repo: repo, cfg: cfg, logger: logger}, nil
}

// Close closes the cache database.
func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) jsonlPath(schemaName string) string {
	return filepath.Join(e.dir, schemaName+".jsonl")
}

// fileMtimeNanos returns the file's modification time in nanoseconds, or 0
// if the file does not exist.
func fileMtimeNanos(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixNano()
}

func (e *Engine) lastSyncedNanos(schemaName string) int64 {
	var n int64
	err := e.db.QueryRow(`SELECT last_synced_nanos FROM cache_metadata WHERE schema_name = ?`, schemaName).Scan(&n)
	if err != nil {
		return -1
	}
	return n
}

// readLines reads every non-empty line of a JSONL file. Missing file ⇒ empty slice.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// syncTasks re-reads tasks.jsonl into the cache table if the file is newer
// than the last sync.
func (e *Engine) syncTasks() ([]SharedTask, error) {
	path := e.jsonlPath("tasks")
	mtime := fileMtimeNanos(path)
	lines, err := readLines(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "reading tasks.jsonl", err)
	}
	tasks := make([]SharedTask, 0, len(lines))
	for _, l := range lines {
		var t SharedTask
		if err := json.Unmarshal([]byte(l), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	if mtime == e.lastSyncedNanos("tasks") {
		return tasks, nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "beginning cache tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tasks`); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		blockersJSON, _ := json.Marshal(t.Blockers)
		metaJSON, _ := json.Marshal(t.Metadata)
		completed := ""
		if t.Completed != nil {
			completed = t.Completed.Format(time.RFC3339Nano)
		}
		if _, err := tx.Exec(`INSERT INTO tasks (id, title, description, status, created, assigned, blockers_json, completed, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Title, t.Description, t.Status, t.Created.Format(time.RFC3339Nano), t.Assigned, string(blockersJSON), completed, string(metaJSON)); err != nil {
			return nil, err
		}
	}
	if err := e.setSyncedNanosTx(tx, "tasks", mtime); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "committing cache tx", err)
	}
	return tasks, nil
}

// ListTasks returns every shared task, cache freshly synced.
func (e *Engine) ListTasks() ([]SharedTask, error) {
	return e.syncTasks()
}

// TasksByStatus queries the cache directly, which is equivalent to the
// in-memory vector once syncTasks has run.
func (e *Engine) TasksByStatus(status string) ([]SharedTask, error) {
	if _, err := e.syncTasks(); err != nil {
		return nil, err
	}
	rows, err := e.db.Query(`SELECT id, title, description, status, created, assigned, blockers_json, completed, metadata_json FROM tasks WHERE status = ?`, status)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "querying tasks by status", err)
	}
	defer rows.Close()

	var result []SharedTask
	for rows.Next() {
		var t SharedTask
		var blockersJSON, metaJSON, created, completed string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &created, &t.Assigned, &blockersJSON, &completed, &metaJSON); err != nil {
			return nil, err
		}
		t.Created, _ = time.Parse(time.RFC3339Nano, created)
		if completed != "" {
			c, _ := time.Parse(time.RFC3339Nano, completed)
			t.Completed = &c
		}
		_ = json.Unmarshal([]byte(blockersJSON), &t.Blockers)
		_ = json.Unmarshal([]byte(metaJSON), &t.Metadata)
		result = append(result, t)
	}
	return result, nil
}

// writeTasks rewrites tasks.jsonl in full, then commits/pushes per Config.
func (e *Engine) writeTasks(tasks []SharedTask) error {
	var b strings.Builder
	for _, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return cerrors.Wrap(cerrors.KindIO, "encoding shared task", err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(e.jsonlPath("tasks"), []byte(b.String()), 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "writing tasks.jsonl", err)
	}
	return e.commitAndPush("tasks")
}

func (e *Engine) commitAndPush(schemaName string) error {
	if !e.cfg.AutoCommit {
		return nil
	}
	if err := e.repo.StageAll(); err != nil {
		return cerrors.Git(err, "staging shared-state changes")
	}
	changed, err := e.repo.HasChanges()
	if err != nil {
		return cerrors.Git(err, "checking shared-state changes")
	}
	if !changed {
		return nil
	}
	msg := strings.ReplaceAll(e.cfg.CommitMessage, "{schema}", schemaName)
	if err := e.repo.Commit(msg); err != nil {
		return cerrors.Git(err, "committing shared-state changes")
	}
	if e.cfg.AutoPush {
		if err := e.repo.Push("origin", e.cfg.Branch); err != nil && e.logger != nil {
			e.logger.Warn("shared-state push failed, continuing offline", "error", err)
		}
	}
	return nil
}

// Push pushes the configured branch to origin. Unlike the auto-push path,
// an explicit push surfaces the error to the caller.
func (e *Engine) Push() error {
	if e.cfg.Remote == "" {
		return cerrors.New(cerrors.KindConfig, "no shared-state remote configured")
	}
	if err := e.repo.Push("origin", e.cfg.Branch); err != nil {
		return cerrors.Git(err, "pushing shared state")
	}
	return nil
}

// Pull fetches and fast-forwards the configured branch. Failures are warnings.
func (e *Engine) Pull() {
	if e.cfg.Remote == "" {
		return
	}
	if err := e.repo.Pull("origin", e.cfg.Branch); err != nil && e.logger != nil {
		e.logger.Warn("shared-state pull failed", "error", err)
	}
}

// shortID derives a short, filename-safe, hash-based identifier to minimize
// merge conflicts across concurrent agents.
func shortID(prefix, seed string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", seed, time.Now().UnixNano())))
	return prefix + "-" + hex.EncodeToString(sum[:])[:10]
}

// CreateTask appends a new shared task and rewrites tasks.jsonl.
func (e *Engine) CreateTask(title, description, assigned string, blockers []string) (*SharedTask, error) {
	tasks, err := e.syncTasks()
	if err != nil {
		return nil, err
	}
	t := SharedTask{
		ID:          shortID("task", title),
		Title:       title,
		Description: description,
		Status:      "ready",
		Created:     time.Now(),
		Assigned:    assigned,
		Blockers:    blockers,
		Metadata:    map[string]string{},
	}
	if len(blockers) > 0 {
		t.Status = "blocked"
	}
	tasks = append(tasks, t)
	if err := e.writeTasks(tasks); err != nil {
		return nil, err
	}
	return &t, nil
}

// CompleteTask marks a shared task completed and rewrites tasks.jsonl.
func (e *Engine) CompleteTask(id string) error {
	tasks, err := e.syncTasks()
	if err != nil {
		return err
	}
	found := false
	now := time.Now()
	for i := range tasks {
		if tasks[i].ID == id {
			tasks[i].Status = "completed"
			tasks[i].Completed = &now
			found = true
			break
		}
	}
	if !found {
		return cerrors.NotFound("shared task %s not found", id)
	}
	return e.writeTasks(tasks)
}

// ImportCompletedTask upserts a completed entry in the shared ledger,
// keyed by the caller's id. Used by the one-directional bridge that promotes
// finished claim-queue tasks into the cross-machine ledger.
func (e *Engine) ImportCompletedTask(id, title, description string, completedAt time.Time) error {
	tasks, err := e.syncTasks()
	if err != nil {
		return err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			if tasks[i].Status == "completed" {
				return nil
			}
			tasks[i].Status = "completed"
			tasks[i].Completed = &completedAt
			return e.writeTasks(tasks)
		}
	}
	tasks = append(tasks, SharedTask{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      "completed",
		Created:     completedAt,
		Completed:   &completedAt,
		Metadata:    map[string]string{"source": "task-queue"},
	})
	return e.writeTasks(tasks)
}

// ReadyTasks returns every task whose blockers are all in the completed
// set and whose own status is not completed.
func ReadyTasks(tasks []SharedTask) []SharedTask {
	completed := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == "completed" {
			completed[t.ID] = true
		}
	}
	var ready []SharedTask
	for _, t := range tasks {
		if t.Status == "completed" {
			continue
		}
		allMet := true
		for _, b := range t.Blockers {
			if !completed[b] {
				allMet = false
				break
			}
		}
		if allMet {
			ready = append(ready, t)
		}
	}
	return ready
}

// --- Workflows ---

func (e *Engine) syncWorkflows() ([]Workflow, error) {
	path := e.jsonlPath("workflows")
	mtime := fileMtimeNanos(path)
	lines, err := readLines(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "reading workflows.jsonl", err)
	}
	workflows := make([]Workflow, 0, len(lines))
	for _, l := range lines {
		var w Workflow
		if err := json.Unmarshal([]byte(l), &w); err != nil {
			continue
		}
		workflows = append(workflows, w)
	}

	if mtime == e.lastSyncedNanos("workflows") {
		return workflows, nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "beginning cache tx", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM workflows`); err != nil {
		return nil, err
	}
	for _, w := range workflows {
		stepsJSON, _ := json.Marshal(w.Steps)
		completed := ""
		if w.Completed != nil {
			completed = w.Completed.Format(time.RFC3339Nano)
		}
		if _, err := tx.Exec(`INSERT INTO workflows (id, name, status, started, completed, current_step, steps_json, input_json, output_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.Name, w.Status, w.Started.Format(time.RFC3339Nano), completed, w.CurrentStep, string(stepsJSON), string(w.Input), string(w.Output)); err != nil {
			return nil, err
		}
	}
	if err := e.setSyncedNanosTx(tx, "workflows", mtime); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "committing cache tx", err)
	}
	return workflows, nil
}

func (e *Engine) setSyncedNanosTx(tx *sql.Tx, schemaName string, nanos int64) error {
	_, err := tx.Exec(`INSERT INTO cache_metadata (schema_name, last_synced_nanos) VALUES (?, ?)
		ON CONFLICT(schema_name) DO UPDATE SET last_synced_nanos = excluded.last_synced_nanos`, schemaName, nanos)
	return err
}

// ListWorkflows returns every workflow, cache freshly synced.
func (e *Engine) ListWorkflows() ([]Workflow, error) {
	return e.syncWorkflows()
}

// SaveWorkflow upserts a workflow by id and rewrites workflows.jsonl.
func (e *Engine) SaveWorkflow(w Workflow) error {
	workflows, err := e.syncWorkflows()
	if err != nil {
		return err
	}
	found := false
	for i := range workflows {
		if workflows[i].ID == w.ID {
			workflows[i] = w
			found = true
			break
		}
	}
	if !found {
		if w.ID == "" {
			w.ID = shortID("wf", w.Name)
		}
		workflows = append(workflows, w)
	}

	var b strings.Builder
	for _, wf := range workflows {
		data, err := json.Marshal(wf)
		if err != nil {
			return cerrors.Wrap(cerrors.KindIO, "encoding workflow", err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(e.jsonlPath("workflows"), []byte(b.String()), 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "writing workflows.jsonl", err)
	}
	return e.commitAndPush("workflows")
}

// --- Memory ---

func (e *Engine) syncMemory() ([]MemoryEntry, error) {
	path := e.jsonlPath("memory")
	mtime := fileMtimeNanos(path)
	lines, err := readLines(path)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "reading memory.jsonl", err)
	}
	entries := make([]MemoryEntry, 0, len(lines))
	for _, l := range lines {
		var m MemoryEntry
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			continue
		}
		entries = append(entries, m)
	}

	if mtime == e.lastSyncedNanos("memory") {
		return entries, nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "beginning cache tx", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM memory`); err != nil {
		return nil, err
	}
	for _, m := range entries {
		if _, err := tx.Exec(`INSERT INTO memory (timestamp, type, key, value, content) VALUES (?, ?, ?, ?, ?)`,
			m.Timestamp.Format(time.RFC3339Nano), m.Type, m.Key, m.Value, m.Content); err != nil {
			return nil, err
		}
	}
	if err := e.setSyncedNanosTx(tx, "memory", mtime); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, cerrors.Wrap(cerrors.KindIO, "committing cache tx", err)
	}
	return entries, nil
}

// ListMemory returns every memory entry, cache freshly synced.
func (e *Engine) ListMemory() ([]MemoryEntry, error) {
	return e.syncMemory()
}

// ListMemoryByType filters the synced entries by type.
func (e *Engine) ListMemoryByType(t string) ([]MemoryEntry, error) {
	entries, err := e.syncMemory()
	if err != nil {
		return nil, err
	}
	var result []MemoryEntry
	for _, m := range entries {
		if m.Type == t {
			result = append(result, m)
		}
	}
	return result, nil
}

// ListMemoryByKey filters the synced entries by key.
func (e *Engine) ListMemoryByKey(key string) ([]MemoryEntry, error) {
	entries, err := e.syncMemory()
	if err != nil {
		return nil, err
	}
	var result []MemoryEntry
	for _, m := range entries {
		if m.Key == key {
			result = append(result, m)
		}
	}
	return result, nil
}

// AppendMemory appends a new memory entry and rewrites memory.jsonl.
func (e *Engine) AppendMemory(m MemoryEntry) error {
	entries, err := e.syncMemory()
	if err != nil {
		return err
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	entries = append(entries, m)

	var b strings.Builder
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return cerrors.Wrap(cerrors.KindIO, "encoding memory entry", err)
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(e.jsonlPath("memory"), []byte(b.String()), 0644); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "writing memory.jsonl", err)
	}
	return e.commitAndPush("memory")
}

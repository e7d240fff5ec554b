// Package task implements the six-folder, dependency-aware task queue
// used by agents running on one machine to claim and report on work.
package task

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/fileutil"
)

// Status is one of the six folder names; the folder IS the status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusClaimed    Status = "claimed"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// statusOrder is the tie-break order used when a task is found in more than
// one folder after a crash: higher priority wins.
var statusOrder = map[Status]int{
	StatusInProgress: 5,
	StatusClaimed:    4,
	StatusPending:    3,
	StatusBlocked:    2,
	StatusCompleted:  1,
	StatusCancelled:  0,
}

var allStatuses = []Status{StatusPending, StatusClaimed, StatusInProgress, StatusBlocked, StatusCompleted, StatusCancelled}

// Priority is ordered low < medium < high < critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// ParsePriority converts a user-supplied string into a Priority. An empty
// string defaults to medium.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(s), nil
	}
	return "", cerrors.Validation("invalid priority %q: must be low, medium, high, or critical", s)
}

// ParseStatus converts a user-supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusClaimed, StatusInProgress, StatusBlocked, StatusCompleted, StatusCancelled:
		return Status(s), nil
	}
	return "", cerrors.Validation("invalid status %q", s)
}

// Timestamps groups the task lifecycle timestamps.
type Timestamps struct {
	CreatedAt   time.Time  `json:"created_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Task is one unit of work in the per-machine claim queue.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	AssignedTo   string     `json:"assigned_to,omitempty"` // "" / "auto" ⇒ any agent
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	Progress     int        `json:"progress"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Blockers     []string   `json:"blockers,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Timestamps   Timestamps `json:"timestamps"`
}

// Validate rejects assigned_to="all" (reserved for message broadcast, not
// task assignment) and self-referential dependency cycles.
func (t *Task) Validate() error {
	if t.AssignedTo == "all" {
		return cerrors.Validation("task %s: assigned_to=\"all\" is not permitted", t.ID)
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return cerrors.Validation("task %s: cannot depend on itself", t.ID)
		}
	}
	return nil
}

// Queue is the task store rooted at a colony's tasks/ directory.
type Queue struct {
	dir string
}

// New builds a Queue rooted at repoDir's .colony/tasks directory.
func New(repoDir string) *Queue {
	return &Queue{dir: fileutil.TasksDir(repoDir)}
}

func (q *Queue) statusDir(s Status) string {
	return filepath.Join(q.dir, string(s))
}

func (q *Queue) taskPath(s Status, id string) string {
	return filepath.Join(q.statusDir(s), id+".json")
}

// Create writes a new task into pending (or blocked, if it has unmet
// dependencies relative to an empty completed set and the caller wants that
// reflected immediately — callers typically start tasks in pending and let
// the claim rule gate progress).
func (q *Queue) Create(t *Task) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if existing, cycle := q.wouldCycle(t); cycle {
		return cerrors.Validation("task %s: dependency cycle through %s", t.ID, existing)
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now()
	t.Timestamps.CreatedAt = now
	t.Timestamps.UpdatedAt = now
	return q.write(t)
}

// wouldCycle checks whether t's transitive dependency closure includes t.ID,
// consulting the tasks already on disk.
func (q *Queue) wouldCycle(t *Task) (string, bool) {
	all, err := q.LoadAll()
	if err != nil {
		return "", false
	}
	byID := make(map[string]*Task, len(all)+1)
	for i := range all {
		byID[all[i].ID] = &all[i]
	}
	byID[t.ID] = t

	visited := make(map[string]bool)
	var visit func(id string) bool
	visit = func(id string) bool {
		if id == t.ID && visited[id] {
			return true
		}
		if visited[id] {
			return false
		}
		visited[id] = true
		cur, ok := byID[id]
		if !ok {
			return false
		}
		for _, dep := range cur.Dependencies {
			if dep == t.ID {
				return true
			}
			if visit(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range t.Dependencies {
		if visit(dep) {
			return dep, true
		}
	}
	return "", false
}

func (q *Queue) write(t *Task) error {
	if err := fileutil.EnsureDir(q.statusDir(t.Status)); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "creating status dir", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return cerrors.Wrap(cerrors.KindIO, "encoding task", err)
	}
	return os.WriteFile(q.taskPath(t.Status, t.ID), data, 0644)
}

// transition writes t into its new status folder, THEN removes any copy of
// the task from every other folder. Write-before-remove ensures a crash
// between the two never makes the task vanish.
func (q *Queue) transition(t *Task, newStatus Status) error {
	oldStatus := t.Status
	t.Status = newStatus
	t.Timestamps.UpdatedAt = time.Now()

	if err := q.write(t); err != nil {
		t.Status = oldStatus
		return err
	}
	for _, s := range allStatuses {
		if s == newStatus {
			continue
		}
		_ = os.Remove(q.taskPath(s, t.ID))
	}
	return nil
}

// Load reads the single logical copy of a task, preferring the folder with
// the highest updated_at, tie-broken by statusOrder, tolerating a task
// found in more than one folder after a crash.
func (q *Queue) Load(id string) (*Task, error) {
	var best *Task
	for _, s := range allStatuses {
		data, err := os.ReadFile(q.taskPath(s, id))
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if best == nil || t.Timestamps.UpdatedAt.After(best.Timestamps.UpdatedAt) ||
			(t.Timestamps.UpdatedAt.Equal(best.Timestamps.UpdatedAt) && statusOrder[t.Status] > statusOrder[best.Status]) {
			copied := t
			best = &copied
		}
	}
	if best == nil {
		return nil, cerrors.NotFound("task %s not found", id)
	}
	return best, nil
}

// LoadAll returns every task across all folders, deduplicated per Load's
// rule, sorted by priority descending then created_at ascending.
func (q *Queue) LoadAll() ([]Task, error) {
	byID := make(map[string]Task)
	for _, s := range allStatuses {
		entries, err := os.ReadDir(q.statusDir(s))
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(q.statusDir(s), e.Name()))
			if err != nil {
				continue
			}
			var t Task
			if err := json.Unmarshal(data, &t); err != nil {
				continue
			}
			if existing, ok := byID[t.ID]; ok {
				if t.Timestamps.UpdatedAt.Before(existing.Timestamps.UpdatedAt) {
					continue
				}
				if t.Timestamps.UpdatedAt.Equal(existing.Timestamps.UpdatedAt) && statusOrder[t.Status] < statusOrder[existing.Status] {
					continue
				}
			}
			byID[t.ID] = t
		}
	}

	tasks := make([]Task, 0, len(byID))
	for _, t := range byID {
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		pi, pj := priorityRank[tasks[i].Priority], priorityRank[tasks[j].Priority]
		if pi != pj {
			return pi > pj
		}
		return tasks[i].Timestamps.CreatedAt.Before(tasks[j].Timestamps.CreatedAt)
	})
	return tasks, nil
}

// completedSet returns the ids of every completed task.
func (q *Queue) completedSet() (map[string]bool, error) {
	all, err := q.LoadAll()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, t := range all {
		if t.Status == StatusCompleted {
			set[t.ID] = true
		}
	}
	return set, nil
}

// Claimable reports whether agent may claim t: t is pending, assigned_to is
// empty/"auto"/agent, and every dependency id is in the completed set.
func Claimable(t Task, agent string, completed map[string]bool) bool {
	if t.Status != StatusPending {
		return false
	}
	if t.AssignedTo != "" && t.AssignedTo != "auto" && t.AssignedTo != agent {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// FindClaimable returns every pending task agent may claim right now.
func (q *Queue) FindClaimable(agent string) ([]Task, error) {
	all, err := q.LoadAll()
	if err != nil {
		return nil, err
	}
	completed, err := q.completedSet()
	if err != nil {
		return nil, err
	}
	var result []Task
	for _, t := range all {
		if Claimable(t, agent, completed) {
			result = append(result, t)
		}
	}
	return result, nil
}

// withClaimLock runs fn under an advisory flock on tasks/.lock, serializing
// claim transitions across processes on one machine. If the lock cannot be
// taken the claim proceeds unlocked; per-file atomicity still holds.
func (q *Queue) withClaimLock(fn func() error) error {
	if err := fileutil.EnsureDir(q.dir); err != nil {
		return cerrors.Wrap(cerrors.KindIO, "creating tasks dir", err)
	}
	f, err := os.OpenFile(filepath.Join(q.dir, ".lock"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fn()
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fn()
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return fn()
}

// Claim transitions a pending task to claimed for agent, enforcing the claim
// rule. Concurrent claimants on one machine serialize on the advisory lock;
// the loser observes the claimed status and gets a StateConflict.
func (q *Queue) Claim(id, agent string) (*Task, error) {
	var t *Task
	err := q.withClaimLock(func() error {
		loaded, err := q.Load(id)
		if err != nil {
			return err
		}
		completed, err := q.completedSet()
		if err != nil {
			return err
		}
		if !Claimable(*loaded, agent, completed) {
			return cerrors.StateConflict("task %s is not claimable by %s", id, agent)
		}
		loaded.ClaimedBy = agent
		now := time.Now()
		loaded.Timestamps.ClaimedAt = &now
		if err := q.transition(loaded, StatusClaimed); err != nil {
			return err
		}
		t = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateProgress sets progress (clamped 0-100); from claimed it also
// transitions to in_progress.
func (q *Queue) UpdateProgress(id string, progress int) (*Task, error) {
	t, err := q.Load(id)
	if err != nil {
		return nil, err
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	target := t.Status
	if t.Status == StatusClaimed {
		target = StatusInProgress
		now := time.Now()
		t.Timestamps.StartedAt = &now
	}
	if err := q.transition(t, target); err != nil {
		return nil, err
	}
	return t, nil
}

// Complete sets progress to 100 and transitions to completed.
func (q *Queue) Complete(id string) (*Task, error) {
	t, err := q.Load(id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCancelled {
		return nil, cerrors.StateConflict("task %s: cannot complete a cancelled task", id)
	}
	t.Progress = 100
	now := time.Now()
	t.Timestamps.CompletedAt = &now
	if err := q.transition(t, StatusCompleted); err != nil {
		return nil, err
	}
	return t, nil
}

// Block transitions an in_progress task to blocked.
func (q *Queue) Block(id string) (*Task, error) {
	t, err := q.Load(id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusInProgress {
		return nil, cerrors.StateConflict("task %s: only an in-progress task can be blocked", id)
	}
	if err := q.transition(t, StatusBlocked); err != nil {
		return nil, err
	}
	return t, nil
}

// Unblock transitions a blocked task back to in_progress.
func (q *Queue) Unblock(id string) (*Task, error) {
	t, err := q.Load(id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusBlocked {
		return nil, cerrors.StateConflict("task %s: not blocked", id)
	}
	if err := q.transition(t, StatusInProgress); err != nil {
		return nil, err
	}
	return t, nil
}

// Cancel transitions any non-terminal task to cancelled.
func (q *Queue) Cancel(id string) (*Task, error) {
	t, err := q.Load(id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusCompleted {
		return nil, cerrors.StateConflict("task %s: cannot cancel a completed task", id)
	}
	if err := q.transition(t, StatusCancelled); err != nil {
		return nil, err
	}
	return t, nil
}

// Statistics summarizes the queue's current state.
type Statistics struct {
	Counts               map[Status]int
	Total                int
	CompletionPercentage float64
}

// ActiveCount returns claimed + in_progress.
func (s Statistics) ActiveCount() int {
	return s.Counts[StatusClaimed] + s.Counts[StatusInProgress]
}

// GetStatistics computes per-status counts and completion percentage.
func (q *Queue) GetStatistics() (Statistics, error) {
	all, err := q.LoadAll()
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{Counts: make(map[Status]int)}
	for _, t := range all {
		stats.Counts[t.Status]++
	}
	stats.Total = len(all)
	if stats.Total > 0 {
		stats.CompletionPercentage = float64(stats.Counts[StatusCompleted]) / float64(stats.Total)
	}
	return stats, nil
}

// AgentAssignments maps agent id to the tasks it is claimed_by, or, failing
// that, assigned_to (excluding the "auto" sentinel). Used by status
// reporting, not by the claim algorithm.
func (q *Queue) AgentAssignments() (map[string][]Task, error) {
	all, err := q.LoadAll()
	if err != nil {
		return nil, err
	}
	result := make(map[string][]Task)
	for _, t := range all {
		switch {
		case t.ClaimedBy != "":
			result[t.ClaimedBy] = append(result[t.ClaimedBy], t)
		case t.AssignedTo != "" && t.AssignedTo != "auto":
			result[t.AssignedTo] = append(result[t.AssignedTo], t)
		}
	}
	return result, nil
}

// Package worktree implements per-agent git worktree lifecycle.
package worktree

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/re-cinq/colony/internal/cerrors"
	"github.com/re-cinq/colony/internal/git"
)

// Manager creates and removes per-agent worktrees rooted at repoDir.
type Manager struct {
	repo   *git.Repo
	logger *slog.Logger
}

// New builds a Manager for the repository at repoDir.
func New(repoDir string, logger *slog.Logger) *Manager {
	return &Manager{repo: git.NewRepo(repoDir), logger: logger}
}

// IsGitRepo reports whether the manager's directory is inside a git working tree.
func (m *Manager) IsGitRepo() bool {
	return git.IsGitRepo(m.repo.Dir)
}

// EnsureWorktree returns the existing path for agentID's worktree if one is
// already registered with git, otherwise creates one anchored at the
// current branch (or, in detached HEAD, at the current commit sha with a
// logged warning). branchName is the branch to check out; if empty, it
// defaults to "agent/<agentID>".
func (m *Manager) EnsureWorktree(agentID, path, branchName string) (string, error) {
	if !m.IsGitRepo() {
		return "", cerrors.Worktree(nil, "not inside a git repository")
	}

	existing, err := m.repo.ListWorktrees()
	if err != nil {
		return "", cerrors.Worktree(err, "listing worktrees")
	}
	for _, wt := range existing {
		if wt.Path == path {
			return path, nil
		}
	}

	// A directory may exist at path without being a registered worktree —
	// a leftover from a crash between mkdir and `git worktree add`.
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		if m.logger != nil {
			m.logger.Warn("removing stale unregistered worktree directory", "path", path)
		}
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return "", cerrors.Worktree(rmErr, "removing stale directory %s", path)
		}
	}

	base, detached, err := m.repo.CurrentBranch()
	if err != nil {
		return "", cerrors.Worktree(err, "determining current branch")
	}
	if branchName == "" {
		branchName = "agent/" + agentID
	}

	if detached {
		sha, err := m.repo.HeadCommit("HEAD")
		if err != nil {
			return "", cerrors.Worktree(err, "resolving detached HEAD commit")
		}
		short := sha
		if len(short) > 8 {
			short = short[:8]
		}
		if m.logger != nil {
			m.logger.Warn("anchoring worktree at detached HEAD", "agent", agentID, "commit", short)
		}
		if err := m.repo.CreateWorktree(path, branchName, sha); err != nil {
			return "", cerrors.Worktree(err, "creating worktree for %s", agentID)
		}
		return path, nil
	}

	if err := m.repo.CreateWorktree(path, branchName, base); err != nil {
		return "", cerrors.Worktree(err, "creating worktree for %s", agentID)
	}
	return path, nil
}

// RemoveWorktree force-removes the worktree at path. A missing path is a no-op.
func (m *Manager) RemoveWorktree(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := m.repo.RemoveWorktree(path, true); err != nil {
		return cerrors.Worktree(err, "removing worktree %s", path)
	}
	return nil
}

// ListWorktrees returns every worktree registered in the repository.
func (m *Manager) ListWorktrees() ([]git.WorktreeInfo, error) {
	wts, err := m.repo.ListWorktrees()
	if err != nil {
		return nil, cerrors.Worktree(err, "listing worktrees")
	}
	return wts, nil
}

// Describe returns a human-readable summary, used by `colony status`.
func Describe(info git.WorktreeInfo) string {
	if info.Detached {
		return fmt.Sprintf("%s @ %s (detached)", info.Path, info.Head)
	}
	return fmt.Sprintf("%s @ %s", info.Path, info.Branch)
}

// Package fileutil derives every well-known path under a colony's
// filesystem tree from the repository root.
package fileutil

import (
	"os"
	"path/filepath"
)

// EnsureDir creates a directory and all parent directories with 0755 permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// ColonyDir returns the `.colony` root for a repository.
func ColonyDir(repoDir string) string {
	return filepath.Join(repoDir, ".colony")
}

// ColonySubpath builds a path to a subdirectory/file within `.colony`.
func ColonySubpath(repoDir string, parts ...string) string {
	all := append([]string{ColonyDir(repoDir)}, parts...)
	return filepath.Join(all...)
}

// WorktreesDir returns `.colony/worktrees`.
func WorktreesDir(repoDir string) string {
	return ColonySubpath(repoDir, "worktrees")
}

// WorktreePath returns `.colony/worktrees/<agentID>`.
func WorktreePath(repoDir, agentID string) string {
	return ColonySubpath(repoDir, "worktrees", agentID)
}

// ProjectsDir returns `.colony/projects`.
func ProjectsDir(repoDir string) string {
	return ColonySubpath(repoDir, "projects")
}

// ProjectPath returns `.colony/projects/<agentID>`.
func ProjectPath(repoDir, agentID string) string {
	return ColonySubpath(repoDir, "projects", agentID)
}

// LogsDir returns `.colony/logs`.
func LogsDir(repoDir string) string {
	return ColonySubpath(repoDir, "logs")
}

// LogPath returns `.colony/logs/<agentID>.log`.
func LogPath(repoDir, agentID string) string {
	return ColonySubpath(repoDir, "logs", agentID+".log")
}

// MessagesDir returns `.colony/messages`.
func MessagesDir(repoDir string) string {
	return ColonySubpath(repoDir, "messages")
}

// TasksDir returns `.colony/tasks`.
func TasksDir(repoDir string) string {
	return ColonySubpath(repoDir, "tasks")
}

// StateDir returns `.colony/state` (the shared-state engine's git-backed root).
func StateDir(repoDir string) string {
	return ColonySubpath(repoDir, "state")
}

// CacheDir returns `.colony/cache`.
func CacheDir(repoDir string) string {
	return ColonySubpath(repoDir, "cache")
}

// CacheDBPath returns `.colony/cache/state.db`.
func CacheDBPath(repoDir string) string {
	return ColonySubpath(repoDir, "cache", "state.db")
}

// StateSnapshotPath returns `.colony/state.json`.
func StateSnapshotPath(repoDir string) string {
	return ColonySubpath(repoDir, "state.json")
}

// CommunicationGuidePath returns `.colony/COLONY_COMMUNICATION.md`.
func CommunicationGuidePath(repoDir string) string {
	return ColonySubpath(repoDir, "COLONY_COMMUNICATION.md")
}

// ConfigPath returns `<repoDir>/colony.yml`.
func ConfigPath(repoDir string) string {
	return filepath.Join(repoDir, "colony.yml")
}

package colony

import (
	"log/slog"

	"github.com/re-cinq/colony/internal/sharedstate"
	"github.com/re-cinq/colony/internal/task"
)

// SyncFromQueue promotes every completed claim-queue task into the shared
// ledger as a completed entry. The bridge is one-directional: the ledger
// never writes back into the claim queue. Returns the number of tasks
// newly promoted.
func SyncFromQueue(q *task.Queue, engine *sharedstate.Engine, logger *slog.Logger) (int, error) {
	all, err := q.LoadAll()
	if err != nil {
		return 0, err
	}

	existing, err := engine.ListTasks()
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t.Status == "completed" {
			done[t.ID] = true
		}
	}

	promoted := 0
	for _, t := range all {
		if t.Status != task.StatusCompleted || done[t.ID] {
			continue
		}
		completedAt := t.Timestamps.UpdatedAt
		if t.Timestamps.CompletedAt != nil {
			completedAt = *t.Timestamps.CompletedAt
		}
		if err := engine.ImportCompletedTask(t.ID, t.Title, t.Description, completedAt); err != nil {
			if logger != nil {
				logger.Warn("failed to promote completed task", "task", t.ID, "error", err)
			}
			continue
		}
		promoted++
	}
	return promoted, nil
}

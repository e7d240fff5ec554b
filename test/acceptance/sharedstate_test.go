package acceptance_test

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	_ "modernc.org/sqlite"
)

var _ = Describe("shared state", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("colony-state-*")
		writeFile(filepath.Join(repoDir, "colony.yml"), `
agents:
  - id: backend-1
shared_state:
  backend: git-backed
  location: in-repo
  auto_commit: true
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	// taskID extracts the generated id from `state task create --json` output.
	createTask := func(args ...string) string {
		full := append([]string{"state", "task", "create", "--json"}, args...)
		out, err := colony(repoDir, full...)
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		var t struct {
			ID string `json:"id"`
		}
		Expect(json.Unmarshal([]byte(out), &t)).To(Succeed())
		Expect(t.ID).NotTo(BeEmpty())
		return t.ID
	}

	It("round-trips tasks through jsonl, cache, and the ready derivation", func() {
		idA := createTask("--title", "A")
		idB := createTask("--title", "B", "--blockers", idA)

		out, err := colony(repoDir, "state", "task", "ready")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(idA))
		Expect(out).NotTo(ContainSubstring(idB))

		out, err = colony(repoDir, "state", "task", "complete", idA)
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		out, err = colony(repoDir, "state", "task", "ready")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(idB))
		Expect(out).NotTo(ContainSubstring(idA))

		// tasks.jsonl holds exactly two lines.
		data, err := os.ReadFile(filepath.Join(repoDir, ".colony", "state", "tasks.jsonl"))
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		Expect(lines).To(HaveLen(2))

		// The cache table holds two rows and the sync watermark matches
		// the file's mtime in nanoseconds.
		db, err := sql.Open("sqlite", filepath.Join(repoDir, ".colony", "cache", "state.db"))
		Expect(err).NotTo(HaveOccurred())
		defer db.Close()

		var rows int
		Expect(db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&rows)).To(Succeed())
		Expect(rows).To(Equal(2))

		var synced int64
		Expect(db.QueryRow(`SELECT last_synced_nanos FROM cache_metadata WHERE schema_name = 'tasks'`).Scan(&synced)).To(Succeed())
		info, err := os.Stat(filepath.Join(repoDir, ".colony", "state", "tasks.jsonl"))
		Expect(err).NotTo(HaveOccurred())
		Expect(synced).To(Equal(info.ModTime().UnixNano()))
	})

	It("commits each write to the state repo", func() {
		createTask("--title", "A")

		stateDir := filepath.Join(repoDir, ".colony", "state")
		Expect(filepath.Join(stateDir, ".git")).To(BeADirectory())

		log := gitLog(stateDir)
		Expect(log).To(ContainSubstring("sync tasks"))
	})

	It("tracks a workflow through its steps", func() {
		out, err := colony(repoDir, "state", "workflow", "start", "release", "build", "test")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		out, err = colony(repoDir, "state", "workflow", "list", "--json")
		Expect(err).NotTo(HaveOccurred())
		var workflows []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		Expect(json.Unmarshal([]byte(out), &workflows)).To(Succeed())
		Expect(workflows).To(HaveLen(1))
		Expect(workflows[0].Status).To(Equal("running"))
		id := workflows[0].ID

		_, err = colony(repoDir, "state", "workflow", "step", id, "build", "completed", "--agent", "backend-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = colony(repoDir, "state", "workflow", "complete", id)
		Expect(err).NotTo(HaveOccurred())

		out, err = colony(repoDir, "state", "workflow", "list")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("release"))
		Expect(out).To(ContainSubstring("completed"))
	})

	It("stores and lists memory entries", func() {
		out, err := colony(repoDir, "state", "memory", "add", "chose files over a broker", "--type", "decision", "--key", "queue")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		out, err = colony(repoDir, "state", "memory", "list", "--type", "decision")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("chose files over a broker"))
	})

	It("promotes completed claim-queue tasks into the ledger", func() {
		_, err := colony(repoDir, "task", "create", "q1", "--title", "queue task")
		Expect(err).NotTo(HaveOccurred())
		_, err = colony(repoDir, "task", "complete", "q1")
		Expect(err).NotTo(HaveOccurred())

		out, err := colony(repoDir, "state", "sync-from-queue")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		Expect(out).To(ContainSubstring("promoted 1"))

		out, err = colony(repoDir, "state", "task", "list")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("q1"))
		Expect(out).To(ContainSubstring("completed"))

		// Re-running promotes nothing new.
		out, err = colony(repoDir, "state", "sync-from-queue")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("promoted 0"))
	})
})

func gitLog(dir string) string {
	out, err := gitOutput(dir, "log", "--format=%s")
	Expect(err).NotTo(HaveOccurred())
	return out
}

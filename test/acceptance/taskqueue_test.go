package acceptance_test

import (
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("task queue", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("colony-task-*")
		writeFile(filepath.Join(repoDir, "colony.yml"), `
agents:
  - id: backend-1
  - id: frontend-1
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("gates claims on completed dependencies", func() {
		out, err := colony(repoDir, "task", "create", "t1", "--title", "base work")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		out, err = colony(repoDir, "task", "create", "t2", "--title", "follow-up", "--deps", "t1")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		out, err = colony(repoDir, "task", "claimable", "any-agent")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("t1"))
		Expect(out).NotTo(ContainSubstring("t2"))

		out, err = colony(repoDir, "task", "complete", "t1")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		out, err = colony(repoDir, "task", "claimable", "any-agent")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("t2"))
		Expect(out).NotTo(ContainSubstring("t1"))
	})

	It("moves the task file between status folders", func() {
		_, err := colony(repoDir, "task", "create", "t1", "--title", "work")
		Expect(err).NotTo(HaveOccurred())
		_, err = colony(repoDir, "task", "claim", "t1", "backend-1")
		Expect(err).NotTo(HaveOccurred())
		_, err = colony(repoDir, "task", "progress", "t1", "50")
		Expect(err).NotTo(HaveOccurred())

		tasksDir := filepath.Join(repoDir, ".colony", "tasks")
		Expect(filepath.Join(tasksDir, "in_progress", "t1.json")).To(BeARegularFile())
		Expect(filepath.Join(tasksDir, "pending", "t1.json")).NotTo(BeAnExistingFile())
		Expect(filepath.Join(tasksDir, "claimed", "t1.json")).NotTo(BeAnExistingFile())
	})

	It("lets exactly one of two racing agents claim a task", func() {
		_, err := colony(repoDir, "task", "create", "contested", "--title", "grab me")
		Expect(err).NotTo(HaveOccurred())

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, agent := range []string{"backend-1", "frontend-1"} {
			wg.Add(1)
			go func(i int, agent string) {
				defer wg.Done()
				defer GinkgoRecover()
				_, errs[i] = colony(repoDir, "task", "claim", "contested", agent)
			}(i, agent)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
			}
		}
		Expect(succeeded).To(Equal(1), "exactly one claim must win")

		// The task is not duplicated across folders.
		count := 0
		for _, status := range []string{"pending", "claimed", "in_progress", "blocked", "completed", "cancelled"} {
			if _, err := os.Stat(filepath.Join(repoDir, ".colony", "tasks", status, "contested.json")); err == nil {
				count++
			}
		}
		Expect(count).To(Equal(1))
		Expect(filepath.Join(repoDir, ".colony", "tasks", "claimed", "contested.json")).To(BeARegularFile())
	})

	It("refuses to claim a task assigned to another agent and says why", func() {
		_, err := colony(repoDir, "task", "create", "t1", "--title", "x", "--assigned", "backend-1")
		Expect(err).NotTo(HaveOccurred())

		out, err := colony(repoDir, "task", "claim", "t1", "frontend-1")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("not claimable"))
	})

	It("reports statistics", func() {
		for _, id := range []string{"a", "b", "c"} {
			_, err := colony(repoDir, "task", "create", id, "--title", id)
			Expect(err).NotTo(HaveOccurred())
		}
		_, err := colony(repoDir, "task", "complete", "a")
		Expect(err).NotTo(HaveOccurred())
		_, err = colony(repoDir, "task", "claim", "b", "backend-1")
		Expect(err).NotTo(HaveOccurred())

		out, err := colony(repoDir, "task", "stats")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("total: 3"))
		Expect(out).To(ContainSubstring("active: 1"))
		Expect(out).To(ContainSubstring("33%"))
	})
})

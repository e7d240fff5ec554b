package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("colony status", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("colony-status-*")
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("prints an empty table for a colony with no agents", func() {
		writeFile(filepath.Join(repoDir, "colony.yml"), "agents: []\n")
		out, err := colony(repoDir, "status")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		Expect(out).To(ContainSubstring("no agents configured"))
	})

	It("shows each configured agent as idle before start", func() {
		writeFile(filepath.Join(repoDir, "colony.yml"), `
agents:
  - id: backend-1
    role: "Backend Engineer"
  - id: frontend-1
    role: "Frontend Engineer"
`)
		out, err := colony(repoDir, "status")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		Expect(out).To(ContainSubstring("backend-1"))
		Expect(out).To(ContainSubstring("frontend-1"))
		Expect(out).To(ContainSubstring("Backend Engineer"))
		Expect(out).To(ContainSubstring("idle"))
	})

	It("start refuses a colony with no agents", func() {
		writeFile(filepath.Join(repoDir, "colony.yml"), "agents: []\n")
		out, err := colony(repoDir, "start", "--no-attach")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("no agents"))
	})
})

var _ = Describe("colony start", func() {
	var tmpDir, repoDir, fakeBin string

	BeforeEach(func() {
		if _, err := exec.LookPath("tmux"); err != nil {
			Skip("tmux not installed")
		}
		tmpDir, repoDir = setupTestRepo("colony-start-*")
		// A stand-in assistant that stays alive so panes do not exit.
		fakeBin = filepath.Join(tmpDir, "bin")
		writeFile(filepath.Join(fakeBin, "claude"), "#!/bin/sh\nsleep 600\n")
		Expect(os.Chmod(filepath.Join(fakeBin, "claude"), 0755)).To(Succeed())
		writeFile(filepath.Join(repoDir, "colony.yml"), `
name: accept-start
agents:
  - id: backend-1
    role: "Backend Engineer"
  - id: frontend-1
    role: "Frontend Engineer"
`)
	})

	AfterEach(func() {
		exec.Command("tmux", "kill-session", "-t", "colony-accept-start").Run()
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("creates worktrees, a session, and a running state snapshot", func() {
		out, err := colonyWithPath(repoDir, fakeBin, "start", "--no-attach")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		Expect(filepath.Join(repoDir, ".colony", "worktrees", "backend-1")).To(BeADirectory())
		Expect(filepath.Join(repoDir, ".colony", "worktrees", "frontend-1")).To(BeADirectory())

		sessionOut, err := gitOutput(repoDir, "worktree", "list")
		Expect(err).NotTo(HaveOccurred())
		Expect(sessionOut).To(ContainSubstring("backend-1"))

		Expect(exec.Command("tmux", "has-session", "-t", "colony-accept-start").Run()).To(Succeed())

		Expect(filepath.Join(repoDir, ".colony", "state.json")).To(BeARegularFile())

		statusOut, err := colony(repoDir, "status")
		Expect(err).NotTo(HaveOccurred())
		Expect(statusOut).To(ContainSubstring("backend-1"))
		Expect(statusOut).To(ContainSubstring("frontend-1"))
		Expect(statusOut).To(ContainSubstring("running"))

		// Helper scripts are emitted per agent.
		Expect(filepath.Join(repoDir, ".colony", "projects", "backend-1", "colony_message.sh")).To(BeARegularFile())
		Expect(filepath.Join(repoDir, ".colony", "projects", "backend-1", "colony_state.sh")).To(BeARegularFile())
		Expect(filepath.Join(repoDir, ".colony", "COLONY_COMMUNICATION.md")).To(BeARegularFile())
	})

	It("destroy removes worktrees and .colony but keeps colony.yml", func() {
		_, err := colonyWithPath(repoDir, fakeBin, "start", "--no-attach")
		Expect(err).NotTo(HaveOccurred())

		out, err := colony(repoDir, "destroy", "--yes")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		Expect(filepath.Join(repoDir, ".colony")).NotTo(BeAnExistingFile())
		Expect(filepath.Join(repoDir, "colony.yml")).To(BeARegularFile())

		branches, err := gitOutput(repoDir, "worktree", "list")
		Expect(err).NotTo(HaveOccurred())
		Expect(branches).NotTo(ContainSubstring(".colony/worktrees"))
	})
})

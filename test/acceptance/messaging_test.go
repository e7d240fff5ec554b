package acceptance_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("messaging", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("colony-msg-*")
		writeFile(filepath.Join(repoDir, "colony.yml"), `
agents:
  - id: backend-1
  - id: frontend-1
`)
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("broadcast writes one file under messages/broadcast with the expected fields", func() {
		out, err := colony(repoDir, "broadcast", "deploy freeze at 5pm")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		broadcastDir := filepath.Join(repoDir, ".colony", "messages", "broadcast")
		entries, err := os.ReadDir(broadcastDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))

		data, err := os.ReadFile(filepath.Join(broadcastDir, entries[0].Name()))
		Expect(err).NotTo(HaveOccurred())
		var msg map[string]any
		Expect(json.Unmarshal(data, &msg)).To(Succeed())
		Expect(msg["from"]).To(Equal("operator"))
		Expect(msg["to"]).To(Equal("all"))
		Expect(msg["content"]).To(Equal("deploy freeze at 5pm"))
		Expect(msg["message_type"]).To(Equal("info"))
	})

	It("messages all lists the broadcast", func() {
		_, err := colony(repoDir, "broadcast", "deploy freeze at 5pm")
		Expect(err).NotTo(HaveOccurred())

		out, err := colony(repoDir, "messages", "all")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		Expect(out).To(ContainSubstring("deploy freeze at 5pm"))
		Expect(out).To(ContainSubstring("operator"))
	})

	It("directed messages land in inbox and outbox", func() {
		out, err := colony(repoDir, "message", "send", "frontend-1", "API is ready", "--from", "backend-1", "--type", "completed")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)

		inbox, err := os.ReadDir(filepath.Join(repoDir, ".colony", "messages", "frontend-1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(inbox).To(HaveLen(1))

		outbox, err := os.ReadDir(filepath.Join(repoDir, ".colony", "messages", "backend-1", "sent"))
		Expect(err).NotTo(HaveOccurred())
		Expect(outbox).To(HaveLen(1))

		listed, err := colony(repoDir, "messages", "frontend-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(listed).To(ContainSubstring("API is ready"))
		Expect(listed).To(ContainSubstring("completed"))
	})

	It("rejects an invalid recipient", func() {
		out, err := colony(repoDir, "message", "send", "bad recipient!", "hello")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("invalid recipient"))
	})
})

package acceptance_test

import (
	"os/exec"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CLI", func() {
	Describe("colony --help", func() {
		It("exits with code 0", func() {
			cmd := exec.Command(binaryPath, "--help")
			err := cmd.Run()
			Expect(err).NotTo(HaveOccurred())
		})

		It("shows the tool description", func() {
			cmd := exec.Command(binaryPath, "--help")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("fleet of coding agents"))
		})

		It("lists available commands", func() {
			cmd := exec.Command(binaryPath, "--help")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(ContainSubstring("Available Commands"))
			Expect(string(output)).To(ContainSubstring("start"))
			Expect(string(output)).To(ContainSubstring("task"))
			Expect(string(output)).To(ContainSubstring("state"))
			Expect(string(output)).To(ContainSubstring("version"))
		})
	})

	Describe("colony version", func() {
		It("prints a version string", func() {
			cmd := exec.Command(binaryPath, "version")
			output, err := cmd.CombinedOutput()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(output)).To(MatchRegexp(`colony \S+`))
		})
	})
})

var _ = Describe("colony validate", func() {
	var tmpDir, repoDir string

	BeforeEach(func() {
		tmpDir, repoDir = setupTestRepo("colony-validate-*")
	})

	AfterEach(func() {
		cleanupTestRepo(repoDir, tmpDir)
	})

	It("accepts a well-formed config", func() {
		writeFile(repoDir+"/colony.yml", `
agents:
  - id: backend-1
    role: "Backend Engineer"
  - id: frontend-1
    role: "Frontend Engineer"
`)
		out, err := colony(repoDir, "validate")
		Expect(err).NotTo(HaveOccurred(), "output: %s", out)
		Expect(out).To(ContainSubstring("2 agent(s)"))
	})

	It("reports every violation at once", func() {
		writeFile(repoDir+"/colony.yml", `
agents:
  - id: worker
  - id: worker
  - id: "bad id!"
`)
		out, err := colony(repoDir, "validate")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("duplicate"))
		Expect(out).To(ContainSubstring("must match"))
	})

	It("rejects the reserved id all", func() {
		writeFile(repoDir+"/colony.yml", `
agents:
  - id: all
`)
		out, err := colony(repoDir, "validate")
		Expect(err).To(HaveOccurred())
		Expect(out).To(ContainSubstring("reserved"))
	})
})

package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func initTestRepo(t *testing.T) *Repo {
	t.Helper()
	r := NewRepo(t.TempDir())
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	r.EnsureIdentity()
	return r
}

func commitFile(t *testing.T, r *Repo, name, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(r.Dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := r.StageAll(); err != nil {
		t.Fatal(err)
	}
	if err := r.Commit(msg); err != nil {
		t.Fatal(err)
	}
}

func TestIsGitRepo(t *testing.T) {
	if IsGitRepo(t.TempDir()) {
		t.Error("bare temp dir reported as git repo")
	}
	r := initTestRepo(t)
	if !IsGitRepo(r.Dir) {
		t.Error("initialized repo not recognized")
	}
}

func TestHasChangesAndCommit(t *testing.T) {
	r := initTestRepo(t)

	changed, err := r.HasChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("fresh repo reports changes")
	}

	commitFile(t, r, "a.txt", "hello", "add a")

	changed, err = r.HasChanges()
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("changes remain after commit")
	}

	msg, err := r.CommitMessage("HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if msg != "add a" {
		t.Errorf("commit message = %q", msg)
	}
}

func TestCurrentBranchDetached(t *testing.T) {
	r := initTestRepo(t)
	commitFile(t, r, "a.txt", "x", "initial")

	branch, detached, err := r.CurrentBranch()
	if err != nil {
		t.Fatal(err)
	}
	if detached || branch == "" {
		t.Errorf("branch = %q, detached = %v", branch, detached)
	}

	sha, err := r.HeadCommit("HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.run("checkout", "--detach", sha); err != nil {
		t.Fatal(err)
	}

	_, detached, err = r.CurrentBranch()
	if err != nil {
		t.Fatal(err)
	}
	if !detached {
		t.Error("detached HEAD not detected")
	}
}

func TestCommitsBetween(t *testing.T) {
	r := initTestRepo(t)
	commitFile(t, r, "a.txt", "1", "first")
	first, _ := r.HeadCommit("HEAD")
	commitFile(t, r, "a.txt", "2", "second")
	commitFile(t, r, "a.txt", "3", "third")

	commits, err := r.CommitsBetween(first, "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Errorf("commits between = %d, want 2", len(commits))
	}
}

func TestTransientErrorRetries(t *testing.T) {
	if !isTransient("fatal: Unable to create '/repo/.git/index.lock': File exists") {
		t.Error("index.lock not recognized as transient")
	}
	if isTransient("fatal: not a git repository") {
		t.Error("permanent error treated as transient")
	}
}

func TestRunRetriesThenFails(t *testing.T) {
	// Point run at a directory that is not a repo: the failure is permanent,
	// so no retries should be attempted (and no sleeping).
	slept := 0
	orig := sleepFunc
	sleepFunc = func(time.Duration) { slept++ }
	defer func() { sleepFunc = orig }()

	r := NewRepo(t.TempDir())
	if _, err := r.run("status"); err == nil {
		t.Error("status in non-repo succeeded")
	}
	if slept != 0 {
		t.Errorf("slept %d times on a permanent error", slept)
	}
}

func TestRemotes(t *testing.T) {
	r := initTestRepo(t)
	if r.RemoteExists("origin") {
		t.Error("fresh repo has origin")
	}
	if err := r.AddRemote("origin", "https://example.com/repo.git"); err != nil {
		t.Fatal(err)
	}
	if !r.RemoteExists("origin") {
		t.Error("added remote not found")
	}
}

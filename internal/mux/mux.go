// Package mux is a thin façade over a terminal multiplexer (tmux). It knows
// nothing about agents; callers supply session names, pane targets, and titles.
package mux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/re-cinq/colony/internal/cerrors"
)

// candidateBinaryPaths are checked, in order, after PATH lookup fails.
var candidateBinaryPaths = []string{
	"/opt/homebrew/bin/tmux",
	"/usr/local/bin/tmux",
	"/usr/bin/tmux",
}

// Driver wraps invocations of the tmux binary.
type Driver struct {
	bin string
}

// New resolves the tmux binary, checking PATH then well-known install
// locations. Returns an error only the caller's availability probe should act on.
func New() (*Driver, error) {
	if path, err := exec.LookPath("tmux"); err == nil {
		return &Driver{bin: path}, nil
	}
	for _, candidate := range candidateBinaryPaths {
		if _, err := exec.LookPath(candidate); err == nil {
			return &Driver{bin: candidate}, nil
		}
	}
	return nil, cerrors.Mux(nil, "tmux not found on PATH or in well-known install locations")
}

// Available reports whether a usable tmux binary was resolved.
func Available() bool {
	_, err := New()
	return err == nil
}

func (d *Driver) run(args ...string) (string, error) {
	cmd := exec.Command(d.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", cerrors.Mux(err, "tmux %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// SessionExists reports whether a session with the given name exists.
func (d *Driver) SessionExists(session string) bool {
	_, err := d.run("has-session", "-t", session)
	return err == nil
}

// KillSession kills a session if it exists; missing sessions are a no-op.
func (d *Driver) KillSession(session string) error {
	if !d.SessionExists(session) {
		return nil
	}
	_, err := d.run("kill-session", "-t", session)
	return err
}

// NewSession creates a detached session with one window running command in dir.
func (d *Driver) NewSession(session, dir, command string) error {
	_, err := d.run("new-session", "-d", "-s", session, "-c", dir, command)
	return err
}

// SplitDirection selects horizontal or vertical pane splitting.
type SplitDirection string

const (
	SplitHorizontal SplitDirection = "-h"
	SplitVertical   SplitDirection = "-v"
)

// SplitWindow splits the target window/pane and runs command in the new
// pane, returning the new pane's index.
func (d *Driver) SplitWindow(target string, dir SplitDirection, workdir, command string) (int, error) {
	out, err := d.run("split-window", string(dir), "-t", target, "-c", workdir, "-P", "-F", "#{pane_index}", command)
	if err != nil {
		return 0, err
	}
	idx, convErr := strconv.Atoi(out)
	if convErr != nil {
		return 0, cerrors.Mux(convErr, "parsing pane index from %q", out)
	}
	return idx, nil
}

// SendKeys sends a literal command line to target, followed by Enter.
func (d *Driver) SendKeys(target, command string) error {
	_, err := d.run("send-keys", "-t", target, command, "Enter")
	return err
}

// SetPaneTitle sets the title of target.
func (d *Driver) SetPaneTitle(target, title string) error {
	_, err := d.run("select-pane", "-t", target, "-T", title)
	return err
}

// Layout selects a window layout.
type Layout string

const (
	LayoutTiled          Layout = "tiled"
	LayoutEvenHorizontal Layout = "even-horizontal"
	LayoutMainHorizontal Layout = "main-horizontal"
)

// SelectLayout applies a named or raw layout string to target.
func (d *Driver) SelectLayout(target string, layout Layout) error {
	_, err := d.run("select-layout", "-t", target, string(layout))
	return err
}

// ResizePane resizes target to a percentage of the window, along the
// horizontal axis when horizontal is true, else the vertical axis.
func (d *Driver) ResizePane(target string, percent int, horizontal bool) error {
	axis := "-y"
	if horizontal {
		axis = "-x"
	}
	_, err := d.run("resize-pane", "-t", target, axis, fmt.Sprintf("%d%%", percent))
	return err
}

// PipePane redirects target's stdout to logPath (Unix only; callers should
// guard with runtime.GOOS).
func (d *Driver) PipePane(target, logPath string) error {
	_, err := d.run("pipe-pane", "-t", target, "-o", fmt.Sprintf("cat >> %s", shellQuote(logPath)))
	return err
}

// AttachCommand returns the exec.Cmd to interactively attach to session,
// wired to the calling process's own stdio by the caller.
func (d *Driver) AttachCommand(session string) *exec.Cmd {
	return exec.Command(d.bin, "attach-session", "-t", session)
}

// SwapPanes swaps the positions of two panes.
func (d *Driver) SwapPanes(paneA, paneB string) error {
	_, err := d.run("swap-pane", "-s", paneA, "-t", paneB)
	return err
}

// BreakPane breaks target out of its window into a new one.
func (d *Driver) BreakPane(target string) error {
	_, err := d.run("break-pane", "-s", target)
	return err
}

// JoinPaneAt joins srcPane into the window containing destTarget.
func (d *Driver) JoinPaneAt(srcPane, destTarget string) error {
	_, err := d.run("join-pane", "-s", srcPane, "-t", destTarget)
	return err
}

// Pane describes one entry from `tmux list-panes`.
type Pane struct {
	ID    string
	Title string
}

// ListPanes lists every pane in session with its id and title.
func (d *Driver) ListPanes(session string) ([]Pane, error) {
	out, err := d.run("list-panes", "-t", session, "-F", "#{pane_id} #{pane_title}")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	var panes []Pane
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, " ", 2)
		p := Pane{ID: parts[0]}
		if len(parts) == 2 {
			p.Title = parts[1]
		}
		panes = append(panes, p)
	}
	return panes, nil
}

// HasPane reports whether session contains a pane with the exact title.
func (d *Driver) HasPane(session, title string) (bool, error) {
	panes, err := d.ListPanes(session)
	if err != nil {
		return false, err
	}
	for _, p := range panes {
		if p.Title == title {
			return true, nil
		}
	}
	return false, nil
}

// FindPane returns the pane id bearing the exact title, or "" if absent.
func (d *Driver) FindPane(session, title string) (string, error) {
	panes, err := d.ListPanes(session)
	if err != nil {
		return "", err
	}
	for _, p := range panes {
		if p.Title == title {
			return p.ID, nil
		}
	}
	return "", nil
}

// KillPane kills a single pane by id.
func (d *Driver) KillPane(paneID string) error {
	_, err := d.run("kill-pane", "-t", paneID)
	return err
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// AgentPaneTitle is the exact title the controller sets for an agent's pane,
// also used by HasPane-based liveness checks.
func AgentPaneTitle(agentID string) string {
	return "Agent: " + agentID
}

// installCommands maps known package managers to their tmux install
// invocation, probed in order.
var installCommands = [][]string{
	{"apt-get", "install", "-y", "tmux"},
	{"dnf", "install", "-y", "tmux"},
	{"pacman", "-S", "--noconfirm", "tmux"},
	{"brew", "install", "tmux"},
}

// TryInstall attempts to install tmux via the first package manager found
// on PATH. Callers MUST obtain user confirmation first.
func TryInstall() error {
	for _, candidate := range installCommands {
		path, err := exec.LookPath(candidate[0])
		if err != nil {
			continue
		}
		cmd := exec.Command(path, candidate[1:]...)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return cerrors.Mux(err, "%s install failed: %s", candidate[0], strings.TrimSpace(string(out)))
		}
		return nil
	}
	return cerrors.Mux(nil, "no known package manager found to install tmux")
}

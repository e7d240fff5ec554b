// Package colonylog builds the single slog.Logger threaded through every
// colony component. Nothing in this package is a package-level global: New
// is called once by the CLI entrypoint and the *slog.Logger is passed down
// as a constructor argument, so tests can swap in a discard handler.
package colonylog

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// Options configures the logger's destination and verbosity.
type Options struct {
	// Writer receives formatted log lines. Defaults to os.Stderr.
	Writer io.Writer
	// Level is the minimum level emitted. Defaults to slog.LevelInfo.
	Level slog.Level
	// NoColor disables ANSI color codes (set automatically for non-terminal writers).
	NoColor bool
}

// New builds a human-readable, leveled console logger backed by tint.
// Lifecycle transitions log at info, swallowed/non-fatal errors (stale
// worktree cleanup, relay reconnects, git push failures) log at warn, and
// only the final CLI-surfaced failure logs at error.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      opts.Level,
		NoColor:    opts.NoColor,
		TimeFormat: "15:04:05",
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything, for use in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

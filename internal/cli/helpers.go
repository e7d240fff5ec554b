package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/re-cinq/colony/internal/colonylog"
	"github.com/re-cinq/colony/internal/config"
)

// loadAndValidateConfig loads a config file and validates it, printing errors to stderr.
func loadAndValidateConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return nil, err
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Error: %s\n", e)
		}
		return nil, fmt.Errorf("%d validation error(s)", len(errs))
	}

	return cfg, nil
}

// resolveRepo finds the git repository root from a config file path.
func resolveRepo(configArg string) (string, error) {
	abs, err := filepath.Abs(configArg)
	if err != nil {
		return "", err
	}
	root := findGitRoot(filepath.Dir(abs))
	if root == "" {
		return "", fmt.Errorf("could not find git repository root")
	}
	return root, nil
}

// findGitRoot walks up from dir looking for a .git entry.
func findGitRoot(dir string) string {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// logger builds the shared console logger for CLI commands.
func logger() *slog.Logger {
	return colonylog.New(colonylog.Options{Level: slog.LevelInfo})
}

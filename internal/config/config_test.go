package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseFillsDefaults(t *testing.T) {
	cfg, err := parse([]byte(`
agents:
  - id: backend-1
    role: "Backend Engineer"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Agents[0].Model != defaultAssistantModel {
		t.Errorf("model = %q, want default %q", cfg.Agents[0].Model, defaultAssistantModel)
	}
	if cfg.SharedState.Path != ".colony/state" {
		t.Errorf("shared_state.path = %q", cfg.SharedState.Path)
	}
	if cfg.SharedState.Branch != "main" {
		t.Errorf("shared_state.branch = %q", cfg.SharedState.Branch)
	}
	if !strings.Contains(cfg.SharedState.CommitMessage, "{schema}") {
		t.Errorf("commit message %q lacks {schema} placeholder", cfg.SharedState.CommitMessage)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantErrs  int
		wantMatch string
	}{
		{
			name: "valid two agents",
			yaml: `
agents:
  - id: backend-1
    role: "Backend Engineer"
  - id: frontend-1
    role: "Frontend Engineer"
`,
			wantErrs: 0,
		},
		{
			name:     "empty agent list is valid for status",
			yaml:     `agents: []`,
			wantErrs: 0,
		},
		{
			name: "duplicate ids",
			yaml: `
agents:
  - id: worker
  - id: worker
`,
			wantErrs:  1,
			wantMatch: "duplicate",
		},
		{
			name: "invalid id characters",
			yaml: `
agents:
  - id: "bad id!"
`,
			wantErrs:  1,
			wantMatch: "must match",
		},
		{
			name: "all is reserved for broadcast",
			yaml: `
agents:
  - id: all
`,
			wantErrs:  1,
			wantMatch: "reserved",
		},
		{
			name: "missing custom directory",
			yaml: `
agents:
  - id: pinned
    directory: /nonexistent/path/for/test
`,
			wantErrs:  1,
			wantMatch: "does not exist",
		},
		{
			name: "every violation reported at once",
			yaml: `
agents:
  - id: worker
  - id: worker
  - id: "bad id!"
`,
			wantErrs: 2,
		},
		{
			name: "unsupported shared-state backend",
			yaml: `
agents:
  - id: worker
shared_state:
  backend: postgres
`,
			wantErrs:  1,
			wantMatch: "unsupported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			errs := Validate(cfg)
			if len(errs) != tt.wantErrs {
				t.Fatalf("got %d errors %v, want %d", len(errs), errs, tt.wantErrs)
			}
			if tt.wantMatch != "" {
				found := false
				for _, e := range errs {
					if strings.Contains(e.Error(), tt.wantMatch) {
						found = true
					}
				}
				if !found {
					t.Errorf("no error matching %q in %v", tt.wantMatch, errs)
				}
			}
		})
	}
}

func TestValidateCustomDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Agents: []AgentConfig{{ID: "pinned", Directory: dir}}}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("existing custom directory rejected: %v", errs)
	}
}

func TestSessionName(t *testing.T) {
	tests := []struct {
		name     string
		cfgName  string
		basename string
		want     string
	}{
		{"explicit name wins", "myproj", "ignored", "colony-myproj"},
		{"derived from basename", "", "my-repo", "colony-my-repo"},
		{"sanitizes punctuation", "", "my repo (v2)", "colony-my-repo--v2-"},
		{"sanitizes dots", "", "repo.git", "colony-repo-git"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Name: tt.cfgName}
			if got := cfg.SessionName(tt.basename); got != tt.want {
				t.Errorf("SessionName(%q) = %q, want %q", tt.basename, got, tt.want)
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var cfg struct {
		Interval Duration `yaml:"interval"`
	}
	if err := yaml.Unmarshal([]byte(`interval: 10s`), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Interval.Duration() != 10*time.Second {
		t.Errorf("interval = %v, want 10s", cfg.Interval.Duration())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "colony.yml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colony.yml")
	if err := os.WriteFile(path, []byte("name: demo\nagents:\n  - id: a1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "demo" || len(cfg.Agents) != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

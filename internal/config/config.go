// Package config loads and validates colony.yml, the single declarative
// configuration file for a colony.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// agentIDPattern is the id grammar shared by agents, message recipients,
// and task assignment: non-empty, [A-Za-z0-9_-]+.
var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidAgentID reports whether id is a legal agent identifier.
func ValidAgentID(id string) bool {
	return id != "" && agentIDPattern.MatchString(id)
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the parsed contents of colony.yml.
type Config struct {
	Name        string            `yaml:"name,omitempty"`
	Agents      []AgentConfig     `yaml:"agents"`
	Executor    *AgentConfig      `yaml:"executor,omitempty"`
	SharedState SharedStateConfig `yaml:"shared_state,omitempty"`
	Relay       RelayConfig       `yaml:"relay,omitempty"`
	Telemetry   TelemetryConfig   `yaml:"telemetry,omitempty"`
}

// AgentConfig declares one agent in the colony.
type AgentConfig struct {
	ID            string            `yaml:"id"`
	Role          string            `yaml:"role"`
	Focus         string            `yaml:"focus"`
	Model         string            `yaml:"model"`
	Directory     string            `yaml:"directory,omitempty"`
	Worktree      string            `yaml:"worktree,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	MCPServers    map[string]any    `yaml:"mcp_servers,omitempty"`
	Instructions  string            `yaml:"instructions,omitempty"`
	StartupPrompt string            `yaml:"startup_prompt,omitempty"`
}

// HasCustomDirectory reports whether the agent pins a custom directory,
// which skips worktree creation.
func (a AgentConfig) HasCustomDirectory() bool {
	return a.Directory != ""
}

// SharedStateConfig configures the shared-state engine.
type SharedStateConfig struct {
	Backend       string `yaml:"backend,omitempty"` // git-backed | memory
	Location      string `yaml:"location,omitempty"` // in-repo | external
	Path          string `yaml:"path,omitempty"`
	Repository    string `yaml:"repository,omitempty"`
	Branch        string `yaml:"branch,omitempty"`
	AutoCommit    bool   `yaml:"auto_commit,omitempty"`
	AutoPush      bool   `yaml:"auto_push,omitempty"`
	CommitMessage string `yaml:"commit_message,omitempty"`
}

// RelayConfig configures the optional relay client.
type RelayConfig struct {
	URL       string `yaml:"url,omitempty"`
	ColonyID  string `yaml:"colony_id,omitempty"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// TelemetryConfig covers only the event-emission boundary; the colony
// never implements the collector itself.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty"`
	AnonymousID string `yaml:"anonymous_id,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
}

// defaultAssistantModel is used when an agent entry omits model.
const defaultAssistantModel = "claude-sonnet-4-5"

// Load reads and parses colony.yml at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.SharedState.Path == "" {
		cfg.SharedState.Path = ".colony/state"
	}
	if cfg.SharedState.Branch == "" {
		cfg.SharedState.Branch = "main"
	}
	if cfg.SharedState.Backend == "" {
		cfg.SharedState.Backend = "git-backed"
	}
	if cfg.SharedState.Location == "" {
		cfg.SharedState.Location = "in-repo"
	}
	if cfg.SharedState.CommitMessage == "" {
		cfg.SharedState.CommitMessage = "colony: sync {schema}"
	}

	for i := range cfg.Agents {
		if cfg.Agents[i].Model == "" {
			cfg.Agents[i].Model = defaultAssistantModel
		}
	}

	return &cfg, nil
}

// Validate returns every violation found in cfg, rather than failing fast,
// so the CLI can report them all at once.
func Validate(cfg *Config) []error {
	var errs []error

	// An empty agent list is valid configuration: `status` renders an empty
	// table. Only `start` refuses to launch a colony with no agents.
	ids := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: id is required", i))
			continue
		}
		if !ValidAgentID(a.ID) {
			errs = append(errs, fmt.Errorf("agents[%d]: id %q must match [A-Za-z0-9_-]+", i, a.ID))
			continue
		}
		if a.ID == "all" {
			// "all" is the broadcast sentinel; an agent directory named
			// "all" would shadow messages/broadcast/.
			errs = append(errs, fmt.Errorf("agents[%d]: id %q is reserved for broadcast", i, a.ID))
			continue
		}
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID))
			continue
		}
		ids[a.ID] = true

		if a.HasCustomDirectory() {
			if _, err := os.Stat(a.Directory); err != nil {
				errs = append(errs, fmt.Errorf("agents[%d] (%s): custom directory %q does not exist", i, a.ID, a.Directory))
			}
		}
	}

	switch cfg.SharedState.Backend {
	case "git-backed", "memory", "":
	default:
		errs = append(errs, fmt.Errorf("shared_state.backend: unsupported value %q", cfg.SharedState.Backend))
	}

	return errs
}

var sanitizePattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeName maps any character outside [A-Za-z0-9_-] to '-', used for
// deriving the multiplexer session name from the CWD basename.
func SanitizeName(name string) string {
	return sanitizePattern.ReplaceAllString(name, "-")
}

// SessionName derives the multiplexer session name: "colony-<name>" if Name
// is set, else "colony-<sanitized CWD basename>".
func (cfg *Config) SessionName(cwdBasename string) string {
	if cfg.Name != "" {
		return "colony-" + cfg.Name
	}
	return "colony-" + SanitizeName(cwdBasename)
}

// AgentByID returns the agent config with the given id, or false.
func (cfg *Config) AgentByID(id string) (AgentConfig, bool) {
	for _, a := range cfg.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentConfig{}, false
}

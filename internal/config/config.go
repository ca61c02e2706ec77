// Package config provides hierarchical configuration for specwright using
// koanf. Configuration is loaded with priority: environment variables >
// project config (.specwright/config.yml) > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Configuration holds every tunable of the orchestration engine: worker
// pool sizing, agent timeouts, review parsing policy, and worktree
// lifecycle thresholds.
type Configuration struct {
	// MaxWorkers bounds how many RunSessions the worker pool runs concurrently.
	MaxWorkers int `koanf:"max_workers"`

	// DefaultExecuteTimeout bounds a single Executor invocation, in seconds.
	DefaultExecuteTimeout int `koanf:"default_execute_timeout"`
	// DefaultReviewTimeout bounds a single Reviewer invocation, in seconds.
	DefaultReviewTimeout int `koanf:"default_review_timeout"`

	// MaxRetries bounds how many times agentgateway retries a rate-limited call.
	MaxRetries int `koanf:"max_retries"`

	// ReviewParsePolicy controls how an unparseable review verdict is treated:
	// "optimistic_pass" (default) or "needs_fix".
	ReviewParsePolicy string `koanf:"review_parse_policy"`

	// WorktreeMaxIdleDays is how long a worktree may sit without activity
	// before worktreejanitor considers it stale.
	WorktreeMaxIdleDays int `koanf:"worktree_max_idle_days"`
	// WorktreeJanitorInterval is the cron-style schedule the janitor runs on.
	WorktreeJanitorInterval string `koanf:"worktree_janitor_interval"`
	// WorktreeBaseDir is the parent directory new worktrees are created under;
	// empty means the parent of the project's repository root.
	WorktreeBaseDir string `koanf:"worktree_base_dir"`

	// StateDir holds the SQLite database and any other on-disk state.
	StateDir string `koanf:"state_dir"`

	// ExecutorBaseURL is where the opencode-protocol Executor HTTP server listens.
	ExecutorBaseURL string `koanf:"executor_base_url"`
	// ReviewerCommand is the subprocess command template invoked for review,
	// with a {{PROMPT}} placeholder substituted the way the teacher's custom
	// agent templates work.
	ReviewerCommand string `koanf:"reviewer_command"`
}

const envPrefix = "SPECWRIGHT_"

// ProjectConfigPath returns the default project-level config file path,
// relative to the current directory.
func ProjectConfigPath() string {
	return filepath.Join(".specwright", "config.yml")
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ProjectConfigPath overrides the project config path (default: .specwright/config.yml).
	ProjectConfigPath string
}

// Load loads configuration from project config and environment, layered
// over built-in defaults.
func Load(projectConfigPath string) (*Configuration, error) {
	return LoadWithOptions(LoadOptions{ProjectConfigPath: projectConfigPath})
}

// LoadWithOptions loads configuration with explicit options.
func LoadWithOptions(opts LoadOptions) (*Configuration, error) {
	k := koanf.New(".")

	for key, value := range GetDefaults() {
		k.Set(key, value)
	}

	projectPath := opts.ProjectConfigPath
	if projectPath == "" {
		projectPath = ProjectConfigPath()
	}
	if fileExists(projectPath) {
		if err := ValidateYAMLSyntax(projectPath); err != nil {
			return nil, fmt.Errorf("validating project config: %w", err)
		}
		if err := k.Load(file.Provider(projectPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading project config %s: %w", projectPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment config: %w", err)
	}

	var cfg Configuration
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.StateDir = expandHomePath(cfg.StateDir)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// envTransform converts SPECWRIGHT_MAX_WORKERS -> max_workers.
func envTransform(s string) string {
	return strings.ToLower(strings.TrimPrefix(s, envPrefix))
}

// expandHomePath expands a leading ~/ to the user's home directory.
func expandHomePath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

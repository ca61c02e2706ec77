package config

// GetDefaults returns the default configuration values, layered under
// project config and environment overrides.
func GetDefaults() map[string]any {
	return map[string]any{
		"max_workers":               5,
		"default_execute_timeout":   900, // 15 minutes
		"default_review_timeout":    120,
		"max_retries":               3,
		"review_parse_policy":       "optimistic_pass",
		"worktree_max_idle_days":    7,
		"worktree_janitor_interval": "0 */6 * * *", // every 6 hours
		"worktree_base_dir":         "",
		"state_dir":                 "~/.specwright/state",
		"executor_base_url":         "http://127.0.0.1:4096",
		"reviewer_command":          "",
	}
}

// GetDefaultConfigTemplate returns a fully commented config template to
// seed a new project's .specwright/config.yml.
func GetDefaultConfigTemplate() string {
	return `# specwright configuration
# See internal/config for the full key list.

max_workers: 5                        # concurrent RunSessions the worker pool runs
default_execute_timeout: 900          # seconds, Executor per-chunk timeout
default_review_timeout: 120           # seconds, Reviewer per-chunk timeout
max_retries: 3                        # rate-limit retry attempts before giving up
review_parse_policy: optimistic_pass  # optimistic_pass | needs_fix

worktree_max_idle_days: 7             # days of inactivity before a worktree is stale
worktree_janitor_interval: "0 */6 * * *"  # cron schedule for the worktree janitor
worktree_base_dir: ""                 # parent dir for new worktrees (default: repo's parent)

state_dir: ~/.specwright/state        # SQLite database and other on-disk state

executor_base_url: http://127.0.0.1:4096  # opencode-protocol Executor server
reviewer_command: ""                  # subprocess template with a {{PROMPT}} placeholder
`
}

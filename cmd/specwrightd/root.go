package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "specwrightd",
	Short: "Companion CLI for the specwright chunk orchestration engine",
	Long: `specwrightd is a thin command-line wrapper around the specwright core:
it opens the same durable SQLite store the engine uses, and offers one-shot
and long-running commands to run specs, manage the worker pool, and reconcile
stale worktrees.

It is not an HTTP/REST server: that surface, along with the spec-authoring
UI, is treated as an external collaborator wrapping this module's Go API.`,
	Example: `  # Run the background worker pool and worktree janitor
  specwrightd serve

  # Register a project and kick off a run for one of its specs
  specwrightd project add demo /path/to/repo
  specwrightd worker start <spec-id>

  # Reconcile worktrees left behind by merged/abandoned specs
  specwrightd worktree list-stale
  specwrightd worktree cleanup`,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to project config file (default: .specwright/config.yml)")
	rootCmd.PersistentFlags().String("state-dir", "", "override the state directory holding specwright.db")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

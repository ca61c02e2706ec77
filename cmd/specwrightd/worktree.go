package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/specwright/specwright/internal/output"
	"github.com/specwright/specwright/internal/worktreejanitor"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect and reconcile stale spec worktrees",
}

var worktreeListStaleCmd = &cobra.Command{
	Use:   "list-stale",
	Short: "List specs whose worktree has been idle past the configured threshold",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeListStale,
}

var worktreeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale worktrees and clear their Spec metadata",
	Args:  cobra.NoArgs,
	RunE:  runWorktreeCleanup,
}

func init() {
	worktreeCleanupCmd.Flags().Bool("force", false, "also remove stale worktrees whose PR has not merged")
	rootCmd.AddCommand(worktreeCmd)
	worktreeCmd.AddCommand(worktreeListStaleCmd, worktreeCleanupCmd)
}

func newJanitor(cmd *cobra.Command) (*worktreejanitor.Janitor, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	j := worktreejanitor.New(s, log.Logger, cfg.WorktreeMaxIdleDays, cfg.WorktreeJanitorInterval)
	return j, func() { s.Close() }, nil
}

func runWorktreeListStale(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	j, closeStore, err := newJanitor(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	stale, err := j.ListStale(context.Background(), 0)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		output.PrintSuccess(os.Stdout, "no stale worktrees")
		return nil
	}
	for _, sp := range stale {
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", sp.ID, sp.Title, sp.WorktreePath)
	}
	return nil
}

func runWorktreeCleanup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	force, _ := cmd.Flags().GetBool("force")

	j, closeStore, err := newJanitor(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := j.Cleanup(context.Background(), force)
	if err != nil {
		return err
	}
	for _, e := range report.Errors {
		output.PrintFailure(os.Stdout, e.Error())
	}
	output.PrintSuccess(os.Stdout, fmt.Sprintf("cleaned %d/%d stale worktrees", report.Cleaned, report.Stale))
	return nil
}

// Package worktreejanitor periodically reconciles stale git worktrees:
// Specs whose WorktreeLastActivity has aged past a threshold and whose PR
// has merged (or whose cleanup is forced) get their worktree removed and
// metadata cleared. Scheduling is grounded on the pack's helixml-helix
// knowledge reconciler (internal/controller/knowledge/cron.go), the only
// repo in the corpus that runs a recurring background reconciliation job
// via github.com/go-co-op/gocron/v2.
package worktreejanitor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/specwright/specwright/internal/gitops"
	"github.com/specwright/specwright/internal/store"
)

// DefaultMaxIdleDays mirrors config.Configuration.WorktreeMaxIdleDays.
const DefaultMaxIdleDays = 7

// CleanupReport summarizes one Cleanup pass.
type CleanupReport struct {
	Stale   int
	Cleaned int
	Errors  []error
}

// DefaultSchedule mirrors config.Configuration.WorktreeJanitorInterval: a
// standard 5-field cron expression, every 6 hours.
const DefaultSchedule = "0 */6 * * *"

// Janitor reconciles stale worktrees on a schedule and on demand.
type Janitor struct {
	store       *store.Store
	log         zerolog.Logger
	maxIdleDays int
	schedule    string

	scheduler gocron.Scheduler
}

// New builds a Janitor. schedule is a standard 5-field cron expression
// controlling the recurring Cleanup cadence (config.Configuration's
// WorktreeJanitorInterval); maxIdleDays controls the staleness threshold
// used by ListStale/Cleanup.
func New(s *store.Store, log zerolog.Logger, maxIdleDays int, schedule string) *Janitor {
	if maxIdleDays <= 0 {
		maxIdleDays = DefaultMaxIdleDays
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Janitor{store: s, log: log, maxIdleDays: maxIdleDays, schedule: schedule}
}

// ListStale returns Specs whose worktree has been idle past maxIdleDays and
// whose PR has not merged, across every project.
func (j *Janitor) ListStale(ctx context.Context, maxIdleDays int) ([]*store.Spec, error) {
	if maxIdleDays <= 0 {
		maxIdleDays = j.maxIdleDays
	}
	threshold := time.Now().AddDate(0, 0, -maxIdleDays)

	projects, err := j.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("worktreejanitor: listing projects: %w", err)
	}

	var stale []*store.Spec
	for _, p := range projects {
		specs, err := j.store.ListSpecsByProject(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("worktreejanitor: listing specs for project %s: %w", p.ID, err)
		}
		for _, sp := range specs {
			if sp.WorktreePath == "" {
				continue
			}
			if sp.PRMerged {
				continue
			}
			if sp.WorktreeLastActivity == nil || sp.WorktreeLastActivity.After(threshold) {
				continue
			}
			stale = append(stale, sp)
		}
	}
	return stale, nil
}

// Cleanup removes worktrees for every stale Spec whose PR has merged, or
// for every stale Spec regardless of merge state when force is true.
func (j *Janitor) Cleanup(ctx context.Context, force bool) (*CleanupReport, error) {
	stale, err := j.ListStale(ctx, j.maxIdleDays)
	if err != nil {
		return nil, err
	}

	report := &CleanupReport{Stale: len(stale)}
	for _, sp := range stale {
		if !sp.PRMerged && !force {
			continue
		}
		if err := j.removeWorktree(ctx, sp); err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("spec %s: %w", sp.ID, err))
			continue
		}
		report.Cleaned++
	}
	return report, nil
}

// Delete unconditionally removes a Spec's worktree and clears its metadata,
// regardless of staleness or merge state.
func (j *Janitor) Delete(ctx context.Context, specID string) error {
	sp, err := j.store.GetSpec(ctx, specID)
	if err != nil {
		return fmt.Errorf("worktreejanitor: loading spec: %w", err)
	}
	return j.removeWorktree(ctx, sp)
}

func (j *Janitor) removeWorktree(ctx context.Context, sp *store.Spec) error {
	if sp.WorktreePath == "" {
		return nil
	}
	project, err := j.store.GetProject(ctx, sp.ProjectID)
	if err != nil {
		return fmt.Errorf("loading project: %w", err)
	}
	if err := gitops.RemoveWorktree(ctx, project.Directory, sp.WorktreePath); err != nil {
		return fmt.Errorf("removing worktree: %w", err)
	}
	if err := j.store.ClearWorktree(ctx, sp.ID); err != nil {
		return fmt.Errorf("clearing worktree metadata: %w", err)
	}
	return nil
}

// Start wires Cleanup as a recurring gocron job and blocks until ctx is
// cancelled, mirroring the teacher's cron lifecycle: start the scheduler,
// block on <-ctx.Done(), shut it down on exit.
func (j *Janitor) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("worktreejanitor: creating scheduler: %w", err)
	}
	j.scheduler = scheduler

	_, err = scheduler.NewJob(
		gocron.CronJob(j.schedule, true),
		gocron.NewTask(func() {
			report, err := j.Cleanup(ctx, false)
			if err != nil {
				j.log.Error().Err(err).Msg("worktreejanitor: cleanup pass failed")
				return
			}
			j.log.Info().Int("stale", report.Stale).Int("cleaned", report.Cleaned).Int("errors", len(report.Errors)).Msg("worktreejanitor: cleanup pass complete")
		}),
		gocron.WithName("worktree-cleanup"),
	)
	if err != nil {
		return fmt.Errorf("worktreejanitor: scheduling cleanup job: %w", err)
	}

	scheduler.Start()
	<-ctx.Done()
	return j.Stop()
}

// Stop shuts down the scheduler. Safe to call even if Start was never
// invoked or already returned.
func (j *Janitor) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	if err := j.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("worktreejanitor: shutting down scheduler: %w", err)
	}
	return nil
}

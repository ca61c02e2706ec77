package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/specwright/specwright/internal/eventbus"
	"github.com/specwright/specwright/internal/output"
	"github.com/specwright/specwright/internal/runsession"
	"github.com/specwright/specwright/internal/workerpool"
	"github.com/specwright/specwright/internal/worktreejanitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and worktree janitor in the foreground until interrupted",
	Long: `serve is specwrightd's long-running process: it hosts the WorkerPool's
in-memory RunSession registry, drains the queue as capacity frees up, runs
the WorktreeJanitor on its configured cron schedule, and prints worker/queue
events to stdout as they happen.

Ctrl-C (or SIGTERM) stops admitting new work and waits for running sessions
to unwind before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	bus := eventbus.New(log.Logger)
	sub := bus.Subscribe("workers")
	defer sub.Unsubscribe()

	pool := workerpool.New(s, runsession.NewRegistry(), newExecutor(cfg), newReviewer(cfg), log.Logger,
		func(ev eventbus.Event) { bus.Publish(ev.Topic, ev.Type, ev.Payload) }, cfg.MaxWorkers)

	janitor := worktreejanitor.New(s, log.Logger, cfg.WorktreeMaxIdleDays, cfg.WorktreeJanitorInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	janitorDone := make(chan error, 1)
	go func() { janitorDone <- janitor.Start(ctx) }()

	output.PrintEventSeparator(os.Stdout)
	log.Info().Int("max_workers", cfg.MaxWorkers).Str("worktree_janitor_interval", cfg.WorktreeJanitorInterval).Msg("specwrightd: serving")

	go func() {
		for ev := range sub.Events {
			if ev.Type == "worker_failed" {
				output.PrintFailure(os.Stdout, eventLine(ev))
				continue
			}
			output.PrintSuccess(os.Stdout, eventLine(ev))
		}
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("specwrightd: shutting down")
	case <-ctx.Done():
	}

	cancel()
	pool.Wait()
	<-janitorDone
	return nil
}

func eventLine(ev eventbus.Event) string {
	if ev.Payload == nil {
		return ev.Type
	}
	return fmt.Sprintf("%s: %v", ev.Type, ev.Payload)
}

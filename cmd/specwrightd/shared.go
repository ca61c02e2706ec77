package main

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/specwright/specwright/internal/agentgateway"
	"github.com/specwright/specwright/internal/config"
	"github.com/specwright/specwright/internal/store"
)

// loadConfig resolves configuration the same way every subcommand needs it:
// project config + environment, layered over defaults, with --state-dir
// overriding whatever the file/env layers produced.
func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	projectConfigPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(projectConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if stateDir, _ := cmd.Flags().GetString("state-dir"); stateDir != "" {
		cfg.StateDir = stateDir
	}
	return cfg, nil
}

// openStore opens the SQLite-backed Store under cfg.StateDir.
func openStore(cfg *config.Configuration) (*store.Store, error) {
	dbPath := filepath.Join(cfg.StateDir, "specwright.db")
	s, err := store.Open(dbPath, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", dbPath, err)
	}
	return s, nil
}

// newExecutor builds the Executor agent gateway from configuration.
func newExecutor(cfg *config.Configuration) *agentgateway.OpencodeClient {
	return agentgateway.NewOpencodeClient(cfg.ExecutorBaseURL, log.Logger)
}

// newReviewer builds the Reviewer agent gateway from configuration.
func newReviewer(cfg *config.Configuration) *agentgateway.ReviewerCLI {
	policy := agentgateway.ParsePolicyOptimisticPass
	if cfg.ReviewParsePolicy == string(agentgateway.ParsePolicyNeedsFix) {
		policy = agentgateway.ParsePolicyNeedsFix
	}
	return agentgateway.NewReviewerCLI(cfg.ReviewerCommand, policy, log.Logger)
}

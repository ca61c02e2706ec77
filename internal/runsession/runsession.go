// Package runsession drives one "run all chunks" pass for a single Spec:
// git worktree setup, the dagscheduler/chunkrunner dispatch loop, per-chunk
// commit/reset, and finalization (push + PR). Admission is tracked in a
// process-wide Registry so two Sessions can never race on the same Spec,
// generalizing the teacher's file-based per-run lock (internal/dag/lock.go)
// to an in-memory lock since the Store is single-process.
package runsession

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/specwright/specwright/internal/chunkrunner"
	"github.com/specwright/specwright/internal/dagscheduler"
	cerrors "github.com/specwright/specwright/internal/errors"
	"github.com/specwright/specwright/internal/eventbus"
	"github.com/specwright/specwright/internal/gitops"
	"github.com/specwright/specwright/internal/store"
)

// ErrAlreadyRunning is returned by Registry.Start when a Session is already
// active for the Spec. Callers map this to an HTTP 409.
var ErrAlreadyRunning = errors.New("runsession: a session is already running for this spec")

// Registry tracks the one active Session per Spec. It is process-wide but
// callers can construct a fresh one per test (NewRegistry()) rather than
// reaching into a package-level singleton.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Start admits a new Session for specID, rejecting if one is already active.
func (r *Registry) Start(specID string, sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[specID]; ok {
		return ErrAlreadyRunning
	}
	r.sessions[specID] = sess
	return nil
}

// Unregister removes a Session, called by the Session itself on teardown.
func (r *Registry) Unregister(specID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, specID)
}

// Abort signals the Session for specID to stop, if one is active.
func (r *Registry) Abort(specID string) error {
	r.mu.Lock()
	sess, ok := r.sessions[specID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("runsession: no active session for spec %s", specID)
	}
	sess.Abort()
	return nil
}

// Get returns the active Session for specID, if any.
func (r *Registry) Get(specID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[specID]
	return sess, ok
}

// Session runs one Spec's chunk DAG to completion.
type Session struct {
	specID    string
	projectID string

	store    *store.Store
	runner   *chunkrunner.Runner
	log      zerolog.Logger
	registry *Registry

	abortOnce sync.Once
	abortCh   chan struct{}

	// isPaused is an optional, advisory check consulted at chunk
	// boundaries only (WorkerPool.Pause sets it). A nil check means the
	// Session is never paused, for direct (non-pooled) invocations.
	isPaused func() bool

	subMu    sync.Mutex
	subCh    chan eventbus.Event
	subClosed bool
}

// New builds a Session for specID, bound to a Registry for admission
// control and a chunkrunner.Runner for per-chunk execution.
func New(registry *Registry, s *store.Store, runner *chunkrunner.Runner, log zerolog.Logger, specID, projectID string) *Session {
	return &Session{
		specID:    specID,
		projectID: projectID,
		store:     s,
		runner:    runner,
		log:       log,
		registry:  registry,
		abortCh:   make(chan struct{}),
		subCh:     make(chan eventbus.Event, 256),
	}
}

// SetPauseCheck wires an advisory pause predicate, consulted at chunk
// boundaries by dispatchLoop. Used by WorkerPool to implement Pause/Resume
// without the Session needing to know about worker slots.
func (s *Session) SetPauseCheck(fn func() bool) {
	s.isPaused = fn
}

// waitWhilePaused blocks cooperatively while isPaused returns true, waking
// periodically to recheck both pause and abort. Returns true if it woke up
// because of an abort rather than because the pause cleared.
func (s *Session) waitWhilePaused() (aborted bool) {
	if s.isPaused == nil {
		return false
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for s.isPaused() {
		if s.isAborted() {
			return true
		}
		<-ticker.C
	}
	return s.isAborted()
}

// Events returns the Session's live event channel. Closed on teardown.
func (s *Session) Events() <-chan eventbus.Event { return s.subCh }

// Abort signals the Session to stop at the next chunk boundary. Idempotent.
func (s *Session) Abort() {
	s.abortOnce.Do(func() { close(s.abortCh) })
}

func (s *Session) isAborted() bool {
	select {
	case <-s.abortCh:
		return true
	default:
		return false
	}
}

func (s *Session) emit(eventType string, payload any) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subClosed {
		return
	}
	evt := eventbus.Event{Topic: "spec:" + s.specID, Type: eventType, Payload: payload, Timestamp: time.Now()}
	select {
	case s.subCh <- evt:
	default:
		s.log.Warn().Str("spec_id", s.specID).Str("event", eventType).Msg("runsession: dropping event for slow subscriber")
	}
}

func (s *Session) closeSub() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if !s.subClosed {
		s.subClosed = true
		close(s.subCh)
	}
}

// Run executes the Session's lifecycle: admission is the caller's
// responsibility via Registry.Start before invoking Run. Steps: git init,
// seed state from Store, dispatch loop, abort handling, finalize, teardown.
func (s *Session) Run(ctx context.Context) error {
	defer s.registry.Unregister(s.specID)
	defer s.closeSub()

	spec, err := s.store.GetSpec(ctx, s.specID)
	if err != nil {
		return fmt.Errorf("runsession: loading spec: %w", err)
	}
	project, err := s.store.GetProject(ctx, spec.ProjectID)
	if err != nil {
		return fmt.Errorf("runsession: loading project: %w", err)
	}

	workDir, gitEnabled := s.setupWorktree(ctx, project, spec)

	if err := s.store.UpdateSpecStatus(ctx, spec.ID, store.SpecStatusRunning); err != nil {
		return fmt.Errorf("runsession: marking spec running: %w", err)
	}

	hasFailure, aborted := s.dispatchLoop(ctx, spec, workDir, gitEnabled)

	return s.finalize(ctx, project, spec, workDir, gitEnabled, hasFailure, aborted)
}

// setupWorktree picks the Session's working directory: an existing worktree
// if recorded and present on disk, else a freshly created one, else an
// in-place branch checkout, else git disabled entirely (commit/reset/push
// become no-ops). Each outcome emits a descriptive event.
func (s *Session) setupWorktree(ctx context.Context, project *store.Project, spec *store.Spec) (workDir string, gitEnabled bool) {
	if !gitops.IsGitRepo(project.Directory) {
		s.emit("git_disabled", nil)
		return project.Directory, false
	}

	if spec.WorktreePath != "" && dirExists(spec.WorktreePath) {
		s.emit("worktree_reused", spec.WorktreePath)
		return spec.WorktreePath, true
	}

	branch := spec.BranchName
	if branch == "" {
		branch = gitops.GenerateBranchName(spec.Title)
	}

	path, err := gitops.CreateWorktree(ctx, project.Directory, spec.ID, branch)
	if err == nil {
		now := time.Now()
		if updateErr := s.store.UpdateSpecWorktree(ctx, spec.ID, path, &now, &now); updateErr != nil {
			s.log.Error().Err(updateErr).Msg("runsession: failed to persist worktree path")
		}
		s.emit("worktree_created", path)
		return path, true
	}
	s.log.Warn().Err(err).Str("spec_id", spec.ID).Msg("runsession: worktree creation failed, falling back to in-place checkout")

	if checkoutErr := gitops.CreateBranch(project.Directory, branch, spec.OriginalBranch); checkoutErr != nil {
		s.log.Warn().Err(checkoutErr).Msg("runsession: in-place branch checkout also failed, continuing without git")
		s.emit("git_disabled", nil)
		return project.Directory, false
	}
	s.emit("worktree_fallback_checkout", branch)
	return project.Directory, true
}

// dispatchLoop drives dagscheduler.Ready with chunkrunner until no chunks
// remain ready and none are running, or a failure/abort ends the Spec.
func (s *Session) dispatchLoop(ctx context.Context, spec *store.Spec, workDir string, gitEnabled bool) (hasFailure, aborted bool) {
	chunks, err := s.store.ChunksBySpec(ctx, spec.ID)
	if err != nil {
		s.log.Error().Err(err).Msg("runsession: failed to load chunks")
		return true, false
	}

	completed := make(map[string]bool)
	failedSet := make(map[string]bool)
	for _, c := range chunks {
		if c.Status == store.ChunkStatusCompleted {
			completed[c.ID] = true
		}
	}
	running := make(map[string]bool)

	for {
		if s.isAborted() {
			return false, true
		}

		ready := dagscheduler.Ready(chunks, completed, running, failedSet)
		if len(ready) == 0 {
			break
		}

		for _, chunk := range ready {
			if s.isAborted() {
				return false, true
			}
			if s.waitWhilePaused() {
				return false, true
			}

			outcome, runErr := s.runner.Run(ctx, chunk, workDir, s.abortCh, chunkrunner.DefaultOptions())
			if runErr != nil {
				s.log.Error().Err(runErr).Str("chunk_id", chunk.ID).Msg("runsession: chunk runner returned an error")
				return true, false
			}

			switch outcome.Status {
			case chunkrunner.OutcomeCancelled:
				return false, true
			case chunkrunner.OutcomeFailed:
				failedSet[chunk.ID] = true
				if gitEnabled {
					s.resetWorktree(workDir)
				}
				return true, false
			case chunkrunner.OutcomePassed:
				completed[chunk.ID] = true
				if gitEnabled {
					if err := s.commitChunk(workDir, fmt.Sprintf("chunk %d: %s", chunk.Order, chunk.Title), chunk.ID); err != nil {
						s.resetWorktree(workDir)
						return true, false
					}
				}
			case chunkrunner.OutcomeFixSpawned:
				fixChunk, err := s.store.GetChunk(ctx, outcome.FixChunkID)
				if err != nil {
					s.log.Error().Err(err).Msg("runsession: failed to load spawned fix chunk")
					return true, false
				}

				fixOutcome, fixErr := s.runner.Run(ctx, fixChunk, workDir, s.abortCh, chunkrunner.DefaultOptions())
				if fixErr != nil {
					s.log.Error().Err(fixErr).Str("chunk_id", fixChunk.ID).Msg("runsession: fix chunk runner returned an error")
					return true, false
				}

				switch fixOutcome.Status {
				case chunkrunner.OutcomeCancelled:
					return false, true
				case chunkrunner.OutcomePassed:
					completed[chunk.ID] = true
					completed[fixChunk.ID] = true
					if gitEnabled {
						if err := s.commitChunk(workDir, fmt.Sprintf("fix: %s", fixChunk.Title), chunk.ID, fixChunk.ID); err != nil {
							s.resetWorktree(workDir)
							return true, false
						}
					}
				default:
					failedSet[chunk.ID] = true
					if gitEnabled {
						s.resetWorktree(workDir)
					}
					return true, false
				}
			}
		}
	}

	return false, false
}

// commitChunk commits pending worktree changes under message, recording the
// resulting hash against every chunkID given. ErrNoChanges is benign
// (nothing was touched); any other error is a hard failure requiring reset.
// A single call covers both a plain passed chunk (one id) and a needs_fix
// chunk plus its fix chunk combined into one "fix: <title>" commit (two
// ids), matching the fact that both land in the same commit.
func (s *Session) commitChunk(workDir, message string, chunkIDs ...string) error {
	result, err := gitops.Commit(workDir, message)
	if errors.Is(err, gitops.ErrNoChanges) {
		s.emit("git_commit_skipped", message)
		return nil
	}
	if err != nil {
		s.emit("git_commit_failed", err.Error())
		return cerrors.Wrap(err, cerrors.GitFatal)
	}
	for _, id := range chunkIDs {
		if updateErr := s.store.UpdateChunkCommit(context.Background(), id, result.Hash); updateErr != nil {
			s.log.Error().Err(updateErr).Msg("runsession: failed to persist commit hash")
		}
	}
	s.emit("chunk_committed", map[string]string{"message": message, "hash": result.Hash})
	return nil
}

func (s *Session) resetWorktree(workDir string) {
	if err := gitops.ResetHard(workDir); err != nil {
		s.log.Error().Err(err).Msg("runsession: reset hard failed")
	}
}

// finalize transitions the Spec to its terminal status and, on success,
// pushes and opens a PR if git and the gh CLI are available. When the run
// used an in-place checkout rather than a worktree, the project directory
// is switched back to the Spec's original branch on every path.
func (s *Session) finalize(ctx context.Context, project *store.Project, spec *store.Spec, workDir string, gitEnabled, hasFailure, aborted bool) error {
	if gitEnabled && workDir == project.Directory && spec.OriginalBranch != "" {
		defer func() {
			if err := gitops.Checkout(project.Directory, spec.OriginalBranch); err != nil {
				s.log.Warn().Err(err).Msg("runsession: failed to restore original branch")
			}
		}()
	}

	if err := s.store.TouchWorktreeActivity(ctx, spec.ID); err != nil {
		s.log.Warn().Err(err).Msg("runsession: failed to touch worktree activity")
	}

	switch {
	case aborted:
		if err := s.store.UpdateSpecStatus(ctx, spec.ID, store.SpecStatusReview); err != nil {
			return fmt.Errorf("runsession: marking spec review after abort: %w", err)
		}
		s.emit("stopped", map[string]string{"reason": "Aborted by user"})
		return nil
	case hasFailure:
		if err := s.store.UpdateSpecStatus(ctx, spec.ID, store.SpecStatusReview); err != nil {
			return fmt.Errorf("runsession: marking spec review after failure: %w", err)
		}
		return nil
	}

	if err := s.store.UpdateSpecStatus(ctx, spec.ID, store.SpecStatusCompleted); err != nil {
		return fmt.Errorf("runsession: marking spec completed: %w", err)
	}

	if gitEnabled && gitops.GitHubCLIAvailable() {
		branch := spec.BranchName
		if branch == "" {
			branch = gitops.GenerateBranchName(spec.Title)
		}
		if err := gitops.PushBranch(ctx, workDir, branch); err != nil {
			s.emit("git_push_failed", err.Error())
			return nil
		}
		pr, err := gitops.OpenPR(ctx, workDir, spec.Title, "Automated chunk run.", spec.OriginalBranch)
		if err != nil {
			s.emit("pr_open_failed", err.Error())
			return nil
		}
		if err := s.store.UpdateSpecPR(ctx, spec.ID, pr.Number, pr.URL); err != nil {
			s.log.Error().Err(err).Msg("runsession: failed to persist PR info")
		}
	}

	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

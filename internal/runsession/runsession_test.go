package runsession

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specwright/specwright/internal/agentgateway"
	"github.com/specwright/specwright/internal/chunkrunner"
	"github.com/specwright/specwright/internal/store"
)

// fakeExecutor/fakeReviewer mirror chunkrunner's own fakes so a Session can
// be exercised without a real opencode server or reviewer subprocess.

type fakeExecutor struct {
	result *agentgateway.ExecResult
}

func (f *fakeExecutor) StartExecution(ctx context.Context, chunk agentgateway.ChunkInput) (string, error) {
	return "session-1", nil
}

func (f *fakeExecutor) AwaitCompletion(ctx context.Context, chunkID string, onToolCall func(agentgateway.ToolCall)) (*agentgateway.ExecResult, error) {
	return f.result, nil
}

func (f *fakeExecutor) Abort(ctx context.Context, chunkID string) error { return nil }

// fileWritingExecutor actually writes a distinct file into the chunk's
// work directory on each invocation, so a git-backed Session has something
// real to stage and commit (fakeExecutor alone never touches the
// filesystem, so Commit always sees ErrNoChanges).
type fileWritingExecutor struct {
	result *agentgateway.ExecResult
	calls  int
}

func (f *fileWritingExecutor) StartExecution(ctx context.Context, chunk agentgateway.ChunkInput) (string, error) {
	f.calls++
	name := filepath.Join(chunk.WorkDir, fmt.Sprintf("change-%d.txt", f.calls))
	return "session-1", os.WriteFile(name, []byte(chunk.Title), 0o644)
}

func (f *fileWritingExecutor) AwaitCompletion(ctx context.Context, chunkID string, onToolCall func(agentgateway.ToolCall)) (*agentgateway.ExecResult, error) {
	return f.result, nil
}

func (f *fileWritingExecutor) Abort(ctx context.Context, chunkID string) error { return nil }

type fakeReviewer struct {
	result *agentgateway.ReviewResult
}

func (f *fakeReviewer) Review(ctx context.Context, chunk agentgateway.ChunkInput, diff string) (*agentgateway.ReviewResult, error) {
	return f.result, nil
}

// sequenceReviewer returns its results in order, one per call, repeating the
// last result once exhausted. Used to make a chunk's review needs_fix and
// its spawned fix chunk's review pass.
type sequenceReviewer struct {
	results []*agentgateway.ReviewResult
	calls   int
}

func (f *sequenceReviewer) Review(ctx context.Context, chunk agentgateway.ChunkInput, diff string) (*agentgateway.ReviewResult, error) {
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i], nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "specwright.db")
	s, err := store.Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoErrorf(t, err, "git %v: %s", args, out)
}

// initNonGitProject returns a project directory that is not a git repository,
// so Session falls back to running without git entirely.
func initNonGitProject(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

func seedSpecWithChunks(t *testing.T, s *store.Store, projectDir string) (*store.Project, *store.Spec) {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProject(ctx, &store.Project{Name: "demo", Directory: projectDir})
	require.NoError(t, err)
	sp, err := s.CreateSpec(ctx, &store.Spec{ProjectID: p.ID, Title: "add widgets"})
	require.NoError(t, err)

	first, err := s.CreateChunk(ctx, &store.Chunk{SpecID: sp.ID, Title: "step one", Order: 1})
	require.NoError(t, err)
	_, err = s.CreateChunk(ctx, &store.Chunk{SpecID: sp.ID, Title: "step two", Order: 2, Dependencies: []string{first.ID}})
	require.NoError(t, err)

	return p, sp
}

func newSession(t *testing.T, s *store.Store, specID, projectID string, executor chunkrunner.Executor, reviewer chunkrunner.Reviewer) (*Registry, *Session) {
	t.Helper()
	reg := NewRegistry()
	runner := chunkrunner.New(s, executor, reviewer, zerolog.Nop(), nil)
	sess := New(reg, s, runner, zerolog.Nop(), specID, projectID)
	require.NoError(t, reg.Start(specID, sess))
	return reg, sess
}

func TestRunCompletesAllChunksWithoutGit(t *testing.T) {
	s := newTestStore(t)
	projectDir := initNonGitProject(t)
	_, spec := seedSpecWithChunks(t, s, projectDir)

	executor := &fakeExecutor{result: &agentgateway.ExecResult{Status: agentgateway.ExecCompleted, Output: "diff"}}
	reviewer := &fakeReviewer{result: &agentgateway.ReviewResult{Verdict: agentgateway.ReviewPass, Feedback: "looks good"}}

	_, sess := newSession(t, s, spec.ID, spec.ProjectID, executor, reviewer)
	err := sess.Run(context.Background())
	require.NoError(t, err)

	updated, err := s.GetSpec(context.Background(), spec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SpecStatusCompleted, updated.Status)

	chunks, err := s.ChunksBySpec(context.Background(), spec.ID)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, store.ChunkStatusCompleted, c.Status)
	}
}

func TestRunMarksSpecForReviewOnFailure(t *testing.T) {
	s := newTestStore(t)
	projectDir := initNonGitProject(t)
	_, spec := seedSpecWithChunks(t, s, projectDir)

	executor := &fakeExecutor{result: &agentgateway.ExecResult{Status: agentgateway.ExecFailed, Error: "boom"}}
	reviewer := &fakeReviewer{result: &agentgateway.ReviewResult{Verdict: agentgateway.ReviewPass}}

	_, sess := newSession(t, s, spec.ID, spec.ProjectID, executor, reviewer)
	err := sess.Run(context.Background())
	require.NoError(t, err)

	updated, err := s.GetSpec(context.Background(), spec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SpecStatusReview, updated.Status)
}

func TestRunHonorsAbort(t *testing.T) {
	s := newTestStore(t)
	projectDir := initNonGitProject(t)
	_, spec := seedSpecWithChunks(t, s, projectDir)

	executor := &fakeExecutor{result: &agentgateway.ExecResult{Status: agentgateway.ExecCompleted, Output: "diff"}}
	reviewer := &fakeReviewer{result: &agentgateway.ReviewResult{Verdict: agentgateway.ReviewPass}}

	_, sess := newSession(t, s, spec.ID, spec.ProjectID, executor, reviewer)
	sess.Abort()

	err := sess.Run(context.Background())
	require.NoError(t, err)

	updated, err := s.GetSpec(context.Background(), spec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SpecStatusReview, updated.Status)
}

func TestRegistryRejectsDoubleStart(t *testing.T) {
	s := newTestStore(t)
	projectDir := initNonGitProject(t)
	_, spec := seedSpecWithChunks(t, s, projectDir)

	executor := &fakeExecutor{}
	reviewer := &fakeReviewer{}
	reg := NewRegistry()
	runner := chunkrunner.New(s, executor, reviewer, zerolog.Nop(), nil)
	sess := New(reg, s, runner, zerolog.Nop(), spec.ID, spec.ProjectID)

	require.NoError(t, reg.Start(spec.ID, sess))
	err := reg.Start(spec.ID, sess)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRegistryAbortSignalsSession(t *testing.T) {
	reg := NewRegistry()
	sess := &Session{specID: "spec-1", abortCh: make(chan struct{})}
	require.NoError(t, reg.Start("spec-1", sess))

	require.NoError(t, reg.Abort("spec-1"))
	assert.True(t, sess.isAborted())
}

func TestRegistryAbortUnknownSpecErrors(t *testing.T) {
	reg := NewRegistry()
	err := reg.Abort("never-started")
	assert.Error(t, err)
}

// TestRunCombinesFixIntoSingleCommit exercises the needs_fix cycle: the
// first chunk's review comes back needs_fix, its spawned fix chunk is run
// immediately in the same dispatch iteration, and the two land in a single
// "fix: <title>" commit rather than two separate commits.
func TestRunCombinesFixIntoSingleCommit(t *testing.T) {
	s := newTestStore(t)
	projectDir := t.TempDir()
	// Worktree paths are only accepted inside the home directory.
	t.Setenv("HOME", filepath.Dir(projectDir))
	runGit(t, projectDir, "init")
	runGit(t, projectDir, "config", "user.email", "test@example.com")
	runGit(t, projectDir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "README.md"), []byte("hello"), 0o644))
	runGit(t, projectDir, "add", "README.md")
	runGit(t, projectDir, "commit", "-m", "init")

	_, spec := seedSpecWithChunks(t, s, projectDir)

	executor := &fileWritingExecutor{result: &agentgateway.ExecResult{Status: agentgateway.ExecCompleted, Output: "diff"}}
	reviewer := &sequenceReviewer{results: []*agentgateway.ReviewResult{
		{Verdict: agentgateway.ReviewNeedsFix, Feedback: "needs a tweak"},
		{Verdict: agentgateway.ReviewPass, Feedback: "looks good now"},
		{Verdict: agentgateway.ReviewPass, Feedback: "looks good"},
	}}

	_, sess := newSession(t, s, spec.ID, spec.ProjectID, executor, reviewer)
	err := sess.Run(context.Background())
	require.NoError(t, err)

	updated, err := s.GetSpec(context.Background(), spec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SpecStatusCompleted, updated.Status)

	chunks, err := s.ChunksBySpec(context.Background(), spec.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3, "expected the two seeded chunks plus one spawned fix chunk")
	for _, c := range chunks {
		assert.Equal(t, store.ChunkStatusCompleted, c.Status)
	}

	log := exec.Command("git", "log", "--format=%s")
	log.Dir = updated.WorktreePath
	out, err := log.CombinedOutput()
	require.NoError(t, err)
	messages := string(out)
	assert.Contains(t, messages, "fix: Fix: step one")
	assert.Contains(t, messages, "chunk 2: step two")
	assert.NotContains(t, messages, "chunk 1: step one")
}

func TestRunCommitsEachPassedChunkWithGit(t *testing.T) {
	s := newTestStore(t)
	projectDir := t.TempDir()
	// Worktree paths are only accepted inside the home directory.
	t.Setenv("HOME", filepath.Dir(projectDir))
	runGit(t, projectDir, "init")
	runGit(t, projectDir, "config", "user.email", "test@example.com")
	runGit(t, projectDir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "README.md"), []byte("hello"), 0o644))
	runGit(t, projectDir, "add", "README.md")
	runGit(t, projectDir, "commit", "-m", "init")

	_, spec := seedSpecWithChunks(t, s, projectDir)

	executor := &fakeExecutor{result: &agentgateway.ExecResult{Status: agentgateway.ExecCompleted, Output: "diff"}}
	reviewer := &fakeReviewer{result: &agentgateway.ReviewResult{Verdict: agentgateway.ReviewPass}}

	_, sess := newSession(t, s, spec.ID, spec.ProjectID, executor, reviewer)
	err := sess.Run(context.Background())
	require.NoError(t, err)

	updated, err := s.GetSpec(context.Background(), spec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.SpecStatusCompleted, updated.Status)
	assert.NotEmpty(t, updated.WorktreePath)
}

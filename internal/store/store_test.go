package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "specwright.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedProject(t *testing.T, s *Store) *Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), &Project{Name: "demo", Directory: "/tmp/demo"})
	require.NoError(t, err)
	return p
}

func seedSpec(t *testing.T, s *Store, projectID string) *Spec {
	t.Helper()
	sp, err := s.CreateSpec(context.Background(), &Spec{ProjectID: projectID, Title: "add widgets"})
	require.NoError(t, err)
	return sp
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := map[string]struct {
		run func(t *testing.T)
	}{
		"create assigns id and timestamps": {
			run: func(t *testing.T) {
				p, err := s.CreateProject(ctx, &Project{Name: "alpha", Directory: "/tmp/alpha"})
				require.NoError(t, err)
				assert.NotEmpty(t, p.ID)
				assert.False(t, p.CreatedAt.IsZero())
			},
		},
		"get returns ErrNotFound for unknown id": {
			run: func(t *testing.T) {
				_, err := s.GetProject(ctx, "does-not-exist")
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
		"list returns created projects": {
			run: func(t *testing.T) {
				p := seedProject(t, s)
				all, err := s.ListProjects(ctx)
				require.NoError(t, err)
				var found bool
				for _, got := range all {
					if got.ID == p.ID {
						found = true
					}
				}
				assert.True(t, found)
			},
		},
		"cascade delete removes spec children": {
			run: func(t *testing.T) {
				p := seedProject(t, s)
				sp := seedSpec(t, s, p.ID)
				require.NoError(t, s.CascadeDeleteProject(ctx, p.ID))
				_, err := s.GetSpec(ctx, sp.ID)
				assert.ErrorIs(t, err, ErrNotFound)
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, tc.run)
	}
}

func TestSpecLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	sp, err := s.CreateSpec(ctx, &Spec{ProjectID: p.ID, Title: "ship feature"})
	require.NoError(t, err)
	assert.Equal(t, SpecStatusDraft, sp.Status)

	require.NoError(t, s.UpdateSpecStatus(ctx, sp.ID, SpecStatusRunning))
	got, err := s.GetSpec(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, SpecStatusRunning, got.Status)

	require.NoError(t, s.UpdateSpecWorktree(ctx, sp.ID, "/tmp/wt/ship-feature", nil, nil))
	got, err = s.GetSpec(ctx, sp.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/wt/ship-feature", got.WorktreePath)

	require.NoError(t, s.UpdateSpecPR(ctx, sp.ID, 42, "https://example.test/pr/42"))
	require.NoError(t, s.MarkPRMerged(ctx, sp.ID))
	got, err = s.GetSpec(ctx, sp.ID)
	require.NoError(t, err)
	assert.True(t, got.PRMerged)
	assert.Equal(t, SpecStatusMerged, got.Status)
	assert.Equal(t, 42, got.PRNumber)
}

func TestChunkDependenciesAndCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	sp := seedSpec(t, s, p.ID)

	a, err := s.CreateChunk(ctx, &Chunk{SpecID: sp.ID, Title: "a", Order: 1})
	require.NoError(t, err)
	b, err := s.CreateChunk(ctx, &Chunk{SpecID: sp.ID, Title: "b", Order: 2})
	require.NoError(t, err)

	require.NoError(t, s.SetChunkDependencies(ctx, b.ID, []string{a.ID}))

	chunks, err := s.ChunksBySpec(ctx, sp.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, a.ID, chunks[0].ID)
	assert.Equal(t, []string{a.ID}, chunks[1].Dependencies)

	err = s.SetChunkDependencies(ctx, a.ID, []string{b.ID})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestInsertFixChunk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	sp := seedSpec(t, s, p.ID)

	parent, err := s.CreateChunk(ctx, &Chunk{SpecID: sp.ID, Title: "parent", Order: 1})
	require.NoError(t, err)

	fix, err := s.InsertFixChunk(ctx, parent.ID, "fix parent", "address lint failure", "missing error check")
	require.NoError(t, err)
	assert.Equal(t, []string{parent.ID}, fix.Dependencies)
	assert.Equal(t, parent.Order, fix.Order)
	assert.Equal(t, "missing error check", fix.ReviewFeedback)
}

func TestUpsertToolCallUpdatesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	sp := seedSpec(t, s, p.ID)
	chunk, err := s.CreateChunk(ctx, &Chunk{SpecID: sp.ID, Title: "c", Order: 1})
	require.NoError(t, err)

	tc, err := s.UpsertToolCall(ctx, &ChunkToolCall{ChunkID: chunk.ID, CallID: "call-1", Tool: "edit_file", Status: ToolCallStatusRunning})
	require.NoError(t, err)
	firstID := tc.ID

	_, err = s.UpsertToolCall(ctx, &ChunkToolCall{ChunkID: chunk.ID, CallID: "call-1", Tool: "edit_file", Status: ToolCallStatusCompleted, Output: "ok"})
	require.NoError(t, err)

	calls, err := s.ToolCallsByChunk(ctx, chunk.ID)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, firstID, calls[0].ID)
	assert.Equal(t, ToolCallStatusCompleted, calls[0].Status)
	assert.Equal(t, "ok", calls[0].Output)
}

func TestReorderQueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)

	specA := seedSpec(t, s, p.ID)
	specB := seedSpec(t, s, p.ID)
	specC := seedSpec(t, s, p.ID)

	for _, sp := range []*Spec{specA, specB, specC} {
		_, err := s.Enqueue(ctx, &QueueItem{SpecID: sp.ID, ProjectID: p.ID})
		require.NoError(t, err)
	}

	require.NoError(t, s.ReorderQueue(ctx, p.ID, []string{specC.ID, specA.ID}))

	queue, err := s.ListQueue(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, specC.ID, queue[0].SpecID)
	assert.Equal(t, specA.ID, queue[1].SpecID)
	assert.Equal(t, specB.ID, queue[2].SpecID)
}

func TestWorkerProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := seedProject(t, s)
	sp := seedSpec(t, s, p.ID)

	w, err := s.CreateWorker(ctx, &Worker{SpecID: sp.ID, ProjectID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, WorkerStatusIdle, w.Status)

	require.NoError(t, s.UpdateWorkerStatus(ctx, w.ID, WorkerStatusRunning))
	require.NoError(t, s.UpdateWorkerProgress(ctx, w.ID, "chunk-1", WorkerStepExecuting, WorkerProgress{Current: 1, Total: 3}))

	got, err := s.GetWorker(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkerStatusRunning, got.Status)
	assert.Equal(t, "chunk-1", got.CurrentChunkID)
	assert.Equal(t, WorkerStepExecuting, got.CurrentStep)
	assert.Equal(t, 1, got.Progress.Current)
	assert.NotNil(t, got.StartedAt)
}

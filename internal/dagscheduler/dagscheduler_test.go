package dagscheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/specwright/specwright/internal/store"
)

func chunk(id string, order int, status store.ChunkStatus, deps ...string) *store.Chunk {
	return &store.Chunk{ID: id, Order: order, Status: status, Dependencies: deps}
}

func TestReady(t *testing.T) {
	cases := map[string]struct {
		chunks    []*store.Chunk
		completed map[string]bool
		running   map[string]bool
		failed    map[string]bool
		wantIDs   []string
	}{
		"no dependencies, all pending": {
			chunks:  []*store.Chunk{chunk("b", 2, store.ChunkStatusPending), chunk("a", 1, store.ChunkStatusPending)},
			wantIDs: []string{"a", "b"},
		},
		"dependency not yet completed blocks readiness": {
			chunks:  []*store.Chunk{chunk("a", 1, store.ChunkStatusPending), chunk("b", 2, store.ChunkStatusPending, "a")},
			wantIDs: []string{"a"},
		},
		"dependency completed unblocks": {
			chunks:    []*store.Chunk{chunk("a", 1, store.ChunkStatusCompleted), chunk("b", 2, store.ChunkStatusPending, "a")},
			completed: map[string]bool{"a": true},
			wantIDs:   []string{"b"},
		},
		"running chunk excluded": {
			chunks:  []*store.Chunk{chunk("a", 1, store.ChunkStatusRunning)},
			running: map[string]bool{"a": true},
			wantIDs: nil,
		},
		"failed chunk is re-offered": {
			chunks:  []*store.Chunk{chunk("a", 1, store.ChunkStatusFailed)},
			wantIDs: []string{"a"},
		},
		"completed chunk never re-offered": {
			chunks:    []*store.Chunk{chunk("a", 1, store.ChunkStatusCompleted)},
			completed: map[string]bool{"a": true},
			wantIDs:   nil,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			completed := tc.completed
			if completed == nil {
				completed = map[string]bool{}
			}
			running := tc.running
			if running == nil {
				running = map[string]bool{}
			}
			failed := tc.failed
			if failed == nil {
				failed = map[string]bool{}
			}

			ready := Ready(tc.chunks, completed, running, failed)
			var ids []string
			for _, c := range ready {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tc.wantIDs, ids)
		})
	}
}

func TestLayers(t *testing.T) {
	chunks := []*store.Chunk{
		chunk("a", 0, store.ChunkStatusPending),
		chunk("b", 1, store.ChunkStatusPending, "a"),
		chunk("c", 2, store.ChunkStatusPending, "a"),
		chunk("d", 3, store.ChunkStatusPending, "b", "c"),
	}

	layers := Layers(chunks)
	require := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	require(len(layers) == 3, "expected 3 layers")
	assert.Equal(t, []string{"a"}, idsOf(layers[0]))
	assert.ElementsMatch(t, []string{"b", "c"}, idsOf(layers[1]))
	assert.Equal(t, []string{"d"}, idsOf(layers[2]))
}

func TestCriticalPath(t *testing.T) {
	chunks := []*store.Chunk{
		chunk("a", 0, store.ChunkStatusPending),
		chunk("b", 1, store.ChunkStatusPending, "a"),
		chunk("c", 2, store.ChunkStatusPending, "a"),
		chunk("d", 3, store.ChunkStatusPending, "b"),
	}

	path := CriticalPath(chunks)
	assert.Equal(t, []string{"a", "b", "d"}, path)
}

func TestCriticalPathEmpty(t *testing.T) {
	assert.Nil(t, CriticalPath(nil))
}

func idsOf(chunks []*store.Chunk) []string {
	var ids []string
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	return ids
}

// Package dagscheduler computes chunk readiness, layering, and critical-path
// analysis over a Spec's dependency DAG. It is adapted from the teacher's
// layer-ordering helpers in internal/dag/executor.go, generalized from a
// DAG-of-layers to a DAG-of-chunks and made a pure function: it never
// dispatches work itself, it only answers "what is ready right now".
package dagscheduler

import (
	"sort"

	"github.com/specwright/specwright/internal/store"
)

// schedulableStatus is the set of Chunk statuses eligible for (re)dispatch.
// Completed chunks are excluded so a resumed Spec never re-runs finished work.
var schedulableStatus = map[store.ChunkStatus]bool{
	store.ChunkStatusPending:   true,
	store.ChunkStatusFailed:    true,
	store.ChunkStatusCancelled: true,
}

// Ready returns the chunks eligible to run right now, in Order ascending.
// A chunk is ready iff it is not already tracked in completed/running/failed,
// its Status is one of {pending, failed, cancelled}, and every id in its
// Dependencies is present in completed.
func Ready(chunks []*store.Chunk, completed, running, failed map[string]bool) []*store.Chunk {
	var ready []*store.Chunk
	for _, c := range chunks {
		if completed[c.ID] || running[c.ID] || failed[c.ID] {
			continue
		}
		if !schedulableStatus[c.Status] {
			continue
		}
		if !depsSatisfied(c, completed) {
			continue
		}
		ready = append(ready, c)
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].Order < ready[j].Order })
	return ready
}

func depsSatisfied(c *store.Chunk, completed map[string]bool) bool {
	for _, dep := range c.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Layers groups chunks by longest-path layer: a node's layer is one more
// than the maximum layer of its dependencies; nodes with no dependencies sit
// at layer 0. Assumes the dependency graph is acyclic (enforced upstream at
// store.SetChunkDependencies time).
func Layers(chunks []*store.Chunk) [][]*store.Chunk {
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	layerOf := make(map[string]int, len(chunks))
	var resolve func(id string) int
	resolve = func(id string) int {
		if layer, ok := layerOf[id]; ok {
			return layer
		}
		c, ok := byID[id]
		if !ok {
			return 0
		}
		layer := 0
		for _, dep := range c.Dependencies {
			if l := resolve(dep) + 1; l > layer {
				layer = l
			}
		}
		layerOf[id] = layer
		return layer
	}

	maxLayer := 0
	for _, c := range chunks {
		if l := resolve(c.ID); l > maxLayer {
			maxLayer = l
		}
	}

	layers := make([][]*store.Chunk, maxLayer+1)
	for _, c := range chunks {
		l := layerOf[c.ID]
		layers[l] = append(layers[l], c)
	}
	for _, layer := range layers {
		sort.SliceStable(layer, func(i, j int) bool { return layer[i].Order < layer[j].Order })
	}
	return layers
}

// CriticalPath returns the longest dependency chain through the DAG, by
// chunk id, ties broken by Order. Uses the same longest-path layering as
// Layers, then walks each chunk's deepest-layer dependency back to a root.
func CriticalPath(chunks []*store.Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	depth := make(map[string]int, len(chunks))
	var resolveDepth func(id string) int
	resolveDepth = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		c, ok := byID[id]
		if !ok {
			return 0
		}
		d := 0
		for _, dep := range c.Dependencies {
			if cand := resolveDepth(dep) + 1; cand > d {
				d = cand
			}
		}
		depth[id] = d
		return d
	}

	var deepest *store.Chunk
	deepestDepth := -1
	for _, c := range chunks {
		d := resolveDepth(c.ID)
		if d > deepestDepth || (d == deepestDepth && deepest != nil && c.Order < deepest.Order) {
			deepestDepth = d
			deepest = c
		}
	}
	if deepest == nil {
		return nil
	}

	var path []string
	cur := deepest
	for {
		path = append([]string{cur.ID}, path...)
		if len(cur.Dependencies) == 0 {
			break
		}
		var next *store.Chunk
		nextDepth := -1
		for _, depID := range cur.Dependencies {
			dep, ok := byID[depID]
			if !ok {
				continue
			}
			d := resolveDepth(depID)
			if d > nextDepth || (d == nextDepth && next != nil && dep.Order < next.Order) {
				nextDepth = d
				next = dep
			}
		}
		if next == nil {
			break
		}
		cur = next
	}
	return path
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrCycle is returned by SetChunkDependencies when the proposed dependency
// set would introduce a cycle in the chunk DAG.
var ErrCycle = errors.New("store: dependency cycle")

func marshalDeps(deps []string) string {
	if deps == nil {
		deps = []string{}
	}
	b, _ := json.Marshal(deps)
	return string(b)
}

func unmarshalDeps(s string) []string {
	if s == "" {
		return nil
	}
	var deps []string
	_ = json.Unmarshal([]byte(s), &deps)
	return deps
}

const chunkColumns = `id, spec_id, title, description, "order", status, dependencies,
	output, output_summary, error, review_status, review_feedback, commit_hash,
	started_at, completed_at, created_at, updated_at`

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	c := &Chunk{}
	var deps string
	var startedAt, completedAt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.SpecID, &c.Title, &c.Description, &c.Order, &c.Status, &deps,
		&c.Output, &c.OutputSummary, &c.Error, &c.ReviewStatus, &c.ReviewFeedback, &c.CommitHash,
		&startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.Dependencies = unmarshalDeps(deps)
	c.StartedAt = parseTimePtr(startedAt)
	c.CompletedAt = parseTimePtr(completedAt)
	c.CreatedAt = mustParseTime(createdAt)
	c.UpdatedAt = mustParseTime(updatedAt)
	return c, nil
}

// CreateChunk inserts a new Chunk.
func (s *Store) CreateChunk(ctx context.Context, c *Chunk) (*Chunk, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = ChunkStatusPending
	}
	ts := now()
	c.CreatedAt, c.UpdatedAt = ts, ts

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chunks (id, spec_id, title, description, "order", status, dependencies,
			output, output_summary, error, review_status, review_feedback, commit_hash,
			started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SpecID, c.Title, c.Description, c.Order, c.Status, marshalDeps(c.Dependencies),
		c.Output, c.OutputSummary, c.Error, c.ReviewStatus, c.ReviewFeedback, c.CommitHash,
		fmtTimePtr(c.StartedAt), fmtTimePtr(c.CompletedAt), fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting chunk: %w", err)
	}
	return c, nil
}

// InsertFixChunk creates a new Chunk that exists solely to address review
// feedback on parentID: it depends on parentID and takes the parent's own
// Order value, shifting no other chunk's Order. It is not placed strictly
// after the parent in Order, and ChunksBySpec does not define which of the
// two comes first.
func (s *Store) InsertFixChunk(ctx context.Context, parentID string, title, description, feedback string) (*Chunk, error) {
	parent, err := s.GetChunk(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("loading parent chunk: %w", err)
	}

	fix := &Chunk{
		SpecID:         parent.SpecID,
		Title:          title,
		Description:    description,
		Order:          parent.Order,
		Status:         ChunkStatusPending,
		Dependencies:   []string{parent.ID},
		ReviewFeedback: feedback,
	}
	return s.CreateChunk(ctx, fix)
}

// GetChunk loads a Chunk by id.
func (s *Store) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading chunk: %w", err)
	}
	return c, nil
}

// ChunksBySpec returns all Chunks for a Spec ordered by Order ascending.
func (s *Store) ChunksBySpec(ctx context.Context, specID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE spec_id = ? ORDER BY "order" ASC`, specID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateChunkStatus transitions a Chunk's status, stamping StartedAt/CompletedAt
// as appropriate.
func (s *Store) UpdateChunkStatus(ctx context.Context, id string, status ChunkStatus) error {
	ts := now()
	var startedAt, completedAt any
	switch status {
	case ChunkStatusRunning:
		startedAt = fmtTime(ts)
	case ChunkStatusCompleted, ChunkStatusFailed, ChunkStatusCancelled:
		completedAt = fmtTime(ts)
	}

	var res sql.Result
	var err error
	switch {
	case startedAt != nil:
		res, err = s.db.ExecContext(ctx, `UPDATE chunks SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
			status, startedAt, fmtTime(ts), id)
	case completedAt != nil:
		res, err = s.db.ExecContext(ctx, `UPDATE chunks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			status, completedAt, fmtTime(ts), id)
	default:
		res, err = s.db.ExecContext(ctx, `UPDATE chunks SET status = ?, updated_at = ? WHERE id = ?`,
			status, fmtTime(ts), id)
	}
	if err != nil {
		return fmt.Errorf("updating chunk status: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateChunkOutput records the executor's output/summary for a Chunk.
func (s *Store) UpdateChunkOutput(ctx context.Context, id, output, summary string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET output = ?, output_summary = ?, updated_at = ? WHERE id = ?`,
		output, summary, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("updating chunk output: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateChunkError records a terminal error message for a Chunk.
func (s *Store) UpdateChunkError(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET error = ?, updated_at = ? WHERE id = ?`,
		errMsg, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("updating chunk error: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateChunkReview records the review outcome for a Chunk.
func (s *Store) UpdateChunkReview(ctx context.Context, id string, status ReviewStatus, feedback string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET review_status = ?, review_feedback = ?, updated_at = ? WHERE id = ?`,
		status, feedback, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("updating chunk review: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateChunkCommit records the commit hash produced for a Chunk.
func (s *Store) UpdateChunkCommit(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET commit_hash = ?, updated_at = ? WHERE id = ?`,
		hash, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("updating chunk commit: %w", err)
	}
	return checkRowsAffected(res)
}

// SetChunkDependencies validates that the proposed dependency set does not
// introduce a cycle across the chunk's whole spec, then writes it.
func (s *Store) SetChunkDependencies(ctx context.Context, chunkID string, deps []string) error {
	chunk, err := s.GetChunk(ctx, chunkID)
	if err != nil {
		return fmt.Errorf("loading chunk: %w", err)
	}

	siblings, err := s.ChunksBySpec(ctx, chunk.SpecID)
	if err != nil {
		return fmt.Errorf("loading sibling chunks: %w", err)
	}

	adjacency := make(map[string][]string, len(siblings))
	for _, c := range siblings {
		if c.ID == chunkID {
			adjacency[c.ID] = deps
		} else {
			adjacency[c.ID] = c.Dependencies
		}
	}

	if hasCycle(adjacency) {
		return ErrCycle
	}

	res, err := s.db.ExecContext(ctx, `UPDATE chunks SET dependencies = ?, updated_at = ? WHERE id = ?`,
		marshalDeps(deps), fmtTime(now()), chunkID)
	if err != nil {
		return fmt.Errorf("updating chunk dependencies: %w", err)
	}
	return checkRowsAffected(res)
}

// hasCycle runs Kahn's algorithm over a dependency adjacency map (node ->
// the nodes it depends on). A cycle exists if topological elimination
// cannot consume every node.
func hasCycle(dependsOn map[string][]string) bool {
	indegree := make(map[string]int, len(dependsOn))
	dependents := make(map[string][]string, len(dependsOn))
	for node := range dependsOn {
		if _, ok := indegree[node]; !ok {
			indegree[node] = 0
		}
	}
	for node, deps := range dependsOn {
		for _, dep := range deps {
			indegree[node]++
			dependents[dep] = append(dependents[dep], node)
		}
	}

	var queue []string
	for node, deg := range indegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}

	visited := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[n] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return visited != len(dependsOn)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const toolCallColumns = `id, chunk_id, call_id, tool, input, output, status, started_at, completed_at`

func scanToolCall(row interface{ Scan(...any) error }) (*ChunkToolCall, error) {
	tc := &ChunkToolCall{}
	var completedAt sql.NullString
	var startedAt string
	err := row.Scan(&tc.ID, &tc.ChunkID, &tc.CallID, &tc.Tool, &tc.Input, &tc.Output,
		&tc.Status, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	tc.StartedAt = mustParseTime(startedAt)
	tc.CompletedAt = parseTimePtr(completedAt)
	return tc, nil
}

// UpsertToolCall records a streamed tool-call event. A second event for the
// same (ChunkID, CallID) pair updates the existing row in place rather than
// inserting a duplicate, matching the executor's practice of re-emitting a
// call's record as it moves from running to completed/error.
func (s *Store) UpsertToolCall(ctx context.Context, tc *ChunkToolCall) (*ChunkToolCall, error) {
	if tc.Status == "" {
		tc.Status = ToolCallStatusRunning
	}
	if tc.StartedAt.IsZero() {
		tc.StartedAt = now()
	}

	var existingID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM chunk_tool_calls WHERE chunk_id = ? AND call_id = ?`,
		tc.ChunkID, tc.CallID).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if tc.ID == "" {
			tc.ID = uuid.NewString()
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO chunk_tool_calls (id, chunk_id, call_id, tool, input, output, status, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			tc.ID, tc.ChunkID, tc.CallID, tc.Tool, tc.Input, tc.Output, tc.Status,
			fmtTime(tc.StartedAt), fmtTimePtr(tc.CompletedAt))
		if err != nil {
			return nil, fmt.Errorf("inserting tool call: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("looking up tool call: %w", err)
	default:
		tc.ID = existingID
		_, err = s.db.ExecContext(ctx, `
			UPDATE chunk_tool_calls SET tool = ?, input = ?, output = ?, status = ?, completed_at = ?
			WHERE id = ?`,
			tc.Tool, tc.Input, tc.Output, tc.Status, fmtTimePtr(tc.CompletedAt), tc.ID)
		if err != nil {
			return nil, fmt.Errorf("updating tool call: %w", err)
		}
	}
	return tc, nil
}

// ToolCallsByChunk returns all tool calls recorded for a Chunk, in the order
// they were first observed.
func (s *Store) ToolCallsByChunk(ctx context.Context, chunkID string) ([]*ChunkToolCall, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+toolCallColumns+` FROM chunk_tool_calls WHERE chunk_id = ? ORDER BY started_at ASC`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("listing tool calls: %w", err)
	}
	defer rows.Close()

	var out []*ChunkToolCall
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tool call: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

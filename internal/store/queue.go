package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const queueColumns = `id, spec_id, project_id, priority, added_at`

func scanQueueItem(row interface{ Scan(...any) error }) (*QueueItem, error) {
	q := &QueueItem{}
	var addedAt string
	if err := row.Scan(&q.ID, &q.SpecID, &q.ProjectID, &q.Priority, &addedAt); err != nil {
		return nil, err
	}
	q.AddedAt = mustParseTime(addedAt)
	return q, nil
}

// Enqueue adds a Spec to the worker queue.
func (s *Store) Enqueue(ctx context.Context, q *QueueItem) (*QueueItem, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.AddedAt.IsZero() {
		q.AddedAt = now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_queue (id, spec_id, project_id, priority, added_at)
		VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.SpecID, q.ProjectID, q.Priority, fmtTime(q.AddedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueuing spec: %w", err)
	}
	return q, nil
}

// Dequeue removes a QueueItem, typically once its Worker has been started.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM worker_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("dequeuing: %w", err)
	}
	return checkRowsAffected(res)
}

// NextQueued returns the queue item with the highest admission priority:
// (Priority DESC, AddedAt ASC).
func (s *Store) NextQueued(ctx context.Context, projectID string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM worker_queue WHERE project_id = ?
		ORDER BY priority DESC, added_at ASC LIMIT 1`, projectID)
	q, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading next queued item: %w", err)
	}
	return q, nil
}

// ListQueue returns the full queue for a project in admission order.
func (s *Store) ListQueue(ctx context.Context, projectID string) ([]*QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM worker_queue WHERE project_id = ?
		ORDER BY priority DESC, added_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()

	var out []*QueueItem
	for rows.Next() {
		q, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ReorderQueue reassigns Priority so that the given specIDs, in order, sort
// ahead of every other queued item (first -> highest). Items not named in
// order keep their existing relative order and sort after all named items.
func (s *Store) ReorderQueue(ctx context.Context, projectID string, order []string) error {
	existing, err := s.ListQueue(ctx, projectID)
	if err != nil {
		return err
	}

	named := make(map[string]bool, len(order))
	for _, id := range order {
		named[id] = true
	}

	var unnamed []*QueueItem
	for _, q := range existing {
		if !named[q.SpecID] {
			unnamed = append(unnamed, q)
		}
	}

	bySpec := make(map[string]*QueueItem, len(existing))
	for _, q := range existing {
		bySpec[q.SpecID] = q
	}

	total := len(order) + len(unnamed)
	priority := total

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning reorder transaction: %w", err)
	}
	defer tx.Rollback()

	for _, specID := range order {
		q, ok := bySpec[specID]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE worker_queue SET priority = ? WHERE id = ?`, priority, q.ID); err != nil {
			return fmt.Errorf("reordering queue item %s: %w", q.ID, err)
		}
		priority--
	}
	for _, q := range unnamed {
		if _, err := tx.ExecContext(ctx, `UPDATE worker_queue SET priority = ? WHERE id = ?`, priority, q.ID); err != nil {
			return fmt.Errorf("reordering queue item %s: %w", q.ID, err)
		}
		priority--
	}

	return tx.Commit()
}

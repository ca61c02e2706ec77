package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const workerColumns = `id, spec_id, project_id, status, current_chunk_id, current_step,
	progress_current, progress_total, progress_passed, progress_failed,
	started_at, completed_at, error`

func scanWorker(row interface{ Scan(...any) error }) (*Worker, error) {
	w := &Worker{}
	var startedAt, completedAt sql.NullString
	err := row.Scan(&w.ID, &w.SpecID, &w.ProjectID, &w.Status, &w.CurrentChunkID, &w.CurrentStep,
		&w.Progress.Current, &w.Progress.Total, &w.Progress.Passed, &w.Progress.Failed,
		&startedAt, &completedAt, &w.Error)
	if err != nil {
		return nil, err
	}
	w.StartedAt = parseTimePtr(startedAt)
	w.CompletedAt = parseTimePtr(completedAt)
	return w, nil
}

// CreateWorker inserts a new idle Worker for a Spec.
func (s *Store) CreateWorker(ctx context.Context, w *Worker) (*Worker, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WorkerStatusIdle
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, spec_id, project_id, status, current_chunk_id, current_step,
			progress_current, progress_total, progress_passed, progress_failed,
			started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.SpecID, w.ProjectID, w.Status, w.CurrentChunkID, w.CurrentStep,
		w.Progress.Current, w.Progress.Total, w.Progress.Passed, w.Progress.Failed,
		fmtTimePtr(w.StartedAt), fmtTimePtr(w.CompletedAt), w.Error,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting worker: %w", err)
	}
	return w, nil
}

// GetWorker loads a Worker by id.
func (s *Store) GetWorker(ctx context.Context, id string) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading worker: %w", err)
	}
	return w, nil
}

// WorkerBySpec loads the Worker owned by a Spec, if any.
func (s *Store) WorkerBySpec(ctx context.Context, specID string) (*Worker, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE spec_id = ?`, specID)
	w, err := scanWorker(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading worker by spec: %w", err)
	}
	return w, nil
}

// ListWorkersByProject returns all Workers under a Project.
func (s *Store) ListWorkersByProject(ctx context.Context, projectID string) ([]*Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing workers: %w", err)
	}
	defer rows.Close()

	var out []*Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWorkerStatus transitions a Worker's status, stamping StartedAt/CompletedAt.
func (s *Store) UpdateWorkerStatus(ctx context.Context, id string, status WorkerStatus) error {
	ts := now()
	var res sql.Result
	var err error
	switch status {
	case WorkerStatusRunning:
		res, err = s.db.ExecContext(ctx, `
			UPDATE workers SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			status, fmtTime(ts), id)
	case WorkerStatusCompleted, WorkerStatusFailed:
		res, err = s.db.ExecContext(ctx, `
			UPDATE workers SET status = ?, completed_at = ? WHERE id = ?`,
			status, fmtTime(ts), id)
	default:
		res, err = s.db.ExecContext(ctx, `UPDATE workers SET status = ? WHERE id = ?`, status, id)
	}
	if err != nil {
		return fmt.Errorf("updating worker status: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateWorkerProgress records which chunk/step a Worker is on and its tallies.
func (s *Store) UpdateWorkerProgress(ctx context.Context, id string, chunkID string, step WorkerStep, progress WorkerProgress) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET current_chunk_id = ?, current_step = ?,
			progress_current = ?, progress_total = ?, progress_passed = ?, progress_failed = ?
		WHERE id = ?`,
		chunkID, step, progress.Current, progress.Total, progress.Passed, progress.Failed, id)
	if err != nil {
		return fmt.Errorf("updating worker progress: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateWorkerError records a terminal error on a Worker.
func (s *Store) UpdateWorkerError(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workers SET error = ? WHERE id = ?`, errMsg, id)
	if err != nil {
		return fmt.Errorf("updating worker error: %w", err)
	}
	return checkRowsAffected(res)
}

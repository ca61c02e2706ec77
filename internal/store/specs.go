package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSpec inserts a new Spec in draft status, assigning an id if unset.
func (s *Store) CreateSpec(ctx context.Context, sp *Spec) (*Spec, error) {
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	if sp.Status == "" {
		sp.Status = SpecStatusDraft
	}
	if sp.Version == 0 {
		sp.Version = 1
	}
	ts := now()
	sp.CreatedAt, sp.UpdatedAt = ts, ts

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO specs (id, project_id, title, content, version, status, branch_name,
			original_branch, pr_number, pr_url, worktree_path, worktree_created_at,
			worktree_last_activity, pr_merged, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.ProjectID, sp.Title, sp.Content, sp.Version, sp.Status, sp.BranchName,
		sp.OriginalBranch, sp.PRNumber, sp.PRURL, sp.WorktreePath, fmtTimePtr(sp.WorktreeCreatedAt),
		fmtTimePtr(sp.WorktreeLastActivity), sp.PRMerged, fmtTime(sp.CreatedAt), fmtTime(sp.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting spec: %w", err)
	}
	return sp, nil
}

const specColumns = `id, project_id, title, content, version, status, branch_name,
	original_branch, pr_number, pr_url, worktree_path, worktree_created_at,
	worktree_last_activity, pr_merged, created_at, updated_at`

func scanSpec(row interface{ Scan(...any) error }) (*Spec, error) {
	sp := &Spec{}
	var worktreeCreatedAt, worktreeLastActivity sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&sp.ID, &sp.ProjectID, &sp.Title, &sp.Content, &sp.Version, &sp.Status,
		&sp.BranchName, &sp.OriginalBranch, &sp.PRNumber, &sp.PRURL, &sp.WorktreePath,
		&worktreeCreatedAt, &worktreeLastActivity, &sp.PRMerged, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sp.WorktreeCreatedAt = parseTimePtr(worktreeCreatedAt)
	sp.WorktreeLastActivity = parseTimePtr(worktreeLastActivity)
	sp.CreatedAt = mustParseTime(createdAt)
	sp.UpdatedAt = mustParseTime(updatedAt)
	return sp, nil
}

// GetSpec loads a Spec by id.
func (s *Store) GetSpec(ctx context.Context, id string) (*Spec, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+specColumns+` FROM specs WHERE id = ?`, id)
	sp, err := scanSpec(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading spec: %w", err)
	}
	return sp, nil
}

// ListSpecsByProject returns all specs owned by a project.
func (s *Store) ListSpecsByProject(ctx context.Context, projectID string) ([]*Spec, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+specColumns+` FROM specs WHERE project_id = ? ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing specs: %w", err)
	}
	defer rows.Close()

	var out []*Spec
	for rows.Next() {
		sp, err := scanSpec(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning spec: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

// UpdateSpecStatus transitions a Spec's status.
func (s *Store) UpdateSpecStatus(ctx context.Context, id string, status SpecStatus) error {
	return s.withSpecLock(id, func() error {
		res, err := s.db.ExecContext(ctx, `UPDATE specs SET status = ?, updated_at = ? WHERE id = ?`,
			status, fmtTime(now()), id)
		if err != nil {
			return fmt.Errorf("updating spec status: %w", err)
		}
		return checkRowsAffected(res)
	})
}

// UpdateSpecWorktree records the worktree path and creation time for a Spec.
func (s *Store) UpdateSpecWorktree(ctx context.Context, id, path string, createdAt, lastActivity *time.Time) error {
	return s.withSpecLock(id, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE specs SET worktree_path = ?, worktree_created_at = ?, worktree_last_activity = ?, updated_at = ?
			WHERE id = ?`,
			path, fmtTimePtr(createdAt), fmtTimePtr(lastActivity), fmtTime(now()), id)
		if err != nil {
			return fmt.Errorf("updating spec worktree: %w", err)
		}
		return checkRowsAffected(res)
	})
}

// TouchWorktreeActivity updates only WorktreeLastActivity to now.
func (s *Store) TouchWorktreeActivity(ctx context.Context, id string) error {
	return s.withSpecLock(id, func() error {
		ts := now()
		res, err := s.db.ExecContext(ctx, `
			UPDATE specs SET worktree_last_activity = ?, updated_at = ? WHERE id = ?`,
			fmtTime(ts), fmtTime(ts), id)
		if err != nil {
			return fmt.Errorf("touching worktree activity: %w", err)
		}
		return checkRowsAffected(res)
	})
}

// ClearWorktree clears the worktree metadata on a Spec (after janitor cleanup).
func (s *Store) ClearWorktree(ctx context.Context, id string) error {
	return s.withSpecLock(id, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE specs SET worktree_path = '', worktree_created_at = NULL,
				worktree_last_activity = NULL, updated_at = ? WHERE id = ?`,
			fmtTime(now()), id)
		if err != nil {
			return fmt.Errorf("clearing worktree: %w", err)
		}
		return checkRowsAffected(res)
	})
}

// UpdateSpecPR records the PR number/url opened for a Spec's branch.
func (s *Store) UpdateSpecPR(ctx context.Context, id string, number int, url string) error {
	return s.withSpecLock(id, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE specs SET pr_number = ?, pr_url = ?, updated_at = ? WHERE id = ?`,
			number, url, fmtTime(now()), id)
		if err != nil {
			return fmt.Errorf("updating spec PR: %w", err)
		}
		return checkRowsAffected(res)
	})
}

// MarkPRMerged marks a Spec's PR as merged and advances status to merged.
func (s *Store) MarkPRMerged(ctx context.Context, id string) error {
	return s.withSpecLock(id, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE specs SET pr_merged = 1, status = ?, updated_at = ? WHERE id = ?`,
			SpecStatusMerged, fmtTime(now()), id)
		if err != nil {
			return fmt.Errorf("marking PR merged: %w", err)
		}
		return checkRowsAffected(res)
	})
}

// CascadeDeleteSpec deletes a Spec and, via ON DELETE CASCADE, its Chunks,
// ToolCalls, Worker, and QueueItem.
func (s *Store) CascadeDeleteSpec(ctx context.Context, id string) error {
	return s.withSpecLock(id, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM specs WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("deleting spec: %w", err)
		}
		return checkRowsAffected(res)
	})
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

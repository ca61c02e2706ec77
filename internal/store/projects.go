package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row with the given id does not exist.
var ErrNotFound = errors.New("store: not found")

// CreateProject inserts a new Project, assigning an id if one is not set.
func (s *Store) CreateProject(ctx context.Context, p *Project) (*Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, directory, description, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Directory, p.Description, p.Config,
		fmtTime(p.CreatedAt), fmtTime(p.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}
	return p, nil
}

// GetProject loads a Project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, directory, description, config, created_at, updated_at
		FROM projects WHERE id = ?`, id)

	p := &Project{}
	var createdAt, updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Directory, &p.Description, &p.Config, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading project: %w", err)
	}
	p.CreatedAt = mustParseTime(createdAt)
	p.UpdatedAt = mustParseTime(updatedAt)
	return p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, directory, description, config, created_at, updated_at
		FROM projects ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p := &Project{}
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Directory, &p.Description, &p.Config, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		p.CreatedAt = mustParseTime(createdAt)
		p.UpdatedAt = mustParseTime(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// CascadeDeleteProject deletes a Project and, via ON DELETE CASCADE, every
// Spec, Chunk, ToolCall, Worker, and QueueItem it owns.
func (s *Store) CascadeDeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

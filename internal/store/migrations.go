package store

import "fmt"

// migration is one additive schema change, applied inside a transaction and
// recorded in schema_version. Mirrors the hand-rolled migration list pattern
// used by SQLite-backed CLI tools in the wider ecosystem: every migration is
// forward-only and numbered, never rewritten once released.
type migration struct {
	version int
	name    string
	sql     string
}

// migrations describes the full schema history. Later entries correspond to
// the evolutions named in the wire-contract spec (multi-spec support, review
// loop fields, dependency column, worker tables, project configuration,
// git branch/commit columns, worktree columns, and the cascade-delete
// rewrite) — folded here into one coherent initial schema since this is a
// greenfield database with no legacy rows to carry forward.
var migrations = []migration{
	{
		version: 1,
		name:    "initial_schema",
		sql: `
CREATE TABLE projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	directory   TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	config      TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE TABLE specs (
	id                      TEXT PRIMARY KEY,
	project_id              TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title                   TEXT NOT NULL,
	content                 TEXT NOT NULL DEFAULT '',
	version                 INTEGER NOT NULL DEFAULT 1,
	status                  TEXT NOT NULL DEFAULT 'draft',
	branch_name             TEXT NOT NULL DEFAULT '',
	original_branch         TEXT NOT NULL DEFAULT '',
	pr_number               INTEGER NOT NULL DEFAULT 0,
	pr_url                  TEXT NOT NULL DEFAULT '',
	worktree_path           TEXT NOT NULL DEFAULT '',
	worktree_created_at     TEXT,
	worktree_last_activity  TEXT,
	pr_merged               INTEGER NOT NULL DEFAULT 0,
	created_at              TEXT NOT NULL,
	updated_at              TEXT NOT NULL
);
CREATE INDEX idx_specs_project_id ON specs(project_id);

CREATE TABLE chunks (
	id              TEXT PRIMARY KEY,
	spec_id         TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	"order"         INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'pending',
	dependencies    TEXT NOT NULL DEFAULT '[]',
	output          TEXT NOT NULL DEFAULT '',
	output_summary  TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	review_status   TEXT NOT NULL DEFAULT '',
	review_feedback TEXT NOT NULL DEFAULT '',
	commit_hash     TEXT NOT NULL DEFAULT '',
	started_at      TEXT,
	completed_at    TEXT,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);
CREATE INDEX idx_chunks_spec_id ON chunks(spec_id);

CREATE TABLE chunk_tool_calls (
	id           TEXT PRIMARY KEY,
	chunk_id     TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	call_id      TEXT NOT NULL,
	tool         TEXT NOT NULL,
	input        TEXT NOT NULL DEFAULT '',
	output       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX idx_tool_calls_chunk_id ON chunk_tool_calls(chunk_id);
CREATE UNIQUE INDEX idx_tool_calls_chunk_call ON chunk_tool_calls(chunk_id, call_id);

CREATE TABLE workers (
	id                TEXT PRIMARY KEY,
	spec_id           TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
	project_id        TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	status            TEXT NOT NULL DEFAULT 'idle',
	current_chunk_id  TEXT NOT NULL DEFAULT '',
	current_step      TEXT NOT NULL DEFAULT '',
	progress_current  INTEGER NOT NULL DEFAULT 0,
	progress_total    INTEGER NOT NULL DEFAULT 0,
	progress_passed   INTEGER NOT NULL DEFAULT 0,
	progress_failed   INTEGER NOT NULL DEFAULT 0,
	started_at        TEXT,
	completed_at      TEXT,
	error             TEXT NOT NULL DEFAULT ''
);
CREATE INDEX idx_workers_spec_id ON workers(spec_id);
CREATE INDEX idx_workers_project_id ON workers(project_id);

CREATE TABLE worker_queue (
	id         TEXT PRIMARY KEY,
	spec_id    TEXT NOT NULL REFERENCES specs(id) ON DELETE CASCADE,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	priority   INTEGER NOT NULL DEFAULT 0,
	added_at   TEXT NOT NULL
);
CREATE INDEX idx_queue_priority ON worker_queue(priority DESC, added_at ASC);
`,
	},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("querying schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d (%s): %w", m.version, m.name, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", m.version, m.name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
			m.version, now().Format(timeFormat)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %d (%s): %w", m.version, m.name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d (%s): %w", m.version, m.name, err)
		}

		s.log.Info().Int("version", m.version).Str("name", m.name).Msg("applied schema migration")
	}

	return nil
}

const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

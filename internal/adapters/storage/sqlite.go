// Package storage persists run checkpoints in SQLite (pure Go driver, no
// CGo). One row per run holds the full state JSON plus the node pointer, so
// any run can resume after a process restart.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id     TEXT PRIMARY KEY,
    node       TEXT NOT NULL,
    status     TEXT NOT NULL,
    state      TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status  ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at DESC);
`

// SQLiteStore implements ports.CheckpointStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts the checkpoint for cp.RunID.
func (s *SQLiteStore) Save(ctx context.Context, cp ports.Checkpoint) error {
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("storage.Save: marshal state: %w", err)
	}

	created := cp.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, node, status, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			node       = excluded.node,
			status     = excluded.status,
			state      = excluded.state,
			updated_at = excluded.updated_at
	`, cp.RunID, cp.Node, string(cp.Status), string(state),
		created.Format(time.RFC3339Nano), updated.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("storage.Save: upsert %s: %w", cp.RunID, err)
	}
	return nil
}

// Load returns the checkpoint for runID, or domain.ErrUnknownRun.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (ports.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, node, status, state, created_at, updated_at
		FROM runs WHERE run_id = ?
	`, runID)

	cp, err := scanCheckpoint(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.Checkpoint{}, fmt.Errorf("storage.Load: %s: %w", runID, domain.ErrUnknownRun)
	}
	if err != nil {
		return ports.Checkpoint{}, fmt.Errorf("storage.Load: %s: %w", runID, err)
	}
	return cp, nil
}

// ListSuspended returns runs waiting at the interrupt point, most recent
// first.
func (s *SQLiteStore) ListSuspended(ctx context.Context) ([]ports.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, node, status, state, created_at, updated_at
		FROM runs WHERE status = ?
		ORDER BY updated_at DESC
	`, string(domain.StatusSuspended))
	if err != nil {
		return nil, fmt.Errorf("storage.ListSuspended: query: %w", err)
	}
	defer rows.Close()

	var cps []ports.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage.ListSuspended: scan: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanCheckpoint reads one row through the given Scan function.
func scanCheckpoint(scan func(...any) error) (ports.Checkpoint, error) {
	var cp ports.Checkpoint
	var status, state, created, updated string

	if err := scan(&cp.RunID, &cp.Node, &status, &state, &created, &updated); err != nil {
		return ports.Checkpoint{}, err
	}

	cp.Status = domain.RunStatus(status)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	cp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return ports.Checkpoint{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return cp, nil
}

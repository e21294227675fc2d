package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

//go:embed migrations/001_checkpoints.sql
var migrationV1 string

// SQLiteCheckpointStore implements core.CheckpointStore with SQLite storage.
type SQLiteCheckpointStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// NewSQLiteCheckpointStore opens (or creates) the checkpoint database.
func NewSQLiteCheckpointStore(dbPath string) (*SQLiteCheckpointStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}

	// WAL lets readers list checkpoints while a run appends.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &SQLiteCheckpointStore{dbPath: dbPath, db: db}

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database path.
func (s *SQLiteCheckpointStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteCheckpointStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteCheckpointStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Append inserts an immutable checkpoint record.
func (s *SQLiteCheckpointStore) Append(ctx context.Context, rec core.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, seq, phase, schema_version, checksum, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Seq, string(rec.Phase), rec.SchemaVersion,
		rec.Checksum, rec.Payload, rec.CreatedAt.UTC(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return core.ErrState(core.CodeInvalidState,
				fmt.Sprintf("checkpoint %s (run %s seq %d) already exists", rec.ID, rec.RunID, rec.Seq))
		}
		return fmt.Errorf("inserting checkpoint: %w", err)
	}
	return nil
}

// Get returns a checkpoint record by id.
func (s *SQLiteCheckpointStore) Get(ctx context.Context, id string) (*core.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, seq, phase, schema_version, checksum, payload, created_at
		FROM checkpoints WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("checkpoint", id)
	}
	return rec, err
}

// Latest returns the highest-sequence checkpoint of a run.
func (s *SQLiteCheckpointStore) Latest(ctx context.Context, runID string) (*core.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, seq, phase, schema_version, checksum, payload, created_at
		FROM checkpoints WHERE run_id = ? ORDER BY seq DESC LIMIT 1`, runID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("run", runID)
	}
	return rec, err
}

// List returns all checkpoint records of a run ordered by sequence.
func (s *SQLiteCheckpointStore) List(ctx context.Context, runID string) ([]core.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, phase, schema_version, checksum, payload, created_at
		FROM checkpoints WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []core.CheckpointRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Runs lists run ids with at least one checkpoint, most recent first.
func (s *SQLiteCheckpointStore) Runs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM checkpoints
		GROUP BY run_id ORDER BY MAX(created_at) DESC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning run id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Purge deletes every checkpoint of a run and returns how many were removed.
func (s *SQLiteCheckpointStore) Purge(ctx context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE run_id = ?", runID)
	if err != nil {
		return 0, fmt.Errorf("purging checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged checkpoints: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*core.CheckpointRecord, error) {
	var (
		rec       core.CheckpointRecord
		phase     string
		createdAt time.Time
	)
	err := row.Scan(&rec.ID, &rec.RunID, &rec.Seq, &phase, &rec.SchemaVersion,
		&rec.Checksum, &rec.Payload, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning checkpoint: %w", err)
	}
	rec.Phase = core.Phase(phase)
	rec.CreatedAt = createdAt
	return &rec, nil
}

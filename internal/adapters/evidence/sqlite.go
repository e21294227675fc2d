package evidence

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

//go:embed migrations/001_findings.sql
var migrationV1 string

// SQLiteRepository persists findings in SQLite so they survive restarts.
type SQLiteRepository struct {
	dbPath string
	db     *sql.DB
}

// NewSQLiteRepository opens (or creates) the evidence database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating evidence directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	r := &SQLiteRepository{dbPath: dbPath, db: db}
	if err := r.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	var version int
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := r.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Path returns the database path.
func (r *SQLiteRepository) Path() string {
	return r.dbPath
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Put upserts a finding.
func (r *SQLiteRepository) Put(ctx context.Context, f core.Finding) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO findings (
			run_id, id, content_text, source_url, source_title, subtask_id, worker_id,
			created_at, verified, verification_status, content_depth, quality_score,
			search_mode, embedding_vector
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			content_text = excluded.content_text,
			source_url = excluded.source_url,
			source_title = excluded.source_title,
			worker_id = excluded.worker_id,
			created_at = excluded.created_at,
			verified = excluded.verified,
			verification_status = excluded.verification_status,
			content_depth = excluded.content_depth,
			quality_score = excluded.quality_score,
			search_mode = excluded.search_mode,
			embedding_vector = excluded.embedding_vector`,
		f.RunID, f.ID, f.Content, f.SourceURL, f.SourceTitle, int(f.SubtaskID), f.WorkerID,
		f.CreatedAt.UTC(), boolToInt(f.Verified), string(f.VerificationStatus), string(f.ContentDepth),
		f.QualityScore, string(f.SearchMode), encodeVector(f.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upserting finding %s: %w", f.ID, err)
	}
	return nil
}

// Load returns the findings of a run ordered by creation time.
func (r *SQLiteRepository) Load(ctx context.Context, runID string) ([]core.Finding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, id, content_text, source_url, source_title, subtask_id, worker_id,
		       created_at, verified, verification_status, content_depth, quality_score,
		       search_mode, embedding_vector
		FROM findings WHERE run_id = ? ORDER BY created_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("loading findings: %w", err)
	}
	defer rows.Close()

	var out []core.Finding
	for rows.Next() {
		var (
			f                   core.Finding
			subtaskID, verified int
			status, depth, mode string
			createdAt           time.Time
			embedding           []byte
		)
		err := rows.Scan(&f.RunID, &f.ID, &f.Content, &f.SourceURL, &f.SourceTitle, &subtaskID, &f.WorkerID,
			&createdAt, &verified, &status, &depth, &f.QualityScore, &mode, &embedding)
		if err != nil {
			return nil, fmt.Errorf("scanning finding: %w", err)
		}
		f.SubtaskID = core.SubtaskID(subtaskID)
		f.CreatedAt = createdAt
		f.Verified = verified != 0
		f.VerificationStatus = core.VerificationStatus(status)
		f.ContentDepth = core.ContentDepth(depth)
		f.SearchMode = core.SearchMode(mode)
		f.Embedding = decodeVector(embedding)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Runs lists run ids that have findings.
func (r *SQLiteRepository) Runs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT run_id FROM findings ORDER BY run_id")
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeVector stores float32 values little-endian.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}

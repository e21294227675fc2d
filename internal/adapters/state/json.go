package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// JSONCheckpointStore implements core.CheckpointStore with one JSON file
// per checkpoint under <root>/<run_id>/.
type JSONCheckpointStore struct {
	root string
	mu   sync.RWMutex
}

// recordEnvelope wraps a record with file metadata.
type recordEnvelope struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"saved_at"`
	Record  core.CheckpointRecord `json:"record"`
}

const envelopeVersion = 1

// NewJSONCheckpointStore creates a store rooted at dir.
func NewJSONCheckpointStore(dir string) (*JSONCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return &JSONCheckpointStore{root: dir}, nil
}

// Root returns the store directory.
func (s *JSONCheckpointStore) Root() string {
	return s.root
}

// Close is a no-op.
func (s *JSONCheckpointStore) Close() error { return nil }

// Append writes a record atomically. Existing ids are rejected.
func (s *JSONCheckpointStore) Append(_ context.Context, rec core.CheckpointRecord) error {
	if err := validRunID(rec.RunID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := s.find(rec.ID); err == nil {
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("checkpoint %s already exists", rec.ID))
	}

	dir := filepath.Join(s.root, rec.RunID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating run directory: %w", err)
	}
	if existing, _ := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%06d-*.json", rec.Seq))); len(existing) > 0 {
		return core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("checkpoint seq %d of run %s already exists", rec.Seq, rec.RunID))
	}
	path := filepath.Join(dir, fileName(rec))

	data, err := json.MarshalIndent(recordEnvelope{
		Version: envelopeVersion,
		SavedAt: time.Now().UTC(),
		Record:  rec,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if err := atomicWriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint file: %w", err)
	}
	return nil
}

// Get returns a record by checkpoint id.
func (s *JSONCheckpointStore) Get(_ context.Context, id string) (*core.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, rec, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Latest returns the highest-sequence record of a run.
func (s *JSONCheckpointStore) Latest(ctx context.Context, runID string) (*core.CheckpointRecord, error) {
	recs, err := s.List(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, core.ErrNotFound("run", runID)
	}
	latest := recs[len(recs)-1]
	return &latest, nil
}

// List returns the records of a run ordered by sequence.
func (s *JSONCheckpointStore) List(_ context.Context, runID string) ([]core.CheckpointRecord, error) {
	if err := validRunID(runID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list(runID)
}

func (s *JSONCheckpointStore) list(runID string) ([]core.CheckpointRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, runID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading run directory: %w", err)
	}

	var out []core.CheckpointRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := readRecord(filepath.Join(s.root, runID, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Runs lists run ids that have checkpoint files, most recent first.
func (s *JSONCheckpointStore) Runs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint directory: %w", err)
	}
	type runInfo struct {
		id      string
		updated time.Time
	}
	var runs []runInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		recs, err := s.list(e.Name())
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		runs = append(runs, runInfo{id: e.Name(), updated: recs[len(recs)-1].CreatedAt})
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].updated.Equal(runs[j].updated) {
			return runs[i].updated.After(runs[j].updated)
		}
		return runs[i].id < runs[j].id
	})
	out := make([]string, len(runs))
	for i, r := range runs {
		out[i] = r.id
	}
	return out, nil
}

// Purge removes a run directory and returns the number of checkpoints in it.
func (s *JSONCheckpointStore) Purge(_ context.Context, runID string) (int, error) {
	if err := validRunID(runID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.list(runID)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(filepath.Join(s.root, runID)); err != nil {
		return 0, fmt.Errorf("removing run directory: %w", err)
	}
	return len(recs), nil
}

func (s *JSONCheckpointStore) find(id string) (string, *core.CheckpointRecord, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "*", "*-"+id+".json"))
	if err != nil {
		return "", nil, fmt.Errorf("searching checkpoints: %w", err)
	}
	if len(matches) == 0 {
		return "", nil, core.ErrNotFound("checkpoint", id)
	}
	rec, err := readRecord(matches[0])
	if err != nil {
		return "", nil, err
	}
	return matches[0], rec, nil
}

func readRecord(path string) (*core.CheckpointRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("unmarshaling %s", filepath.Base(path))).WithCause(err)
	}
	if env.Version > envelopeVersion {
		return nil, core.ErrState(core.CodeSchemaUnsupported,
			fmt.Sprintf("checkpoint file version %d not supported", env.Version))
	}
	return &env.Record, nil
}

func fileName(rec core.CheckpointRecord) string {
	return fmt.Sprintf("%06d-%s.json", rec.Seq, rec.ID)
}

func validRunID(runID string) error {
	if runID == "" || strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return core.ErrValidation(core.CodeInvalidState, fmt.Sprintf("invalid run id %q", runID))
	}
	return nil
}

package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// MemoryCheckpointStore keeps checkpoint records in process memory.
type MemoryCheckpointStore struct {
	mu   sync.RWMutex
	byID map[string]core.CheckpointRecord
	runs map[string][]string
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		byID: make(map[string]core.CheckpointRecord),
		runs: make(map[string][]string),
	}
}

// Append stores a copy of rec.
func (s *MemoryCheckpointStore) Append(_ context.Context, rec core.CheckpointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		return core.ErrState(core.CodeInvalidState, fmt.Sprintf("checkpoint %s already exists", rec.ID))
	}
	for _, id := range s.runs[rec.RunID] {
		if s.byID[id].Seq == rec.Seq {
			return core.ErrState(core.CodeInvalidState,
				fmt.Sprintf("checkpoint seq %d of run %s already exists", rec.Seq, rec.RunID))
		}
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	s.byID[rec.ID] = rec
	s.runs[rec.RunID] = append(s.runs[rec.RunID], rec.ID)
	return nil
}

// Get returns a record by id.
func (s *MemoryCheckpointStore) Get(_ context.Context, id string) (*core.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, core.ErrNotFound("checkpoint", id)
	}
	return copyRecord(rec), nil
}

// Latest returns the highest-sequence record of a run.
func (s *MemoryCheckpointStore) Latest(ctx context.Context, runID string) (*core.CheckpointRecord, error) {
	recs, _ := s.List(ctx, runID)
	if len(recs) == 0 {
		return nil, core.ErrNotFound("run", runID)
	}
	return &recs[len(recs)-1], nil
}

// List returns the records of a run ordered by sequence.
func (s *MemoryCheckpointStore) List(_ context.Context, runID string) ([]core.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.runs[runID]
	out := make([]core.CheckpointRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, *copyRecord(s.byID[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Runs lists run ids in lexical order.
func (s *MemoryCheckpointStore) Runs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Purge drops every record of a run.
func (s *MemoryCheckpointStore) Purge(_ context.Context, runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.runs[runID]
	for _, id := range ids {
		delete(s.byID, id)
	}
	delete(s.runs, runID)
	return len(ids), nil
}

// Close is a no-op.
func (s *MemoryCheckpointStore) Close() error { return nil }

func copyRecord(rec core.CheckpointRecord) *core.CheckpointRecord {
	rec.Payload = append([]byte(nil), rec.Payload...)
	return &rec
}

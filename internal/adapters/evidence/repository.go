package evidence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// Repository is the durable boundary of the evidence store. Put upserts by
// (run id, finding id); the Store decides whether a write happens at all.
type Repository interface {
	Load(ctx context.Context, runID string) ([]core.Finding, error)
	Put(ctx context.Context, f core.Finding) error
	Runs(ctx context.Context) ([]string, error)
	Close() error
}

// MemoryRepository keeps findings in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]map[string]core.Finding
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]map[string]core.Finding)}
}

// Load returns the findings of a run ordered by creation time.
func (r *MemoryRepository) Load(_ context.Context, runID string) ([]core.Finding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Finding, 0, len(r.runs[runID]))
	for _, f := range r.runs[runID] {
		out = append(out, f.Clone())
	}
	sortFindings(out)
	return out, nil
}

// Put stores a copy of f.
func (r *MemoryRepository) Put(_ context.Context, f core.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bucket, ok := r.runs[f.RunID]
	if !ok {
		bucket = make(map[string]core.Finding)
		r.runs[f.RunID] = bucket
	}
	bucket[f.ID] = f.Clone()
	return nil
}

// Runs lists run ids in lexical order.
func (r *MemoryRepository) Runs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runs))
	for id := range r.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error { return nil }

// Backend names accepted by NewRepository.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// NewRepository creates a repository for the named backend.
func NewRepository(backend, path string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		return NewSQLiteRepository(path)
	case BackendMemory:
		return NewMemoryRepository(), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown evidence backend %q", backend))
	}
}

// sortFindings orders by creation time then id.
func sortFindings(fs []core.Finding) {
	sort.Slice(fs, func(i, j int) bool {
		if !fs[i].CreatedAt.Equal(fs[j].CreatedAt) {
			return fs[i].CreatedAt.Before(fs[j].CreatedAt)
		}
		return fs[i].ID < fs[j].ID
	})
}

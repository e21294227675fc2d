// Package evidence implements the run-scoped evidence store: deduplicated,
// append/upgrade-only findings with similarity and quality ranked search.
package evidence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

// Default ranking weights and candidate over-fetch factor.
const (
	DefaultSimilarityWeight = 0.6
	DefaultQualityWeight    = 0.4
	DefaultCandidateFactor  = 3
	DefaultTopK             = 10
)

// Store is the evidence store of one run. Saves are safe for concurrent
// use; contention is per finding id only.
type Store struct {
	runID    string
	repo     Repository
	embedder core.Embedder
	lexical  *lexicalIndex
	logger   *logging.Logger

	simWeight       float64
	qualityWeight   float64
	candidateFactor int

	findings sync.Map // id -> core.Finding
	count    atomic.Int64
	locks    keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder enables vector similarity search.
func WithEmbedder(e core.Embedder) Option {
	return func(s *Store) { s.embedder = e }
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRanking sets the re-rank weights and candidate factor.
func WithRanking(similarityWeight, qualityWeight float64, candidateFactor int) Option {
	return func(s *Store) {
		if similarityWeight >= 0 && qualityWeight >= 0 && similarityWeight+qualityWeight > 0 {
			s.simWeight = similarityWeight
			s.qualityWeight = qualityWeight
		}
		if candidateFactor >= 1 {
			s.candidateFactor = candidateFactor
		}
	}
}

// NewStore opens the partition of runID, loading any findings already
// persisted for it.
func NewStore(ctx context.Context, runID string, repo Repository, opts ...Option) (*Store, error) {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	lex, err := newLexicalIndex()
	if err != nil {
		return nil, err
	}
	s := &Store{
		runID:           runID,
		repo:            repo,
		lexical:         lex,
		logger:          logging.NewNop(),
		simWeight:       DefaultSimilarityWeight,
		qualityWeight:   DefaultQualityWeight,
		candidateFactor: DefaultCandidateFactor,
	}
	for _, opt := range opts {
		opt(s)
	}

	existing, err := repo.Load(ctx, runID)
	if err != nil {
		_ = lex.close()
		return nil, fmt.Errorf("loading findings for run %s: %w", runID, err)
	}
	for _, f := range existing {
		s.findings.Store(f.ID, f)
		s.count.Add(1)
		if err := s.lexical.put(f); err != nil {
			_ = lex.close()
			return nil, err
		}
	}
	if len(existing) > 0 {
		s.logger.Debug("evidence loaded", "run_id", runID, "findings", len(existing))
	}
	return s, nil
}

// RunID returns the run this store belongs to.
func (s *Store) RunID() string {
	return s.runID
}

// Prepare normalizes and validates a finding and computes its embedding.
// It does not touch stored state.
func (s *Store) Prepare(ctx context.Context, f core.Finding) (core.Finding, error) {
	f = f.Clone()
	f.RunID = s.runID
	f.ID = core.FindingID(f.SourceURL, f.SubtaskID)
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := f.Validate(); err != nil {
		return core.Finding{}, err
	}

	if s.embedder != nil && len(f.Embedding) == 0 {
		vecs, err := s.embedder.Embed(ctx, []string{f.Content})
		switch {
		case err != nil:
			// Lexical ranking still covers findings without vectors.
			s.logger.Warn("embedding finding failed", "finding_id", f.ID, "error", err)
		case len(vecs) == 1:
			f.Embedding = vecs[0]
		}
	}
	return f, nil
}

// Commit performs the atomic dedup-check-and-write for a prepared finding
// and returns the id of the stored version.
func (s *Store) Commit(ctx context.Context, f core.Finding) (string, error) {
	if f.ID == "" || f.RunID != s.runID {
		f.RunID = s.runID
		f.ID = core.FindingID(f.SourceURL, f.SubtaskID)
	}
	if err := f.Validate(); err != nil {
		return "", err
	}

	unlock := s.locks.lock(f.ID)
	defer unlock()

	if current, ok := s.load(f.ID); ok && !replaces(f, current) {
		return current.ID, nil
	}

	if err := s.repo.Put(ctx, f); err != nil {
		return "", fmt.Errorf("persisting finding: %w", err)
	}
	if _, loaded := s.findings.Swap(f.ID, f.Clone()); !loaded {
		s.count.Add(1)
	}
	if err := s.lexical.put(f); err != nil {
		s.logger.Warn("indexing finding failed", "finding_id", f.ID, "error", err)
	}
	return f.ID, nil
}

// Save prepares and commits a finding.
func (s *Store) Save(ctx context.Context, f core.Finding) (string, error) {
	prepared, err := s.Prepare(ctx, f)
	if err != nil {
		return "", err
	}
	return s.Commit(ctx, prepared)
}

// replaces reports whether candidate should overwrite current. Only a
// strictly richer depth upgrades, so the stored depth is always the
// richest ever submitted for the id.
func replaces(candidate, current core.Finding) bool {
	return candidate.ContentDepth.RicherThan(current.ContentDepth)
}

func (s *Store) load(id string) (core.Finding, bool) {
	v, ok := s.findings.Load(id)
	if !ok {
		return core.Finding{}, false
	}
	return v.(core.Finding), true
}

// Get returns a copy of a finding by id.
func (s *Store) Get(id string) (core.Finding, bool) {
	f, ok := s.load(id)
	if !ok {
		return core.Finding{}, false
	}
	return f.Clone(), true
}

// Len returns the number of stored findings.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// All returns every finding ordered by creation time then id.
func (s *Store) All() []core.Finding {
	var out []core.Finding
	s.findings.Range(func(_, v any) bool {
		out = append(out, v.(core.Finding).Clone())
		return true
	})
	sortFindings(out)
	return out
}

// IDs returns the ids of all stored findings in All order.
func (s *Store) IDs() []string {
	all := s.All()
	ids := make([]string, len(all))
	for i, f := range all {
		ids[i] = f.ID
	}
	return ids
}

// BySubtask returns the findings of one subtask.
func (s *Store) BySubtask(id core.SubtaskID) []core.Finding {
	var out []core.Finding
	for _, f := range s.All() {
		if f.SubtaskID == id {
			out = append(out, f)
		}
	}
	return out
}

// ListSources returns the distinct source urls, sorted.
func (s *Store) ListSources() []string {
	return s.ListSourcesByMode("")
}

// ListSourcesByMode returns the distinct source urls of one search mode.
// An empty mode lists every source.
func (s *Store) ListSourcesByMode(mode core.SearchMode) []string {
	seen := make(map[string]bool)
	s.findings.Range(func(_, v any) bool {
		f := v.(core.Finding)
		if mode == "" || f.SearchMode == mode {
			seen[f.SourceURL] = true
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Close releases the lexical index. The repository belongs to the caller.
func (s *Store) Close() error {
	return s.lexical.close()
}

// keyedMutex serializes work per key without a store-wide lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

package evidence

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// Search returns the topK findings for text. Nearest neighbours by
// similarity (topK x candidate factor) are re-ranked by
// similarity_weight*similarity + quality_weight*quality/5.
// Ties break on newest created_at, then id.
func (s *Store) Search(ctx context.Context, text string, opts core.SearchOptions) ([]core.ScoredFinding, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	var pool []core.Finding
	s.findings.Range(func(_, v any) bool {
		f := v.(core.Finding)
		if opts.Mode == "" || f.SearchMode == opts.Mode {
			pool = append(pool, f)
		}
		return true
	})
	if len(pool) == 0 {
		return nil, nil
	}

	sims, err := s.similarities(ctx, text, opts.Mode, pool)
	if err != nil {
		return nil, err
	}

	scored := make([]core.ScoredFinding, len(pool))
	for i, f := range pool {
		scored[i] = core.ScoredFinding{Finding: f, Similarity: sims[f.ID]}
	}

	// Nearest neighbours first.
	sort.Slice(scored, func(i, j int) bool {
		return ranksBefore(scored[i], scored[j], scored[i].Similarity, scored[j].Similarity)
	})
	if n := topK * s.candidateFactor; len(scored) > n {
		scored = scored[:n]
	}

	for i := range scored {
		q := float64(scored[i].Finding.QualityScore) / core.MaxQualityScore
		scored[i].Score = s.simWeight*scored[i].Similarity + s.qualityWeight*q
	}
	sort.Slice(scored, func(i, j int) bool {
		return ranksBefore(scored[i], scored[j], scored[i].Score, scored[j].Score)
	})
	if len(scored) > topK {
		scored = scored[:topK]
	}

	for i := range scored {
		scored[i].Finding = scored[i].Finding.Clone()
	}
	return scored, nil
}

func ranksBefore(a, b core.ScoredFinding, av, bv float64) bool {
	if av != bv {
		return av > bv
	}
	if !a.Finding.CreatedAt.Equal(b.Finding.CreatedAt) {
		return a.Finding.CreatedAt.After(b.Finding.CreatedAt)
	}
	return a.Finding.ID < b.Finding.ID
}

// similarities scores every finding in pool against text. Vector cosine is
// used when the query embeds; findings without a vector, or every finding
// when embedding is unavailable, take the normalized lexical score.
func (s *Store) similarities(ctx context.Context, text string, mode core.SearchMode, pool []core.Finding) (map[string]float64, error) {
	out := make(map[string]float64, len(pool))
	if strings.TrimSpace(text) == "" {
		return out, nil
	}

	var queryVec []float32
	if s.embedder != nil {
		vecs, err := s.embedder.Embed(ctx, []string{text})
		if err != nil {
			s.logger.Warn("query embedding failed, using lexical ranking", "error", err)
		} else if len(vecs) == 1 {
			queryVec = vecs[0]
		}
	}

	needLexical := queryVec == nil
	if !needLexical {
		for _, f := range pool {
			if len(f.Embedding) != len(queryVec) {
				needLexical = true
				break
			}
		}
	}

	var lexical map[string]float64
	if needLexical {
		var err error
		lexical, err = s.lexical.scores(text, mode, len(pool))
		if err != nil {
			return nil, err
		}
	}

	for _, f := range pool {
		if queryVec != nil && len(f.Embedding) == len(queryVec) {
			out[f.ID] = cosine(queryVec, f.Embedding)
			continue
		}
		out[f.ID] = lexical[f.ID]
	}
	return out, nil
}

// cosine returns the cosine similarity clamped to [0,1].
func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, c))
}

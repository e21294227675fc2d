package evidence

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// lexicalIndex is an in-memory BM25 index over finding text. It ranks
// findings when no query embedding is available.
type lexicalIndex struct {
	index bleve.Index
}

// findingDocument is the indexed view of a finding.
type findingDocument struct {
	Content string `json:"content"`
	Title   string `json:"title"`
	Mode    string `json:"mode"`
}

func newLexicalIndex() (*lexicalIndex, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating lexical index: %w", err)
	}
	return &lexicalIndex{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	kw := bleve.NewKeywordFieldMapping()

	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("title", text)
	doc.AddFieldMappingsAt("mode", kw)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// put indexes (or re-indexes) a finding. Safe for concurrent use.
func (l *lexicalIndex) put(f core.Finding) error {
	return l.index.Index(f.ID, findingDocument{
		Content: f.Content,
		Title:   f.SourceTitle,
		Mode:    string(f.SearchMode),
	})
}

// scores returns BM25 scores normalized to [0,1] by the best hit.
func (l *lexicalIndex) scores(text string, mode core.SearchMode, size int) (map[string]float64, error) {
	content := bleve.NewMatchQuery(text)
	content.SetField("content")
	title := bleve.NewMatchQuery(text)
	title.SetField("title")

	var q query.Query = bleve.NewDisjunctionQuery(content, title)
	if mode != "" {
		modeQ := bleve.NewTermQuery(string(mode))
		modeQ.SetField("mode")
		q = bleve.NewConjunctionQuery(q, modeQ)
	}

	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	res, err := l.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	out := make(map[string]float64, len(res.Hits))
	maxScore := res.MaxScore
	for _, hit := range res.Hits {
		if maxScore > 0 {
			out[hit.ID] = hit.Score / maxScore
		}
	}
	return out, nil
}

func (l *lexicalIndex) close() error {
	return l.index.Close()
}

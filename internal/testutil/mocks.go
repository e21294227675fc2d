package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

// recorder is embedded by every mock for call tracking.
type recorder struct {
	mu    sync.Mutex
	calls []MockCall
}

func (r *recorder) recordCall(method string, args interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{Method: method, Args: args, Timestamp: time.Now()})
}

// Calls returns recorded calls.
func (r *recorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MockCall{}, r.calls...)
}

// CallCount returns number of calls to a method.
func (r *recorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// wait sleeps for d or until ctx ends.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// =============================================================================
// Search
// =============================================================================

// MockSearchGateway implements core.SearchGateway with scripted results.
// Queries are matched case-insensitively by substring; the first match wins.
type MockSearchGateway struct {
	recorder
	results  map[string][]core.Lead
	errors   map[string]error
	hangs    map[string]bool
	order    []string
	delay    time.Duration
	fallback []core.Lead
	fn       func(context.Context, string, core.SearchMode) ([]core.Lead, error)
}

// NewMockSearchGateway creates an empty scripted search gateway.
func NewMockSearchGateway() *MockSearchGateway {
	return &MockSearchGateway{
		results: make(map[string][]core.Lead),
		errors:  make(map[string]error),
		hangs:   make(map[string]bool),
	}
}

// WithResults scripts leads for queries containing match.
func (m *MockSearchGateway) WithResults(match string, leads ...core.Lead) *MockSearchGateway {
	key := strings.ToLower(match)
	m.results[key] = leads
	m.order = append(m.order, key)
	return m
}

// WithError scripts an error for queries containing match.
func (m *MockSearchGateway) WithError(match string, err error) *MockSearchGateway {
	key := strings.ToLower(match)
	m.errors[key] = err
	m.order = append(m.order, key)
	return m
}

// WithHang makes queries containing match block until the context ends.
func (m *MockSearchGateway) WithHang(match string) *MockSearchGateway {
	key := strings.ToLower(match)
	m.hangs[key] = true
	m.order = append(m.order, key)
	return m
}

// WithDefault sets leads returned for unmatched queries.
func (m *MockSearchGateway) WithDefault(leads ...core.Lead) *MockSearchGateway {
	m.fallback = leads
	return m
}

// WithDelay adds latency to every call.
func (m *MockSearchGateway) WithDelay(d time.Duration) *MockSearchGateway {
	m.delay = d
	return m
}

// WithFunc replaces scripting with a custom function.
func (m *MockSearchGateway) WithFunc(fn func(context.Context, string, core.SearchMode) ([]core.Lead, error)) *MockSearchGateway {
	m.fn = fn
	return m
}

// Search returns the scripted leads for query.
func (m *MockSearchGateway) Search(ctx context.Context, query string, mode core.SearchMode, maxResults int) ([]core.Lead, error) {
	m.recordCall("Search", query)
	if err := wait(ctx, m.delay); err != nil {
		return nil, err
	}
	if m.fn != nil {
		return m.fn(ctx, query, mode)
	}

	q := strings.ToLower(query)
	for _, key := range m.order {
		if !strings.Contains(q, key) {
			continue
		}
		if m.hangs[key] {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		if err, ok := m.errors[key]; ok {
			return nil, err
		}
		return limitLeads(m.results[key], query, maxResults), nil
	}
	return limitLeads(m.fallback, query, maxResults), nil
}

// BatchSearch runs Search for each query and concatenates the results.
func (m *MockSearchGateway) BatchSearch(ctx context.Context, queries []string, mode core.SearchMode, maxResults int) ([]core.Lead, error) {
	if len(queries) > core.MaxBatchQueries {
		return nil, core.ErrValidation(core.CodeTooManyQueries, fmt.Sprintf("batch of %d queries exceeds %d", len(queries), core.MaxBatchQueries))
	}
	var out []core.Lead
	var firstErr error
	for _, q := range queries {
		leads, err := m.Search(ctx, q, mode, maxResults)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, leads...)
	}
	if len(out) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func limitLeads(leads []core.Lead, query string, max int) []core.Lead {
	out := make([]core.Lead, 0, len(leads))
	for _, l := range leads {
		if max > 0 && len(out) >= max {
			break
		}
		if l.Query == "" {
			l.Query = query
		}
		out = append(out, l)
	}
	return out
}

// =============================================================================
// Extraction
// =============================================================================

// Page scripts the extraction result for one URL.
type Page struct {
	Status    int
	Title     string
	Content   string
	VerifyErr error
	FetchErr  error
	Delay     time.Duration
}

// MockExtractionGateway implements core.ExtractionGateway with scripted pages.
// Unknown URLs fail verification with a permanent 404.
type MockExtractionGateway struct {
	recorder
	mu    sync.RWMutex
	pages map[string]Page
}

// NewMockExtractionGateway creates an empty scripted extraction gateway.
func NewMockExtractionGateway() *MockExtractionGateway {
	return &MockExtractionGateway{pages: make(map[string]Page)}
}

// WithPage scripts a page.
func (m *MockExtractionGateway) WithPage(url string, p Page) *MockExtractionGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status == 0 {
		p.Status = 200
	}
	m.pages[url] = p
	return m
}

func (m *MockExtractionGateway) page(url string) (Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pages[url]
	return p, ok
}

// Verify returns the scripted status for url.
func (m *MockExtractionGateway) Verify(ctx context.Context, url string) (core.PageStatus, error) {
	m.recordCall("Verify", url)
	p, ok := m.page(url)
	if !ok {
		return core.PageStatus{HTTPStatus: 404}, core.ErrPermanentGateway("extraction", "not found: "+url)
	}
	if err := wait(ctx, p.Delay); err != nil {
		return core.PageStatus{}, err
	}
	if p.VerifyErr != nil {
		return core.PageStatus{}, p.VerifyErr
	}
	return core.PageStatus{HTTPStatus: p.Status, ResolvedTitle: p.Title}, nil
}

// Fetch returns the scripted content for url truncated to maxChars.
func (m *MockExtractionGateway) Fetch(ctx context.Context, url string, maxChars int) (string, error) {
	m.recordCall("Fetch", url)
	p, ok := m.page(url)
	if !ok {
		return "", core.ErrPermanentGateway("extraction", "not found: "+url)
	}
	if err := wait(ctx, p.Delay); err != nil {
		return "", err
	}
	if p.FetchErr != nil {
		return "", p.FetchErr
	}
	if p.Status < 200 || p.Status >= 300 {
		return "", core.ClassifyHTTPStatus("extraction", p.Status, "")
	}
	content := p.Content
	if maxChars > 0 && len(content) > maxChars {
		content = content[:maxChars]
	}
	return content, nil
}

// =============================================================================
// Embedding
// =============================================================================

// HashEmbedder is a deterministic bag-of-words embedder: each lowercase
// token is hashed into one of Dim buckets.
type HashEmbedder struct {
	recorder
	Dim int
	Err error
}

// NewHashEmbedder creates a hash embedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{Dim: dim}
}

// Embed returns one normalized vector per text.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.recordCall("Embed", len(texts))
	if h.Err != nil {
		return nil, h.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, h.Dimension())
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range tokens {
			f := fnv.New32a()
			_, _ = f.Write([]byte(tok))
			vec[int(f.Sum32())%len(vec)]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the vector size.
func (h *HashEmbedder) Dimension() int {
	if h.Dim <= 0 {
		return 64
	}
	return h.Dim
}

// =============================================================================
// Reasoning
// =============================================================================

// MockGenerator implements core.SubtaskGenerator.
type MockGenerator struct {
	recorder
	fn func(context.Context, core.PlanRequest) (*core.PlanDraft, error)
}

// NewMockGenerator creates a generator backed by fn.
func NewMockGenerator(fn func(context.Context, core.PlanRequest) (*core.PlanDraft, error)) *MockGenerator {
	return &MockGenerator{fn: fn}
}

// GenerateSubtasks calls the scripted function.
func (m *MockGenerator) GenerateSubtasks(ctx context.Context, req core.PlanRequest) (*core.PlanDraft, error) {
	m.recordCall("GenerateSubtasks", req)
	return m.fn(ctx, req)
}

// MockCritic implements core.Critic with a scripted sequence of critiques.
// The last entry repeats once the sequence is exhausted.
type MockCritic struct {
	recorder
	critiques []*core.Critique
	err       error
	n         int
}

// NewMockCritic creates a critic returning critiques in order.
func NewMockCritic(critiques ...*core.Critique) *MockCritic {
	return &MockCritic{critiques: critiques}
}

// WithError makes every call fail.
func (m *MockCritic) WithError(err error) *MockCritic {
	m.err = err
	return m
}

// Critique returns the next scripted critique.
func (m *MockCritic) Critique(_ context.Context, req core.CritiqueRequest) (*core.Critique, error) {
	m.recordCall("Critique", req.Iteration)
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.critiques) == 0 {
		return &core.Critique{Score: req.Heuristic.OverallScore}, nil
	}
	i := m.n
	if i >= len(m.critiques) {
		i = len(m.critiques) - 1
	}
	m.n++
	c := *m.critiques[i]
	return &c, nil
}

// MockReviewer implements core.Reviewer.
type MockReviewer struct {
	recorder
	Outcome *core.ReviewOutcome
	Err     error
}

// Review returns the scripted outcome.
func (m *MockReviewer) Review(_ context.Context, req core.ReviewRequest) (*core.ReviewOutcome, error) {
	m.recordCall("Review", req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Outcome, nil
}

// MockReportWriter implements core.ReportWriter.
type MockReportWriter struct {
	recorder
	Report string
	Err    error
}

// WriteReport returns the scripted report.
func (m *MockReportWriter) WriteReport(_ context.Context, req core.ReportRequest) (string, error) {
	m.recordCall("WriteReport", req)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Report, nil
}

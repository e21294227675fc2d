package core

import "context"

// =============================================================================
// Gateway ports
// =============================================================================

// MaxBatchQueries is the largest query list a batch search accepts.
const MaxBatchQueries = 5

// Lead is an unverified search result.
type Lead struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Date    string `json:"date,omitempty"`
	Query   string `json:"query,omitempty"`
}

// SearchGateway queries an external search provider. Implementations
// classify failures with ErrTransientGateway/ErrPermanentGateway.
type SearchGateway interface {
	Search(ctx context.Context, query string, mode SearchMode, maxResults int) ([]Lead, error)
	BatchSearch(ctx context.Context, queries []string, mode SearchMode, maxResults int) ([]Lead, error)
}

// PageStatus is the result of a reachability check.
type PageStatus struct {
	HTTPStatus    int    `json:"http_status"`
	ResolvedTitle string `json:"resolved_title"`
}

// OK reports whether the status is a success status.
func (p PageStatus) OK() bool {
	return p.HTTPStatus >= 200 && p.HTTPStatus < 300
}

// ExtractionGateway verifies and fetches source content. Timeout and TLS
// failures are terminal for the URL within a worker pass.
type ExtractionGateway interface {
	Verify(ctx context.Context, url string) (PageStatus, error)
	Fetch(ctx context.Context, url string, maxChars int) (string, error)
}

// Embedder converts text into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// =============================================================================
// Evidence ports
// =============================================================================

// SearchOptions narrows an evidence search.
type SearchOptions struct {
	TopK int
	// Mode restricts results to one search mode when set.
	Mode SearchMode
}

// ScoredFinding is a search hit with its ranking components.
type ScoredFinding struct {
	Finding    Finding `json:"finding"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// EvidenceReader is the read contract the Evaluator and Synthesizer use.
type EvidenceReader interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]ScoredFinding, error)
	Get(id string) (Finding, bool)
	ListSources() []string
	All() []Finding
	BySubtask(id SubtaskID) []Finding
}

// EvidenceWriter persists findings. Prepare validates and embeds;
// Commit performs the atomic dedup-check-and-write.
type EvidenceWriter interface {
	Prepare(ctx context.Context, f Finding) (Finding, error)
	Commit(ctx context.Context, f Finding) (string, error)
}

// =============================================================================
// Reasoning ports
// =============================================================================

// PlanRequest is the input of a subtask generation call.
type PlanRequest struct {
	Query       string
	Iteration   int
	Gaps        []Gap
	History     []Subtask
	MinSubtasks int
	MaxSubtasks int
}

// SubtaskDraft is a subtask proposed by a generator before ids are assigned.
type SubtaskDraft struct {
	Query              string        `json:"query"`
	Focus              string        `json:"focus"`
	Mode               SearchMode    `json:"search_mode"`
	Priority           int           `json:"priority"`
	Phase              ResearchPhase `json:"phase,omitempty"`
	AlternativeQueries []string      `json:"alternative_queries,omitempty"`
	MinFindings        int           `json:"min_findings,omitempty"`
}

// PlanDraft is a generator's proposed plan.
type PlanDraft struct {
	Summary        string         `json:"summary"`
	EstimatedDepth Depth          `json:"estimated_depth"`
	KeyQuestions   []string       `json:"key_questions"`
	Subtasks       []SubtaskDraft `json:"subtasks"`
}

// SubtaskGenerator proposes subtasks for a query or for evidence gaps.
type SubtaskGenerator interface {
	GenerateSubtasks(ctx context.Context, req PlanRequest) (*PlanDraft, error)
}

// ExtractRequest carries one candidate's content to the extractor.
type ExtractRequest struct {
	Subtask Subtask
	Lead    Lead
	Content string
	Depth   ContentDepth
}

// Excerpt is extracted evidence text.
type Excerpt struct {
	Title   string
	Content string
}

// EvidenceExtractor turns fetched content into evidence excerpts.
type EvidenceExtractor interface {
	Extract(ctx context.Context, req ExtractRequest) ([]Excerpt, error)
}

// CritiqueRequest is the input of an external critique.
type CritiqueRequest struct {
	Query     string
	Iteration int
	Subtasks  []Subtask
	Findings  []Finding
	Heuristic Evaluation
}

// Critique is an external scorer's opinion of the evidence.
type Critique struct {
	Score      int      `json:"overall_score"`
	Gaps       []Gap    `json:"gaps"`
	Strengths  []string `json:"strengths"`
	Weaknesses []string `json:"weaknesses"`
}

// Critic scores evidence with an external reasoning service.
type Critic interface {
	Critique(ctx context.Context, req CritiqueRequest) (*Critique, error)
}

// ReviewRequest is sent to the human review channel.
type ReviewRequest struct {
	RunID             string `json:"run_id"`
	EvaluationSummary string `json:"evaluation_summary"`
}

// Reviewer asks a human to approve synthesis or request more evidence.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (*ReviewOutcome, error)
}

// ReportSection groups the evidence selected for one subtask.
type ReportSection struct {
	Subtask  Subtask
	Findings []Finding
}

// ReportRequest is the input of report writing.
type ReportRequest struct {
	Query      string
	Summary    string
	Sections   []ReportSection
	General    []Finding
	Sources    []string
	Caveats    []string
	Evaluation *Evaluation
}

// ReportWriter writes the narrative report from selected evidence.
type ReportWriter interface {
	WriteReport(ctx context.Context, req ReportRequest) (string, error)
}

package research

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

// FindingSink receives the findings a worker produces.
type FindingSink interface {
	Save(ctx context.Context, f core.Finding) (string, error)
}

// Worker executes one subtask: search, select, verify, fetch, extract
// and save.
type Worker struct {
	search     core.SearchGateway
	extraction core.ExtractionGateway
	extractor  core.EvidenceExtractor
	opts       WorkerOptions
	logger     *logging.Logger
	now        func() time.Time
}

// WorkerDeps holds the collaborators of a Worker. Extraction and
// Extractor are optional.
type WorkerDeps struct {
	Search     core.SearchGateway
	Extraction core.ExtractionGateway
	Extractor  core.EvidenceExtractor
	Options    WorkerOptions
	Logger     *logging.Logger
}

// NewWorker creates a worker.
func NewWorker(deps WorkerDeps) *Worker {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	opts := deps.Options
	d := DefaultOptions().Worker
	if opts.TopK <= 0 {
		opts.TopK = d.TopK
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = d.MaxResults
	}
	if opts.MaxFetchChars <= 0 {
		opts.MaxFetchChars = d.MaxFetchChars
	}
	if opts.MaxFindingChars <= 0 {
		opts.MaxFindingChars = d.MaxFindingChars
	}
	if len(opts.AcademicDomains) == 0 {
		opts.AcademicDomains = d.AcademicDomains
	}
	return &Worker{
		search:     deps.Search,
		extraction: deps.Extraction,
		extractor:  deps.Extractor,
		opts:       opts,
		logger:     deps.Logger,
		now:        time.Now,
	}
}

// Execute runs st and returns the ids of the findings it saved. A subtask
// that yields no findings fails with NO_FINDINGS.
func (w *Worker) Execute(ctx context.Context, runID string, st core.Subtask, workerID string, sink FindingSink) ([]string, error) {
	logger := w.logger.WithRun(runID).WithSubtask(st.ID.String()).WithWorker(workerID)

	leads, err := w.gather(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("searching for %s: %w", st.ID, err)
	}
	candidates := w.selectLeads(st, leads)
	logger.Debug("leads selected", "leads", len(leads), "candidates", len(candidates))

	var ids []string
	seen := make(map[string]bool)
	for _, lead := range candidates {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		f, ok := w.process(ctx, runID, st, workerID, lead, logger)
		if !ok {
			continue
		}
		id, err := sink.Save(ctx, f)
		if err != nil {
			if errors.Is(err, ErrSinkClosed) || ctx.Err() != nil {
				return ids, err
			}
			logger.Warn("finding rejected", "url", lead.URL, "error", err)
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return nil, core.ErrExecution(core.CodeNoFindings,
			fmt.Sprintf("subtask %s produced no findings from %d leads", st.ID, len(leads)))
	}
	logger.Info("subtask researched", "findings", len(ids))
	return ids, nil
}

func (w *Worker) gather(ctx context.Context, st core.Subtask) ([]core.Lead, error) {
	queries := []string{st.Query}
	if w.opts.QueryVariants {
		queries = st.Queries()
	}
	if len(queries) > core.MaxBatchQueries {
		queries = queries[:core.MaxBatchQueries]
	}
	if len(queries) == 1 {
		return w.search.Search(ctx, queries[0], st.Mode, w.opts.MaxResults)
	}
	return w.search.BatchSearch(ctx, queries, st.Mode, w.opts.MaxResults)
}

// selectLeads dedupes leads by url and keeps the top-K by leadScore.
func (w *Worker) selectLeads(st core.Subtask, leads []core.Lead) []core.Lead {
	type scored struct {
		lead  core.Lead
		score float64
	}
	terms := tokens(st.Query)
	now := w.now()

	seen := make(map[string]bool)
	var pool []scored
	for _, l := range leads {
		key := core.NormalizeURL(l.URL)
		if key == "" || core.HostOf(l.URL) == "" || seen[key] {
			continue
		}
		seen[key] = true
		pool = append(pool, scored{l, leadScore(l, terms, w.opts.AcademicDomains, now)})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].score > pool[j].score })

	n := min(w.opts.TopK, len(pool))
	out := make([]core.Lead, n)
	for i := range out {
		out[i] = pool[i].lead
	}
	return out
}

// process turns one lead into a finding, degrading from full scrape to
// snippet as gateway steps fail.
func (w *Worker) process(ctx context.Context, runID string, st core.Subtask, workerID string, lead core.Lead, logger *logging.Logger) (core.Finding, bool) {
	title := strings.TrimSpace(lead.Title)
	content := strings.TrimSpace(lead.Snippet)
	depth := core.DepthSnippet
	status := core.VerificationUnchecked
	verified := false

	if w.extraction != nil && (w.opts.Verify || w.opts.Fetch) {
		reachable := true
		if w.opts.Verify {
			ps, err := w.extraction.Verify(ctx, lead.URL)
			reachable = err == nil && ps.OK()
			if reachable && ps.ResolvedTitle != "" {
				title = ps.ResolvedTitle
			}
			if !reachable {
				logger.Debug("verification failed", "url", lead.URL, "status", ps.HTTPStatus, "error", err)
			}
		}

		fetched := false
		if w.opts.Fetch && reachable {
			text, err := w.extraction.Fetch(ctx, lead.URL, w.opts.MaxFetchChars+1)
			text = strings.TrimSpace(text)
			switch {
			case err != nil:
				logger.Debug("fetch failed", "url", lead.URL, "error", err)
			case text == "":
			case utf8.RuneCountInString(text) > w.opts.MaxFetchChars:
				content = string([]rune(text)[:w.opts.MaxFetchChars])
				depth, status, verified, fetched = core.DepthPartialScrape, core.VerificationPartial, true, true
			default:
				content = text
				depth, status, verified, fetched = core.DepthFullScrape, core.VerificationVerified, true, true
			}
		}

		if !fetched {
			switch {
			case w.opts.Verify && reachable:
				status = core.VerificationPartial
			case w.opts.Verify || w.opts.Fetch:
				status = core.VerificationFailed
			}
		}
	}

	if content == "" {
		return core.Finding{}, false
	}

	text, excerptTitle := w.extract(ctx, st, lead, content, depth, logger)
	if text == "" {
		return core.Finding{}, false
	}
	if excerptTitle != "" {
		title = excerptTitle
	}
	if title == "" {
		title = core.HostOf(lead.URL)
	}

	return core.Finding{
		ID:                 core.FindingID(lead.URL, st.ID),
		RunID:              runID,
		Content:            text,
		SourceURL:          lead.URL,
		SourceTitle:        title,
		SubtaskID:          st.ID,
		WorkerID:           workerID,
		CreatedAt:          w.now().UTC(),
		Verified:           verified,
		VerificationStatus: status,
		ContentDepth:       depth,
		QualityScore:       qualityTier(text, lead.URL, st.Mode, verified, w.opts.AcademicDomains),
		SearchMode:         st.Mode,
	}, true
}

// extract returns the evidence text for content. Multiple excerpts are
// joined into one finding so that (url, subtask) stays unique.
func (w *Worker) extract(ctx context.Context, st core.Subtask, lead core.Lead, content string, depth core.ContentDepth, logger *logging.Logger) (string, string) {
	if w.extractor != nil {
		excerpts, err := w.extractor.Extract(ctx, core.ExtractRequest{
			Subtask: st,
			Lead:    lead,
			Content: content,
			Depth:   depth,
		})
		if err == nil && len(excerpts) > 0 {
			var parts []string
			for _, e := range excerpts {
				if c := strings.TrimSpace(e.Content); c != "" {
					parts = append(parts, c)
				}
			}
			if len(parts) > 0 {
				return truncate(strings.Join(parts, "\n\n"), w.opts.MaxFindingChars), strings.TrimSpace(excerpts[0].Title)
			}
		}
		if err != nil {
			logger.Warn("extraction failed, using heuristic excerpt", "url", lead.URL, "error", err)
		}
	}
	return excerpt(content, st, w.opts.MaxFindingChars), ""
}

var sentenceBreak = regexp.MustCompile(`[.!?]\s+|\n+`)

// excerpt keeps the sentences that mention the subtask's terms, in
// document order, falling back to the leading text.
func excerpt(content string, st core.Subtask, maxChars int) string {
	terms := tokens(st.Query + " " + st.Focus)
	for t := range terms {
		if utf8.RuneCountInString(t) < 4 {
			delete(terms, t)
		}
	}

	var picked []string
	size := 0
	for _, s := range splitSentences(content) {
		if size >= maxChars {
			break
		}
		hit := false
		for t := range tokens(s) {
			if _, ok := terms[t]; ok {
				hit = true
				break
			}
		}
		if hit || numberPattern.MatchString(s) {
			picked = append(picked, s)
			size += utf8.RuneCountInString(s) + 1
		}
	}
	if len(picked) == 0 {
		return truncate(content, maxChars)
	}
	return truncate(strings.Join(picked, " "), maxChars)
}

func splitSentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceBreak.FindAllStringIndex(text, -1) {
		end := loc[0] + 1
		if text[loc[0]] == '\n' {
			end = loc[0]
		}
		if s := strings.TrimSpace(text[last:end]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

package research

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

// Report is the synthesized output of a run.
type Report struct {
	Markdown string
	// Fallback is set when the deterministic report replaced the writer's.
	Fallback bool
	Sections []core.ReportSection
	General  []core.Finding
	Sources  []string
	// Findings is the number of findings cited in the report.
	Findings int
	// Discarded is the number of low-confidence findings dropped on refocus.
	Discarded int
}

// SynthesisInput is what the synthesizer needs beyond the evidence.
type SynthesisInput struct {
	Query      string
	Plan       *core.Plan
	Evaluation *core.Evaluation
	Caveats    []string
	Refocused  bool
	// Degraded runs skip the report writer and use the fallback report.
	Degraded bool
}

// Synthesizer selects ranked evidence and turns it into a report.
type Synthesizer struct {
	writer core.ReportWriter
	opts   SynthesisOptions
	logger *logging.Logger
}

// NewSynthesizer creates a synthesizer. A nil writer always produces the
// deterministic report.
func NewSynthesizer(writer core.ReportWriter, opts SynthesisOptions, logger *logging.Logger) *Synthesizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.PerSubtask <= 0 {
		opts.PerSubtask = DefaultOptions().Synthesis.PerSubtask
	}
	if opts.RefocusPolicy == "" {
		opts.RefocusPolicy = config.RefocusFlag
	}
	return &Synthesizer{writer: writer, opts: opts, logger: logger}
}

// Synthesize reads the evidence through ranked retrieval and writes the
// report. It only fails when the context is done.
func (s *Synthesizer) Synthesize(ctx context.Context, reader core.EvidenceReader, in SynthesisInput) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ranked := s.rank(ctx, reader, in.Query)

	discarded := 0
	if in.Refocused && s.opts.RefocusPolicy == config.RefocusDiscardLowConfidence {
		kept := ranked[:0]
		for _, f := range ranked {
			if lowConfidence(f) {
				discarded++
				continue
			}
			kept = append(kept, f)
		}
		ranked = kept
	}

	report := &Report{Sources: reader.ListSources(), Discarded: discarded}
	s.group(in.Plan, ranked, report)

	caveats := append([]string(nil), in.Caveats...)
	if discarded > 0 {
		caveats = append(caveats, fmt.Sprintf("%d low-confidence findings were excluded after refocusing.", discarded))
	}
	summary := runSummary(in, report)

	if s.writer != nil && !in.Degraded {
		md, err := s.writer.WriteReport(ctx, core.ReportRequest{
			Query:      in.Query,
			Summary:    summary,
			Sections:   report.Sections,
			General:    report.General,
			Sources:    report.Sources,
			Caveats:    caveats,
			Evaluation: in.Evaluation,
		})
		if err == nil && strings.TrimSpace(md) != "" {
			report.Markdown = md
			return report, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("report writer failed, using fallback report", "error", err)
	}

	report.Markdown = fallbackReport(in.Query, summary, caveats, report)
	report.Fallback = true
	return report, nil
}

// rank orders every finding by relevance to the query, falling back to
// quality order when the store cannot search.
func (s *Synthesizer) rank(ctx context.Context, reader core.EvidenceReader, query string) []core.Finding {
	all := reader.All()
	if len(all) == 0 {
		return nil
	}
	hits, err := reader.Search(ctx, query, core.SearchOptions{TopK: len(all)})
	if err != nil || len(hits) == 0 {
		if err != nil {
			s.logger.Warn("evidence search failed, ranking by quality", "error", err)
		}
		out := append([]core.Finding(nil), all...)
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].QualityScore != out[j].QualityScore {
				return out[i].QualityScore > out[j].QualityScore
			}
			return out[i].ContentDepth.RicherThan(out[j].ContentDepth)
		})
		return out
	}

	out := make([]core.Finding, 0, len(all))
	seen := make(map[string]bool, len(all))
	for _, h := range hits {
		if !seen[h.Finding.ID] {
			seen[h.Finding.ID] = true
			out = append(out, h.Finding)
		}
	}
	// Search may cap its neighbour set; keep the rest in store order.
	for _, f := range all {
		if !seen[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

// group assigns ranked findings to their subtasks in plan order, keeping
// at most PerSubtask per section.
func (s *Synthesizer) group(plan *core.Plan, ranked []core.Finding, report *Report) {
	var subtasks []core.Subtask
	if plan != nil {
		subtasks = plan.All()
	}
	index := make(map[core.SubtaskID]int, len(subtasks))
	for _, st := range subtasks {
		index[st.ID] = len(report.Sections)
		report.Sections = append(report.Sections, core.ReportSection{Subtask: st})
	}
	for _, f := range ranked {
		i, ok := index[f.SubtaskID]
		if !ok {
			if len(report.General) < s.opts.PerSubtask {
				report.General = append(report.General, f)
				report.Findings++
			}
			continue
		}
		if len(report.Sections[i].Findings) < s.opts.PerSubtask {
			report.Sections[i].Findings = append(report.Sections[i].Findings, f)
			report.Findings++
		}
	}

	kept := report.Sections[:0]
	for _, sec := range report.Sections {
		if len(sec.Findings) > 0 {
			kept = append(kept, sec)
		}
	}
	report.Sections = kept
}

func lowConfidence(f core.Finding) bool {
	return !f.Verified && f.QualityScore < 3
}

func runSummary(in SynthesisInput, r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d findings from %d sources across %d subtasks", r.Findings, len(r.Sources), len(r.Sections))
	if e := in.Evaluation; e != nil {
		fmt.Fprintf(&b, "; evidence score %d/100 after %d iteration", e.OverallScore, e.Iteration)
		if e.Iteration != 1 {
			b.WriteString("s")
		}
	}
	b.WriteString(".")
	return b.String()
}

// fallbackReport renders the deterministic markdown report. Each source
// gets one citation number that is reused wherever it is cited.
func fallbackReport(query, summary string, caveats []string, r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Research report: %s\n\n", query)

	if len(caveats) > 0 {
		b.WriteString("> **Reduced confidence.**\n")
		for _, c := range caveats {
			fmt.Fprintf(&b, "> - %s\n", c)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "**Summary:** %s\n\n", summary)

	if r.Findings == 0 {
		b.WriteString("No evidence was gathered for this query.\n")
		return b.String()
	}

	numbers := make(map[string]int)
	var refs []core.Finding
	cite := func(f core.Finding) int {
		key := core.NormalizeURL(f.SourceURL)
		if n, ok := numbers[key]; ok {
			return n
		}
		refs = append(refs, f)
		numbers[key] = len(refs)
		return len(refs)
	}
	writeFindings := func(findings []core.Finding) {
		for _, f := range findings {
			fmt.Fprintf(&b, "- %s [%d]", oneLine(f.Content), cite(f))
			if !f.Verified {
				b.WriteString(" _(unverified)_")
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, sec := range r.Sections {
		fmt.Fprintf(&b, "## %s: %s\n\n", sec.Subtask.ID, sec.Subtask.Focus)
		writeFindings(sec.Findings)
	}
	if len(r.General) > 0 {
		b.WriteString("## Additional evidence\n\n")
		writeFindings(r.General)
	}

	b.WriteString("## References\n\n")
	for i, f := range refs {
		title := f.SourceTitle
		if title == "" {
			title = f.Host()
		}
		fmt.Fprintf(&b, "%d. %s. %s\n", i+1, title, f.SourceURL)
	}
	return b.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/evidence"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/testutil"
)

func synthesisFixture(t *testing.T) (*evidence.Store, *core.Plan) {
	t.Helper()
	store := newMemoryStore(t)
	ctx := context.Background()

	shared := "https://arxiv.org/abs/shared"
	save := func(f core.Finding) {
		_, err := store.Save(ctx, f)
		require.NoError(t, err)
	}

	f := testutil.NewTestFinding(shared, 1, core.DepthFullScrape)
	f.SourceTitle = "Shared paper"
	save(f)
	f = testutil.NewTestFinding(shared, 2, core.DepthFullScrape)
	f.SourceTitle = "Shared paper"
	save(f)

	weak := testutil.NewTestFinding("https://example.com/forum", 2, core.DepthSnippet)
	weak.Content = "Users report swelling in solid-state battery prototypes."
	weak.SourceTitle = "Forum thread"
	weak.QualityScore = 1
	weak.SearchMode = core.ModeGeneral
	save(weak)

	plan := executedPlan(
		testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh),
		testutil.NewTestSubtask(2, core.ModeGeneral, core.PriorityMedium),
		testutil.NewTestSubtask(3, core.ModeGeneral, core.PriorityLow),
	)
	return store, plan
}

func TestSynthesizer_FallbackReport(t *testing.T) {
	store, plan := synthesisFixture(t)
	s := NewSynthesizer(nil, SynthesisOptions{}, nil)

	report, err := s.Synthesize(context.Background(), store, SynthesisInput{
		Query:      plan.Query,
		Plan:       plan,
		Evaluation: &core.Evaluation{Iteration: 2, OverallScore: 79},
		Caveats:    []string{"Iteration budget exhausted at score 79/100, below the quality threshold of 80."},
	})
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Equal(t, 3, report.Findings)
	assert.Len(t, report.Sources, 2)

	md := report.Markdown
	assert.True(t, strings.HasPrefix(md, "# Research report: solid-state battery safety\n"))
	assert.Contains(t, md, "**Reduced confidence.**")
	assert.Contains(t, md, "Iteration budget exhausted")
	assert.Contains(t, md, "score 79/100 after 2 iterations")
	assert.Contains(t, md, "## S01: evidence for S01")
	assert.Contains(t, md, "## S02: evidence for S02")
	assert.NotContains(t, md, "## S03", "sections without evidence are omitted")

	// The shared source keeps its citation number in both sections.
	assert.Equal(t, 2, strings.Count(md, "[1]"))
	assert.Contains(t, md, "[2] _(unverified)_")
	assert.Contains(t, md, "1. Shared paper. https://arxiv.org/abs/shared")
	assert.Contains(t, md, "2. Forum thread. https://example.com/forum")
	assert.Less(t, strings.Index(md, "## S01"), strings.Index(md, "## S02"))
	assert.Less(t, strings.Index(md, "## S02"), strings.Index(md, "## References"))
}

func TestSynthesizer_UsesReportWriter(t *testing.T) {
	store, plan := synthesisFixture(t)
	writer := &testutil.MockReportWriter{Report: "# Narrative report"}
	s := NewSynthesizer(writer, SynthesisOptions{}, nil)

	report, err := s.Synthesize(context.Background(), store, SynthesisInput{Query: plan.Query, Plan: plan, Caveats: []string{"note"}})
	require.NoError(t, err)
	assert.False(t, report.Fallback)
	assert.Equal(t, "# Narrative report", report.Markdown)

	req := writer.Calls()[0].Args.(core.ReportRequest)
	assert.Equal(t, plan.Query, req.Query)
	require.Len(t, req.Sections, 2)
	assert.Equal(t, core.SubtaskID(1), req.Sections[0].Subtask.ID)
	assert.Len(t, req.Sections[1].Findings, 2)
	assert.Equal(t, []string{"note"}, req.Caveats)
	assert.NotEmpty(t, req.Summary)
}

func TestSynthesizer_WriterFailureFallsBack(t *testing.T) {
	store, plan := synthesisFixture(t)
	writer := &testutil.MockReportWriter{Err: errors.New("context window exceeded")}
	s := NewSynthesizer(writer, SynthesisOptions{}, nil)

	report, err := s.Synthesize(context.Background(), store, SynthesisInput{Query: plan.Query, Plan: plan})
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Contains(t, report.Markdown, "## References")
}

func TestSynthesizer_DegradedRunSkipsWriter(t *testing.T) {
	store, plan := synthesisFixture(t)
	writer := &testutil.MockReportWriter{Report: "unused"}
	s := NewSynthesizer(writer, SynthesisOptions{}, nil)

	report, err := s.Synthesize(context.Background(), store, SynthesisInput{Query: plan.Query, Plan: plan, Degraded: true})
	require.NoError(t, err)
	assert.True(t, report.Fallback)
	assert.Equal(t, 0, writer.CallCount("WriteReport"))
}

func TestSynthesizer_RefocusPolicies(t *testing.T) {
	tests := []struct {
		policy    string
		refocused bool
		findings  int
		discarded int
	}{
		{config.RefocusFlag, true, 3, 0},
		{config.RefocusDiscardLowConfidence, true, 2, 1},
		{config.RefocusDiscardLowConfidence, false, 3, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.policy, tt.refocused), func(t *testing.T) {
			store, plan := synthesisFixture(t)
			s := NewSynthesizer(nil, SynthesisOptions{RefocusPolicy: tt.policy}, nil)

			report, err := s.Synthesize(context.Background(), store, SynthesisInput{Query: plan.Query, Plan: plan, Refocused: tt.refocused})
			require.NoError(t, err)
			assert.Equal(t, tt.findings, report.Findings)
			assert.Equal(t, tt.discarded, report.Discarded)
			if tt.discarded > 0 {
				assert.Contains(t, report.Markdown, "low-confidence findings were excluded")
				assert.NotContains(t, report.Markdown, "Forum thread")
			}
			// Store contents are never deleted by synthesis.
			assert.Equal(t, 3, store.Len())
		})
	}
}

func TestSynthesizer_CapsFindingsPerSubtask(t *testing.T) {
	store := newMemoryStore(t)
	for i := 0; i < 8; i++ {
		_, err := store.Save(context.Background(), testutil.NewTestFinding(fmt.Sprintf("https://arxiv.org/abs/%d", i), 1, core.DepthFullScrape))
		require.NoError(t, err)
	}
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh))
	s := NewSynthesizer(nil, SynthesisOptions{PerSubtask: 3}, nil)

	report, err := s.Synthesize(context.Background(), store, SynthesisInput{Query: plan.Query, Plan: plan})
	require.NoError(t, err)
	require.Len(t, report.Sections, 1)
	assert.Len(t, report.Sections[0].Findings, 3)
	assert.Equal(t, 3, report.Findings)
}

func TestSynthesizer_EmptyEvidence(t *testing.T) {
	s := NewSynthesizer(nil, SynthesisOptions{}, nil)
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh))

	report, err := s.Synthesize(context.Background(), newMemoryStore(t), SynthesisInput{Query: plan.Query, Plan: plan})
	require.NoError(t, err)
	assert.Contains(t, report.Markdown, "No evidence was gathered")
	assert.Equal(t, 0, report.Findings)
}

func TestSynthesizer_CancelledContext(t *testing.T) {
	s := NewSynthesizer(nil, SynthesisOptions{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Synthesize(ctx, newMemoryStore(t), SynthesisInput{Query: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

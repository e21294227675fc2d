package research

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/testutil"
)

func evaluatorOptions() EvaluatorOptions {
	return EvaluatorOptions{
		QualityThreshold:      80,
		MaxIterations:         3,
		MinImprovement:        2,
		MinFindingsPerSubtask: 3,
		MinAcademicRatio:      0.3,
		CriticWeight:          0.5,
		ReviewMinScore:        60,
		MaxRetries:            0,
	}
}

// executedPlan builds a plan whose subtasks have all run.
func executedPlan(subtasks ...core.Subtask) *core.Plan {
	for i := range subtasks {
		subtasks[i].Status = core.SubtaskDone
	}
	return &core.Plan{Version: 1, Query: "solid-state battery safety", Iteration: 1, Subtasks: subtasks}
}

func findingsFor(subtask core.SubtaskID, mode core.SearchMode, n int) []core.Finding {
	out := make([]core.Finding, n)
	for i := range out {
		f := testutil.NewTestFinding(fmt.Sprintf("https://arxiv.org/abs/%s-%d", subtask, i), subtask, core.DepthFullScrape)
		f.ID = core.FindingID(f.SourceURL, subtask)
		f.SearchMode = mode
		out[i] = f
	}
	return out
}

func TestEvaluator_ScoreComponents(t *testing.T) {
	e := NewEvaluator(EvaluatorDeps{Options: evaluatorOptions()})
	plan := executedPlan(
		testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh),
		testutil.NewTestSubtask(2, core.ModeGeneral, core.PriorityMedium),
	)
	findings := append(findingsFor(1, core.ModeAcademic, 3), findingsFor(2, core.ModeGeneral, 1)...)

	eval := e.Score(plan, findings)

	assert.Equal(t, 100, eval.Scores.Coverage)
	assert.Equal(t, 67, eval.Scores.EvidenceStrength)
	assert.Equal(t, 72, eval.Scores.SourceQuality)
	assert.Equal(t, 83, eval.Scores.Balance)
	assert.Equal(t, 82, eval.OverallScore)
	assert.Equal(t, 4, eval.FindingCount)

	require.Len(t, eval.Gaps, 1)
	assert.Equal(t, core.SubtaskID(2), eval.Gaps[0].SubtaskID)
	assert.Equal(t, 3, eval.Gaps[0].Importance)
	assert.NotEmpty(t, eval.Gaps[0].SuggestedQuery)
}

func TestEvaluator_MissingSubtaskLowersCoverage(t *testing.T) {
	e := NewEvaluator(EvaluatorDeps{Options: evaluatorOptions()})
	var subs []core.Subtask
	var findings []core.Finding
	for i := 1; i <= 5; i++ {
		id := core.SubtaskID(i)
		subs = append(subs, testutil.NewTestSubtask(id, core.ModeAcademic, core.PriorityHigh))
		if i != 3 {
			findings = append(findings, findingsFor(id, core.ModeAcademic, 3)...)
		}
	}
	plan := executedPlan(subs...)
	plan.Subtasks[2].AlternativeQueries = []string{"sulfide electrolyte toxicity"}

	eval := e.Score(plan, findings)

	assert.Equal(t, 80, eval.Scores.Coverage)
	require.NotEmpty(t, eval.Gaps)
	top := eval.Gaps[0]
	assert.Equal(t, core.SubtaskID(3), top.SubtaskID)
	assert.Equal(t, 5, top.Importance, "a missing high-priority subtask is the most important gap")
	assert.Equal(t, "sulfide electrolyte toxicity", top.SuggestedQuery)
	assert.True(t, eval.HasBlockingGap())
}

func TestEvaluator_LowAcademicRatioGap(t *testing.T) {
	e := NewEvaluator(EvaluatorDeps{Options: evaluatorOptions()})
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeGeneral, core.PriorityHigh))

	eval := e.Score(plan, findingsFor(1, core.ModeGeneral, 4))

	assert.Equal(t, 0, eval.Scores.Balance)
	require.Len(t, eval.Gaps, 1)
	assert.Contains(t, eval.Gaps[0].SuggestedQuery, "peer-reviewed")
	assert.Equal(t, 3, eval.Gaps[0].Importance)
}

func TestEvaluator_EmptyEvidence(t *testing.T) {
	e := NewEvaluator(EvaluatorDeps{Options: evaluatorOptions()})
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityMedium))

	eval, err := e.Evaluate(context.Background(), EvaluationInput{Plan: plan, Iteration: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, eval.OverallScore)
	assert.Equal(t, core.DecisionContinue, eval.Decision)
	require.Len(t, eval.Gaps, 1)
	assert.Equal(t, core.BlockingGapImportance, eval.Gaps[0].Importance)
	assert.Equal(t, plan.Subtasks[0].Query+" evidence", eval.Gaps[0].SuggestedQuery)
}

func TestEvaluator_BlendsCriticScore(t *testing.T) {
	critic := testutil.NewMockCritic(&core.Critique{
		Score:     90,
		Gaps:      []core.Gap{{Description: "No cost analysis", Importance: 2, SuggestedQuery: "solid-state battery cost"}},
		Strengths: []string{"Broad academic coverage"},
	})
	e := NewEvaluator(EvaluatorDeps{Critic: critic, Options: evaluatorOptions()})
	plan := executedPlan(
		testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh),
		testutil.NewTestSubtask(2, core.ModeGeneral, core.PriorityMedium),
	)
	findings := append(findingsFor(1, core.ModeAcademic, 3), findingsFor(2, core.ModeGeneral, 1)...)

	eval, err := e.Evaluate(context.Background(), EvaluationInput{Query: plan.Query, Plan: plan, Findings: findings, Iteration: 1})
	require.NoError(t, err)

	assert.Equal(t, 86, eval.OverallScore)
	assert.Len(t, eval.Gaps, 2)
	assert.Equal(t, 3, eval.Gaps[0].Importance)
	assert.Equal(t, []string{"Broad academic coverage"}, eval.Strengths)
	assert.Equal(t, core.DecisionSynthesize, eval.Decision)
	assert.False(t, eval.Forced)
	assert.Equal(t, 1, critic.CallCount("Critique"))
}

func TestEvaluator_CriticFailureIsEvaluationError(t *testing.T) {
	critic := testutil.NewMockCritic().WithError(errors.New("malformed critique"))
	e := NewEvaluator(EvaluatorDeps{Critic: critic, Options: evaluatorOptions()})
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh))

	_, err := e.Evaluate(context.Background(), EvaluationInput{Plan: plan, Findings: findingsFor(1, core.ModeAcademic, 3), Iteration: 1})
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatEvaluation))
}

func reviewFixture(t *testing.T, outcome *core.ReviewOutcome, reviewErr error) (core.Evaluation, *testutil.MockReviewer) {
	t.Helper()
	opts := evaluatorOptions()
	opts.CriticWeight = 1
	reviewer := &testutil.MockReviewer{Outcome: outcome, Err: reviewErr}
	e := NewEvaluator(EvaluatorDeps{
		Critic:   testutil.NewMockCritic(&core.Critique{Score: 70}),
		Reviewer: reviewer,
		Options:  opts,
	})
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh))
	eval, err := e.Evaluate(context.Background(), EvaluationInput{
		RunID:     "run-1",
		Query:     plan.Query,
		Plan:      plan,
		Findings:  findingsFor(1, core.ModeAcademic, 3),
		Iteration: 1,
	})
	require.NoError(t, err)
	return eval, reviewer
}

func TestEvaluator_HumanReviewMergesScore(t *testing.T) {
	eval, reviewer := reviewFixture(t, &core.ReviewOutcome{Approved: true, Score: 9}, nil)

	assert.Equal(t, 1, reviewer.CallCount("Review"))
	assert.Equal(t, 78, eval.OverallScore)
	require.NotNil(t, eval.Review)
	assert.True(t, eval.Review.Approved)
	// Approval alone does not open the gate below the threshold.
	assert.Equal(t, core.DecisionContinue, eval.Decision)

	req := reviewer.Calls()[0].Args.(core.ReviewRequest)
	assert.Equal(t, "run-1", req.RunID)
	assert.Contains(t, req.EvaluationSummary, "score 70/100")
}

func TestEvaluator_HumanReviewRequestsMoreEvidence(t *testing.T) {
	eval, _ := reviewFixture(t, &core.ReviewOutcome{Approved: false, Score: 4, Feedback: "solid-state battery field failures"}, nil)

	assert.Equal(t, 58, eval.OverallScore)
	assert.True(t, eval.HasBlockingGap())
	assert.Equal(t, "solid-state battery field failures", eval.Gaps[0].SuggestedQuery)
}

func TestEvaluator_HumanReviewFailureIsIgnored(t *testing.T) {
	eval, reviewer := reviewFixture(t, nil, errors.New("webhook down"))

	assert.Equal(t, 1, reviewer.CallCount("Review"))
	assert.Equal(t, 70, eval.OverallScore)
	assert.Nil(t, eval.Review)
}

func TestEvaluator_ReviewOnlyInsideBand(t *testing.T) {
	reviewer := &testutil.MockReviewer{Outcome: &core.ReviewOutcome{Approved: true, Score: 10}}
	opts := evaluatorOptions()
	opts.CriticWeight = 1
	for _, score := range []int{40, 85} {
		e := NewEvaluator(EvaluatorDeps{Critic: testutil.NewMockCritic(&core.Critique{Score: score}), Reviewer: reviewer, Options: opts})
		plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh))
		_, err := e.Evaluate(context.Background(), EvaluationInput{Plan: plan, Findings: findingsFor(1, core.ModeAcademic, 3), Iteration: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, reviewer.CallCount("Review"))
}

func TestEvaluator_BudgetExhaustionForcesSynthesis(t *testing.T) {
	opts := evaluatorOptions()
	opts.MaxIterations = 2
	opts.CriticWeight = 1
	e := NewEvaluator(EvaluatorDeps{Critic: testutil.NewMockCritic(&core.Critique{Score: 79}), Options: opts})
	plan := executedPlan(testutil.NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh))

	eval, err := e.Evaluate(context.Background(), EvaluationInput{
		Plan:      plan,
		Findings:  findingsFor(1, core.ModeAcademic, 3),
		Iteration: 2,
		Previous:  []core.Evaluation{{Iteration: 1, OverallScore: 65}},
	})
	require.NoError(t, err)
	assert.Equal(t, 79, eval.OverallScore)
	assert.Equal(t, core.DecisionSynthesize, eval.Decision)
	assert.True(t, eval.Forced)
	assert.Equal(t, core.ForcedBudgetExhausted, eval.ForcedReason)
	assert.Equal(t, 2, eval.Iteration)
}

func TestDecide(t *testing.T) {
	opts := evaluatorOptions()
	blocking := []core.Gap{{Description: "missing", Importance: 4}}
	minor := []core.Gap{{Description: "thin", Importance: 3}}

	tests := []struct {
		name      string
		score     int
		gaps      []core.Gap
		iteration int
		previous  []int
		want      Verdict
	}{
		{"passes gate", 80, minor, 1, nil, Verdict{Decision: core.DecisionSynthesize}},
		{"blocking gap holds gate", 95, blocking, 1, nil, Verdict{Decision: core.DecisionContinue}},
		{"below threshold", 79, nil, 1, nil, Verdict{Decision: core.DecisionContinue}},
		{"stalled", 62, nil, 3, []int{60, 61}, Verdict{Decision: core.DecisionRefocus}},
		{"one flat delta is not a stall", 62, nil, 2, []int{61}, Verdict{Decision: core.DecisionContinue}},
		{"improving", 70, nil, 3, []int{50, 60}, Verdict{Decision: core.DecisionSynthesize, Forced: true, Reason: core.ForcedBudgetExhausted}},
		{"budget exhausted", 40, blocking, 3, []int{10, 30}, Verdict{Decision: core.DecisionSynthesize, Forced: true, Reason: core.ForcedBudgetExhausted}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.score, tt.gaps, tt.iteration, tt.previous, opts))
		})
	}
}

func TestDecide_GateProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	opts := evaluatorOptions()

	for i := 0; i < 5000; i++ {
		score := rng.Intn(101)
		var gaps []core.Gap
		for j := rng.Intn(4); j > 0; j-- {
			gaps = append(gaps, core.Gap{Description: "gap", Importance: 1 + rng.Intn(5)})
		}
		iteration := 1 + rng.Intn(opts.MaxIterations)
		var previous []int
		for j := 1; j < iteration; j++ {
			previous = append(previous, rng.Intn(101))
		}

		v := Decide(score, gaps, iteration, previous, opts)
		gate := score >= opts.QualityThreshold && !core.HasBlockingGap(gaps)

		assert.Equal(t, gate, v.Decision == core.DecisionSynthesize && !v.Forced,
			"score=%d gaps=%v", score, gaps)
		if v.Forced {
			assert.GreaterOrEqual(t, iteration, opts.MaxIterations)
		}
		if v.Decision == core.DecisionContinue {
			assert.Less(t, iteration, opts.MaxIterations)
		}
	}
}

func TestQuickAssess(t *testing.T) {
	findings := []core.Finding{
		testutil.NewTestFinding("https://arxiv.org/abs/1", 1, core.DepthFullScrape),
		testutil.NewTestFinding("https://arxiv.org/abs/1", 2, core.DepthFullScrape),
		testutil.NewTestFinding("https://nature.com/a", 1, core.DepthFullScrape),
		testutil.NewTestFinding("https://example.com/b", 2, core.DepthSnippet),
	}
	findings[3].SearchMode = core.ModeGeneral

	a := QuickAssess(findings, 0.3)
	assert.Equal(t, 68, a.EstimatedScore)
	assert.Equal(t, 4, a.Findings)
	assert.Equal(t, 3, a.Sources)
	assert.Equal(t, 2, a.Academic)
	assert.True(t, a.NeedsMore)
	assert.False(t, a.NeedsAcademic)

	assert.Equal(t, 40, QuickAssess(nil, 0.3).EstimatedScore)
	assert.True(t, QuickAssess(nil, 0.3).NeedsAcademic)
}

func TestQuickAssess_CapsEstimate(t *testing.T) {
	var findings []core.Finding
	for i := 0; i < 30; i++ {
		findings = append(findings, testutil.NewTestFinding(fmt.Sprintf("https://arxiv.org/abs/%d", i), 1, core.DepthFullScrape))
	}
	a := QuickAssess(findings, 0.3)
	assert.Equal(t, 95, a.EstimatedScore)
	assert.False(t, a.NeedsMore)
}

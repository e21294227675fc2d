package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/testutil"
)

func plannerOptions() PlannerOptions {
	return PlannerOptions{
		MinSubtasks:         3,
		MaxSubtasks:         5,
		MaxFollowups:        3,
		SimilarityThreshold: 0.8,
		OnFailure:           config.PlannerFallback,
		MaxRetries:          1,
		BaseDelay:           0,
	}
}

func draft(subtasks ...core.SubtaskDraft) *core.PlanDraft {
	return &core.PlanDraft{Summary: "test plan", EstimatedDepth: core.DepthDeep, Subtasks: subtasks}
}

func sub(query, focus string, mode core.SearchMode, priority int) core.SubtaskDraft {
	return core.SubtaskDraft{Query: query, Focus: focus, Mode: mode, Priority: priority}
}

func TestPlanner_HeuristicPlanOrdersByPriority(t *testing.T) {
	p := NewPlanner(nil, plannerOptions(), nil)

	plan, fallback, err := p.Plan(context.Background(), "  solid-state battery safety ")
	require.NoError(t, err)
	assert.False(t, fallback)

	assert.Equal(t, "solid-state battery safety", plan.Query)
	assert.Equal(t, 1, plan.Version)
	assert.Equal(t, 1, plan.Iteration)
	assert.Len(t, plan.Subtasks, 4)
	for i := 1; i < len(plan.Subtasks); i++ {
		assert.LessOrEqual(t, plan.Subtasks[i-1].Priority, plan.Subtasks[i].Priority)
	}
	ids := map[core.SubtaskID]bool{}
	for _, st := range plan.Subtasks {
		assert.False(t, ids[st.ID], "duplicate id %s", st.ID)
		ids[st.ID] = true
		assert.Equal(t, core.SubtaskPending, st.Status)
		assert.NotEmpty(t, st.AlternativeQueries)
	}
	assert.NoError(t, plan.Validate())
}

func TestPlanner_RejectsEmptyQuery(t *testing.T) {
	p := NewPlanner(nil, plannerOptions(), nil)
	_, _, err := p.Plan(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestPlanner_DropsDuplicateDrafts(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return draft(
			sub("battery thermal runaway", "Thermal runaway mechanisms in cells", core.ModeAcademic, 1),
			sub("battery thermal runaway", "Thermal runaway mechanisms in cells", core.ModeAcademic, 1),
			sub("electrolyte regulation", "Regulatory standards for electrolytes", core.ModeGeneral, 2),
			sub("dendrite growth", "Lithium dendrite growth and short circuits", core.ModeAcademic, 3),
		), nil
	})
	p := NewPlanner(gen, plannerOptions(), nil)

	plan, _, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)

	require.Len(t, plan.Subtasks, 3)
	assert.Equal(t, core.SubtaskID(1), plan.Subtasks[0].ID)
	assert.Equal(t, core.SubtaskID(2), plan.Subtasks[1].ID)
	assert.Equal(t, core.SubtaskID(3), plan.Subtasks[2].ID)
	assert.Equal(t, core.DepthDeep, plan.EstimatedDepth)
}

func TestPlanner_SortsDraftsByPriority(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return draft(
			sub("market outlook", "Market outlook for solid-state cells", core.ModeGeneral, 3),
			sub("separator failure", "Separator failure modes under abuse", core.ModeAcademic, 1),
			sub("recall history", "Product recall history", core.ModeGeneral, 2),
		), nil
	})
	p := NewPlanner(gen, plannerOptions(), nil)

	plan, _, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	require.Len(t, plan.Subtasks, 3)
	assert.Equal(t, 1, plan.Subtasks[0].Priority)
	assert.Equal(t, 2, plan.Subtasks[1].Priority)
	assert.Equal(t, 3, plan.Subtasks[2].Priority)
}

func TestPlanner_PadsShortPlans(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return draft(sub("separator failure", "Separator failure modes under abuse", core.ModeAcademic, 1)), nil
	})
	p := NewPlanner(gen, plannerOptions(), nil)

	plan, fallback, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Len(t, plan.Subtasks, 3)
}

func TestPlanner_HeuristicMeetsLargeMinimum(t *testing.T) {
	opts := plannerOptions()
	opts.MinSubtasks = 8
	opts.MaxSubtasks = 15
	p := NewPlanner(nil, opts, nil)

	plan, fallback, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Len(t, plan.Subtasks, 8)
}

func TestPlanner_HeuristicCoversMaxMinimum(t *testing.T) {
	assert.GreaterOrEqual(t, len(perspectives), config.MaxMinSubtasks)

	opts := plannerOptions()
	opts.MinSubtasks = config.MaxMinSubtasks
	opts.MaxSubtasks = config.MaxMinSubtasks
	plan, fallback, err := NewPlanner(nil, opts, nil).Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Len(t, plan.Subtasks, config.MaxMinSubtasks)
}

func TestPlanner_ShortfallFollowsFailurePolicy(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return draft(sub("separator failure", "Separator failure modes under abuse", core.ModeAcademic, 1)), nil
	})
	opts := plannerOptions()
	// Every heuristic pad shares the query tokens, so all but one count as duplicates.
	opts.SimilarityThreshold = 0.01

	plan, fallback, err := NewPlanner(gen, opts, nil).Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	assert.True(t, fallback)
	assert.Len(t, plan.Subtasks, 1)

	opts.OnFailure = config.PlannerFail
	_, _, err = NewPlanner(gen, opts, nil).Plan(context.Background(), "solid-state battery safety")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatPlanning))
	assert.Contains(t, err.Error(), "below the minimum of 3")
}

func TestPlanner_CapsAtMaxSubtasks(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		var subs []core.SubtaskDraft
		for _, topic := range []string{"anode", "cathode", "separator", "electrolyte", "casing", "bms", "cooling"} {
			subs = append(subs, sub(topic+" safety", topic+" failure analysis", core.ModeAcademic, 2))
		}
		return draft(subs...), nil
	})
	p := NewPlanner(gen, plannerOptions(), nil)

	plan, _, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	assert.Len(t, plan.Subtasks, 5)
}

func TestPlanner_FallbackPolicy(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return nil, core.ErrTransientGateway("llm", "overloaded")
	})
	p := NewPlanner(gen, plannerOptions(), nil)

	plan, fallback, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)
	assert.True(t, fallback)
	require.Len(t, plan.Subtasks, 1)
	assert.Equal(t, "solid-state battery safety", plan.Subtasks[0].Query)
	assert.Equal(t, core.ModeGeneral, plan.Subtasks[0].Mode)
	assert.Equal(t, core.DepthShallow, plan.EstimatedDepth)
	// One try plus one retry for a transient failure.
	assert.Equal(t, 2, gen.CallCount("GenerateSubtasks"))
}

func TestPlanner_FailPolicy(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return nil, errors.New("model unavailable")
	})
	opts := plannerOptions()
	opts.OnFailure = config.PlannerFail
	p := NewPlanner(gen, opts, nil)

	plan, fallback, err := p.Plan(context.Background(), "solid-state battery safety")
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.False(t, fallback)
	assert.True(t, core.IsCategory(err, core.ErrCatPlanning))
	// Permanent errors are not retried.
	assert.Equal(t, 1, gen.CallCount("GenerateSubtasks"))
}

func TestPlanner_EmptyDraftIsPlanningFailure(t *testing.T) {
	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return draft(sub("", "", core.ModeAcademic, 9)), nil
	})
	opts := plannerOptions()
	opts.OnFailure = config.PlannerFail
	p := NewPlanner(gen, opts, nil)

	_, _, err := p.Plan(context.Background(), "solid-state battery safety")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatPlanning))
}

func TestPlanner_RefineSkipsHistoryDuplicates(t *testing.T) {
	p := NewPlanner(nil, plannerOptions(), nil)
	ctx := context.Background()

	current, _, err := p.Plan(ctx, "solid-state battery safety")
	require.NoError(t, err)
	first := current.Subtasks[0]

	gaps := []core.Gap{
		// Re-proposes an executed subtask verbatim.
		{Description: first.Focus, Importance: 4, SuggestedQuery: first.Query, SubtaskID: first.ID},
		{Description: "No data on dendrite suppression", Importance: 5, SuggestedQuery: "dendrite suppression coatings"},
	}
	gen := testutil.NewMockGenerator(func(_ context.Context, req core.PlanRequest) (*core.PlanDraft, error) {
		return draft(
			sub(first.Query, first.Focus, first.Mode, 1),
			sub("dendrite suppression coatings", "Dendrite suppression coatings", core.ModeAcademic, 1),
		), nil
	})
	p = NewPlanner(gen, plannerOptions(), nil)

	next, err := p.Refine(ctx, current, gaps, 2, []string{"f1", "f2"})
	require.NoError(t, err)
	require.NotNil(t, next)

	require.Len(t, next.Subtasks, 1)
	assert.Equal(t, "dendrite suppression coatings", next.Subtasks[0].Query)
	assert.Equal(t, current.NextID(), next.Subtasks[0].ID)
	assert.Equal(t, 2, next.Subtasks[0].Iteration)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, 2, next.Iteration)
	assert.Equal(t, []string{"f1", "f2"}, next.PriorFindingIDs)
	assert.Len(t, next.History, len(current.Subtasks))

	req := gen.Calls()[0].Args.(core.PlanRequest)
	assert.Len(t, req.History, len(current.Subtasks))
	assert.Equal(t, gaps, req.Gaps)
}

func TestPlanner_RefineChecksCumulativeHistory(t *testing.T) {
	ctx := context.Background()
	p := NewPlanner(nil, plannerOptions(), nil)
	v1, _, err := p.Plan(ctx, "solid-state battery safety")
	require.NoError(t, err)

	gap := core.Gap{Description: "Missing cost data", Importance: 4, SuggestedQuery: "solid-state battery cost per kwh"}
	v2, err := p.Refine(ctx, v1, []core.Gap{gap}, 2, nil)
	require.NoError(t, err)
	require.NotNil(t, v2)

	// The same gap again: its follow-up now lives in v2's history only.
	v3, err := p.Refine(ctx, v2, []core.Gap{gap}, 3, nil)
	require.NoError(t, err)
	assert.Nil(t, v3)
}

func TestPlanner_RefineWithoutGaps(t *testing.T) {
	p := NewPlanner(nil, plannerOptions(), nil)
	current, _, err := p.Plan(context.Background(), "solid-state battery safety")
	require.NoError(t, err)

	next, err := p.Refine(context.Background(), current, nil, 2, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestPlanner_RefineFallsBackToHeuristic(t *testing.T) {
	ctx := context.Background()
	current, _, err := NewPlanner(nil, plannerOptions(), nil).Plan(ctx, "solid-state battery safety")
	require.NoError(t, err)

	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return nil, errors.New("bad output")
	})
	p := NewPlanner(gen, plannerOptions(), nil)

	gaps := []core.Gap{
		{Description: "No evidence on fire suppression", Importance: 5, SuggestedQuery: "lithium fire suppression systems"},
		{Description: "Thin regulatory coverage", Importance: 3, SuggestedQuery: "UN 38.3 transport testing"},
	}
	next, err := p.Refine(ctx, current, gaps, 2, nil)
	require.NoError(t, err)
	require.Len(t, next.Subtasks, 2)
	assert.Equal(t, core.PriorityHigh, next.Subtasks[0].Priority)
	assert.Equal(t, core.PriorityMedium, next.Subtasks[1].Priority)
	assert.Contains(t, next.Subtasks[0].Focus, "Follow-up research (iteration 2)")
}

func TestPlanner_RefineFailPolicy(t *testing.T) {
	ctx := context.Background()
	current, _, err := NewPlanner(nil, plannerOptions(), nil).Plan(ctx, "solid-state battery safety")
	require.NoError(t, err)

	gen := testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
		return nil, errors.New("bad output")
	})
	opts := plannerOptions()
	opts.OnFailure = config.PlannerFail
	p := NewPlanner(gen, opts, nil)

	_, err = p.Refine(ctx, current, []core.Gap{{Description: "x", Importance: 4, SuggestedQuery: "y z"}}, 2, nil)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatPlanning))
}

func TestPlanner_RefineCapsFollowups(t *testing.T) {
	ctx := context.Background()
	p := NewPlanner(nil, plannerOptions(), nil)
	current, _, err := p.Plan(ctx, "solid-state battery safety")
	require.NoError(t, err)

	var gaps []core.Gap
	for _, q := range []string{"anode coatings", "cathode oxygen release", "cell venting", "pack cooling", "recycling hazards"} {
		gaps = append(gaps, core.Gap{Description: "Missing " + q, Importance: 4, SuggestedQuery: q})
	}
	next, err := p.Refine(ctx, current, gaps, 2, nil)
	require.NoError(t, err)
	assert.Len(t, next.Subtasks, 3)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("a b", "B A"))
	assert.Equal(t, 0.0, Jaccard("a b", "c d"))
	assert.InDelta(t, 1.0/3.0, Jaccard("a b", "b c"), 1e-9)
	assert.Equal(t, 1.0, Jaccard("", ""))
}

func TestDuplicateOf_IgnoresFollowUpLabel(t *testing.T) {
	history := []core.Subtask{{ID: 1, Query: "cell venting", Focus: "Follow-up research (iteration 2): Missing cell venting"}}

	same := core.Subtask{Query: "cell venting", Focus: "Follow-up research (iteration 3): Missing cell venting"}
	assert.NotNil(t, duplicateOf(same, history, 0.8))

	other := core.Subtask{Query: "pack cooling", Focus: "Follow-up research (iteration 3): Missing pack cooling"}
	assert.Nil(t, duplicateOf(other, history, 0.8))
}

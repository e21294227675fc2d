package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/evidence"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/testutil"
)

const batteryQuery = "solid-state battery safety"

// harness shares evidence and checkpoints between orchestrators so a run
// can be resumed by a second instance.
type harness struct {
	repo        *evidence.MemoryRepository
	checkpoints *service.CheckpointManager
	bus         *events.EventBus
}

func newHarness() *harness {
	return &harness{
		repo:        evidence.NewMemoryRepository(),
		checkpoints: service.NewCheckpointManager(state.NewMemoryCheckpointStore(), nil),
		bus:         events.New(1000),
	}
}

func (h *harness) opener() EvidenceOpener {
	return func(ctx context.Context, runID string) (EvidenceStore, error) {
		s, err := evidence.NewStore(ctx, runID, h.repo)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (h *harness) deps(opts Options) OrchestratorDeps {
	return OrchestratorDeps{
		Options:     opts,
		Evidence:    h.opener(),
		Checkpoints: h.checkpoints,
		Bus:         h.bus,
	}
}

func (h *harness) lastCheckpoint(t *testing.T, runID string) *core.Checkpoint {
	t.Helper()
	cps, err := h.checkpoints.List(context.Background(), runID)
	require.NoError(t, err)
	require.NotEmpty(t, cps)
	return cps[len(cps)-1]
}

func orchestratorOptions() Options {
	o := DefaultOptions()
	o.RunTimeout = 10 * time.Second
	o.Planner.MinSubtasks = 3
	o.Planner.MaxSubtasks = 5
	o.Planner.MaxRetries = 0
	o.Planner.BaseDelay = 0
	o.Pool = poolOptions()
	o.Pool.MaxConcurrency = 5
	o.Pool.MaxRetries = 0
	o.Worker.QueryVariants = false
	o.Worker.Verify = false
	o.Worker.Fetch = false
	o.Evaluator.MaxRetries = 0
	o.Evaluator.BaseDelay = 0
	return o
}

func newOrchestrator(t *testing.T, deps OrchestratorDeps) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(deps)
	require.NoError(t, err)
	return o
}

func drain(ch <-chan events.Event) []string {
	var types []string
	for {
		select {
		case e := <-ch:
			types = append(types, e.EventType())
		default:
			return types
		}
	}
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorDeps{Evidence: newHarness().opener()})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	_, err = NewOrchestrator(OrchestratorDeps{Search: testutil.NewMockSearchGateway()})
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestOrchestrator_RejectsInvalidQuery(t *testing.T) {
	h := newHarness()
	deps := h.deps(orchestratorOptions())
	deps.Runner = runnerFunc(saveOneRunner)
	o := newOrchestrator(t, deps)

	res, err := o.Run(context.Background(), "   ")
	assert.Nil(t, res)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func saveOneRunner(ctx context.Context, _ string, st core.Subtask, workerID string, sink FindingSink) ([]string, error) {
	return saveOne(ctx, st, workerID, sink)
}

func TestOrchestrator_TimedOutSubtaskIsIsolated(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Planner.MinSubtasks = 5
	opts.Pool.TaskTimeout = 100 * time.Millisecond
	opts.Evaluator.MaxIterations = 1

	search := testutil.NewMockSearchGateway().
		WithHang("future outlook").
		WithDefault(
			core.Lead{Title: "Sulfide electrolytes", URL: "https://arxiv.org/abs/2401.00001", Snippet: "Sulfide solid-state cells delayed thermal runaway by 35% in nail tests."},
			core.Lead{Title: "Battery abuse testing", URL: "https://www.nature.com/articles/battery-abuse", Snippet: "Solid-state battery packs vented 40% less gas during abuse testing."},
			core.Lead{Title: "Industry update", URL: "https://example.com/news/solid-state", Snippet: "Carmakers plan solid-state battery pilots with new safety targets."},
		)
	deps := h.deps(opts)
	deps.Search = search
	o := newOrchestrator(t, deps)

	start := time.Now()
	res, err := o.Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, core.PhaseDone, res.Phase)
	assert.Equal(t, 5, res.Subtasks)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, core.CodeTimeout, res.Failures[0].Code)
	assert.Equal(t, core.ClassTransient, res.Failures[0].Class)
	assert.Equal(t, 12, res.Findings)
	assert.Equal(t, 3, res.Sources)
	assert.NotEmpty(t, res.Report)

	cp := h.lastCheckpoint(t, res.RunID)
	assert.Equal(t, core.PhaseDone, cp.Phase)
	require.Len(t, cp.Evaluations, 1)
	assert.Equal(t, 80, cp.Evaluations[0].Scores.Coverage)
	assert.Len(t, cp.FindingIDs, 12)
}

func TestOrchestrator_BudgetExhaustedBelowThreshold(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Evaluator.MaxIterations = 2
	opts.Evaluator.CriticWeight = 1

	critic := testutil.NewMockCritic(
		&core.Critique{Score: 65, Gaps: []core.Gap{{
			Description:    "No data on dendrite penetration",
			Importance:     4,
			SuggestedQuery: "sulfide electrolyte dendrite penetration",
		}}},
		&core.Critique{Score: 79},
	)
	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)
	deps.Critic = critic
	o := newOrchestrator(t, deps)

	res, err := o.Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseDone, res.Phase)
	assert.Equal(t, 2, critic.CallCount("Critique"))
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 79, res.Score)
	assert.True(t, res.Forced)
	assert.Equal(t, core.ForcedBudgetExhausted, res.StopReason)
	assert.True(t, res.Success)
	assert.Contains(t, res.Caveats, "Iteration budget exhausted at score 79/100, below the quality threshold of 80.")
	assert.Contains(t, res.Report, "Reduced confidence")
	assert.Contains(t, res.Summary, "stopped by budget exhausted")
	assert.Contains(t, res.Summary, "score 79/100")
	assert.Greater(t, res.Subtasks, 4, "follow-up subtasks were researched")
	assert.Equal(t, res.Subtasks, res.Completed)
	assert.Equal(t, res.Subtasks, res.Findings)

	cp := h.lastCheckpoint(t, res.RunID)
	require.Len(t, cp.Evaluations, 2)
	assert.Equal(t, 65, cp.Evaluations[0].OverallScore)
	assert.Equal(t, core.DecisionContinue, cp.Evaluations[0].Decision)
	assert.Equal(t, core.DecisionSynthesize, cp.Evaluations[1].Decision)
	assert.Len(t, cp.PlanVersions, 2)
}

func TestOrchestrator_QualityGateStopsEarly(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Evaluator.CriticWeight = 1
	critic := testutil.NewMockCritic(&core.Critique{Score: 92})
	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)
	deps.Critic = critic
	writer := &testutil.MockReportWriter{Report: "# Solid-state battery safety\n\nNarrative."}
	deps.ReportWriter = writer
	o := newOrchestrator(t, deps)

	res, err := o.Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Forced)
	assert.False(t, res.Fallback)
	assert.Equal(t, core.StopQualityGate, res.StopReason)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, writer.Report, res.Report)
	assert.Empty(t, res.Caveats)
	assert.True(t, strings.HasPrefix(res.Summary, `Researched "solid-state battery safety" in 1 iteration:`))
}

func TestOrchestrator_PlanningFailurePolicy(t *testing.T) {
	failing := func() *testutil.MockGenerator {
		return testutil.NewMockGenerator(func(context.Context, core.PlanRequest) (*core.PlanDraft, error) {
			return nil, core.ErrPermanentGateway("reasoning", "model unavailable")
		})
	}

	t.Run("fail", func(t *testing.T) {
		h := newHarness()
		opts := orchestratorOptions()
		opts.Planner.OnFailure = config.PlannerFail
		deps := h.deps(opts)
		deps.Runner = runnerFunc(saveOneRunner)
		deps.Generator = failing()
		o := newOrchestrator(t, deps)

		res, err := o.Run(context.Background(), batteryQuery)
		require.Error(t, err)
		assert.True(t, core.IsCategory(err, core.ErrCatPlanning))
		require.NotNil(t, res)
		assert.Equal(t, core.PhaseFailed, res.Phase)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
		assert.True(t, strings.HasPrefix(res.Summary, `Research on "solid-state battery safety" failed:`))
		assert.Equal(t, core.PhaseFailed, h.lastCheckpoint(t, res.RunID).Phase)
	})

	t.Run("fallback", func(t *testing.T) {
		h := newHarness()
		opts := orchestratorOptions()
		opts.Planner.OnFailure = config.PlannerFallback
		opts.Evaluator.MaxIterations = 1
		deps := h.deps(opts)
		deps.Runner = runnerFunc(saveOneRunner)
		deps.Generator = failing()
		o := newOrchestrator(t, deps)

		res, err := o.Run(context.Background(), batteryQuery)
		require.NoError(t, err)
		assert.Equal(t, core.PhaseDone, res.Phase)
		assert.Equal(t, 1, res.Subtasks)
		assert.Contains(t, res.Caveats, "Planning failed; the query was researched as a single generic subtask.")
	})
}

func TestOrchestrator_DeadlineSynthesizesAvailableEvidence(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.RunTimeout = 150 * time.Millisecond
	opts.Pool.TaskTimeout = 5 * time.Second

	runner := runnerFunc(func(ctx context.Context, _ string, st core.Subtask, workerID string, sink FindingSink) ([]string, error) {
		if st.ID == 1 {
			return saveOne(ctx, st, workerID, sink)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	deps := h.deps(opts)
	deps.Runner = runner
	o := newOrchestrator(t, deps)

	start := time.Now()
	res, err := o.Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, core.PhaseDone, res.Phase)
	assert.Equal(t, core.ForcedDeadline, res.StopReason)
	assert.True(t, res.Degraded)
	assert.True(t, res.Forced)
	assert.False(t, res.Success)
	assert.True(t, res.Fallback)
	assert.Equal(t, 1, res.Findings)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 0, res.Failed)
	assert.Contains(t, res.Report, "The run deadline expired before the quality gate was reached.")
	assert.Contains(t, res.Summary, "Results are degraded.")
}

func TestOrchestrator_EvaluationFailureDegrades(t *testing.T) {
	h := newHarness()
	deps := h.deps(orchestratorOptions())
	deps.Runner = runnerFunc(saveOneRunner)
	deps.Critic = testutil.NewMockCritic().WithError(errors.New("malformed critique"))
	o := newOrchestrator(t, deps)

	res, err := o.Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	assert.Equal(t, core.PhaseDone, res.Phase)
	assert.Equal(t, core.StopEvaluationFailed, res.StopReason)
	assert.True(t, res.Degraded)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Report)
}

func TestOrchestrator_NoEvidenceFails(t *testing.T) {
	h := newHarness()
	runner := runnerFunc(func(context.Context, string, core.Subtask, string, FindingSink) ([]string, error) {
		return nil, core.ErrExecution(core.CodeNoFindings, "nothing found")
	})
	deps := h.deps(orchestratorOptions())
	deps.Runner = runner
	deps.Critic = testutil.NewMockCritic().WithError(errors.New("no evidence to critique"))
	o := newOrchestrator(t, deps)

	res, err := o.Run(context.Background(), batteryQuery)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, core.PhaseFailed, res.Phase)
	assert.Equal(t, res.Subtasks, res.Failed)
}

func TestOrchestrator_InterruptedRunResumes(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Evaluator.MaxIterations = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Interrupt once S01 has been recorded as completed.
	completed := h.bus.Subscribe(events.TypeSubtaskCompleted)
	go func() {
		<-completed
		cancel()
	}()
	first := runnerFunc(func(c context.Context, _ string, st core.Subtask, workerID string, sink FindingSink) ([]string, error) {
		if st.ID == 1 {
			return saveOne(c, st, workerID, sink)
		}
		<-c.Done()
		return nil, c.Err()
	})
	deps := h.deps(opts)
	deps.Runner = first
	res, err := newOrchestrator(t, deps).Run(ctx, batteryQuery)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, core.PhaseResearching, res.Phase)
	assert.Contains(t, res.Summary, "was interrupted in RESEARCHING")

	cp := h.lastCheckpoint(t, res.RunID)
	assert.Equal(t, core.PhaseResearching, cp.Phase)
	require.NotNil(t, cp.Plan)
	assert.Equal(t, core.SubtaskDone, cp.Plan.Subtasks[0].Status)
	for _, st := range cp.Plan.Subtasks[1:] {
		assert.Equal(t, core.SubtaskPending, st.Status)
	}

	var mu sync.Mutex
	var executed []core.SubtaskID
	second := runnerFunc(func(c context.Context, _ string, st core.Subtask, workerID string, sink FindingSink) ([]string, error) {
		mu.Lock()
		executed = append(executed, st.ID)
		mu.Unlock()
		return saveOne(c, st, workerID, sink)
	})
	deps = h.deps(opts)
	deps.Runner = second
	resumed, err := newOrchestrator(t, deps).Resume(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, resumed.RunID)
	assert.Equal(t, core.PhaseDone, resumed.Phase)
	assert.NotContains(t, executed, core.SubtaskID(1), "completed subtasks are not redone")
	assert.Len(t, executed, resumed.Subtasks-1)
	assert.Equal(t, resumed.Subtasks, resumed.Findings)
}

func TestOrchestrator_ResumeIsDeterministic(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Evaluator.MaxIterations = 2

	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)
	original, err := newOrchestrator(t, deps).Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	require.Equal(t, core.PhaseDone, original.Phase)

	cps, err := h.checkpoints.List(context.Background(), original.RunID)
	require.NoError(t, err)
	var evaluating *core.Checkpoint
	for _, cp := range cps {
		if cp.Phase == core.PhaseEvaluating {
			evaluating = cp
			break
		}
	}
	require.NotNil(t, evaluating)

	deps = h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)
	resumed, err := newOrchestrator(t, deps).Resume(context.Background(), evaluating.ID)
	require.NoError(t, err)

	assert.Equal(t, original.Phase, resumed.Phase)
	assert.Equal(t, original.Score, resumed.Score)
	assert.Equal(t, original.StopReason, resumed.StopReason)
	assert.Equal(t, original.Iterations, resumed.Iterations)
	assert.Equal(t, original.Subtasks, resumed.Subtasks)
	assert.Equal(t, original.Findings, resumed.Findings)
	assert.Equal(t, original.Report, resumed.Report)
}

func TestOrchestrator_ResumeRejectsFinishedRun(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Evaluator.MaxIterations = 1
	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)
	o := newOrchestrator(t, deps)

	res, err := o.Run(context.Background(), batteryQuery)
	require.NoError(t, err)

	_, err = o.Resume(context.Background(), res.RunID)
	assert.True(t, core.IsCategory(err, core.ErrCatState))

	deps.Checkpoints = nil
	_, err = newOrchestrator(t, deps).Resume(context.Background(), res.RunID)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
}

func TestOrchestrator_RegenerateRebuildsReport(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	opts.Evaluator.MaxIterations = 1
	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)

	res, err := newOrchestrator(t, deps).Run(context.Background(), batteryQuery)
	require.NoError(t, err)
	require.True(t, res.Fallback)
	checkpoints := len(mustList(t, h, res.RunID))

	writer := &testutil.MockReportWriter{Report: "# Solid-state battery safety\n\nRewritten."}
	deps.ReportWriter = writer
	deps.Runner = runnerFunc(func(context.Context, string, core.Subtask, string, FindingSink) ([]string, error) {
		t.Error("regeneration must not execute subtasks")
		return nil, nil
	})
	regen, err := newOrchestrator(t, deps).Regenerate(context.Background(), res.RunID)
	require.NoError(t, err)

	assert.Equal(t, res.RunID, regen.RunID)
	assert.Equal(t, core.PhaseDone, regen.Phase)
	assert.Equal(t, writer.Report, regen.Report)
	assert.False(t, regen.Fallback)
	assert.Equal(t, res.Findings, regen.Findings)
	assert.Equal(t, res.Score, regen.Score)
	assert.Equal(t, res.Subtasks, regen.Subtasks)
	assert.Len(t, mustList(t, h, res.RunID), checkpoints, "regeneration writes no checkpoint")
}

func TestOrchestrator_RegenerateRequiresFinishedRun(t *testing.T) {
	h := newHarness()
	opts := orchestratorOptions()
	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)
	o := newOrchestrator(t, deps)

	_, err := o.Regenerate(context.Background(), "missing-run")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	// A run stopped right after planning cannot be regenerated.
	ctx, cancel := context.WithCancel(context.Background())
	issued := h.bus.Subscribe(events.TypePlanIssued)
	blocked := runnerFunc(func(c context.Context, _ string, _ core.Subtask, _ string, _ FindingSink) ([]string, error) {
		<-c.Done()
		return nil, c.Err()
	})
	deps.Runner = blocked
	go func() {
		<-issued
		cancel()
	}()
	res, err := newOrchestrator(t, deps).Run(ctx, batteryQuery)
	require.Error(t, err)
	require.NotNil(t, res)

	_, err = o.Regenerate(context.Background(), res.RunID)
	assert.True(t, core.IsCategory(err, core.ErrCatState))

	deps.Checkpoints = nil
	_, err = newOrchestrator(t, deps).Regenerate(context.Background(), res.RunID)
	assert.True(t, core.IsCategory(err, core.ErrCatState))
}

func mustList(t *testing.T, h *harness, runID string) []*core.Checkpoint {
	t.Helper()
	cps, err := h.checkpoints.List(context.Background(), runID)
	require.NoError(t, err)
	return cps
}

func TestOrchestrator_PublishesLifecycleEvents(t *testing.T) {
	h := newHarness()
	ch := h.bus.Subscribe()
	opts := orchestratorOptions()
	opts.Evaluator.MaxIterations = 1
	deps := h.deps(opts)
	deps.Runner = runnerFunc(saveOneRunner)

	res, err := newOrchestrator(t, deps).Run(context.Background(), batteryQuery)
	require.NoError(t, err)

	types := drain(ch)
	require.NotEmpty(t, types)
	assert.Equal(t, events.TypeRunStarted, types[0])
	assert.Equal(t, events.TypeRunCompleted, types[len(types)-1])
	for _, want := range []string{
		events.TypePlanIssued,
		events.TypePhaseChanged,
		events.TypeSubtaskStarted,
		events.TypeSubtaskCompleted,
		events.TypeQuickAssessment,
		events.TypeEvaluationCompleted,
	} {
		assert.Contains(t, types, want)
	}

	completed := 0
	for _, typ := range types {
		if typ == events.TypeSubtaskCompleted {
			completed++
		}
	}
	assert.Equal(t, res.Completed, completed)
}

func TestSummarizeResult(t *testing.T) {
	r := &Result{
		Query:      "q",
		Phase:      core.PhaseDone,
		Iterations: 2,
		Subtasks:   5,
		Completed:  4,
		Failed:     1,
		Findings:   12,
		Sources:    7,
		Score:      79,
		Depth:      core.DepthMedium,
		StopReason: core.ForcedBudgetExhausted,
		Report:     "abc",
	}
	assert.Equal(t,
		`Researched "q" in 2 iterations: 5 subtasks (4 completed, 1 failed), 12 findings from 7 sources, score 79/100, depth medium, stopped by budget exhausted. Report is 3 characters.`,
		summarizeResult(r))

	r.Phase = core.PhaseEvaluating
	r.RunID = "run-1"
	assert.Equal(t, `Research on "q" was interrupted in EVALUATING with 12 findings; resume run run-1 to continue.`, summarizeResult(r))
}

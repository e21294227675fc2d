package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
)

// checkpointTimeout bounds a single snapshot write.
const checkpointTimeout = 30 * time.Second

// EvidenceStore is the run-scoped evidence partition the control loop
// drives.
type EvidenceStore interface {
	core.EvidenceReader
	core.EvidenceWriter
	IDs() []string
	Close() error
}

// EvidenceOpener opens the evidence partition of a run, loading any
// findings persisted by an earlier process.
type EvidenceOpener func(ctx context.Context, runID string) (EvidenceStore, error)

// OrchestratorDeps holds the collaborators of an Orchestrator. Search and
// Evidence are required; every reasoning service is optional and falls
// back to its heuristic.
type OrchestratorDeps struct {
	Options      Options
	Generator    core.SubtaskGenerator
	Search       core.SearchGateway
	Extraction   core.ExtractionGateway
	Extractor    core.EvidenceExtractor
	Critic       core.Critic
	Reviewer     core.Reviewer
	ReportWriter core.ReportWriter
	Evidence     EvidenceOpener
	Checkpoints  *service.CheckpointManager
	Bus          *events.EventBus
	Tracer       *service.Tracer
	Logger       *logging.Logger
	// Runner replaces the default Worker.
	Runner SubtaskRunner
}

// Orchestrator drives research runs through the phase state machine.
type Orchestrator struct {
	opts        Options
	planner     *Planner
	runner      SubtaskRunner
	evaluator   *Evaluator
	synthesizer *Synthesizer
	open        EvidenceOpener
	checkpoints *service.CheckpointManager
	bus         *events.EventBus
	tracer      *service.Tracer
	logger      *logging.Logger
	newID       func() string
}

// NewOrchestrator wires the engine.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if deps.Search == nil && deps.Runner == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "search gateway is required")
	}
	if deps.Evidence == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "evidence store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = service.NewTracer()
	}
	opts := deps.Options
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultOptions().RunTimeout
	}
	if opts.Synthesis.RefocusPolicy == "" {
		opts.Synthesis.RefocusPolicy = opts.RefocusPolicy
	}

	runner := deps.Runner
	if runner == nil {
		runner = NewWorker(WorkerDeps{
			Search:     deps.Search,
			Extraction: deps.Extraction,
			Extractor:  deps.Extractor,
			Options:    opts.Worker,
			Logger:     deps.Logger,
		})
	}

	return &Orchestrator{
		opts:    opts,
		planner: NewPlanner(deps.Generator, opts.Planner, deps.Logger),
		runner:  runner,
		evaluator: NewEvaluator(EvaluatorDeps{
			Critic:   deps.Critic,
			Reviewer: deps.Reviewer,
			Options:  opts.Evaluator,
			Logger:   deps.Logger,
		}),
		synthesizer: NewSynthesizer(deps.ReportWriter, opts.Synthesis, deps.Logger),
		open:        deps.Evidence,
		checkpoints: deps.Checkpoints,
		bus:         deps.Bus,
		tracer:      deps.Tracer,
		logger:      deps.Logger,
		newID:       uuid.NewString,
	}, nil
}

// Result is the structured outcome of a run. It is returned for failed
// and interrupted runs too.
type Result struct {
	RunID      string             `json:"run_id"`
	Query      string             `json:"query"`
	Success    bool               `json:"success"`
	Report     string             `json:"report"`
	Summary    string             `json:"summary"`
	Error      string             `json:"error,omitempty"`
	Phase      core.Phase         `json:"phase"`
	Score      int                `json:"score"`
	Forced     bool               `json:"forced,omitempty"`
	StopReason string             `json:"stop_reason,omitempty"`
	Degraded   bool               `json:"degraded,omitempty"`
	Fallback   bool               `json:"fallback_report,omitempty"`
	Iterations int                `json:"iterations"`
	Subtasks   int                `json:"subtasks"`
	Completed  int                `json:"completed"`
	Failed     int                `json:"failed"`
	Findings   int                `json:"findings"`
	Sources    int                `json:"sources"`
	Depth      core.Depth         `json:"depth,omitempty"`
	Caveats    []string           `json:"caveats,omitempty"`
	Failures   []core.Failure     `json:"failures,omitempty"`
	Metrics    service.RunMetrics `json:"metrics"`

	PhaseDurations map[core.Phase]time.Duration `json:"phase_durations,omitempty"`
	SubtaskMetrics []*service.SubtaskMetrics    `json:"subtask_metrics,omitempty"`
}

// MetricsSnapshot returns the metrics collected during the run.
func (r *Result) MetricsSnapshot() service.MetricsSnapshot {
	return service.MetricsSnapshot{Run: r.Metrics, Phases: r.PhaseDurations, Subtasks: r.SubtaskMetrics}
}

// Run researches query from scratch.
func (o *Orchestrator) Run(ctx context.Context, query string) (*Result, error) {
	if err := core.ValidateQuery(query); err != nil {
		return nil, err
	}
	state := core.NewRunState(o.newID(), strings.TrimSpace(query))
	return o.execute(ctx, state, false)
}

// Resume continues a run from a checkpoint id or the latest checkpoint of
// a run id. Completed subtasks and finished evaluations are not redone.
func (o *Orchestrator) Resume(ctx context.Context, ref string) (*Result, error) {
	if !o.checkpoints.Enabled() {
		return nil, core.ErrState(core.CodeInvalidState, "checkpoints are disabled")
	}
	state, _, err := o.checkpoints.Resume(ctx, ref)
	if err != nil {
		return nil, err
	}
	return o.execute(ctx, state, true)
}

// Regenerate rebuilds the report of a finished run from its persisted
// evidence and final checkpoint. Nothing is searched or re-evaluated and
// no checkpoint is written.
func (o *Orchestrator) Regenerate(ctx context.Context, runID string) (*Result, error) {
	if !o.checkpoints.Enabled() {
		return nil, core.ErrState(core.CodeInvalidState, "checkpoints are disabled")
	}
	state, err := o.checkpoints.LoadState(ctx, runID)
	if err != nil {
		return nil, err
	}
	if state.Phase != core.PhaseDone {
		return nil, core.ErrState(core.CodeInvalidState,
			fmt.Sprintf("run %s has not finished (phase %s); resume it instead", state.RunID, state.Phase))
	}
	store, err := o.open(ctx, state.RunID)
	if err != nil {
		return nil, fmt.Errorf("opening evidence for run %s: %w", state.RunID, err)
	}
	defer store.Close()

	r := &run{
		o:       o,
		state:   state,
		store:   store,
		metrics: service.NewMetricsCollector(state.RunID),
		logger:  o.logger.WithRun(state.RunID),
		start:   time.Now(),
	}
	r.metrics.StartRun()
	report, err := o.synthesizer.Synthesize(ctx, store, r.synthesisInput())
	r.metrics.RecordPhase(core.PhaseSynthesizing, time.Since(r.start))
	r.metrics.EndRun()
	if err != nil {
		return nil, err
	}
	r.report = report
	r.logger.Info("report regenerated", "findings", len(state.FindingIDs), "fallback", report.Fallback)
	return r.result(), nil
}

// run is the per-run control state. It is only touched by the control
// goroutine.
type run struct {
	o       *Orchestrator
	state   *core.RunState
	store   EvidenceStore
	pool    *Pool
	metrics *service.MetricsCollector
	logger  *logging.Logger
	report  *Report
	start   time.Time
}

func (o *Orchestrator) execute(ctx context.Context, state *core.RunState, resumed bool) (*Result, error) {
	store, err := o.open(ctx, state.RunID)
	if err != nil {
		return nil, fmt.Errorf("opening evidence for run %s: %w", state.RunID, err)
	}
	defer store.Close()

	metrics := service.NewMetricsCollector(state.RunID)
	r := &run{
		o:       o,
		state:   state,
		store:   store,
		metrics: metrics,
		logger:  o.logger.WithRun(state.RunID),
		start:   time.Now(),
	}
	r.pool = NewPool(PoolDeps{
		Runner:  o.runner,
		Writer:  store,
		Options: o.opts.Pool,
		Logger:  o.logger,
		Bus:     o.bus,
		Metrics: metrics,
		Tracer:  o.tracer,
	})

	metrics.StartRun()
	o.publish(events.NewRunStartedEvent(state.RunID, state.Query, resumed))
	r.logger.Info("run started", "query", state.Query, "phase", state.Phase, "resumed", resumed)

	ctx, span := o.tracer.StartRun(ctx, state.RunID, state.Query)
	runCtx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()

	if !resumed {
		r.checkpoint(ctx)
	}
	err = r.loop(ctx, runCtx)

	metrics.EndRun()
	res := r.result()
	metrics.Log(r.logger)
	o.publish(events.NewRunCompletedEvent(state.RunID, string(state.Phase), res.Success, res.Score,
		res.Findings, res.Forced, time.Since(r.start), res.Error))
	service.EndSpan(span, err,
		attribute.String("run.phase", string(state.Phase)),
		attribute.Int("run.score", res.Score),
		attribute.Int("run.findings", res.Findings),
	)
	r.logger.Info("run finished",
		"phase", state.Phase,
		"success", res.Success,
		"score", res.Score,
		"stop_reason", res.StopReason,
		"metrics", service.NewReportGenerator(res.MetricsSnapshot()).GenerateSummary(),
	)
	return res, err
}

// loop advances the state until it is terminal. Cancelling ctx leaves the
// run resumable from its last checkpoint; expiry of runCtx sends the run
// straight to synthesis.
func (r *run) loop(ctx, runCtx context.Context) error {
	for !r.state.Phase.IsTerminal() {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("run interrupted", "phase", r.state.Phase, "error", err)
			return err
		}
		phase := r.state.Phase
		if runCtx.Err() != nil && phase != core.PhaseSynthesizing {
			if err := r.expire(ctx); err != nil {
				return r.fail(ctx, err)
			}
			continue
		}

		parent := runCtx
		if phase == core.PhaseSynthesizing {
			parent = ctx
		}
		phaseCtx, span := r.o.tracer.StartPhase(parent, phase, r.state.Iteration)
		started := time.Now()

		var err error
		switch phase {
		case core.PhasePlanning:
			err = r.plan(phaseCtx)
		case core.PhaseResearching:
			err = r.research(phaseCtx)
		case core.PhaseEvaluating:
			err = r.evaluate(phaseCtx)
		case core.PhaseSynthesizing:
			err = r.synthesize(phaseCtx)
		default:
			err = core.ErrState(core.CodeInvalidState, fmt.Sprintf("unexpected phase %s", phase))
		}

		r.metrics.RecordPhase(phase, time.Since(started))
		service.EndSpan(span, err)

		if err != nil {
			if ctx.Err() != nil {
				r.logger.Warn("run interrupted", "phase", phase, "error", err)
				r.checkpoint(ctx)
				return ctx.Err()
			}
			if runCtx.Err() != nil && phase != core.PhaseSynthesizing {
				continue
			}
			return r.fail(ctx, err)
		}
	}
	return nil
}

func (r *run) plan(ctx context.Context) error {
	plan, fallback, err := r.o.planner.Plan(ctx, r.state.Query)
	if err != nil {
		return err
	}
	r.state.Iteration = plan.Iteration
	r.state.RecordPlan(plan)
	if fallback {
		r.state.AddCaveat("Planning failed; the query was researched as a single generic subtask.")
	}
	r.o.publish(events.NewPlanIssuedEvent(r.state.RunID, plan.Version, plan.Iteration, len(plan.Subtasks), fallback))
	return r.transition(ctx, core.PhaseResearching)
}

func (r *run) research(ctx context.Context) error {
	plan := r.state.Plan
	if plan == nil {
		return core.ErrState(core.CodeStateCorrupted, "researching without a plan")
	}
	pending := plan.Pending()
	for _, st := range pending {
		s := plan.Subtask(st.ID)
		s.Status = core.SubtaskPending
		if err := s.MarkRunning(); err != nil {
			return core.ErrState(core.CodeInvalidState, err.Error())
		}
	}

	res := r.pool.RunAll(ctx, r.state.RunID, pending)
	// Subtasks cut off by the run ending are left pending so a resumed
	// run executes them again.
	interrupted := ctx.Err() != nil
	for _, out := range res.Outcomes {
		s := plan.Subtask(out.Subtask.ID)
		switch {
		case !out.Failed():
			_ = s.MarkDone(out.Attempts)
		case interrupted:
			s.Status = core.SubtaskPending
		default:
			_ = s.MarkFailed(out.Attempts, out.Err)
			r.state.Failures = append(r.state.Failures, out.Failure())
		}
	}

	r.state.FindingIDs = r.store.IDs()
	r.metrics.RecordFindings(len(r.state.FindingIDs))
	if interrupted {
		return ctx.Err()
	}

	qa := QuickAssess(r.findings(), r.o.opts.Evaluator.MinAcademicRatio)
	r.o.publish(events.NewQuickAssessmentEvent(r.state.RunID, qa.EstimatedScore, qa.Findings, qa.Sources, qa.NeedsMore, qa.NeedsAcademic))
	r.logger.Info("research phase finished",
		"iteration", r.state.Iteration,
		"subtasks", len(pending),
		"failed", len(res.Failures),
		"findings", len(r.state.FindingIDs),
		"estimated_score", qa.EstimatedScore,
	)
	return r.transition(ctx, core.PhaseEvaluating)
}

func (r *run) evaluate(ctx context.Context) error {
	findings := r.findings()
	eval, err := r.o.evaluator.Evaluate(ctx, EvaluationInput{
		RunID:     r.state.RunID,
		Query:     r.state.Query,
		Plan:      r.state.Plan,
		Findings:  findings,
		Iteration: r.state.Iteration,
		Previous:  r.state.Evaluations,
	})
	if err != nil {
		if ctx.Err() != nil || len(findings) == 0 {
			return err
		}
		r.logger.Warn("evaluation failed, synthesizing unevaluated evidence", "error", err)
		r.state.Degraded = true
		r.state.StopReason = core.StopEvaluationFailed
		r.state.AddCaveat("Evidence could not be scored; the report is built from unevaluated findings.")
		return r.transition(ctx, core.PhaseSynthesizing)
	}

	r.state.Evaluations = append(r.state.Evaluations, eval)
	r.metrics.RecordEvaluation(eval)
	r.o.publish(events.NewEvaluationCompletedEvent(r.state.RunID, eval.Iteration, eval.OverallScore,
		string(eval.Decision), len(eval.Gaps), eval.Forced))

	switch eval.Decision {
	case core.DecisionSynthesize:
		if eval.Forced {
			r.state.StopReason = eval.ForcedReason
			r.state.AddCaveat(fmt.Sprintf("Iteration budget exhausted at score %d/100, below the quality threshold of %d.",
				eval.OverallScore, r.o.opts.Evaluator.QualityThreshold))
		} else {
			r.state.StopReason = core.StopQualityGate
		}
		return r.transition(ctx, core.PhaseSynthesizing)

	case core.DecisionRefocus:
		r.state.StopReason = core.StopRefocus
		r.state.AddCaveat(fmt.Sprintf("Evidence stopped improving at score %d/100; gap filling was halted.", eval.OverallScore))
		return r.transition(ctx, core.PhaseSynthesizing)
	}

	next, err := r.o.planner.Refine(ctx, r.state.Plan, eval.Gaps, r.state.Iteration+1, r.state.FindingIDs)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		r.logger.Warn("refinement failed, synthesizing current evidence", "error", err)
		r.state.Degraded = true
		r.state.StopReason = core.StopRefineFailed
		r.state.AddCaveat("Follow-up planning failed; remaining gaps were not researched.")
		return r.transition(ctx, core.PhaseSynthesizing)
	}
	if next == nil {
		r.state.StopReason = core.ForcedNoNewSubtasks
		r.state.AddCaveat(fmt.Sprintf("No new subtasks could address the remaining gaps at score %d/100.", eval.OverallScore))
		return r.transition(ctx, core.PhaseSynthesizing)
	}

	r.state.Iteration = next.Iteration
	r.state.RecordPlan(next)
	r.o.publish(events.NewPlanIssuedEvent(r.state.RunID, next.Version, next.Iteration, len(next.Subtasks), false))
	return r.transition(ctx, core.PhaseResearching)
}

func (r *run) synthesize(ctx context.Context) error {
	report, err := r.o.synthesizer.Synthesize(ctx, r.store, r.synthesisInput())
	if err != nil {
		return err
	}
	r.report = report
	return r.transition(ctx, core.PhaseDone)
}

func (r *run) synthesisInput() SynthesisInput {
	return SynthesisInput{
		Query:      r.state.Query,
		Plan:       r.state.Plan,
		Evaluation: r.state.LatestEvaluation(),
		Caveats:    r.state.Caveats,
		Refocused:  r.state.StopReason == core.StopRefocus,
		Degraded:   r.state.Degraded,
	}
}

// expire moves a run whose deadline passed to synthesis with whatever
// evidence exists.
func (r *run) expire(ctx context.Context) error {
	r.logger.Warn("run deadline reached, synthesizing available evidence", "phase", r.state.Phase)
	r.state.StopReason = core.ForcedDeadline
	r.state.Degraded = true
	r.state.AddCaveat("The run deadline expired before the quality gate was reached.")
	if r.state.Plan != nil {
		r.state.FindingIDs = r.store.IDs()
	}
	return r.transition(ctx, core.PhaseSynthesizing)
}

func (r *run) fail(ctx context.Context, cause error) error {
	r.logger.Error("run failed", "phase", r.state.Phase, "error", cause)
	r.state.Error = cause.Error()
	if err := r.transition(ctx, core.PhaseFailed); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (r *run) transition(ctx context.Context, to core.Phase) error {
	from := r.state.Phase
	if err := r.state.Transition(to); err != nil {
		return err
	}
	r.logger.WithPhase(string(to)).Debug("phase changed", "from", from, "iteration", r.state.Iteration)
	r.o.publish(events.NewPhaseChangedEvent(r.state.RunID, string(from), string(to), r.state.Iteration))
	r.checkpoint(ctx)
	return nil
}

// checkpoint snapshots the state. Failures are logged and never abort
// the run.
func (r *run) checkpoint(ctx context.Context) {
	if !r.o.checkpoints.Enabled() {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
	defer cancel()
	if _, err := r.o.checkpoints.Snapshot(cctx, r.state.Clone()); err != nil {
		r.logger.Warn("checkpoint failed", "phase", r.state.Phase, "error", err)
		r.metrics.RecordCheckpointError()
		r.o.publish(events.NewCheckpointFailedEvent(r.state.RunID, string(r.state.Phase), err))
	}
}

// findings resolves the finding ids of the state against the store.
func (r *run) findings() []core.Finding {
	out := make([]core.Finding, 0, len(r.state.FindingIDs))
	for _, id := range r.state.FindingIDs {
		if f, ok := r.store.Get(id); ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *run) result() *Result {
	s := r.state
	res := &Result{
		RunID:      s.RunID,
		Query:      s.Query,
		Phase:      s.Phase,
		Success:    s.Phase == core.PhaseDone && !s.Degraded,
		Error:      s.Error,
		StopReason: s.StopReason,
		Degraded:   s.Degraded,
		Iterations: s.Iteration,
		Findings:   len(s.FindingIDs),
		Sources:    len(r.store.ListSources()),
		Caveats:    append([]string(nil), s.Caveats...),
		Failures:   append([]core.Failure(nil), s.Failures...),
	}
	snap := r.metrics.Snapshot()
	res.Metrics, res.PhaseDurations, res.SubtaskMetrics = snap.Run, snap.Phases, snap.Subtasks
	if e := s.LatestEvaluation(); e != nil {
		res.Score = e.OverallScore
		res.Forced = e.Forced
	}
	if s.StopReason == core.ForcedDeadline || s.StopReason == core.ForcedNoNewSubtasks {
		res.Forced = true
	}
	if s.Plan != nil {
		res.Depth = s.Plan.EstimatedDepth
		for _, st := range s.Plan.All() {
			res.Subtasks++
			switch st.Status {
			case core.SubtaskDone:
				res.Completed++
			case core.SubtaskFailed:
				res.Failed++
			}
		}
	}
	if r.report != nil {
		res.Report = r.report.Markdown
		res.Fallback = r.report.Fallback
	}
	res.Summary = summarizeResult(res)
	return res
}

func summarizeResult(r *Result) string {
	switch r.Phase {
	case core.PhaseFailed:
		return fmt.Sprintf("Research on %q failed: %s", r.Query, r.Error)
	case core.PhaseDone:
	default:
		return fmt.Sprintf("Research on %q was interrupted in %s with %d findings; resume run %s to continue.",
			r.Query, r.Phase, r.Findings, r.RunID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Researched %q in %d iteration", r.Query, r.Iterations)
	if r.Iterations != 1 {
		b.WriteString("s")
	}
	fmt.Fprintf(&b, ": %d subtasks (%d completed, %d failed), %d findings from %d sources, score %d/100",
		r.Subtasks, r.Completed, r.Failed, r.Findings, r.Sources, r.Score)
	if r.Depth != "" {
		fmt.Fprintf(&b, ", depth %s", r.Depth)
	}
	if r.StopReason != "" {
		fmt.Fprintf(&b, ", stopped by %s", strings.ReplaceAll(r.StopReason, "_", " "))
	}
	fmt.Fprintf(&b, ". Report is %d characters.", len(r.Report))
	if r.Degraded {
		b.WriteString(" Results are degraded.")
	}
	return b.String()
}

func (o *Orchestrator) publish(e events.Event) {
	if o.bus != nil {
		o.bus.Publish(e)
	}
}

package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
)

// Planner decomposes a query into subtasks and refines plans from
// evaluation gaps.
type Planner struct {
	generator core.SubtaskGenerator
	heuristic *HeuristicGenerator
	opts      PlannerOptions
	retry     *service.RetryPolicy
	logger    *logging.Logger
}

// NewPlanner creates a planner. A nil generator selects the heuristic one.
func NewPlanner(generator core.SubtaskGenerator, opts PlannerOptions, logger *logging.Logger) *Planner {
	if logger == nil {
		logger = logging.NewNop()
	}
	heuristic := NewHeuristicGenerator()
	if generator == nil {
		generator = heuristic
	}
	if opts.MaxSubtasks <= 0 {
		opts.MaxSubtasks = DefaultOptions().Planner.MaxSubtasks
	}
	if opts.MinSubtasks <= 0 || opts.MinSubtasks > opts.MaxSubtasks {
		opts.MinSubtasks = min(DefaultOptions().Planner.MinSubtasks, opts.MaxSubtasks)
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = DefaultOptions().Planner.SimilarityThreshold
	}
	return &Planner{
		generator: generator,
		heuristic: heuristic,
		opts:      opts,
		retry:     service.ReasoningRetryPolicy(max(0, opts.MaxRetries)+1, opts.BaseDelay),
		logger:    logger,
	}
}

// Plan builds the first plan version for query. fallback reports that
// generation failed and the failure policy substituted a single generic
// subtask.
func (p *Planner) Plan(ctx context.Context, query string) (plan *core.Plan, fallback bool, err error) {
	if err := core.ValidateQuery(query); err != nil {
		return nil, false, err
	}
	query = strings.TrimSpace(query)

	draft, err := p.generate(ctx, core.PlanRequest{
		Query:       query,
		Iteration:   1,
		MinSubtasks: p.opts.MinSubtasks,
		MaxSubtasks: p.opts.MaxSubtasks,
	})
	var subtasks []core.Subtask
	if err == nil {
		subtasks = p.accept(draft.Subtasks, nil, 1, 1, p.opts.MaxSubtasks)
		switch {
		case len(subtasks) == 0:
			err = core.ErrPlanning("generator proposed no valid subtasks")
		case len(subtasks) < p.opts.MinSubtasks:
			subtasks = p.pad(ctx, query, subtasks)
			if len(subtasks) < p.opts.MinSubtasks {
				err = core.ErrPlanning(fmt.Sprintf("plan has %d subtasks, below the minimum of %d",
					len(subtasks), p.opts.MinSubtasks))
			}
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, err
		}
		if p.opts.OnFailure == config.PlannerFail {
			return nil, false, planningError(err)
		}
		p.logger.Warn("planning failed, using fallback subtask", "error", err)
		return p.fallbackPlan(query), true, nil
	}

	plan = &core.Plan{
		Version:        1,
		Query:          query,
		Summary:        draft.Summary,
		Subtasks:       subtasks,
		Iteration:      1,
		EstimatedDepth: draft.EstimatedDepth,
		KeyQuestions:   draft.KeyQuestions,
		CreatedAt:      time.Now().UTC(),
	}
	if !plan.EstimatedDepth.Valid() {
		plan.EstimatedDepth = core.DepthMedium
	}
	core.SortByPriority(plan.Subtasks)
	if err := plan.Validate(); err != nil {
		return nil, false, planningError(err)
	}

	p.logger.Info("plan created",
		"subtasks", len(plan.Subtasks),
		"depth", plan.EstimatedDepth,
	)
	return plan, false, nil
}

// Refine builds the next plan version from gaps. Proposals whose focus
// is near-identical to any subtask already planned in the run are
// dropped; a nil plan means nothing new is left to research.
func (p *Planner) Refine(ctx context.Context, current *core.Plan, gaps []core.Gap, iteration int, priorFindingIDs []string) (*core.Plan, error) {
	if current == nil {
		return nil, core.ErrState(core.CodeInvalidState, "refining without a plan")
	}
	if len(gaps) == 0 {
		return nil, nil
	}

	limit := min(p.opts.MaxFollowups, p.opts.MaxSubtasks)
	if limit <= 0 {
		limit = p.opts.MaxSubtasks
	}
	req := core.PlanRequest{
		Query:       current.Query,
		Iteration:   iteration,
		Gaps:        gaps,
		History:     current.All(),
		MinSubtasks: 1,
		MaxSubtasks: limit,
	}

	draft, err := p.generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		if p.opts.OnFailure == config.PlannerFail {
			return nil, planningError(err)
		}
		p.logger.Warn("refinement failed, deriving follow-ups from gaps", "error", err)
		draft, _ = p.heuristic.GenerateSubtasks(ctx, req)
	}

	subtasks := p.accept(draft.Subtasks, current.All(), current.NextID(), iteration, limit)
	if len(subtasks) == 0 {
		p.logger.Info("refinement produced no new subtasks", "iteration", iteration, "gaps", len(gaps))
		return nil, nil
	}

	next := current.Supersede(subtasks, iteration, priorFindingIDs)
	if err := next.Validate(); err != nil {
		return nil, planningError(err)
	}
	p.logger.Info("plan refined",
		"version", next.Version,
		"iteration", iteration,
		"subtasks", len(next.Subtasks),
	)
	return next, nil
}

func (p *Planner) generate(ctx context.Context, req core.PlanRequest) (*core.PlanDraft, error) {
	var draft *core.PlanDraft
	_, err := p.retry.Run(ctx, func(ctx context.Context, attempt int) error {
		d, err := p.generator.GenerateSubtasks(ctx, req)
		if err != nil {
			return err
		}
		if d == nil {
			return core.ErrPlanning("generator returned no plan")
		}
		draft = d
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("subtask generation failed, retrying",
			"attempt", attempt,
			"delay", delay.String(),
			"error", err,
		)
	})
	return draft, err
}

// accept assigns ids to valid drafts, dropping near-duplicates of history
// and of each other, up to limit subtasks.
func (p *Planner) accept(drafts []core.SubtaskDraft, history []core.Subtask, nextID core.SubtaskID, iteration, limit int) []core.Subtask {
	seen := append([]core.Subtask(nil), history...)
	var out []core.Subtask
	for _, d := range drafts {
		if len(out) >= limit {
			break
		}
		st := core.Subtask{
			ID:                 nextID,
			Query:              strings.TrimSpace(d.Query),
			Focus:              strings.TrimSpace(d.Focus),
			Mode:               d.Mode,
			Priority:           d.Priority,
			Status:             core.SubtaskPending,
			Phase:              d.Phase,
			AlternativeQueries: d.AlternativeQueries,
			MinFindings:        d.MinFindings,
			Iteration:          iteration,
		}
		if st.Focus == "" {
			st.Focus = st.Query
		}
		if err := st.Validate(); err != nil {
			p.logger.Warn("dropping invalid subtask", "error", err)
			continue
		}
		if dup := duplicateOf(st, seen, p.opts.SimilarityThreshold); dup != nil {
			p.logger.Debug("dropping duplicate subtask", "focus", st.Focus, "duplicate_of", dup.ID.String())
			continue
		}
		seen = append(seen, st)
		out = append(out, st)
		nextID++
	}
	return out
}

// pad tops a short plan up to the minimum with heuristic subtasks. It asks
// for the maximum so that candidates dropped as duplicates can be replaced.
func (p *Planner) pad(ctx context.Context, query string, subtasks []core.Subtask) []core.Subtask {
	extra, err := p.heuristic.GenerateSubtasks(ctx, core.PlanRequest{
		Query:       query,
		MinSubtasks: p.opts.MaxSubtasks,
		MaxSubtasks: p.opts.MaxSubtasks,
	})
	if err != nil {
		return subtasks
	}
	next := core.SubtaskID(len(subtasks) + 1)
	more := p.accept(extra.Subtasks, subtasks, next, 1, p.opts.MinSubtasks-len(subtasks))
	return append(subtasks, more...)
}

func (p *Planner) fallbackPlan(query string) *core.Plan {
	return &core.Plan{
		Version: 1,
		Query:   query,
		Summary: "Fallback plan: the query is researched as a single subtask",
		Subtasks: []core.Subtask{{
			ID:        1,
			Query:     query,
			Focus:     "General research on " + query,
			Mode:      core.ModeGeneral,
			Priority:  core.PriorityHigh,
			Status:    core.SubtaskPending,
			Iteration: 1,
		}},
		Iteration:      1,
		EstimatedDepth: core.DepthShallow,
		CreatedAt:      time.Now().UTC(),
	}
}

func planningError(err error) error {
	if core.IsCategory(err, core.ErrCatPlanning) {
		return err
	}
	return core.ErrPlanning(fmt.Sprintf("planning failed: %v", err)).WithCause(err)
}

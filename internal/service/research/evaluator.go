package research

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
)

// Sub-score weights of the overall score.
const (
	weightCoverage         = 0.35
	weightSourceQuality    = 0.25
	weightEvidenceStrength = 0.25
	weightBalance          = 0.15
)

// Human review blend: merged = 0.6·score + 0.4·(human·10).
const (
	reviewScoreWeight = 0.6
	reviewHumanWeight = 0.4
)

// Evaluator scores accumulated evidence and decides whether the loop
// continues.
type Evaluator struct {
	critic   core.Critic
	reviewer core.Reviewer
	opts     EvaluatorOptions
	retry    *service.RetryPolicy
	logger   *logging.Logger
}

// EvaluatorDeps holds the collaborators of an Evaluator. Critic and
// Reviewer are optional.
type EvaluatorDeps struct {
	Critic   core.Critic
	Reviewer core.Reviewer
	Options  EvaluatorOptions
	Logger   *logging.Logger
}

// NewEvaluator creates an evaluator.
func NewEvaluator(deps EvaluatorDeps) *Evaluator {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	opts := deps.Options
	d := DefaultOptions().Evaluator
	if opts.QualityThreshold <= 0 {
		opts.QualityThreshold = d.QualityThreshold
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = d.MaxIterations
	}
	if opts.MinFindingsPerSubtask <= 0 {
		opts.MinFindingsPerSubtask = d.MinFindingsPerSubtask
	}
	return &Evaluator{
		critic:   deps.Critic,
		reviewer: deps.Reviewer,
		opts:     opts,
		retry:    service.ReasoningRetryPolicy(max(0, opts.MaxRetries)+1, opts.BaseDelay),
		logger:   deps.Logger,
	}
}

// EvaluationInput is the evidence of one iteration.
type EvaluationInput struct {
	RunID     string
	Query     string
	Plan      *core.Plan
	Findings  []core.Finding
	Iteration int
	// Previous holds the evaluations of earlier iterations, oldest first.
	Previous []core.Evaluation
}

// Evaluate scores the evidence and returns the iteration's verdict.
// Critic failures after retries surface as an EvaluationError.
func (e *Evaluator) Evaluate(ctx context.Context, in EvaluationInput) (core.Evaluation, error) {
	if in.Plan == nil {
		return core.Evaluation{}, core.ErrEvaluation("no plan to evaluate against")
	}
	eval := e.Score(in.Plan, in.Findings)
	eval.Iteration = in.Iteration

	if e.critic != nil {
		critique, err := e.critique(ctx, in, eval)
		if err != nil {
			return core.Evaluation{}, evaluationError(err)
		}
		w := math.Max(0, math.Min(1, e.opts.CriticWeight))
		eval.OverallScore = clampScore(w*float64(critique.Score) + (1-w)*float64(eval.OverallScore))
		eval.Gaps = mergeGaps(eval.Gaps, critique.Gaps)
		eval.Strengths = append(eval.Strengths, critique.Strengths...)
		eval.Weaknesses = append(eval.Weaknesses, critique.Weaknesses...)
	}

	if e.reviewer != nil && eval.OverallScore >= e.opts.ReviewMinScore && eval.OverallScore < e.opts.QualityThreshold {
		e.review(ctx, in, &eval)
	}

	sortGaps(eval.Gaps)

	var previous []int
	for _, p := range in.Previous {
		previous = append(previous, p.OverallScore)
	}
	v := Decide(eval.OverallScore, eval.Gaps, in.Iteration, previous, e.opts)
	eval.Decision = v.Decision
	eval.Forced = v.Forced
	eval.ForcedReason = v.Reason
	eval.CreatedAt = time.Now().UTC()

	e.logger.Info("evidence evaluated",
		"run_id", in.RunID,
		"iteration", in.Iteration,
		"score", eval.OverallScore,
		"coverage", eval.Scores.Coverage,
		"gaps", len(eval.Gaps),
		"decision", eval.Decision,
		"forced", eval.Forced,
	)
	return eval, nil
}

// Score computes the heuristic sub-scores and gaps without deciding.
func (e *Evaluator) Score(plan *core.Plan, findings []core.Finding) core.Evaluation {
	subtasks := plan.Executed()
	if len(subtasks) == 0 {
		subtasks = plan.All()
	}
	bySubtask := make(map[core.SubtaskID]int)
	for _, f := range findings {
		bySubtask[f.SubtaskID]++
	}

	var eval core.Evaluation
	eval.FindingCount = len(findings)

	represented := 0
	strength := 0.0
	for _, st := range subtasks {
		n := bySubtask[st.ID]
		need := e.required(st)
		if n > 0 {
			represented++
		}
		strength += math.Min(1, float64(n)/float64(need))

		switch {
		case n == 0:
			importance := core.BlockingGapImportance
			if st.Priority == core.PriorityHigh {
				importance = 5
			}
			eval.Gaps = append(eval.Gaps, core.Gap{
				Description:    fmt.Sprintf("No evidence for %s: %s", st.ID, st.Focus),
				Importance:     importance,
				SuggestedQuery: suggestedQuery(st),
				SubtaskID:      st.ID,
			})
		case n < need:
			eval.Gaps = append(eval.Gaps, core.Gap{
				Description:    fmt.Sprintf("Only %d of %d findings for %s: %s", n, need, st.ID, st.Focus),
				Importance:     3,
				SuggestedQuery: st.Query + " data",
				SubtaskID:      st.ID,
			})
		}
	}

	var coverage, evidence float64
	if len(subtasks) > 0 {
		coverage = 100 * float64(represented) / float64(len(subtasks))
		evidence = 100 * strength / float64(len(subtasks))
	}

	var quality, balance float64
	if len(findings) > 0 {
		tiers, verified, academic := 0, 0, 0
		for _, f := range findings {
			tiers += f.QualityScore
			if f.Verified {
				verified++
			}
			if f.SearchMode == core.ModeAcademic {
				academic++
			}
		}
		n := float64(len(findings))
		avgTier := float64(tiers) / n
		quality = 100 * (0.7*avgTier/core.MaxQualityScore + 0.3*float64(verified)/n)

		ratio := float64(academic) / n
		balance = balanceScore(ratio, e.opts.MinAcademicRatio)
		if ratio < e.opts.MinAcademicRatio {
			eval.Gaps = append(eval.Gaps, core.Gap{
				Description: fmt.Sprintf("Academic sources are %.0f%% of evidence (target %.0f%%)",
					100*ratio, 100*e.opts.MinAcademicRatio),
				Importance:     3,
				SuggestedQuery: plan.Query + " peer-reviewed study",
			})
		}
	}

	eval.Scores = core.SubScores{
		Coverage:         clampScore(coverage),
		SourceQuality:    clampScore(quality),
		EvidenceStrength: clampScore(evidence),
		Balance:          clampScore(balance),
	}
	eval.OverallScore = clampScore(weightCoverage*coverage +
		weightSourceQuality*quality +
		weightEvidenceStrength*evidence +
		weightBalance*balance)
	sortGaps(eval.Gaps)
	return eval
}

func (e *Evaluator) required(st core.Subtask) int {
	if st.MinFindings > 0 {
		return st.MinFindings
	}
	return e.opts.MinFindingsPerSubtask
}

func (e *Evaluator) critique(ctx context.Context, in EvaluationInput, heuristic core.Evaluation) (*core.Critique, error) {
	req := core.CritiqueRequest{
		Query:     in.Query,
		Iteration: in.Iteration,
		Subtasks:  in.Plan.All(),
		Findings:  in.Findings,
		Heuristic: heuristic,
	}
	var out *core.Critique
	_, err := e.retry.Run(ctx, func(ctx context.Context, attempt int) error {
		c, err := e.critic.Critique(ctx, req)
		if err != nil {
			return err
		}
		if c == nil {
			return core.ErrEvaluation("critic returned no critique")
		}
		out = c
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		e.logger.Warn("critique failed, retrying", "attempt", attempt, "delay", delay.String(), "error", err)
	})
	return out, err
}

// review asks the human channel for a verdict. Review failures never
// block the loop.
func (e *Evaluator) review(ctx context.Context, in EvaluationInput, eval *core.Evaluation) {
	outcome, err := e.reviewer.Review(ctx, core.ReviewRequest{
		RunID:             in.RunID,
		EvaluationSummary: summarizeEvaluation(in.Query, *eval),
	})
	if err != nil {
		e.logger.Warn("human review unavailable", "run_id", in.RunID, "error", err)
		return
	}
	if outcome == nil {
		return
	}
	r := *outcome
	r.Score = max(0, min(10, r.Score))
	eval.Review = &r
	eval.OverallScore = clampScore(reviewScoreWeight*float64(eval.OverallScore) + reviewHumanWeight*float64(r.Score*10))
	if !r.Approved {
		query := strings.TrimSpace(r.Feedback)
		if query == "" {
			query = in.Query
		}
		eval.Gaps = append(eval.Gaps, core.Gap{
			Description:    "Reviewer requested more evidence: " + orString(r.Feedback, "no feedback given"),
			Importance:     core.BlockingGapImportance,
			SuggestedQuery: query,
		})
	}
}

// Verdict is the outcome of Decide.
type Verdict struct {
	Decision core.Decision
	Forced   bool
	Reason   string
}

// Decide applies the quality gate. It synthesizes iff score reaches the
// threshold with no blocking gap; otherwise it refocuses when the last
// two score deltas both fall below the minimum improvement, continues
// while iterations remain, and finally forces synthesis on an exhausted
// budget. previous holds the scores of earlier iterations, oldest first.
func Decide(score int, gaps []core.Gap, iteration int, previous []int, opts EvaluatorOptions) Verdict {
	if score >= opts.QualityThreshold && !core.HasBlockingGap(gaps) {
		return Verdict{Decision: core.DecisionSynthesize}
	}
	if stalled(append(append([]int(nil), previous...), score), opts.MinImprovement) {
		return Verdict{Decision: core.DecisionRefocus}
	}
	if iteration < opts.MaxIterations {
		return Verdict{Decision: core.DecisionContinue}
	}
	return Verdict{Decision: core.DecisionSynthesize, Forced: true, Reason: core.ForcedBudgetExhausted}
}

func stalled(scores []int, minImprovement int) bool {
	n := len(scores)
	if n < 3 {
		return false
	}
	return scores[n-1]-scores[n-2] < minImprovement && scores[n-2]-scores[n-3] < minImprovement
}

// Assessment is the cheap progress estimate taken after each research phase.
type Assessment struct {
	EstimatedScore int  `json:"estimated_score"`
	Findings       int  `json:"findings"`
	Sources        int  `json:"sources"`
	Academic       int  `json:"academic_sources"`
	NeedsMore      bool `json:"needs_more"`
	NeedsAcademic  bool `json:"needs_academic"`
}

// QuickAssess estimates evidence quality from counts alone.
func QuickAssess(findings []core.Finding, minAcademicRatio float64) Assessment {
	sources := make(map[string]bool)
	academic := make(map[string]bool)
	for _, f := range findings {
		url := core.NormalizeURL(f.SourceURL)
		sources[url] = true
		if f.SearchMode == core.ModeAcademic {
			academic[url] = true
		}
	}
	n := len(findings)
	a := Assessment{
		EstimatedScore: min(40+3*n+2*len(sources)+5*len(academic), 95),
		Findings:       n,
		Sources:        len(sources),
		Academic:       len(academic),
		NeedsMore:      n < 10 || len(sources) < 5,
	}
	if len(sources) > 0 {
		a.NeedsAcademic = float64(len(academic))/float64(len(sources)) < minAcademicRatio
	} else {
		a.NeedsAcademic = true
	}
	return a
}

// balanceScore peaks when neither mode falls under minRatio of the evidence.
func balanceScore(ratio, minRatio float64) float64 {
	if minRatio <= 0 {
		return 100
	}
	return 100 * math.Min(1, ratio/minRatio) * math.Min(1, (1-ratio)/minRatio)
}

func suggestedQuery(st core.Subtask) string {
	for _, q := range st.AlternativeQueries {
		if q = strings.TrimSpace(q); q != "" && !strings.EqualFold(q, st.Query) {
			return q
		}
	}
	return st.Query + " evidence"
}

// mergeGaps appends critic gaps that do not repeat a heuristic gap.
func mergeGaps(heuristic, critic []core.Gap) []core.Gap {
	out := append([]core.Gap(nil), heuristic...)
	seen := make(map[string]bool)
	for _, g := range heuristic {
		seen[gapKey(g)] = true
	}
	for _, g := range critic {
		if strings.TrimSpace(g.Description) == "" || seen[gapKey(g)] {
			continue
		}
		seen[gapKey(g)] = true
		out = append(out, g)
	}
	return out
}

func gapKey(g core.Gap) string {
	if q := strings.TrimSpace(g.SuggestedQuery); q != "" {
		return strings.ToLower(q)
	}
	return strings.ToLower(strings.TrimSpace(g.Description))
}

// sortGaps orders gaps by importance, then by subtask id.
func sortGaps(gaps []core.Gap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Importance != gaps[j].Importance {
			return gaps[i].Importance > gaps[j].Importance
		}
		return gaps[i].SubtaskID < gaps[j].SubtaskID
	})
}

func summarizeEvaluation(query string, e core.Evaluation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\nIteration %d score %d/100 (coverage %d, source quality %d, evidence %d, balance %d) over %d findings.\n",
		query, e.Iteration, e.OverallScore,
		e.Scores.Coverage, e.Scores.SourceQuality, e.Scores.EvidenceStrength, e.Scores.Balance,
		e.FindingCount)
	for _, g := range e.Gaps {
		fmt.Fprintf(&b, "- [%d] %s\n", g.Importance, g.Description)
	}
	return b.String()
}

func clampScore(v float64) int {
	return int(math.Max(0, math.Min(100, math.Round(v))))
}

func evaluationError(err error) error {
	if core.IsCategory(err, core.ErrCatEvaluation) {
		return err
	}
	return core.ErrEvaluation(fmt.Sprintf("evaluation failed: %v", err)).WithCause(err)
}

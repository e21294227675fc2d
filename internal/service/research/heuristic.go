package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// perspective is one angle the heuristic generator takes on a query.
type perspective struct {
	phase    core.ResearchPhase
	mode     core.SearchMode
	priority int
	suffix   string
	focus    string
	variant  string
}

var perspectives = []perspective{
	{core.ResearchFoundation, core.ModeAcademic, core.PriorityHigh, "fundamentals",
		"Foundational concepts, definitions and established theory", "review"},
	{core.ResearchCurrent, core.ModeGeneral, core.PriorityHigh, "recent developments",
		"Current state of practice and recent developments", "news"},
	{core.ResearchCritical, core.ModeAcademic, core.PriorityMedium, "limitations and risks",
		"Limitations, risks and critical perspectives", "challenges"},
	{core.ResearchCurrent, core.ModeAcademic, core.PriorityMedium, "empirical results",
		"Quantitative evidence and measured outcomes", "experimental data"},
	{core.ResearchFuture, core.ModeGeneral, core.PriorityLow, "future outlook",
		"Future directions, trends and open problems", "roadmap"},
	{core.ResearchCurrent, core.ModeGeneral, core.PriorityLow, "applications",
		"Real-world applications and case studies", "case study"},
	{core.ResearchFoundation, core.ModeAcademic, core.PriorityMedium, "history",
		"Historical background and how understanding evolved", "origins"},
	{core.ResearchFoundation, core.ModeAcademic, core.PriorityMedium, "methodology",
		"Research methods, measurement approaches and study design", "methods"},
	{core.ResearchCritical, core.ModeAcademic, core.PriorityMedium, "controversies",
		"Open debates, conflicting findings and disputed claims", "debate"},
	{core.ResearchCurrent, core.ModeAcademic, core.PriorityMedium, "comparative analysis",
		"Comparison with alternative approaches and competing options", "comparison"},
	{core.ResearchCurrent, core.ModeGeneral, core.PriorityLow, "regulation and policy",
		"Regulatory frameworks, standards and public policy", "standards"},
	{core.ResearchCurrent, core.ModeGeneral, core.PriorityLow, "economics",
		"Costs, market size and economic impact", "market"},
	{core.ResearchCritical, core.ModeGeneral, core.PriorityLow, "ethical and social impact",
		"Ethical concerns and effects on society", "ethics"},
	{core.ResearchCurrent, core.ModeGeneral, core.PriorityLow, "key organizations",
		"Leading organizations, researchers and industry players", "companies"},
	{core.ResearchCurrent, core.ModeAcademic, core.PriorityLow, "technical challenges",
		"Engineering obstacles and implementation barriers", "engineering"},
	{core.ResearchFuture, core.ModeAcademic, core.PriorityLow, "research gaps",
		"Unanswered questions and missing evidence in the literature", "open questions"},
}

// HeuristicGenerator proposes subtasks without a reasoning service: one
// subtask per research perspective for a new query, one follow-up per gap
// on refinement. It can always satisfy config.MaxMinSubtasks.
type HeuristicGenerator struct{}

// NewHeuristicGenerator creates a heuristic generator.
func NewHeuristicGenerator() *HeuristicGenerator {
	return &HeuristicGenerator{}
}

// GenerateSubtasks implements core.SubtaskGenerator.
func (h *HeuristicGenerator) GenerateSubtasks(ctx context.Context, req core.PlanRequest) (*core.PlanDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Gaps) > 0 {
		return h.followUps(req), nil
	}

	n := max(req.MinSubtasks, 4)
	if req.MaxSubtasks > 0 {
		n = min(n, req.MaxSubtasks)
	}
	n = min(n, len(perspectives))

	query := strings.TrimSpace(req.Query)
	draft := &core.PlanDraft{
		Summary:        fmt.Sprintf("Research %q from %d perspectives", query, n),
		EstimatedDepth: core.DepthMedium,
	}
	for _, p := range perspectives[:n] {
		draft.Subtasks = append(draft.Subtasks, core.SubtaskDraft{
			Query:              query + " " + p.suffix,
			Focus:              p.focus,
			Mode:               p.mode,
			Priority:           p.priority,
			Phase:              p.phase,
			AlternativeQueries: []string{query + " " + p.variant},
		})
		draft.KeyQuestions = append(draft.KeyQuestions, fmt.Sprintf("What does the evidence say about %s of %s?", p.suffix, query))
	}
	return draft, nil
}

func (h *HeuristicGenerator) followUps(req core.PlanRequest) *core.PlanDraft {
	modes := make(map[core.SubtaskID]core.SearchMode, len(req.History))
	for _, s := range req.History {
		modes[s.ID] = s.Mode
	}

	draft := &core.PlanDraft{EstimatedDepth: core.DepthMedium}
	for _, g := range req.Gaps {
		if req.MaxSubtasks > 0 && len(draft.Subtasks) >= req.MaxSubtasks {
			break
		}
		query := strings.TrimSpace(g.SuggestedQuery)
		if query == "" {
			query = strings.TrimSpace(req.Query + " " + g.Description)
		}
		mode, ok := modes[g.SubtaskID]
		if !ok {
			mode = core.ModeAcademic
		}
		draft.Subtasks = append(draft.Subtasks, core.SubtaskDraft{
			Query:    query,
			Focus:    fmt.Sprintf("Follow-up research (iteration %d): %s", req.Iteration, g.Description),
			Mode:     mode,
			Priority: gapPriority(g.Importance),
			Phase:    core.ResearchFollowUp,
		})
	}
	return draft
}

func gapPriority(importance int) int {
	switch {
	case importance >= core.BlockingGapImportance:
		return core.PriorityHigh
	case importance == 3:
		return core.PriorityMedium
	default:
		return core.PriorityLow
	}
}

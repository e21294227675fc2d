package llm

import (
	"context"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// GenerateSubtasks asks the model for an initial plan, or for follow-up
// subtasks when the request carries gaps.
func (c *Client) GenerateSubtasks(ctx context.Context, req core.PlanRequest) (*core.PlanDraft, error) {
	system, err := c.prompts.Render("planner-system", nil)
	if err != nil {
		return nil, err
	}
	name := "plan"
	if len(req.Gaps) > 0 {
		name = "refine"
	}
	user, err := c.prompts.Render(name, PlanParams{
		Query:       req.Query,
		Iteration:   req.Iteration,
		MinSubtasks: req.MinSubtasks,
		MaxSubtasks: req.MaxSubtasks,
		Gaps:        req.Gaps,
		History:     req.History,
	})
	if err != nil {
		return nil, err
	}

	reply, err := c.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var draft core.PlanDraft
	if err := decodeReply(reply, &draft); err != nil {
		return nil, err
	}
	for i := range draft.Subtasks {
		s := &draft.Subtasks[i]
		s.Mode = core.SearchMode(strings.ToLower(strings.TrimSpace(string(s.Mode))))
		if !s.Mode.Valid() {
			s.Mode = core.ModeGeneral
		}
		if s.Priority < core.PriorityHigh || s.Priority > core.PriorityLow {
			s.Priority = core.PriorityMedium
		}
	}
	return &draft, nil
}

// Critique asks the model to score the evidence.
func (c *Client) Critique(ctx context.Context, req core.CritiqueRequest) (*core.Critique, error) {
	system, err := c.prompts.Render("critic-system", nil)
	if err != nil {
		return nil, err
	}
	user, err := c.prompts.Render("critique", CritiqueParams(req))
	if err != nil {
		return nil, err
	}
	reply, err := c.Complete(ctx, system, user)
	if err != nil {
		return nil, err
	}
	var out core.Critique
	if err := decodeReply(reply, &out); err != nil {
		return nil, err
	}
	out.Score = max(0, min(100, out.Score))
	for i := range out.Gaps {
		out.Gaps[i].Importance = max(1, min(5, out.Gaps[i].Importance))
	}
	return &out, nil
}

type extractReply struct {
	Excerpts []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"excerpts"`
}

// Extract asks the model for the relevant passages of fetched content.
func (c *Client) Extract(ctx context.Context, req core.ExtractRequest) ([]core.Excerpt, error) {
	user, err := c.prompts.Render("extract", ExtractParams{Subtask: req.Subtask, Lead: req.Lead, Content: req.Content})
	if err != nil {
		return nil, err
	}
	reply, err := c.Complete(ctx, "You extract evidence from web sources. Answer with JSON only.", user)
	if err != nil {
		return nil, err
	}
	var out extractReply
	if err := decodeReply(reply, &out); err != nil {
		return nil, err
	}
	excerpts := make([]core.Excerpt, 0, len(out.Excerpts))
	for _, e := range out.Excerpts {
		if strings.TrimSpace(e.Content) == "" {
			continue
		}
		excerpts = append(excerpts, core.Excerpt{Title: strings.TrimSpace(e.Title), Content: strings.TrimSpace(e.Content)})
	}
	return excerpts, nil
}

// WriteReport asks the model for the narrative report.
func (c *Client) WriteReport(ctx context.Context, req core.ReportRequest) (string, error) {
	system, err := c.prompts.Render("report-system", nil)
	if err != nil {
		return "", err
	}
	user, err := c.prompts.Render("report", ReportParams{
		Query:    req.Query,
		Summary:  req.Summary,
		Sections: req.Sections,
		General:  req.General,
		Sources:  req.Sources,
		Caveats:  req.Caveats,
	})
	if err != nil {
		return "", err
	}
	reply, err := c.Complete(ctx, system, user)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

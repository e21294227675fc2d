package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Depth is the planner's estimate of how much research the query needs.
type Depth string

const (
	DepthShallow    Depth = "shallow"
	DepthMedium     Depth = "medium"
	DepthDeep       Depth = "deep"
	DepthExhaustive Depth = "exhaustive"
)

// Valid reports whether the depth is known.
func (d Depth) Valid() bool {
	switch d {
	case DepthShallow, DepthMedium, DepthDeep, DepthExhaustive:
		return true
	default:
		return false
	}
}

// Plan is one version of the research plan. A refinement never edits a
// plan in place; it produces a new version whose History carries the
// subtasks executed by earlier versions.
type Plan struct {
	Version         int       `json:"version"`
	Query           string    `json:"original_query"`
	Summary         string    `json:"summary,omitempty"`
	Subtasks        []Subtask `json:"subtasks"`
	History         []Subtask `json:"history,omitempty"`
	Iteration       int       `json:"iteration_index"`
	EstimatedDepth  Depth     `json:"estimated_depth"`
	KeyQuestions    []string  `json:"key_questions,omitempty"`
	PriorFindingIDs []string  `json:"prior_finding_ids,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the plan structure.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Query) == "" {
		return ErrValidation(CodeEmptyQuery, "plan has empty query")
	}
	seen := make(map[SubtaskID]bool)
	for _, s := range p.All() {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return ErrValidation(CodeInvalidSubtask, fmt.Sprintf("duplicate subtask id %s", s.ID))
		}
		seen[s.ID] = true
	}
	for i := 1; i < len(p.Subtasks); i++ {
		if p.Subtasks[i].Priority < p.Subtasks[i-1].Priority {
			return ErrValidation(CodeInvalidSubtask, "subtasks are not ordered by priority")
		}
	}
	return nil
}

// All returns history followed by the subtasks of this version.
func (p *Plan) All() []Subtask {
	out := make([]Subtask, 0, len(p.History)+len(p.Subtasks))
	out = append(out, p.History...)
	return append(out, p.Subtasks...)
}

// Executed returns every subtask that reached done or failed.
func (p *Plan) Executed() []Subtask {
	var out []Subtask
	for _, s := range p.All() {
		if s.IsExecuted() {
			out = append(out, s)
		}
	}
	return out
}

// Pending returns the subtasks of this version that still need to run,
// in priority order. Subtasks left running by an interrupted run count
// as pending.
func (p *Plan) Pending() []Subtask {
	var out []Subtask
	for _, s := range p.Subtasks {
		if s.Status == SubtaskPending || s.Status == SubtaskRunning {
			s.Status = SubtaskPending
			out = append(out, s)
		}
	}
	return out
}

// Subtask returns a pointer to the subtask of this version with the given id.
func (p *Plan) Subtask(id SubtaskID) *Subtask {
	for i := range p.Subtasks {
		if p.Subtasks[i].ID == id {
			return &p.Subtasks[i]
		}
	}
	return nil
}

// NextID returns the next unused subtask id.
func (p *Plan) NextID() SubtaskID {
	var max SubtaskID
	for _, s := range p.All() {
		if s.ID > max {
			max = s.ID
		}
	}
	return max + 1
}

// Supersede builds the next plan version. Executed and pending subtasks
// of the current version move into History.
func (p *Plan) Supersede(subtasks []Subtask, iteration int, priorFindingIDs []string) *Plan {
	next := &Plan{
		Version:         p.Version + 1,
		Query:           p.Query,
		Summary:         p.Summary,
		History:         p.All(),
		Iteration:       iteration,
		EstimatedDepth:  p.EstimatedDepth,
		KeyQuestions:    append([]string(nil), p.KeyQuestions...),
		PriorFindingIDs: append([]string(nil), priorFindingIDs...),
		CreatedAt:       time.Now().UTC(),
	}
	next.Subtasks = append([]Subtask(nil), subtasks...)
	SortByPriority(next.Subtasks)
	return next
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Subtasks = cloneSubtasks(p.Subtasks)
	cp.History = cloneSubtasks(p.History)
	cp.KeyQuestions = append([]string(nil), p.KeyQuestions...)
	cp.PriorFindingIDs = append([]string(nil), p.PriorFindingIDs...)
	return &cp
}

// SortByPriority orders subtasks by priority, keeping the planner's order
// among equal priorities.
func SortByPriority(subtasks []Subtask) {
	sort.SliceStable(subtasks, func(i, j int) bool {
		return subtasks[i].Priority < subtasks[j].Priority
	})
}

func cloneSubtasks(in []Subtask) []Subtask {
	if in == nil {
		return nil
	}
	out := make([]Subtask, len(in))
	for i, s := range in {
		s.AlternativeQueries = append([]string(nil), s.AlternativeQueries...)
		out[i] = s
	}
	return out
}

package core

import (
	"strings"
	"time"
)

// Decision is the Evaluator's verdict for an iteration.
type Decision string

const (
	DecisionSynthesize Decision = "synthesize"
	DecisionContinue   Decision = "continue"
	DecisionRefocus    Decision = "refocus"
)

// Reasons a synthesize decision was forced rather than earned.
const (
	ForcedBudgetExhausted = "budget_exhausted"
	ForcedDeadline        = "deadline_exceeded"
	ForcedNoNewSubtasks   = "no_new_subtasks"
)

// Stop reasons recorded on the run when the loop leaves for synthesis.
const (
	StopQualityGate      = "quality_gate"
	StopRefocus          = "refocus"
	StopEvaluationFailed = "evaluation_failed"
	StopRefineFailed     = "refine_failed"
)

// BlockingGapImportance is the importance at which a gap blocks synthesis.
const BlockingGapImportance = 4

// Gap describes a deficiency in evidence coverage.
type Gap struct {
	Description    string    `json:"description"`
	Importance     int       `json:"importance"`
	SuggestedQuery string    `json:"suggested_query"`
	SubtaskID      SubtaskID `json:"subtask_id,omitempty"`
}

// SubScores holds the component scores of an evaluation, each 0-100.
type SubScores struct {
	Coverage         int `json:"coverage"`
	SourceQuality    int `json:"source_quality"`
	EvidenceStrength int `json:"evidence_strength"`
	Balance          int `json:"balance"`
}

// ReviewOutcome is the human reviewer's answer for an iteration.
type ReviewOutcome struct {
	Approved bool   `json:"approved"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback,omitempty"`
}

// Evaluation is the immutable per-iteration verdict on accumulated evidence.
type Evaluation struct {
	Iteration    int            `json:"iteration"`
	OverallScore int            `json:"overall_score"`
	Scores       SubScores      `json:"sub_scores"`
	Gaps         []Gap          `json:"gaps"`
	Decision     Decision       `json:"decision"`
	Forced       bool           `json:"forced,omitempty"`
	ForcedReason string         `json:"forced_reason,omitempty"`
	Strengths    []string       `json:"strengths,omitempty"`
	Weaknesses   []string       `json:"weaknesses,omitempty"`
	Review       *ReviewOutcome `json:"review,omitempty"`
	FindingCount int            `json:"finding_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

// HasBlockingGap reports whether any gap is important enough to block synthesis.
func (e *Evaluation) HasBlockingGap() bool {
	return HasBlockingGap(e.Gaps)
}

// HasBlockingGap reports whether any gap has importance at or above the blocking level.
func HasBlockingGap(gaps []Gap) bool {
	for _, g := range gaps {
		if g.Importance >= BlockingGapImportance {
			return true
		}
	}
	return false
}

// FollowUpQueries returns the distinct suggested queries in gap order.
func (e *Evaluation) FollowUpQueries() []string {
	seen := make(map[string]bool)
	var out []string
	for _, g := range e.Gaps {
		q := strings.TrimSpace(g.SuggestedQuery)
		if q == "" || seen[strings.ToLower(q)] {
			continue
		}
		seen[strings.ToLower(q)] = true
		out = append(out, q)
	}
	return out
}

// Clone returns a deep copy.
func (e Evaluation) Clone() Evaluation {
	e.Gaps = append([]Gap(nil), e.Gaps...)
	e.Strengths = append([]string(nil), e.Strengths...)
	e.Weaknesses = append([]string(nil), e.Weaknesses...)
	if e.Review != nil {
		r := *e.Review
		e.Review = &r
	}
	return e
}

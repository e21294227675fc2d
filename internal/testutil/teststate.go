package testutil

import (
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// NewTestRunState creates a RunState in RESEARCHING with a two-subtask
// plan. Use functional options to override specific fields.
func NewTestRunState(opts ...func(*core.RunState)) *core.RunState {
	now := time.Now().UTC()
	s := core.NewRunState("run-test", "solid-state battery safety")
	s.Phase = core.PhaseResearching
	s.Iteration = 1
	s.RecordPlan(&core.Plan{
		Version:        1,
		Query:          s.Query,
		Iteration:      1,
		EstimatedDepth: core.DepthMedium,
		CreatedAt:      now,
		Subtasks: []core.Subtask{
			NewTestSubtask(1, core.ModeAcademic, core.PriorityHigh),
			NewTestSubtask(2, core.ModeGeneral, core.PriorityMedium),
		},
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewTestSubtask creates a pending subtask that passes validation.
func NewTestSubtask(id core.SubtaskID, mode core.SearchMode, priority int) core.Subtask {
	return core.Subtask{
		ID:        id,
		Query:     "solid-state battery safety " + id.String(),
		Focus:     "evidence for " + id.String(),
		Mode:      mode,
		Priority:  priority,
		Status:    core.SubtaskPending,
		Iteration: 1,
	}
}

// NewTestFinding creates a finding that passes validation.
func NewTestFinding(url string, subtask core.SubtaskID, depth core.ContentDepth) core.Finding {
	verified := depth != core.DepthSnippet
	status := core.VerificationVerified
	if !verified {
		status = core.VerificationPartial
	}
	return core.Finding{
		Content:            "Sulfide electrolytes cut thermal runaway onset by 35% in pouch cells.",
		SourceURL:          url,
		SourceTitle:        "Test source",
		SubtaskID:          subtask,
		WorkerID:           "W01",
		Verified:           verified,
		VerificationStatus: status,
		ContentDepth:       depth,
		QualityScore:       3,
		SearchMode:         core.ModeAcademic,
	}
}

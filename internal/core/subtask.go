package core

import (
	"fmt"
	"strings"
)

// SubtaskID identifies a subtask within a run. Ids are assigned
// sequentially across plan versions and never reused.
type SubtaskID int

func (id SubtaskID) String() string {
	return fmt.Sprintf("S%02d", int(id))
}

// SubtaskStatus represents the execution state of a subtask.
type SubtaskStatus string

const (
	SubtaskPending SubtaskStatus = "pending"
	SubtaskRunning SubtaskStatus = "running"
	SubtaskDone    SubtaskStatus = "done"
	SubtaskFailed  SubtaskStatus = "failed"
)

// SearchMode selects the source population a subtask searches.
type SearchMode string

const (
	ModeAcademic SearchMode = "academic"
	ModeGeneral  SearchMode = "general"
)

// Valid reports whether the mode is known.
func (m SearchMode) Valid() bool {
	return m == ModeAcademic || m == ModeGeneral
}

// ParseSearchMode converts a string into a SearchMode.
func ParseSearchMode(s string) (SearchMode, error) {
	m := SearchMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", ErrValidation(CodeInvalidSubtask, fmt.Sprintf("invalid search mode %q", s))
	}
	return m, nil
}

// ResearchPhase groups subtasks by the angle they take on the query.
type ResearchPhase string

const (
	ResearchFoundation ResearchPhase = "foundation"
	ResearchCurrent    ResearchPhase = "current"
	ResearchCritical   ResearchPhase = "critical"
	ResearchFuture     ResearchPhase = "future"
	ResearchFollowUp   ResearchPhase = "follow_up"
)

// Subtask priorities. Lower value runs first.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// DefaultMinFindings is the per-subtask evidence target when none is set.
const DefaultMinFindings = 3

// Subtask is one focused research question derived from the query.
type Subtask struct {
	ID                 SubtaskID     `json:"id"`
	Query              string        `json:"query_text"`
	Focus              string        `json:"focus_description"`
	Mode               SearchMode    `json:"search_mode"`
	Priority           int           `json:"priority"`
	Status             SubtaskStatus `json:"status"`
	Phase              ResearchPhase `json:"phase,omitempty"`
	AlternativeQueries []string      `json:"alternative_queries,omitempty"`
	MinFindings        int           `json:"min_findings,omitempty"`
	Iteration          int           `json:"iteration"`
	Attempts           int           `json:"attempts,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// Validate checks that the subtask can be dispatched.
func (s Subtask) Validate() error {
	if s.ID <= 0 {
		return ErrValidation(CodeInvalidSubtask, "subtask id must be positive")
	}
	if strings.TrimSpace(s.Query) == "" {
		return ErrValidation(CodeInvalidSubtask, fmt.Sprintf("subtask %s has empty query", s.ID))
	}
	if strings.TrimSpace(s.Focus) == "" {
		return ErrValidation(CodeInvalidSubtask, fmt.Sprintf("subtask %s has empty focus", s.ID))
	}
	if !s.Mode.Valid() {
		return ErrValidation(CodeInvalidSubtask, fmt.Sprintf("subtask %s has invalid search mode %q", s.ID, s.Mode))
	}
	if s.Priority < PriorityHigh || s.Priority > PriorityLow {
		return ErrValidation(CodeInvalidSubtask, fmt.Sprintf("subtask %s priority %d out of range", s.ID, s.Priority))
	}
	return nil
}

// Queries returns the primary query followed by its variants, without duplicates.
func (s Subtask) Queries() []string {
	seen := map[string]bool{}
	out := make([]string, 0, 1+len(s.AlternativeQueries))
	for _, q := range append([]string{s.Query}, s.AlternativeQueries...) {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

// RequiredFindings returns the evidence target for the subtask.
func (s Subtask) RequiredFindings() int {
	if s.MinFindings > 0 {
		return s.MinFindings
	}
	return DefaultMinFindings
}

// IsExecuted reports whether the subtask reached a terminal status.
func (s Subtask) IsExecuted() bool {
	return s.Status == SubtaskDone || s.Status == SubtaskFailed
}

// MarkRunning transitions the subtask to running.
func (s *Subtask) MarkRunning() error {
	if s.Status != SubtaskPending {
		return fmt.Errorf("cannot start subtask in %s state", s.Status)
	}
	s.Status = SubtaskRunning
	return nil
}

// MarkDone transitions the subtask to done.
func (s *Subtask) MarkDone(attempts int) error {
	if s.Status != SubtaskRunning {
		return fmt.Errorf("cannot complete subtask in %s state", s.Status)
	}
	s.Status = SubtaskDone
	s.Attempts = attempts
	s.Error = ""
	return nil
}

// MarkFailed transitions the subtask to failed.
func (s *Subtask) MarkFailed(attempts int, err error) error {
	if s.Status != SubtaskRunning {
		return fmt.Errorf("cannot fail subtask in %s state", s.Status)
	}
	s.Status = SubtaskFailed
	s.Attempts = attempts
	if err != nil {
		s.Error = err.Error()
	}
	return nil
}

package core

import (
	"fmt"
	"strings"
	"time"
)

// Failure records a subtask that did not produce evidence.
type Failure struct {
	SubtaskID SubtaskID `json:"subtask_id"`
	Iteration int       `json:"iteration"`
	Class     string    `json:"class"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Attempts  int       `json:"attempts"`
}

// PlanVersion is the audit entry kept for every plan a run has issued.
type PlanVersion struct {
	Version         int         `json:"version"`
	Iteration       int         `json:"iteration"`
	SubtaskIDs      []SubtaskID `json:"subtask_ids"`
	PriorFindingIDs []string    `json:"prior_finding_ids,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// RunState is the orchestration state of one research run. It is owned by
// the control loop and copied when snapshotted.
type RunState struct {
	RunID        string        `json:"run_id"`
	Query        string        `json:"query"`
	Phase        Phase         `json:"phase"`
	Iteration    int           `json:"iteration"`
	Plan         *Plan         `json:"plan,omitempty"`
	PlanVersions []PlanVersion `json:"plan_versions,omitempty"`
	FindingIDs   []string      `json:"finding_ids"`
	Evaluations  []Evaluation  `json:"evaluations"`
	Failures     []Failure     `json:"failures,omitempty"`
	Caveats      []string      `json:"caveats,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Degraded     bool          `json:"degraded,omitempty"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewRunState creates the initial state for a query.
func NewRunState(runID, query string) *RunState {
	now := time.Now().UTC()
	return &RunState{
		RunID:     runID,
		Query:     query,
		Phase:     PhasePlanning,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// ValidateQuery checks a research query before a run starts.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return ErrValidation(CodeEmptyQuery, "query must not be empty")
	}
	if len(q) > MaxQueryLength {
		return ErrValidation(CodeQueryTooLong, fmt.Sprintf("query exceeds %d characters", MaxQueryLength))
	}
	return nil
}

// Transition moves the state machine to the next phase.
func (s *RunState) Transition(to Phase) error {
	if !CanTransition(s.Phase, to) {
		return ErrState(CodeInvalidState, fmt.Sprintf("invalid transition %s -> %s", s.Phase, to))
	}
	s.Phase = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// LatestEvaluation returns the most recent evaluation, or nil.
func (s *RunState) LatestEvaluation() *Evaluation {
	if len(s.Evaluations) == 0 {
		return nil
	}
	return &s.Evaluations[len(s.Evaluations)-1]
}

// SubtaskHistory returns every subtask the run has planned.
func (s *RunState) SubtaskHistory() []Subtask {
	if s.Plan == nil {
		return nil
	}
	return s.Plan.All()
}

// AddCaveat records a reduced-confidence note once.
func (s *RunState) AddCaveat(caveat string) {
	for _, c := range s.Caveats {
		if c == caveat {
			return
		}
	}
	s.Caveats = append(s.Caveats, caveat)
}

// RecordPlan installs a new live plan and appends its audit entry.
func (s *RunState) RecordPlan(p *Plan) {
	ids := make([]SubtaskID, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		ids = append(ids, st.ID)
	}
	s.Plan = p
	s.PlanVersions = append(s.PlanVersions, PlanVersion{
		Version:         p.Version,
		Iteration:       p.Iteration,
		SubtaskIDs:      ids,
		PriorFindingIDs: append([]string(nil), p.PriorFindingIDs...),
		CreatedAt:       p.CreatedAt,
	})
}

// Clone returns a deep copy of the state.
func (s *RunState) Clone() *RunState {
	cp := *s
	cp.Plan = s.Plan.Clone()
	cp.PlanVersions = make([]PlanVersion, len(s.PlanVersions))
	for i, v := range s.PlanVersions {
		v.SubtaskIDs = append([]SubtaskID(nil), v.SubtaskIDs...)
		v.PriorFindingIDs = append([]string(nil), v.PriorFindingIDs...)
		cp.PlanVersions[i] = v
	}
	cp.FindingIDs = append([]string(nil), s.FindingIDs...)
	cp.Evaluations = make([]Evaluation, len(s.Evaluations))
	for i, e := range s.Evaluations {
		cp.Evaluations[i] = e.Clone()
	}
	cp.Failures = append([]Failure(nil), s.Failures...)
	cp.Caveats = append([]string(nil), s.Caveats...)
	return &cp
}

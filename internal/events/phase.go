package events

import "time"

// Event type constants for run lifecycle events.
const (
	TypeRunStarted       = "run_started"
	TypePhaseChanged     = "phase_changed"
	TypePlanIssued       = "plan_issued"
	TypeCheckpointFailed = "checkpoint_failed"
	TypeRunCompleted     = "run_completed"
)

// RunStartedEvent is emitted when a run begins or resumes.
type RunStartedEvent struct {
	BaseEvent
	Query   string `json:"query"`
	Resumed bool   `json:"resumed"`
}

// NewRunStartedEvent creates a new run started event.
func NewRunStartedEvent(runID, query string, resumed bool) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent: NewBaseEvent(TypeRunStarted, runID),
		Query:     query,
		Resumed:   resumed,
	}
}

// PhaseChangedEvent is emitted on every phase transition.
type PhaseChangedEvent struct {
	BaseEvent
	From      string `json:"from"`
	To        string `json:"to"`
	Iteration int    `json:"iteration"`
}

// NewPhaseChangedEvent creates a new phase changed event.
func NewPhaseChangedEvent(runID, from, to string, iteration int) PhaseChangedEvent {
	return PhaseChangedEvent{
		BaseEvent: NewBaseEvent(TypePhaseChanged, runID),
		From:      from,
		To:        to,
		Iteration: iteration,
	}
}

// PlanIssuedEvent is emitted when the planner produces a plan version.
type PlanIssuedEvent struct {
	BaseEvent
	Version   int  `json:"version"`
	Iteration int  `json:"iteration"`
	Subtasks  int  `json:"subtasks"`
	Fallback  bool `json:"fallback"`
}

// NewPlanIssuedEvent creates a new plan issued event.
func NewPlanIssuedEvent(runID string, version, iteration, subtasks int, fallback bool) PlanIssuedEvent {
	return PlanIssuedEvent{
		BaseEvent: NewBaseEvent(TypePlanIssued, runID),
		Version:   version,
		Iteration: iteration,
		Subtasks:  subtasks,
		Fallback:  fallback,
	}
}

// CheckpointFailedEvent is emitted when a snapshot could not be written.
type CheckpointFailedEvent struct {
	BaseEvent
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// NewCheckpointFailedEvent creates a new checkpoint failed event.
func NewCheckpointFailedEvent(runID, phase string, err error) CheckpointFailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return CheckpointFailedEvent{
		BaseEvent: NewBaseEvent(TypeCheckpointFailed, runID),
		Phase:     phase,
		Error:     msg,
	}
}

// RunCompletedEvent is emitted once a run reaches DONE or FAILED.
type RunCompletedEvent struct {
	BaseEvent
	Success  bool          `json:"success"`
	Phase    string        `json:"phase"`
	Score    int           `json:"score"`
	Findings int           `json:"findings"`
	Forced   bool          `json:"forced"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewRunCompletedEvent creates a new run completed event.
func NewRunCompletedEvent(runID, phase string, success bool, score, findings int, forced bool, duration time.Duration, errMsg string) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent: NewBaseEvent(TypeRunCompleted, runID),
		Success:   success,
		Phase:     phase,
		Score:     score,
		Findings:  findings,
		Forced:    forced,
		Duration:  duration,
		Error:     errMsg,
	}
}

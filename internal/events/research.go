package events

import "time"

// Event type constants for subtask and evaluation events.
const (
	TypeSubtaskStarted      = "subtask_started"
	TypeSubtaskCompleted    = "subtask_completed"
	TypeSubtaskFailed       = "subtask_failed"
	TypeEvaluationCompleted = "evaluation_completed"
	TypeQuickAssessment     = "quick_assessment"
)

// SubtaskStartedEvent is emitted when a worker picks up a subtask.
type SubtaskStartedEvent struct {
	BaseEvent
	SubtaskID string `json:"subtask_id"`
	WorkerID  string `json:"worker_id"`
	Query     string `json:"query"`
	Mode      string `json:"mode"`
}

// NewSubtaskStartedEvent creates a new subtask started event.
func NewSubtaskStartedEvent(runID, subtaskID, workerID, query, mode string) SubtaskStartedEvent {
	return SubtaskStartedEvent{
		BaseEvent: NewBaseEvent(TypeSubtaskStarted, runID),
		SubtaskID: subtaskID,
		WorkerID:  workerID,
		Query:     query,
		Mode:      mode,
	}
}

// SubtaskCompletedEvent is emitted when a subtask stored findings.
type SubtaskCompletedEvent struct {
	BaseEvent
	SubtaskID string        `json:"subtask_id"`
	Findings  int           `json:"findings"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}

// NewSubtaskCompletedEvent creates a new subtask completed event.
func NewSubtaskCompletedEvent(runID, subtaskID string, findings, attempts int, duration time.Duration) SubtaskCompletedEvent {
	return SubtaskCompletedEvent{
		BaseEvent: NewBaseEvent(TypeSubtaskCompleted, runID),
		SubtaskID: subtaskID,
		Findings:  findings,
		Attempts:  attempts,
		Duration:  duration,
	}
}

// SubtaskFailedEvent is emitted when a subtask produced no evidence.
type SubtaskFailedEvent struct {
	BaseEvent
	SubtaskID string `json:"subtask_id"`
	Class     string `json:"class"`
	Error     string `json:"error"`
	Attempts  int    `json:"attempts"`
}

// NewSubtaskFailedEvent creates a new subtask failed event.
func NewSubtaskFailedEvent(runID, subtaskID, class, errMsg string, attempts int) SubtaskFailedEvent {
	return SubtaskFailedEvent{
		BaseEvent: NewBaseEvent(TypeSubtaskFailed, runID),
		SubtaskID: subtaskID,
		Class:     class,
		Error:     errMsg,
		Attempts:  attempts,
	}
}

// EvaluationCompletedEvent is emitted after every critic pass.
type EvaluationCompletedEvent struct {
	BaseEvent
	Iteration int    `json:"iteration"`
	Score     int    `json:"score"`
	Decision  string `json:"decision"`
	Gaps      int    `json:"gaps"`
	Forced    bool   `json:"forced"`
}

// NewEvaluationCompletedEvent creates a new evaluation completed event.
func NewEvaluationCompletedEvent(runID string, iteration, score int, decision string, gaps int, forced bool) EvaluationCompletedEvent {
	return EvaluationCompletedEvent{
		BaseEvent: NewBaseEvent(TypeEvaluationCompleted, runID),
		Iteration: iteration,
		Score:     score,
		Decision:  decision,
		Gaps:      gaps,
		Forced:    forced,
	}
}

// QuickAssessmentEvent carries the cheap score estimate taken after research.
type QuickAssessmentEvent struct {
	BaseEvent
	EstimatedScore int  `json:"estimated_score"`
	Findings       int  `json:"findings"`
	Sources        int  `json:"sources"`
	NeedsMore      bool `json:"needs_more"`
	NeedsAcademic  bool `json:"needs_academic"`
}

// NewQuickAssessmentEvent creates a new quick assessment event.
func NewQuickAssessmentEvent(runID string, score, findings, sources int, needsMore, needsAcademic bool) QuickAssessmentEvent {
	return QuickAssessmentEvent{
		BaseEvent:      NewBaseEvent(TypeQuickAssessment, runID),
		EstimatedScore: score,
		Findings:       findings,
		Sources:        sources,
		NeedsMore:      needsMore,
		NeedsAcademic:  needsAcademic,
	}
}

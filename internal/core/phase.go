package core

import "fmt"

// Phase represents a state of the research run state machine.
type Phase string

const (
	// PhasePlanning is the initial state where the query is decomposed
	// into subtasks.
	PhasePlanning Phase = "PLANNING"

	// PhaseResearching fans pending subtasks out to the worker pool.
	PhaseResearching Phase = "RESEARCHING"

	// PhaseEvaluating scores the accumulated evidence and decides whether
	// the loop continues.
	PhaseEvaluating Phase = "EVALUATING"

	// PhaseSynthesizing reads ranked evidence and produces the report.
	PhaseSynthesizing Phase = "SYNTHESIZING"

	// PhaseDone is the successful terminal state.
	PhaseDone Phase = "DONE"

	// PhaseFailed is the terminal state after an unrecoverable
	// planning or evaluation error.
	PhaseFailed Phase = "FAILED"
)

// AllPhases returns all phases in state machine order.
func AllPhases() []Phase {
	return []Phase{PhasePlanning, PhaseResearching, PhaseEvaluating, PhaseSynthesizing, PhaseDone, PhaseFailed}
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	switch p {
	case PhasePlanning, PhaseResearching, PhaseEvaluating, PhaseSynthesizing, PhaseDone, PhaseFailed:
		return true
	default:
		return false
	}
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Phase) bool {
	if to == PhaseFailed {
		return !from.IsTerminal()
	}
	switch from {
	case PhasePlanning:
		return to == PhaseResearching || to == PhaseSynthesizing
	case PhaseResearching:
		return to == PhaseEvaluating || to == PhaseSynthesizing
	case PhaseEvaluating:
		return to == PhaseResearching || to == PhaseSynthesizing
	case PhaseSynthesizing:
		return to == PhaseDone
	default:
		return false
	}
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhasePlanning:
		return "Decompose the query into research subtasks"
	case PhaseResearching:
		return "Gather evidence for pending subtasks"
	case PhaseEvaluating:
		return "Score evidence against the quality gate"
	case PhaseSynthesizing:
		return "Write the report from ranked evidence"
	case PhaseDone:
		return "Run completed"
	case PhaseFailed:
		return "Run failed"
	default:
		return "Unknown phase"
	}
}

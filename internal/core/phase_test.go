package core

import "testing"

func TestPhase_Validation(t *testing.T) {
	for _, phase := range AllPhases() {
		if !ValidPhase(phase) {
			t.Fatalf("expected phase %s to be valid", phase)
		}
	}
	if ValidPhase("invalid") {
		t.Fatalf("expected invalid phase to be rejected")
	}
}

func TestPhase_Parse(t *testing.T) {
	p, err := ParsePhase("EVALUATING")
	if err != nil {
		t.Fatalf("unexpected error parsing phase: %v", err)
	}
	if p != PhaseEvaluating {
		t.Fatalf("expected evaluating phase, got %s", p)
	}
	if _, err := ParsePhase("unknown"); err == nil {
		t.Fatalf("expected error parsing invalid phase")
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Phase{
		{PhasePlanning, PhaseResearching},
		{PhaseResearching, PhaseEvaluating},
		{PhaseResearching, PhaseSynthesizing},
		{PhaseEvaluating, PhaseResearching},
		{PhaseEvaluating, PhaseSynthesizing},
		{PhaseSynthesizing, PhaseDone},
		{PhasePlanning, PhaseFailed},
		{PhaseEvaluating, PhaseFailed},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be allowed", tr[0], tr[1])
		}
	}

	denied := [][2]Phase{
		{PhasePlanning, PhaseEvaluating},
		{PhaseSynthesizing, PhaseResearching},
		{PhaseDone, PhaseFailed},
		{PhaseFailed, PhasePlanning},
		{PhaseDone, PhasePlanning},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Fatalf("expected %s -> %s to be rejected", tr[0], tr[1])
		}
	}
}

func TestRunState_Transition(t *testing.T) {
	s := NewRunState("run-1", "query")
	if s.Phase != PhasePlanning {
		t.Fatalf("initial phase = %s", s.Phase)
	}
	if err := s.Transition(PhaseResearching); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Transition(PhaseDone); err == nil {
		t.Fatalf("expected RESEARCHING -> DONE to fail")
	}
	if !IsCategory(s.Transition(PhaseDone), ErrCatState) {
		t.Fatalf("expected state error")
	}
}

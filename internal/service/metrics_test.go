package service

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

func TestMetricsCollector_Subtasks(t *testing.T) {
	m := NewMetricsCollector("run-1")
	m.StartRun()

	m.StartSubtask(core.Subtask{ID: 1, Iteration: 1}, "W01")
	m.StartSubtask(core.Subtask{ID: 2, Iteration: 1}, "W02")
	m.EndSubtask(1, 4, 1, nil)
	m.EndSubtask(2, 0, 3, errors.New("search unavailable"))
	m.EndSubtask(99, 1, 1, nil)

	m.RecordEvaluation(core.Evaluation{Iteration: 1, OverallScore: 71, FindingCount: 4})
	m.RecordCheckpointError()
	m.EndRun()

	r := m.GetRunMetrics()
	if r.SubtasksTotal != 2 || r.SubtasksCompleted != 1 || r.SubtasksFailed != 1 {
		t.Errorf("subtask counts = %+v", r)
	}
	if r.RetriesTotal != 2 {
		t.Errorf("RetriesTotal = %d, want 2", r.RetriesTotal)
	}
	if r.FindingsTotal != 4 || r.LastScore != 71 || r.CheckpointErrors != 1 {
		t.Errorf("run metrics = %+v", r)
	}

	sm, ok := m.GetSubtaskMetrics(2)
	if !ok || sm.Success || sm.ErrorMsg == "" || sm.WorkerID != "W02" {
		t.Errorf("subtask 2 metrics = %+v", sm)
	}
	all := m.GetAllSubtaskMetrics()
	if len(all) != 2 || all[0].SubtaskID != 1 {
		t.Errorf("GetAllSubtaskMetrics() = %+v", all)
	}
}

func TestMetricsCollector_PhasesAndLog(t *testing.T) {
	m := NewMetricsCollector("run-2")
	m.RecordPhase(core.PhaseResearching, time.Second)
	m.RecordPhase(core.PhaseResearching, 2*time.Second)
	if got := m.PhaseDurations()[core.PhaseResearching]; got != 3*time.Second {
		t.Errorf("researching duration = %v", got)
	}

	var buf bytes.Buffer
	m.Log(logging.New(logging.Config{Format: "json", Output: &buf}))
	if !strings.Contains(buf.String(), `"run_id":"run-2"`) {
		t.Errorf("summary log = %s", buf.String())
	}
}

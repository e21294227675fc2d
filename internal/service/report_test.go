package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/testutil"
)

func reportFixture() MetricsSnapshot {
	m := NewMetricsCollector("run-42")
	m.StartRun()
	m.RecordPhase(core.PhaseResearching, 2*time.Second)
	m.RecordPhase(core.PhasePlanning, 300*time.Millisecond)
	m.StartSubtask(core.Subtask{ID: 1, Iteration: 1}, "W01")
	m.StartSubtask(core.Subtask{ID: 2, Iteration: 1}, "W02")
	m.EndSubtask(1, 4, 1, nil)
	m.EndSubtask(2, 0, 2, errors.New("search gateway returned 503 for every attempt of this subtask"))
	m.RecordEvaluation(core.Evaluation{Iteration: 1, OverallScore: 74, FindingCount: 4})
	m.EndRun()
	return m.Snapshot()
}

func TestReportGenerator_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReportGenerator(reportFixture()).GenerateTextReport(&buf); err != nil {
		t.Fatalf("GenerateTextReport() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"RUN METRICS", "run-42", "Subtasks Failed:   1", "Last Score:        74/100", "PHASES", "SUBTASKS", "S01", "S02", "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Checkpoint Errors") {
		t.Error("checkpoint errors should be omitted when zero")
	}
	if strings.Index(out, string(core.PhasePlanning)) > strings.Index(out, string(core.PhaseResearching)) {
		t.Error("phases should follow state machine order")
	}
}

func TestReportGenerator_EmptySnapshot(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReportGenerator(MetricsSnapshot{}).GenerateTextReport(&buf); err != nil {
		t.Fatalf("GenerateTextReport() error = %v", err)
	}
	if strings.Contains(buf.String(), "SUBTASKS") || strings.Contains(buf.String(), "PHASES") {
		t.Errorf("empty snapshot should have no tables:\n%s", buf.String())
	}
}

func TestReportGenerator_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewReportGenerator(reportFixture()).GenerateJSONReport(&buf); err != nil {
		t.Fatalf("GenerateJSONReport() error = %v", err)
	}
	var decoded struct {
		GeneratedAt time.Time         `json:"generated_at"`
		Run         RunMetrics        `json:"run"`
		Subtasks    []*SubtaskMetrics `json:"subtasks"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Run.RunID != "run-42" || len(decoded.Subtasks) != 2 || decoded.GeneratedAt.IsZero() {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestReportGenerator_Summary(t *testing.T) {
	got := NewReportGenerator(reportFixture()).GenerateSummary()
	if !strings.Contains(got, "Subtasks: 1/2") || !strings.Contains(got, "Score: 74") {
		t.Errorf("GenerateSummary() = %q", got)
	}
	if !strings.HasPrefix(testutil.ScrubDurations(got), "Duration: [DURATION] |") {
		t.Errorf("GenerateSummary() should lead with the duration: %q", got)
	}
}

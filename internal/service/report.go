package service

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// MetricsSnapshot is a point-in-time copy of a collector.
type MetricsSnapshot struct {
	Run      RunMetrics                   `json:"run"`
	Phases   map[core.Phase]time.Duration `json:"phases"`
	Subtasks []*SubtaskMetrics            `json:"subtasks"`
}

// Snapshot copies everything collected so far.
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Run:      m.GetRunMetrics(),
		Phases:   m.PhaseDurations(),
		Subtasks: m.GetAllSubtaskMetrics(),
	}
}

// ReportGenerator renders run metrics for operators.
type ReportGenerator struct {
	snap MetricsSnapshot
}

// NewReportGenerator creates a new report generator.
func NewReportGenerator(snap MetricsSnapshot) *ReportGenerator {
	return &ReportGenerator{snap: snap}
}

// GenerateTextReport generates a text report.
func (r *ReportGenerator) GenerateTextReport(w io.Writer) error {
	rm := r.snap.Run

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "RUN METRICS")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "")

	fmt.Fprintf(w, "  Run:               %s\n", rm.RunID)
	fmt.Fprintf(w, "  Duration:          %s\n", rm.TotalDuration.Round(time.Second))
	fmt.Fprintf(w, "  Iterations:        %d\n", rm.Iterations)
	fmt.Fprintf(w, "  Subtasks Total:    %d\n", rm.SubtasksTotal)
	fmt.Fprintf(w, "  Subtasks Done:     %d\n", rm.SubtasksCompleted)
	fmt.Fprintf(w, "  Subtasks Failed:   %d\n", rm.SubtasksFailed)
	fmt.Fprintf(w, "  Retries:           %d\n", rm.RetriesTotal)
	fmt.Fprintf(w, "  Findings:          %d\n", rm.FindingsTotal)
	fmt.Fprintf(w, "  Last Score:        %d/100\n", rm.LastScore)
	if rm.CheckpointErrors > 0 {
		fmt.Fprintf(w, "  Checkpoint Errors: %d\n", rm.CheckpointErrors)
	}
	fmt.Fprintln(w, "")

	if err := r.writePhaseTable(w); err != nil {
		return err
	}
	if err := r.writeSubtaskTable(w); err != nil {
		return err
	}

	fmt.Fprintln(w, strings.Repeat("=", 60))
	return nil
}

// writePhaseTable writes time spent per phase in state machine order.
func (r *ReportGenerator) writePhaseTable(w io.Writer) error {
	if len(r.snap.Phases) == 0 {
		return nil
	}

	fmt.Fprintln(w, "PHASES")
	fmt.Fprintln(w, strings.Repeat("-", 40))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  Phase\tTime")
	fmt.Fprintln(tw, "  -----\t----")
	for _, p := range core.AllPhases() {
		d, ok := r.snap.Phases[p]
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\n", p, d.Round(time.Millisecond))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "")
	return nil
}

// writeSubtaskTable writes the subtask metrics table.
func (r *ReportGenerator) writeSubtaskTable(w io.Writer) error {
	if len(r.snap.Subtasks) == 0 {
		return nil
	}

	fmt.Fprintln(w, "SUBTASKS")
	fmt.Fprintln(w, strings.Repeat("-", 40))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  Subtask\tIter\tWorker\tStatus\tFindings\tAttempts\tDuration\tError")
	fmt.Fprintln(tw, "  -------\t----\t------\t------\t--------\t--------\t--------\t-----")
	for _, sm := range r.snap.Subtasks {
		status := "✓"
		if !sm.Success {
			status = "✗"
		}
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			sm.SubtaskID,
			sm.Iteration,
			sm.WorkerID,
			status,
			sm.Findings,
			sm.Attempts,
			sm.Duration.Round(time.Millisecond),
			truncate(sm.ErrorMsg, 40),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w, "")
	return nil
}

// GenerateJSONReport generates a JSON report.
func (r *ReportGenerator) GenerateJSONReport(w io.Writer) error {
	report := Report{
		GeneratedAt:     time.Now(),
		MetricsSnapshot: r.snap,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// GenerateSummary generates a brief summary string.
func (r *ReportGenerator) GenerateSummary() string {
	rm := r.snap.Run

	return fmt.Sprintf(
		"Duration: %s | Subtasks: %d/%d | Iterations: %d | Score: %d",
		rm.TotalDuration.Round(time.Second),
		rm.SubtasksCompleted,
		rm.SubtasksTotal,
		rm.Iterations,
		rm.LastScore,
	)
}

// Report represents a generated report.
type Report struct {
	GeneratedAt time.Time `json:"generated_at"`
	MetricsSnapshot
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/events"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/research"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorInfo    = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorMuted   = lipgloss.Color("#9CA3AF") // Muted gray
)

// reportWrap is the word wrap width of rendered reports.
const reportWrap = 100

type outputStyles struct {
	phase     lipgloss.Style
	info      lipgloss.Style
	success   lipgloss.Style
	warning   lipgloss.Style
	errorText lipgloss.Style
	muted     lipgloss.Style
}

func newStyles(color bool) outputStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return outputStyles{plain, plain, plain, plain, plain, plain}
	}
	return outputStyles{
		phase:     lipgloss.NewStyle().Foreground(colorPrimary).Bold(true),
		info:      lipgloss.NewStyle().Foreground(colorInfo),
		success:   lipgloss.NewStyle().Foreground(colorSuccess),
		warning:   lipgloss.NewStyle().Foreground(colorWarning),
		errorText: lipgloss.NewStyle().Foreground(colorError).Bold(true),
		muted:     lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// formatEvent renders a bus event as one progress line. Events without a
// progress representation return false.
func formatEvent(st outputStyles, e events.Event) (string, bool) {
	switch ev := e.(type) {
	case events.RunStartedEvent:
		verb := "Starting"
		if ev.Resumed {
			verb = "Resuming"
		}
		return st.phase.Render(verb+" run "+ev.RunID()) + " " + st.muted.Render(ev.Query), true
	case events.PhaseChangedEvent:
		return st.phase.Render(fmt.Sprintf("▸ %s", ev.To)) + st.muted.Render(fmt.Sprintf(" (iteration %d)", ev.Iteration)), true
	case events.PlanIssuedEvent:
		line := fmt.Sprintf("  plan v%d: %d subtasks", ev.Version, ev.Subtasks)
		if ev.Fallback {
			line += " (heuristic)"
		}
		return st.info.Render(line), true
	case events.SubtaskStartedEvent:
		return st.muted.Render(fmt.Sprintf("  %s [%s] %s", ev.SubtaskID, ev.Mode, ev.Query)), true
	case events.SubtaskCompletedEvent:
		return st.success.Render(fmt.Sprintf("  ✓ %s: %d findings in %s", ev.SubtaskID, ev.Findings,
			ev.Duration.Round(time.Millisecond))), true
	case events.SubtaskFailedEvent:
		return st.warning.Render(fmt.Sprintf("  ✗ %s: %s (%s)", ev.SubtaskID, ev.Class, ev.Error)), true
	case events.QuickAssessmentEvent:
		return st.info.Render(fmt.Sprintf("  estimate %d/100 from %d findings over %d sources",
			ev.EstimatedScore, ev.Findings, ev.Sources)), true
	case events.EvaluationCompletedEvent:
		line := fmt.Sprintf("  score %d/100, %s", ev.Score, strings.ReplaceAll(ev.Decision, "_", " "))
		if ev.Gaps > 0 {
			line += fmt.Sprintf(", %d gaps", ev.Gaps)
		}
		if ev.Forced {
			return st.warning.Render(line + " (forced)"), true
		}
		return st.info.Render(line), true
	case events.CheckpointFailedEvent:
		return st.warning.Render(fmt.Sprintf("  checkpoint after %s failed: %s", ev.Phase, ev.Error)), true
	case events.RunCompletedEvent:
		if ev.Success {
			return st.success.Render(fmt.Sprintf("Done in %s", ev.Duration.Round(time.Second))), true
		}
		return st.errorText.Render(fmt.Sprintf("Finished in %s: %s", ev.Phase, ev.Error)), true
	}
	return "", false
}

// streamProgress prints progress lines for the events of ch until the
// channel is closed.
func streamProgress(w io.Writer, st outputStyles, ch <-chan events.Event) {
	for e := range ch {
		if line, ok := formatEvent(st, e); ok {
			fmt.Fprintln(w, line)
		}
	}
}

// renderReport renders Markdown for a terminal, returning the input
// unchanged when rendering fails.
func renderReport(markdown string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.DarkStyleConfig),
		glamour.WithWordWrap(reportWrap),
	)
	if err != nil {
		return markdown
	}
	out, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}

// printResult writes the report to stdout and the summary to stderr.
func printResult(stdout, stderr io.Writer, st outputStyles, res *research.Result, pretty bool) {
	if res.Report != "" {
		if pretty {
			fmt.Fprint(stdout, renderReport(res.Report))
		} else {
			fmt.Fprintln(stdout, res.Report)
		}
	}
	if quiet {
		return
	}
	style := st.success
	if !res.Success {
		style = st.warning
	}
	fmt.Fprintln(stderr, style.Render(res.Summary))
	for _, c := range res.Caveats {
		fmt.Fprintln(stderr, st.muted.Render("  caveat: "+c))
	}
}

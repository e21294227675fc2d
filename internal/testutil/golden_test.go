package testutil_test

import (
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/testutil"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"crlf", "# Report\r\n\r\nbody\r\n", "# Report\n\nbody"},
		{"trailing whitespace", "- [S01] finding   \n- [S02]\t\n", "- [S01] finding\n- [S02]"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.AssertEqual(t, testutil.Normalize(tt.input), tt.want)
		})
	}
}

func TestScrubTimestamps(t *testing.T) {
	got := testutil.ScrubTimestamps("generated 2026-03-01T09:15:00Z, resumed 2026-03-01 09:20:00")
	testutil.AssertEqual(t, got, "generated [TIMESTAMP], resumed [TIMESTAMP]")
}

func TestScrubDurations(t *testing.T) {
	got := testutil.ScrubDurations("subtask took 1.5s, run took 2m30s")
	testutil.AssertEqual(t, got, "subtask took [DURATION], run took [DURATION]")
}

func TestScrubTimestamps_KeepsTrailingPunctuation(t *testing.T) {
	got := testutil.ScrubTimestamps("(started 2026-03-01T09:15:00.123+02:00), ended 2026-03-01T10:00:00Z.")
	testutil.AssertEqual(t, got, "(started [TIMESTAMP]), ended [TIMESTAMP].")
}

func TestScrubDurations_CompoundIsOneToken(t *testing.T) {
	got := testutil.ScrubDurations("elapsed 1h2m3.5s; retry in 250ms")
	testutil.AssertEqual(t, got, "elapsed [DURATION]; retry in [DURATION]")
}

func TestScrubUUIDs(t *testing.T) {
	got := testutil.ScrubUUIDs("run 550e8400-e29b-41d4-a716-446655440000 resumed")
	testutil.AssertEqual(t, got, "run [UUID] resumed")
}

func TestScrubHashes(t *testing.T) {
	id := core.FindingID("https://arxiv.org/abs/2401.00001", 1)
	got := testutil.ScrubHashes("finding " + id)
	testutil.AssertEqual(t, got, "finding [HASH]")

	sum := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	testutil.AssertEqual(t, testutil.ScrubHashes("checksum "+sum), "checksum [HASH]")

	// Shorter hex runs are left alone.
	testutil.AssertEqual(t, testutil.ScrubHashes("color abcdef12"), "color abcdef12")
}

func TestScrubAll(t *testing.T) {
	id := core.FindingID("https://example.org/a", 2)
	input := "run 550e8400-e29b-41d4-a716-446655440000 at 2026-01-15T10:30:45Z in /tmp/research took 1.234s finding " + id + "  \r\n"
	got := testutil.ScrubAll(input, "/tmp/research")

	for _, want := range []string{"[UUID]", "[TIMESTAMP]", "[WORKDIR]", "[DURATION]", "[HASH]"} {
		testutil.AssertContains(t, got, want)
	}
	testutil.AssertNotContains(t, got, "\r\n")
}

func TestGolden_AssertString(t *testing.T) {
	dir := testutil.TempDir(t)
	testutil.TempFile(t, dir, "report.golden", "# Report")
	testutil.NewGolden(t, dir).AssertString("report", "# Report")
}

func TestTempFile(t *testing.T) {
	dir := testutil.TempDir(t)
	path := testutil.TempFile(t, dir, "plan.json", "{}")
	testutil.AssertEqual(t, path, filepath.Join(dir, "plan.json"))
}

func TestNewTestRunState(t *testing.T) {
	state := testutil.NewTestRunState()
	testutil.AssertEqual(t, state.RunID, "run-test")
	testutil.AssertEqual(t, state.Phase, core.PhaseResearching)
	testutil.AssertLen(t, state.Plan.Subtasks, 2)
	testutil.AssertLen(t, state.PlanVersions, 1)
}

func TestNewTestRunState_WithOptions(t *testing.T) {
	state := testutil.NewTestRunState(func(s *core.RunState) {
		s.Query = "custom query"
		s.Iteration = 3
	})
	testutil.AssertEqual(t, state.Query, "custom query")
	testutil.AssertEqual(t, state.Iteration, 3)
}

package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

var update = flag.Bool("update", false, "rewrite golden files from current output")

// Golden compares rendered output (reports, source lists, progress lines)
// with files under a testdata directory. Run the tests with -update to
// rewrite them.
type Golden struct {
	t   *testing.T
	dir string
}

// NewGolden returns a golden helper reading <dir>/<name>.golden.
func NewGolden(t *testing.T, dir string) *Golden {
	return &Golden{t: t, dir: dir}
}

// Assert fails the test when actual differs from the golden file.
func (g *Golden) Assert(name string, actual []byte) {
	g.t.Helper()
	path := filepath.Join(g.dir, name+".golden")

	if *update {
		if err := os.MkdirAll(g.dir, 0o755); err != nil {
			g.t.Fatalf("creating %s: %v", g.dir, err)
		}
		if err := os.WriteFile(path, actual, 0o644); err != nil {
			g.t.Fatalf("writing %s: %v", path, err)
		}
		g.t.Logf("updated %s", path)
		return
	}

	want, err := os.ReadFile(path)
	if err != nil {
		g.t.Fatalf("reading %s: %v", path, err)
	}
	if string(want) != string(actual) {
		g.t.Errorf("%s differs from golden file\n--- want ---\n%s\n--- got ---\n%s", name, want, actual)
	}
}

// AssertString is Assert for string output.
func (g *Golden) AssertString(name, actual string) {
	g.t.Helper()
	g.Assert(name, []byte(actual))
}

// Normalize converts CRLF, strips trailing blanks on every line and drops
// trailing newlines.
func Normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

var (
	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?`),
		regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`),
		regexp.MustCompile(`\d{2}:\d{2}:\d{2}`),
	}
	durationPattern = regexp.MustCompile(`(\d+(\.\d+)?(ns|us|µs|ms|s|m|h))+`)
	uuidPattern     = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	// Checkpoint checksums are full sha256 digests; finding ids are 24 hex chars.
	hashPattern = regexp.MustCompile(`\b[0-9a-f]{64}\b|\b[0-9a-f]{24}\b`)
)

// ScrubTimestamps replaces RFC 3339, date-time and clock values.
func ScrubTimestamps(s string) string {
	for _, re := range timestampPatterns {
		s = re.ReplaceAllString(s, "[TIMESTAMP]")
	}
	return s
}

// ScrubDurations replaces Go duration strings such as 1.5s or 2m30s.
func ScrubDurations(s string) string {
	return durationPattern.ReplaceAllString(s, "[DURATION]")
}

// ScrubPaths replaces a working directory prefix.
func ScrubPaths(s, workdir string) string {
	return strings.ReplaceAll(s, workdir, "[WORKDIR]")
}

// ScrubUUIDs replaces run and checkpoint ids.
func ScrubUUIDs(s string) string {
	return uuidPattern.ReplaceAllString(s, "[UUID]")
}

// ScrubHashes replaces checksums and finding ids.
func ScrubHashes(s string) string {
	return hashPattern.ReplaceAllString(s, "[HASH]")
}

// ScrubAll applies every scrubber and normalizes the result. Paths go
// before timestamps so digits in the workdir survive intact.
func ScrubAll(s, workdir string) string {
	s = ScrubPaths(s, workdir)
	s = ScrubUUIDs(s)
	s = ScrubTimestamps(s)
	s = ScrubDurations(s)
	s = ScrubHashes(s)
	return Normalize(s)
}

// Package report archives finished runs: the Markdown report with its
// run metadata as frontmatter, the source list, the full result and the
// run metrics.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/research"
)

// Archive file names.
const (
	ReportFile  = "report.md"
	SourcesFile = "sources.md"
	ResultFile  = "result.json"
	MetricsFile = "metrics.json"
)

var unsafeRunID = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Archive writes run archives under a root directory, one directory per run.
type Archive struct {
	root string
	now  func() time.Time
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string) *Archive {
	return &Archive{root: dir, now: time.Now}
}

// RunDir returns the directory of a run.
func (a *Archive) RunDir(runID string) string {
	return filepath.Join(a.root, sanitizeRunID(runID))
}

// Write archives res and returns the report path. Rewriting a run replaces
// its files, so a resumed run overwrites its interrupted archive.
func (a *Archive) Write(res *research.Result, sources []string) (string, error) {
	if res == nil || res.RunID == "" {
		return "", fmt.Errorf("archive requires a run id")
	}
	dir := a.RunDir(res.RunID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating archive dir: %w", err)
	}

	fm := NewFrontmatter()
	fm.Set("run_id", res.RunID)
	fm.Set("query", res.Query)
	fm.Set("archived_at", a.now().UTC().Format(time.RFC3339))
	fm.Set("phase", string(res.Phase))
	fm.Set("success", res.Success)
	fm.Set("score", res.Score)
	fm.Set("iterations", res.Iterations)
	fm.Set("findings", res.Findings)
	fm.Set("sources", res.Sources)
	if res.Depth != "" {
		fm.Set("depth", string(res.Depth))
	}
	if res.StopReason != "" {
		fm.Set("stop_reason", res.StopReason)
	}
	if res.Degraded {
		fm.Set("degraded", true)
	}
	if res.Fallback {
		fm.Set("fallback_report", true)
	}
	if len(res.Caveats) > 0 {
		fm.Set("caveats", res.Caveats)
	}
	head, err := fm.Render()
	if err != nil {
		return "", err
	}

	reportPath := filepath.Join(dir, ReportFile)
	if err := config.AtomicWrite(reportPath, []byte(head+res.Report)); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	if err := config.AtomicWrite(filepath.Join(dir, SourcesFile), []byte(renderSources(sources))); err != nil {
		return "", fmt.Errorf("writing sources: %w", err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	if err := config.AtomicWrite(filepath.Join(dir, ResultFile), data); err != nil {
		return "", fmt.Errorf("writing result: %w", err)
	}
	var metrics bytes.Buffer
	if err := service.NewReportGenerator(res.MetricsSnapshot()).GenerateJSONReport(&metrics); err != nil {
		return "", fmt.Errorf("encoding metrics: %w", err)
	}
	if err := config.AtomicWrite(filepath.Join(dir, MetricsFile), metrics.Bytes()); err != nil {
		return "", fmt.Errorf("writing metrics: %w", err)
	}
	return reportPath, nil
}

// Load reads the archived result of a run.
func (a *Archive) Load(runID string) (*research.Result, error) {
	data, err := os.ReadFile(filepath.Join(a.RunDir(runID), ResultFile))
	if err != nil {
		return nil, err
	}
	var res research.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding archived result: %w", err)
	}
	return &res, nil
}

// List returns the archived run ids, newest first.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type run struct {
		id  string
		mod time.Time
	}
	var runs []run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(a.root, e.Name(), ResultFile))
		if err != nil {
			continue
		}
		runs = append(runs, run{id: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].mod.Equal(runs[j].mod) {
			return runs[i].mod.After(runs[j].mod)
		}
		return runs[i].id < runs[j].id
	})
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

func renderSources(sources []string) string {
	var sb strings.Builder
	sb.WriteString("# Sources\n\n")
	if len(sources) == 0 {
		sb.WriteString("_No sources._\n")
		return sb.String()
	}
	for i, s := range sources {
		fmt.Fprintf(&sb, "%d. <%s>\n", i+1, s)
	}
	return sb.String()
}

func sanitizeRunID(runID string) string {
	s := unsafeRunID.ReplaceAllString(runID, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

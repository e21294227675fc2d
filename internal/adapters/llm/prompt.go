package llm

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// PromptRenderer renders the embedded prompt templates.
type PromptRenderer struct {
	templates map[string]*template.Template
}

// NewPromptRenderer parses every embedded template.
func NewPromptRenderer() (*PromptRenderer, error) {
	r := &PromptRenderer{templates: make(map[string]*template.Template)}
	err := fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}
		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		tmpl, err := template.New(name).Funcs(templateFuncs()).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		r.templates[name] = tmpl
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return r, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":     strings.Join,
		"add":      func(a, b int) int { return a + b },
		"truncate": truncate,
	}
}

func truncate(max int, s string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// Render executes the named template.
func (r *PromptRenderer) Render(name string, data interface{}) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// PlanParams feeds the plan and refine templates.
type PlanParams struct {
	Query       string
	Iteration   int
	MinSubtasks int
	MaxSubtasks int
	Gaps        []core.Gap
	History     []core.Subtask
}

// CritiqueParams feeds the critique template.
type CritiqueParams struct {
	Query     string
	Iteration int
	Subtasks  []core.Subtask
	Findings  []core.Finding
	Heuristic core.Evaluation
}

// ExtractParams feeds the extract template.
type ExtractParams struct {
	Subtask core.Subtask
	Lead    core.Lead
	Content string
}

// ReportParams feeds the report template.
type ReportParams struct {
	Query    string
	Summary  string
	Sections []core.ReportSection
	General  []core.Finding
	Sources  []string
	Caveats  []string
}

package report

import (
	"strings"
	"testing"
)

func TestFrontmatter_RenderKeepsOrder(t *testing.T) {
	fm := NewFrontmatter()
	fm.Set("run_id", "run-1")
	fm.Set("query", "risks: thermal runaway")
	fm.Set("score", 82)
	fm.Set("caveats", []string{"Reduced confidence"})
	fm.Set("run_id", "run-2")

	got, err := fm.Render()
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "---\n" +
		"run_id: run-2\n" +
		"query: 'risks: thermal runaway'\n" +
		"score: 82\n" +
		"caveats:\n" +
		"  - Reduced confidence\n" +
		"---\n\n"
	if got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}

	if v, ok := fm.Get("score"); !ok || v != 82 {
		t.Errorf("Get(score) = %v, %v", v, ok)
	}
}

func TestFrontmatter_Empty(t *testing.T) {
	got, err := NewFrontmatter().Render()
	if err != nil || got != "" {
		t.Errorf("Render() = %q, %v; want empty", got, err)
	}
}

func TestParseFrontmatter(t *testing.T) {
	fields, body, err := ParseFrontmatter("---\nrun_id: run-1\nscore: 80\n---\n\n# Report\n")
	if err != nil {
		t.Fatalf("ParseFrontmatter() error = %v", err)
	}
	if fields["run_id"] != "run-1" || fields["score"] != 80 {
		t.Errorf("fields = %v", fields)
	}
	if body != "# Report\n" {
		t.Errorf("body = %q", body)
	}

	fields, body, err = ParseFrontmatter("# Plain\n")
	if err != nil || fields != nil || body != "# Plain\n" {
		t.Errorf("plain document = %v, %q, %v", fields, body, err)
	}

	if _, _, err := ParseFrontmatter("---\nrun_id: x\n"); err == nil || !strings.Contains(err.Error(), "unterminated") {
		t.Errorf("expected unterminated error, got %v", err)
	}
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// chatServer answers every completion with reply and records the last
// user message.
func chatServer(t *testing.T, status int, reply string) (*httptest.Server, func() string) {
	t.Helper()
	var (
		mu       sync.Mutex
		lastUser string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if len(req.Messages) == 2 {
			mu.Lock()
			lastUser = req.Messages[1].Content
			mu.Unlock()
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() string {
		mu.Lock()
		defer mu.Unlock()
		return lastUser
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, Model: "test-model"}, nil)
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Model: "m"}, nil)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	_, err = New(Config{BaseURL: "http://x"}, nil)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestGenerateSubtasks_Plan(t *testing.T) {
	reply := "Here is the plan:\n```json\n" + `{"summary":"s","estimated_depth":"deep","subtasks":[
		{"query":"sulfide electrolyte flammability","focus":"electrolyte safety","search_mode":"Academic","priority":1,"phase":"foundation"},
		{"query":"battery recalls 2025","focus":"field incidents","search_mode":"news","priority":7}]}` + "\n```"
	srv, lastUser := chatServer(t, http.StatusOK, reply)
	c := newTestClient(t, srv.URL)

	draft, err := c.GenerateSubtasks(context.Background(), core.PlanRequest{Query: "solid-state battery safety", MinSubtasks: 3, MaxSubtasks: 5})
	require.NoError(t, err)
	require.Len(t, draft.Subtasks, 2)
	assert.Equal(t, core.DepthDeep, draft.EstimatedDepth)
	assert.Equal(t, core.ModeAcademic, draft.Subtasks[0].Mode)
	assert.Equal(t, core.ModeGeneral, draft.Subtasks[1].Mode, "unknown modes fall back to general")
	assert.Equal(t, core.PriorityMedium, draft.Subtasks[1].Priority)
	assert.Contains(t, lastUser(), "between 3 and 5 subtasks")
}

func TestGenerateSubtasks_RefineUsesGaps(t *testing.T) {
	srv, lastUser := chatServer(t, http.StatusOK, `{"subtasks":[]}`)
	c := newTestClient(t, srv.URL)

	_, err := c.GenerateSubtasks(context.Background(), core.PlanRequest{
		Query:     "q",
		Iteration: 2,
		Gaps:      []core.Gap{{Description: "no cost data", Importance: 4, SuggestedQuery: "solid-state battery cost per kWh"}},
		History:   []core.Subtask{{ID: 1, Focus: "electrolyte safety", Mode: core.ModeAcademic}},
	})
	require.NoError(t, err)
	assert.Contains(t, lastUser(), "solid-state battery cost per kWh")
	assert.Contains(t, lastUser(), "S01 [academic] electrolyte safety")
}

func TestGenerateSubtasks_MalformedIsRetryable(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, "I cannot help with that.")
	_, err := newTestClient(t, srv.URL).GenerateSubtasks(context.Background(), core.PlanRequest{Query: "q"})
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
}

func TestComplete_StatusClassification(t *testing.T) {
	srv, _ := chatServer(t, http.StatusUnauthorized, "")
	_, err := newTestClient(t, srv.URL).Complete(context.Background(), "s", "u")
	assert.True(t, core.IsCategory(err, core.ErrCatAuth))

	srv, _ = chatServer(t, http.StatusTooManyRequests, "")
	_, err = newTestClient(t, srv.URL).Complete(context.Background(), "s", "u")
	assert.True(t, core.IsRetryable(err))
}

func TestCritique_Clamps(t *testing.T) {
	srv, lastUser := chatServer(t, http.StatusOK,
		`{"overall_score": 140, "gaps": [{"description": "x", "importance": 9, "suggested_query": "q"}], "strengths": ["a"]}`)
	c := newTestClient(t, srv.URL)

	out, err := c.Critique(context.Background(), core.CritiqueRequest{
		Query:     "q",
		Iteration: 1,
		Findings:  []core.Finding{{SubtaskID: 1, Content: strings.Repeat("x", 400), SourceURL: "https://a.org"}},
		Heuristic: core.Evaluation{OverallScore: 55},
	})
	require.NoError(t, err)
	assert.Equal(t, 100, out.Score)
	assert.Equal(t, 5, out.Gaps[0].Importance)
	assert.Contains(t, lastUser(), "overall 55")
	assert.Contains(t, lastUser(), "...", "long findings are truncated")
}

func TestExtract(t *testing.T) {
	srv, _ := chatServer(t, http.StatusOK, `{"excerpts":[{"title":"t","content":" 35% fewer fires "},{"content":"  "}]}`)
	out, err := newTestClient(t, srv.URL).Extract(context.Background(), core.ExtractRequest{Content: "page"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "35% fewer fires", out[0].Content)
}

func TestWriteReport(t *testing.T) {
	srv, lastUser := chatServer(t, http.StatusOK, "  # Report\n\nBody [1]\n")
	out, err := newTestClient(t, srv.URL).WriteReport(context.Background(), core.ReportRequest{
		Query:   "q",
		Sources: []string{"https://a.org", "https://b.org"},
		Caveats: []string{"reduced confidence"},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Report\n\nBody [1]", out)
	assert.Contains(t, lastUser(), "[2] https://b.org")
	assert.Contains(t, lastUser(), "reduced confidence")
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, extractJSON(`prefix {"a":{"b":2}} suffix`))
	assert.Equal(t, "", extractJSON("no json"))
}

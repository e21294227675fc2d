package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

type fakeResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func searchServer(t *testing.T, handler func(req searchRequest) (int, []fakeResult)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer pplx-test", r.Header.Get("Authorization"))
		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, results := handler(req)
		w.WriteHeader(status)
		if status == http.StatusOK {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSearchClient(t *testing.T, url string) *SearchClient {
	t.Helper()
	c, err := NewSearchClient(SearchConfig{BaseURL: url, APIKey: "pplx-test", Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return c
}

func TestSearchClient_AcademicFilter(t *testing.T) {
	srv := searchServer(t, func(req searchRequest) (int, []fakeResult) {
		assert.Equal(t, 6, req.MaxResults, "academic over-fetches 3x")
		return http.StatusOK, []fakeResult{
			{Title: "Blog", URL: "https://blog.example.com/post"},
			{Title: "Paper", URL: "https://arxiv.org/abs/2401.1"},
			{Title: "Nature", URL: "https://www.nature.com/articles/x"},
			{Title: "IEEE", URL: "https://ieeexplore.ieee.org/doc/1"},
		}
	})
	c := newTestSearchClient(t, srv.URL)

	leads, err := c.Search(context.Background(), "battery safety", core.ModeAcademic, 2)
	require.NoError(t, err)
	require.Len(t, leads, 2)
	assert.Equal(t, "https://arxiv.org/abs/2401.1", leads[0].URL)
	assert.Equal(t, "battery safety", leads[0].Query)
}

func TestSearchClient_GeneralDenylist(t *testing.T) {
	srv := searchServer(t, func(req searchRequest) (int, []fakeResult) {
		assert.Equal(t, 10, req.MaxResults)
		return http.StatusOK, []fakeResult{
			{URL: "https://www.reddit.com/r/batteries"},
			{URL: "https://news.example.com/a"},
		}
	})
	c := newTestSearchClient(t, srv.URL)

	leads, err := c.Search(context.Background(), "battery recalls", core.ModeGeneral, 5)
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "https://news.example.com/a", leads[0].URL)
}

func TestSearchClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		category  core.ErrorCategory
	}{
		{http.StatusTooManyRequests, true, core.ErrCatRateLimit},
		{http.StatusServiceUnavailable, true, core.ErrCatNetwork},
		{http.StatusUnauthorized, false, core.ErrCatAuth},
		{http.StatusBadRequest, false, core.ErrCatGateway},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			srv := searchServer(t, func(searchRequest) (int, []fakeResult) { return tt.status, nil })
			_, err := newTestSearchClient(t, srv.URL).Search(context.Background(), "q", core.ModeGeneral, 5)
			require.Error(t, err)
			assert.Equal(t, tt.retryable, core.IsRetryable(err))
			assert.Equal(t, tt.category, core.GetCategory(err))
		})
	}
}

func TestSearchClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c, err := NewSearchClient(SearchConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "q", core.ModeGeneral, 5)
	assert.True(t, core.IsCategory(err, core.ErrCatTimeout))
	assert.True(t, core.IsRetryable(err))
}

func TestSearchClient_BatchSearch(t *testing.T) {
	var calls atomic.Int32
	srv := searchServer(t, func(req searchRequest) (int, []fakeResult) {
		calls.Add(1)
		if req.Query == "broken" {
			return http.StatusBadGateway, nil
		}
		return http.StatusOK, []fakeResult{
			{URL: "https://shared.example.com/x"},
			{URL: "https://" + strings.ReplaceAll(req.Query, " ", "-") + ".example.com"},
		}
	})
	c := newTestSearchClient(t, srv.URL)

	leads, err := c.BatchSearch(context.Background(), []string{"one", "two", "broken"}, core.ModeGeneral, 5)
	require.NoError(t, err)
	assert.Len(t, leads, 3, "shared url is kept once")
	assert.Equal(t, int32(3), calls.Load())

	_, err = c.BatchSearch(context.Background(), []string{"broken"}, core.ModeGeneral, 5)
	assert.True(t, core.IsRetryable(err))

	_, err = c.BatchSearch(context.Background(), make([]string, 6), core.ModeGeneral, 5)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestNewSearchClient_RequiresKey(t *testing.T) {
	_, err := NewSearchClient(SearchConfig{}, nil)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

const testPage = `<!doctype html>
<html><head><title> Sulfide Electrolytes </title><style>.x{}</style></head>
<body>
<nav>Home | About</nav>
<article><h1>Results</h1><p>Thermal runaway onset rose by 35%.</p>
<script>track()</script><p>Samples: 120 cells.</p></article>
<footer>Copyright</footer>
</body></html>`

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "plain   text\nbody")
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestExtractionClient_Verify(t *testing.T) {
	srv := pageServer(t)
	c := NewExtractionClient(ExtractionConfig{Timeout: 2 * time.Second})

	st, err := c.Verify(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.True(t, st.OK())
	assert.Equal(t, "Sulfide Electrolytes", st.ResolvedTitle)

	st, err = c.Verify(context.Background(), srv.URL+"/gone")
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, st.HTTPStatus)
	assert.False(t, st.OK())
}

func TestExtractionClient_Fetch(t *testing.T) {
	srv := pageServer(t)
	c := NewExtractionClient(ExtractionConfig{Timeout: 2 * time.Second})

	text, err := c.Fetch(context.Background(), srv.URL+"/page", 0)
	require.NoError(t, err)
	assert.Contains(t, text, "Thermal runaway onset rose by 35%.")
	assert.Contains(t, text, "Samples: 120 cells.")
	for _, hidden := range []string{"track()", "Home | About", "Copyright", ".x{}", "Sulfide"} {
		assert.NotContains(t, text, hidden)
	}

	text, err = c.Fetch(context.Background(), srv.URL+"/page", 7)
	require.NoError(t, err)
	assert.Equal(t, "Results", text)

	text, err = c.Fetch(context.Background(), srv.URL+"/plain", 0)
	require.NoError(t, err)
	assert.Equal(t, "plain text body", text)

	_, err = c.Fetch(context.Background(), srv.URL+"/gone", 0)
	assert.True(t, core.IsCategory(err, core.ErrCatGateway))
	assert.False(t, core.IsRetryable(err))
}

func TestExtractionClient_InvalidURL(t *testing.T) {
	c := NewExtractionClient(ExtractionConfig{})
	_, err := c.Fetch(context.Background(), "://bad", 0)
	assert.False(t, core.IsRetryable(err))
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.Dimensions)
		// Answer out of order; the client restores input order.
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0, 1, 0}},
				{"index": 0, "embedding": []float32{1, 0, 0}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(EmbeddingConfig{BaseURL: srv.URL, APIKey: "sk-test", Dimensions: 3})
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0}, vecs[1])
	assert.Equal(t, 3, e.Dimension())

	_, err = e.Embed(context.Background(), []string{"a", "b", "c"})
	assert.Error(t, err, "missing vector")

	assert.Equal(t, 3072, NewOpenAIEmbedder(EmbeddingConfig{}).Dimension())
}

func TestWebhookReviewer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req core.ReviewRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "run-1", req.RunID)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"approved": true, "score": 14, "feedback": " ok "})
	}))
	defer srv.Close()

	out, err := NewWebhookReviewer(srv.URL, time.Second).Review(context.Background(),
		core.ReviewRequest{RunID: "run-1", EvaluationSummary: "score 70"})
	require.NoError(t, err)
	assert.True(t, out.Approved)
	assert.Equal(t, 10, out.Score)
	assert.Equal(t, "ok", out.Feedback)
}

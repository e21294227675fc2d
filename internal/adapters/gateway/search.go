package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
)

// DefaultSearchBaseURL is the Perplexity search API.
const DefaultSearchBaseURL = "https://api.perplexity.ai"

// SearchConfig configures a SearchClient.
type SearchConfig struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	AcademicDomains   []string
	DenylistDomains   []string
}

// SearchClient queries a Perplexity-compatible search endpoint. Academic
// searches over-fetch and keep allowlisted hosts; general searches
// over-fetch and drop denylisted hosts.
type SearchClient struct {
	baseURL  string
	apiKey   string
	client   *http.Client
	limiter  *service.AdaptiveRateLimiter
	academic []string
	denylist []string
	logger   *logging.Logger
}

var _ core.SearchGateway = (*SearchClient)(nil)

// NewSearchClient creates a search client.
func NewSearchClient(cfg SearchConfig, logger *logging.Logger) (*SearchClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "search gateway requires an api key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSearchBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.AcademicDomains == nil {
		cfg.AcademicDomains = core.DefaultAcademicDomains
	}
	if cfg.DenylistDomains == nil {
		cfg.DenylistDomains = core.DefaultDenylistDomains
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SearchClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		client:   newHTTPClient(cfg.Timeout),
		limiter:  service.NewAdaptiveRateLimiter(service.GatewayRateLimiterConfig(cfg.RequestsPerSecond, cfg.Burst)),
		academic: cfg.AcademicDomains,
		denylist: cfg.DenylistDomains,
		logger:   logger,
	}, nil
}

type searchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
		Date    string `json:"date"`
	} `json:"results"`
}

// Search returns up to maxResults leads for query in the given mode.
func (c *SearchClient) Search(ctx context.Context, query string, mode core.SearchMode, maxResults int) ([]core.Lead, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.ErrValidation(core.CodeEmptyQuery, "search query is empty")
	}
	if maxResults <= 0 {
		maxResults = 10
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var resp searchResponse
	err := postJSON(ctx, c.client, "search", c.baseURL+"/search", c.apiKey,
		searchRequest{Query: query, MaxResults: overfetch(mode, maxResults)}, &resp)
	if err != nil {
		if core.IsCategory(err, core.ErrCatRateLimit) {
			c.limiter.RecordRateLimited()
		}
		return nil, err
	}
	c.limiter.RecordSuccess()

	leads := make([]core.Lead, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.URL) == "" || !c.allowed(r.URL, mode) {
			continue
		}
		leads = append(leads, core.Lead{
			Title:   strings.TrimSpace(r.Title),
			URL:     strings.TrimSpace(r.URL),
			Snippet: strings.TrimSpace(r.Snippet),
			Date:    r.Date,
			Query:   query,
		})
		if len(leads) == maxResults {
			break
		}
	}
	c.logger.Debug("search completed", "query", query, "mode", mode, "results", len(resp.Results), "kept", len(leads))
	return leads, nil
}

// BatchSearch runs up to MaxBatchQueries searches concurrently and merges
// the leads, dropping repeated urls. It fails only if every query fails.
func (c *SearchClient) BatchSearch(ctx context.Context, queries []string, mode core.SearchMode, maxResults int) ([]core.Lead, error) {
	if len(queries) > core.MaxBatchQueries {
		return nil, core.ErrValidation(core.CodeTooManyQueries,
			fmt.Sprintf("batch of %d queries exceeds %d", len(queries), core.MaxBatchQueries))
	}
	if len(queries) == 0 {
		return nil, nil
	}

	results := make([][]core.Lead, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			results[i], errs[i] = c.Search(ctx, q, mode, maxResults)
			return nil
		})
	}
	_ = g.Wait()

	return mergeLeads(results, errs, c.logger)
}

func mergeLeads(results [][]core.Lead, errs []error, logger *logging.Logger) ([]core.Lead, error) {
	var (
		out      []core.Lead
		firstErr error
		failed   int
		seen     = make(map[string]bool)
	)
	for i, leads := range results {
		if errs[i] != nil {
			failed++
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		for _, l := range leads {
			key := core.NormalizeURL(l.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, l)
		}
	}
	if failed == len(results) {
		return nil, firstErr
	}
	if failed > 0 {
		logger.Warn("batch search partially failed", "failed", failed, "total", len(results), "error", firstErr)
	}
	return out, nil
}

func (c *SearchClient) allowed(url string, mode core.SearchMode) bool {
	host := core.HostOf(url)
	if mode == core.ModeAcademic {
		return core.MatchesDomain(host, c.academic)
	}
	return !core.MatchesDomain(host, c.denylist)
}

// overfetch requests extra results to survive domain filtering.
func overfetch(mode core.SearchMode, maxResults int) int {
	if mode == core.ModeAcademic {
		return min(maxResults*3, 30)
	}
	return min(maxResults*2, 20)
}

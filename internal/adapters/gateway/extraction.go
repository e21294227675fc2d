package gateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// Extraction defaults.
const (
	DefaultUserAgent    = "research-engine/1.0 (+https://github.com/hugo-lorenzo-mato/quorum-research)"
	DefaultMaxBodyBytes = 2 << 20
)

// ExtractionConfig configures an ExtractionClient.
type ExtractionConfig struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// ExtractionClient verifies and fetches pages directly over HTTP.
type ExtractionClient struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

var _ core.ExtractionGateway = (*ExtractionClient)(nil)

// NewExtractionClient creates an extraction client.
func NewExtractionClient(cfg ExtractionConfig) *ExtractionClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &ExtractionClient{
		client:       newHTTPClient(cfg.Timeout),
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// Verify checks that url is reachable and resolves its title. Non-2xx
// statuses are reported in the result, not as errors.
func (c *ExtractionClient) Verify(ctx context.Context, url string) (core.PageStatus, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return core.PageStatus{}, err
	}
	defer resp.Body.Close()

	status := core.PageStatus{HTTPStatus: resp.StatusCode}
	if !status.OK() || !isHTML(resp) {
		return status, nil
	}
	doc, err := html.Parse(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err == nil {
		status.ResolvedTitle = pageTitle(doc)
	}
	return status, nil
}

// Fetch returns the readable text of url, truncated to maxChars runes
// when maxChars is positive.
func (c *ExtractionClient) Fetch(ctx context.Context, url string, maxChars int) (string, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", ClassifyHTTPResponse("extraction", resp)
	}

	body := io.LimitReader(resp.Body, c.maxBodyBytes)
	var text string
	if isHTML(resp) {
		doc, err := html.Parse(body)
		if err != nil {
			return "", core.ErrPermanentGateway("extraction", "parsing html").WithCause(err)
		}
		text = pageText(doc)
	} else {
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", classifyTransportError(ctx, "extraction", err)
		}
		text = collapseSpace(string(raw))
	}
	return truncateRunes(text, maxChars), nil
}

func (c *ExtractionClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, core.ErrPermanentGateway("extraction", "invalid url "+url).WithCause(err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, "extraction", err)
	}
	return resp, nil
}

func isHTML(resp *http.Response) bool {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}

func pageTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "title" {
			title = collapseSpace(nodeText(n))
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return title
}

// skippedElements never contribute readable text.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"nav": true, "footer": true, "header": true, "aside": true,
	"form": true, "svg": true, "iframe": true,
}

// blockElements end a line of text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "main": true,
	"li": true, "tr": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "blockquote": true, "pre": true,
	"table": true, "ul": true, "ol": true,
}

// pageText extracts the readable body text, one block per line.
func pageText(doc *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skippedElements[n.Data] {
				return
			}
		case html.TextNode:
			if t := collapseSpace(n.Data); t != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

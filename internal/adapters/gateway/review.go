package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// WebhookReviewer posts evaluation summaries to a human review webhook
// and waits for its verdict in the response body.
type WebhookReviewer struct {
	url    string
	client *http.Client
}

var _ core.Reviewer = (*WebhookReviewer)(nil)

// NewWebhookReviewer creates a reviewer. The timeout bounds how long a
// human has to answer.
func NewWebhookReviewer(url string, timeout time.Duration) *WebhookReviewer {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &WebhookReviewer{url: strings.TrimSpace(url), client: newHTTPClient(timeout)}
}

type reviewResponse struct {
	Approved bool   `json:"approved"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Review sends the request and returns the reviewer's outcome. Scores
// are clamped to 0-10.
func (r *WebhookReviewer) Review(ctx context.Context, req core.ReviewRequest) (*core.ReviewOutcome, error) {
	var resp reviewResponse
	if err := postJSON(ctx, r.client, "review", r.url, "", req, &resp); err != nil {
		return nil, err
	}
	return &core.ReviewOutcome{
		Approved: resp.Approved,
		Score:    max(0, min(10, resp.Score)),
		Feedback: strings.TrimSpace(resp.Feedback),
	}, nil
}

// Package llm implements the reasoning services on top of an
// OpenAI-compatible chat completions endpoint (LiteLLM, OpenAI, vLLM):
// subtask generation, evidence critique, excerpt extraction and report
// writing.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

// Config configures the completion client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client calls /chat/completions and renders the prompts of every
// reasoning role.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	http        *http.Client
	prompts     *PromptRenderer
	logger      *logging.Logger
}

var (
	_ core.SubtaskGenerator  = (*Client)(nil)
	_ core.Critic            = (*Client)(nil)
	_ core.ReportWriter      = (*Client)(nil)
	_ core.EvidenceExtractor = (*Client)(nil)
)

// New creates a completion client.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "llm gateway requires a base url")
	}
	if cfg.Model == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "llm gateway requires a model")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	prompts, err := NewPromptRenderer()
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		http:        &http.Client{Timeout: cfg.Timeout},
		prompts:     prompts,
		logger:      logger,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one system and user message pair and returns the reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", core.ErrPermanentGateway("llm", "building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", core.ErrTimeout("llm request timed out").WithCause(err)
		}
		return "", core.ErrTransientGateway("llm", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", core.ClassifyHTTPStatus("llm", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", malformed("decoding completion response", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", malformed("completion returned no content", nil)
	}
	c.logger.Debug("completion finished",
		"model", c.model,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"duration", time.Since(start))
	return out.Choices[0].Message.Content, nil
}

// malformed reports unusable model output. It is retryable: a second
// sample usually parses.
func malformed(msg string, cause error) *core.DomainError {
	return &core.DomainError{
		Category:  core.ErrCatGateway,
		Code:      core.CodeMalformedOutput,
		Message:   msg,
		Retryable: true,
		Cause:     cause,
	}
}

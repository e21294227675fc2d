// Package gateway implements the HTTP clients for the external search,
// extraction, embedding and human review services. Every client maps
// upstream failures onto the core error taxonomy so the worker pool can
// tell transient failures from permanent ones.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// maxErrorBody bounds the upstream body echoed into error messages.
const maxErrorBody = 512

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// postJSON sends body as JSON and decodes a 2xx response into out.
func postJSON(ctx context.Context, client *http.Client, gateway, url, apiKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", gateway, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return core.ErrPermanentGateway(gateway, "building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(ctx, gateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyHTTPResponse(gateway, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.ErrPermanentGateway(gateway, "decoding response").WithCause(err)
	}
	return nil
}

// ClassifyHTTPResponse converts a non-2xx response into a domain error,
// including a bounded excerpt of the body.
func ClassifyHTTPResponse(gateway string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return core.ClassifyHTTPStatus(gateway, resp.StatusCode, strings.TrimSpace(string(body)))
}

// classifyTransportError maps client.Do failures. Timeouts and TLS
// failures are transient by class; context cancellation is returned as is.
func classifyTransportError(ctx context.Context, gateway string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrTimeout(gateway+" request timed out").WithCause(err).WithDetail("gateway", gateway)
	}
	if isTLSError(err) {
		return core.ErrTransientGateway(gateway, "tls handshake failed").WithCause(err).WithDetail("tls", true)
	}
	return core.ErrTransientGateway(gateway, "request failed").WithCause(err)
}

func isTLSError(err error) bool {
	var (
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalid     x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
	)
	return errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalid) ||
		errors.As(err, &recordErr)
}

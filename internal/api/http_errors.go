package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

// ErrorResponse is the body of every failed request. Success and Summary
// are set only when a failed run still produced a result.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Success *bool  `json:"success,omitempty"`
	Summary string `json:"summary,omitempty"`
}

var categoryStatus = map[core.ErrorCategory]int{
	core.ErrCatValidation: http.StatusBadRequest,
	core.ErrCatNotFound:   http.StatusNotFound,
	core.ErrCatState:      http.StatusConflict,
	core.ErrCatRateLimit:  http.StatusTooManyRequests,
	core.ErrCatTimeout:    http.StatusGatewayTimeout,
	core.ErrCatNetwork:    http.StatusBadGateway,
	core.ErrCatGateway:    http.StatusBadGateway,
}

// httpStatusForError maps an error to a status. Wrapping errors such as a
// planning failure are looked through to the gateway error that caused
// them.
func httpStatusForError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	for cur := err; cur != nil; {
		var domErr *core.DomainError
		if !errors.As(cur, &domErr) || domErr == nil {
			break
		}
		if status, ok := categoryStatus[domErr.Category]; ok {
			return status
		}
		cur = domErr.Cause
	}
	return http.StatusInternalServerError
}

func errorCode(err error) string {
	var domErr *core.DomainError
	if errors.As(err, &domErr) && domErr != nil {
		return domErr.Code
	}
	return ""
}

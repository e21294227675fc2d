package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

func TestHTTPStatusForError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"nil error", nil, http.StatusOK},
		{"validation", core.ErrValidation(core.CodeQueryTooLong, "too long"), http.StatusBadRequest},
		{"not found", core.ErrNotFound("checkpoint", "x"), http.StatusNotFound},
		{"state", core.ErrState(core.CodeInvalidState, "finished"), http.StatusConflict},
		{"rate limit", core.ErrRateLimit("slow down"), http.StatusTooManyRequests},
		{"timeout", core.ErrTimeout("timed out"), http.StatusGatewayTimeout},
		{"transient gateway", core.ErrTransientGateway("search", "503"), http.StatusBadGateway},
		{"permanent gateway", core.ErrPermanentGateway("search", "400"), http.StatusBadGateway},
		{"planning without cause", core.ErrPlanning("no subtasks"), http.StatusInternalServerError},
		{"planning caused by rate limit",
			core.ErrPlanning("no plan").WithCause(fmt.Errorf("generating: %w", core.ErrRateLimit("quota"))),
			http.StatusTooManyRequests},
		{"wrapped deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
		{"plain error", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := httpStatusForError(tt.err); got != tt.wantStatus {
				t.Errorf("httpStatusForError() = %d, want %d", got, tt.wantStatus)
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	if got := errorCode(fmt.Errorf("wrap: %w", core.ErrNotFound("run", "x"))); got != core.CodeNotFound {
		t.Errorf("errorCode() = %q, want %q", got, core.CodeNotFound)
	}
	if got := errorCode(errors.New("plain")); got != "" {
		t.Errorf("errorCode() = %q, want empty", got)
	}
}

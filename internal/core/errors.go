package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation" // Invalid input
	ErrCatExecution  ErrorCategory = "execution"  // Runtime failure
	ErrCatTimeout    ErrorCategory = "timeout"    // Operation timed out
	ErrCatRateLimit  ErrorCategory = "rate_limit" // Provider rate limited
	ErrCatNetwork    ErrorCategory = "network"    // Network connectivity or 5xx
	ErrCatGateway    ErrorCategory = "gateway"    // Upstream rejected the request
	ErrCatAuth       ErrorCategory = "auth"       // Authentication failure
	ErrCatState      ErrorCategory = "state"      // State corruption/conflict
	ErrCatNotFound   ErrorCategory = "not_found"  // Resource not found
	ErrCatPlanning   ErrorCategory = "planning"   // Planner could not produce a plan
	ErrCatEvaluation ErrorCategory = "evaluation" // Evaluator could not score evidence
	ErrCatCheckpoint ErrorCategory = "checkpoint" // Snapshot could not be written
	ErrCatInternal   ErrorCategory = "internal"   // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrExecution creates a non-retryable execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatExecution,
		Code:     code,
		Message:  message,
	}
}

// ErrTimeout creates a transient timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      CodeTimeout,
		Message:   message,
		Retryable: true,
	}
}

// ErrRateLimit creates a transient rate limit error.
func ErrRateLimit(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatRateLimit,
		Code:      CodeRateLimited,
		Message:   message,
		Retryable: true,
	}
}

// ErrTransientGateway creates a retryable upstream failure (connection errors, 5xx).
func ErrTransientGateway(gateway, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      CodeGatewayUnavailable,
		Message:   message,
		Retryable: true,
		Details:   map[string]interface{}{"gateway": gateway},
	}
}

// ErrPermanentGateway creates a non-retryable upstream failure (4xx other than 429, malformed input).
func ErrPermanentGateway(gateway, message string) *DomainError {
	return &DomainError{
		Category: ErrCatGateway,
		Code:     CodeGatewayRejected,
		Message:  message,
		Details:  map[string]interface{}{"gateway": gateway},
	}
}

// ErrAuth creates an authentication error.
func ErrAuth(message string) *DomainError {
	return &DomainError{
		Category: ErrCatAuth,
		Code:     CodeAuthFailed,
		Message:  message,
	}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatState,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrPlanning creates a planning error.
func ErrPlanning(message string) *DomainError {
	return &DomainError{
		Category: ErrCatPlanning,
		Code:     CodePlanningFailed,
		Message:  message,
	}
}

// ErrEvaluation creates an evaluation error.
func ErrEvaluation(message string) *DomainError {
	return &DomainError{
		Category: ErrCatEvaluation,
		Code:     CodeEvaluationFailed,
		Message:  message,
	}
}

// ErrCheckpointWrite creates a checkpoint write error. It is logged, never fatal.
func ErrCheckpointWrite(runID string, cause error) *DomainError {
	return &DomainError{
		Category: ErrCatCheckpoint,
		Code:     CodeCheckpointWrite,
		Message:  "writing checkpoint for run " + runID,
		Cause:    cause,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCatTimeout
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// ErrorClass reports the coarse class recorded for failed subtasks.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case IsRetryable(err), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	default:
		return ClassPermanent
	}
}

// ClassifyHTTPStatus converts a non-2xx upstream status into a domain error.
// 429 and 5xx are transient; every other 4xx is permanent.
func ClassifyHTTPStatus(gateway string, status int, body string) error {
	msg := fmt.Sprintf("%s returned HTTP %d", gateway, status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimit(msg).WithDetail("gateway", gateway)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrTimeout(msg).WithDetail("gateway", gateway)
	case status >= 500:
		return ErrTransientGateway(gateway, msg).WithDetail("status", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth(msg).WithDetail("gateway", gateway)
	default:
		return ErrPermanentGateway(gateway, msg).WithDetail("status", status)
	}
}

// Error classes recorded in subtask failures.
const (
	ClassTransient = "transient"
	ClassPermanent = "permanent"
)

// Predefined error codes
const (
	CodeTimeout            = "TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeGatewayUnavailable = "GATEWAY_UNAVAILABLE"
	CodeGatewayRejected    = "GATEWAY_REJECTED"
	CodeAuthFailed         = "AUTH_FAILED"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidState       = "INVALID_STATE"
	CodeStateCorrupted     = "STATE_CORRUPTED"
	CodeSchemaUnsupported  = "SCHEMA_UNSUPPORTED"
	CodePlanningFailed     = "PLANNING_FAILED"
	CodeEvaluationFailed   = "EVALUATION_FAILED"
	CodeCheckpointWrite    = "CHECKPOINT_WRITE_FAILED"

	// Validation error codes
	CodeEmptyQuery      = "EMPTY_QUERY"
	CodeQueryTooLong    = "QUERY_TOO_LONG"
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeInvalidSubtask  = "INVALID_SUBTASK"
	CodeInvalidFinding  = "INVALID_FINDING"
	CodeTooManyQueries  = "TOO_MANY_QUERIES"
	CodeMalformedOutput = "MALFORMED_OUTPUT"

	// Execution error codes
	CodeNoFindings   = "NO_FINDINGS"
	CodeSearchFailed = "SEARCH_FAILED"
	CodeAbandoned    = "ABANDONED"
)

// MaxQueryLength is the maximum accepted research query length.
const MaxQueryLength = 4000

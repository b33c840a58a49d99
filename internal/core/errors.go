package core

import "fmt"

// Machine-readable error codes surfaced to API clients.
const (
	ErrCodeInvalidRequest = "invalid_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeNotReady       = "not_ready"
	ErrCodeInternal       = "internal"
)

// Error is the caller-facing error type. Failures below the job level
// (a single file, a single enumeration call, a single tier write) are
// absorbed into job state instead of becoming an Error.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequestError reports malformed input rejected before any
// work starts.
func NewInvalidRequestError(message string, details map[string]any) *Error {
	return &Error{Code: ErrCodeInvalidRequest, Message: message, Details: details}
}

// NewNotFoundError reports a resource unknown in all tiers.
func NewNotFoundError(resource, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s %q not found", resource, id),
		Details: map[string]any{"id": id},
	}
}

// NewNotReadyError reports an archive requested before the job completed.
func NewNotReadyError(id string, status JobStatus) *Error {
	return &Error{
		Code:    ErrCodeNotReady,
		Message: fmt.Sprintf("job %q archive not ready (status %s)", id, status),
		Details: map[string]any{"id": id, "status": string(status)},
	}
}

// NewInternalError wraps an unexpected failure for the API boundary.
func NewInternalError(message string) *Error {
	return &Error{Code: ErrCodeInternal, Message: message}
}

package approvals

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories. Every error returned by System wraps exactly one of these.
var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
	ErrConflict       = errors.New("conflict")
)

// Error is a categorized failure with a human-readable reason.
// errors.Is matches its category; Error returns only the reason.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func reasoned(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

const (
	reasonFactNotFound   = "Fact not found"
	reasonSourceNotFound = "Source %s %s not found"
	reasonClearance      = "Insufficient clearance to access this fact"
	reasonCommentNeeded  = "Comments are required for this action"
	reasonReasonNeeded   = "A rejection reason or comment is required"
	reasonConflict       = "Fact was modified by another request; reload and retry"
	reasonNotQualified   = "Fact does not meet the auto-approval criteria for direct approval"
)

// MapHTTPStatus maps approval errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

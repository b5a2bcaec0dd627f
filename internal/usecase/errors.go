package usecase

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation  ErrorCode = "VALIDATION_ERROR"
	ErrorUpstream    ErrorCode = "UPSTREAM_ERROR"
	ErrorProcessing  ErrorCode = "PROCESSING_ERROR"
	ErrorNotFound    ErrorCode = "NOT_FOUND"
	ErrorRateLimited ErrorCode = "RATE_LIMITED"
	ErrorInternal    ErrorCode = "INTERNAL_ERROR"
)

// Error is the only error type services return to the handler. Detail is the
// client-facing message; Reason is a stable machine tag for logs.
type Error struct {
	Code   ErrorCode
	Reason string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s): %s", e.Code, e.Reason, e.Detail)
	}
	return fmt.Sprintf("usecase: %s (%s): %s: %v", e.Code, e.Reason, e.Detail, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason, detail string, err error) *Error {
	return &Error{Code: code, Reason: reason, Detail: detail, Err: err}
}

// AsError extracts a *Error from err. Anything else is reported as internal.
func AsError(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	return newError(ErrorInternal, "unexpected", "Internal server error", err)
}

// RateLimited builds the error returned when a client exceeds its quota.
func RateLimited() *Error {
	return newError(ErrorRateLimited, "rate_limited", "Rate limit exceeded", nil)
}

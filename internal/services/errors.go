package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a pipeline failure
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindMethodNotAllowed ErrorKind = "method_not_allowed"
	KindUnsafeTarget     ErrorKind = "unsafe_target"
	KindMalformedTarget  ErrorKind = "malformed_target"
	KindMissingKey       ErrorKind = "missing_key"
	KindInvalidKey       ErrorKind = "invalid_key"
	KindRateLimited      ErrorKind = "rate_limited"
	KindUpstream         ErrorKind = "upstream"
	KindUpstreamTimeout  ErrorKind = "upstream_timeout"
	KindInternal         ErrorKind = "internal"
	KindBadRequest       ErrorKind = "bad_request"
)

// Error is a classified pipeline error carrying the HTTP status returned to the caller
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates an Error
func NewError(kind ErrorKind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

// WrapError creates an Error around a cause
func WrapError(kind ErrorKind, status int, message string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Message: message, Cause: cause}
}

// ErrNotFound is returned for unknown and non-active slugs alike
func ErrNotFound() *Error {
	return NewError(KindNotFound, http.StatusBadRequest, "Endpoint not found")
}

func ErrMethodNotAllowed(method string) *Error {
	return NewError(KindMethodNotAllowed, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed for this endpoint", method))
}

func ErrUnsafeTarget(reason string) *Error {
	return NewError(KindUnsafeTarget, http.StatusForbidden, "Target URL not allowed: "+reason)
}

func ErrMalformedTarget(cause error) *Error {
	return WrapError(KindMalformedTarget, http.StatusBadRequest, "Invalid target URL", cause)
}

func ErrMissingKey() *Error {
	return NewError(KindMissingKey, http.StatusUnauthorized, "API Key required")
}

func ErrInvalidKey() *Error {
	return NewError(KindInvalidKey, http.StatusUnauthorized, "Invalid API Key")
}

func ErrRateLimited() *Error {
	return NewError(KindRateLimited, http.StatusTooManyRequests, "Rate limit exceeded")
}

// ErrUpstreamStatus reports a non-2xx answer from the target
func ErrUpstreamStatus(status int) *Error {
	return NewError(KindUpstream, status, fmt.Sprintf("Request failed with status code %d", status))
}

func ErrUpstream(cause error) *Error {
	return WrapError(KindUpstream, http.StatusInternalServerError, "Upstream request failed", cause)
}

func ErrUpstreamTimeout(cause error) *Error {
	return WrapError(KindUpstreamTimeout, http.StatusGatewayTimeout, "Upstream request timed out", cause)
}

func ErrInternal(cause error) *Error {
	return WrapError(KindInternal, http.StatusInternalServerError, "Internal server error", cause)
}

func ErrBodyTooLarge() *Error {
	return NewError(KindBadRequest, http.StatusRequestEntityTooLarge, "Request body too large")
}

func ErrInvalidBody(cause error) *Error {
	return WrapError(KindBadRequest, http.StatusBadRequest, "Invalid request body", cause)
}

// AsError extracts an *Error from err, classifying anything else as internal
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal(err)
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

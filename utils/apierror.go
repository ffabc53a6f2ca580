package utils

import (
	"errors"
	"net/http"
)

// Kind classifies an APIError and decides its HTTP status.
type Kind int

const (
	KindServer Kind = iota
	KindBadRequest
	KindUnauthorized
	KindInvalidToken
	KindForbidden
	KindNotFound
	KindConflict
	KindInvalidOTP
	KindTooManyRequests
)

var kindStatus = map[Kind]int{
	KindServer:          http.StatusInternalServerError,
	KindBadRequest:      http.StatusBadRequest,
	KindUnauthorized:    http.StatusUnauthorized,
	KindInvalidToken:    http.StatusUnauthorized,
	KindForbidden:       http.StatusForbidden,
	KindNotFound:        http.StatusNotFound,
	KindConflict:        http.StatusConflict,
	KindInvalidOTP:      http.StatusBadRequest,
	KindTooManyRequests: http.StatusTooManyRequests,
}

// APIError is the error type returned by services. Message is safe to show to
// clients; Err keeps the underlying cause for logs.
type APIError struct {
	Kind    Kind
	Message string
	Errors  []string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the error kind.
func (e *APIError) Status() int {
	if s, ok := kindStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func newAPIError(kind Kind, msg string, details ...string) *APIError {
	return &APIError{Kind: kind, Message: msg, Errors: details}
}

func BadRequest(msg string, details ...string) *APIError {
	return newAPIError(KindBadRequest, msg, details...)
}

func Unauthorized(msg string) *APIError { return newAPIError(KindUnauthorized, msg) }

func InvalidToken(msg string) *APIError { return newAPIError(KindInvalidToken, msg) }

func Forbidden(msg string) *APIError { return newAPIError(KindForbidden, msg) }

func NotFound(msg string) *APIError { return newAPIError(KindNotFound, msg) }

func Conflict(msg string) *APIError { return newAPIError(KindConflict, msg) }

func InvalidOTP(msg string) *APIError { return newAPIError(KindInvalidOTP, msg) }

func TooManyRequests(msg string) *APIError { return newAPIError(KindTooManyRequests, msg) }

// ServerError wraps an unexpected persistence or external-service failure.
func ServerError(msg string, err error) *APIError {
	return &APIError{Kind: KindServer, Message: msg, Err: err}
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind Kind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}

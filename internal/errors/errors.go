// Package errors defines the service error type shared by handlers and middleware.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest    ErrorCode = "BAD_REQUEST"
	CodeUnauthorized  ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken  ErrorCode = "INVALID_TOKEN"
	CodeForbidden     ErrorCode = "FORBIDDEN"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"
	CodeRateLimited   ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUpstream      ErrorCode = "UPSTREAM_ERROR"
	CodeNotConfigured ErrorCode = "NOT_CONFIGURED"
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error that knows how it should be rendered over HTTP.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail key to the error and returns it.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a ServiceError.
func New(code ErrorCode, status int, message string) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status}
}

func BadRequest(message string) *ServiceError {
	return New(CodeBadRequest, http.StatusBadRequest, message)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Unauthorized"
	}
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

// InvalidToken wraps a token validation failure.
func InvalidToken(err error) *ServiceError {
	e := New(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token")
	e.Err = err
	return e
}

func Forbidden(message string) *ServiceError {
	return New(CodeForbidden, http.StatusForbidden, message)
}

func NotFound(message string) *ServiceError {
	return New(CodeNotFound, http.StatusNotFound, message)
}

func Conflict(message string) *ServiceError {
	return New(CodeConflict, http.StatusConflict, message)
}

// RateLimitExceeded reports that the caller exceeded limit requests per window.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded").
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Upstream reports a failing third-party dependency. A status of 0 maps to 502.
func Upstream(status int, message string, err error) *ServiceError {
	if status == 0 {
		status = http.StatusBadGateway
	}
	e := New(CodeUpstream, status, message)
	e.Err = err
	return e
}

// NotConfigured reports a missing server-side credential or setting.
func NotConfigured(message string) *ServiceError {
	return New(CodeNotConfigured, http.StatusInternalServerError, message)
}

func Internal(message string, err error) *ServiceError {
	e := New(CodeInternal, http.StatusInternalServerError, message)
	e.Err = err
	return e
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// Is and As re-export the standard library helpers so callers importing this
// package under the name "errors" keep access to them.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

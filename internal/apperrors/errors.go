// Package apperrors provides unified error handling for the broker.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies one of the error kinds callers of the broker can observe (§7).
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeForbidden           Code = "FORBIDDEN"
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeBusy                Code = "BUSY"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeTimedOut            Code = "TIMED_OUT"
	CodeInternal            Code = "INTERNAL"
)

// BrokerError is a structured error with a code, a message, an HTTP status,
// and optional structured details for the bad-request case.
type BrokerError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a structured reason (used by bad-request validation errors).
func (e *BrokerError) WithDetails(key string, value interface{}) *BrokerError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *BrokerError {
	return &BrokerError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(code Code, message string, httpStatus int, err error) *BrokerError {
	return &BrokerError{Code: code, Message: message, HTTPStatus: httpStatus, Err: err}
}

// NotFound indicates an unknown engine id or job id.
func NotFound(resource, id string) *BrokerError {
	return New(CodeNotFound, "resource not found", http.StatusNotFound).
		WithDetails("resource", resource).
		WithDetails("id", id)
}

// Forbidden indicates a client or provider secret did not match.
func Forbidden(message string) *BrokerError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

// BadRequest indicates an invalid work description (position, moves, out-of-bounds parameter).
func BadRequest(reason string) *BrokerError {
	return New(CodeBadRequest, "invalid request", http.StatusBadRequest).WithDetails("reason", reason)
}

// Busy indicates the broker's active-session cap has been reached.
func Busy() *BrokerError {
	return New(CodeBusy, "broker is at capacity", http.StatusTooManyRequests)
}

// UpstreamUnavailable indicates the Registry could not be reached.
func UpstreamUnavailable(err error) *BrokerError {
	return Wrap(CodeUpstreamUnavailable, "registry unavailable", http.StatusBadGateway, err)
}

// TimedOut indicates an acquire long-poll deadline elapsed with no job.
func TimedOut() *BrokerError {
	return New(CodeTimedOut, "timed out waiting for work", http.StatusGatewayTimeout)
}

// Internal wraps an unexpected internal failure.
func Internal(message string, err error) *BrokerError {
	return Wrap(CodeInternal, message, http.StatusInternalServerError, err)
}

// As extracts a *BrokerError from an error chain.
func As(err error) (*BrokerError, bool) {
	var be *BrokerError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// HTTPStatus returns the HTTP status code for an error, defaulting to 500.
func HTTPStatus(err error) int {
	if be, ok := As(err); ok {
		return be.HTTPStatus
	}
	return http.StatusInternalServerError
}

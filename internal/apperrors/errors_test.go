package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerError_ErrorString(t *testing.T) {
	plain := New(CodeNotFound, "no such engine", http.StatusNotFound)
	assert.Equal(t, "[NOT_FOUND] no such engine", plain.Error())

	wrapped := Wrap(CodeInternal, "lookup failed", http.StatusInternalServerError, errors.New("boom"))
	assert.Equal(t, "[INTERNAL] lookup failed: boom", wrapped.Error())
	assert.Equal(t, "boom", errors.Unwrap(wrapped).Error())
}

func TestWithDetails(t *testing.T) {
	err := BadRequest("illegal move").WithDetails("move", "e2e5")
	require.NotNil(t, err.Details)
	assert.Equal(t, "illegal move", err.Details["reason"])
	assert.Equal(t, "e2e5", err.Details["move"])
}

func TestAsAndHTTPStatus(t *testing.T) {
	err := Busy()
	be, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, CodeBusy, be.Code)
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(err))

	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain error")))
}

func TestNotFoundDetails(t *testing.T) {
	err := NotFound("engine", "abc123")
	assert.Equal(t, "abc123", err.Details["id"])
	assert.Equal(t, "engine", err.Details["resource"])
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
}

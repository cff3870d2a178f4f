package httputil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/external-engine-broker/internal/logging"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"ok": "yes"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "yes", body["ok"])
}

func TestWriteErrorResponse_IncludesTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-123"))
	rec := httptest.NewRecorder()

	WriteErrorResponse(rec, req, http.StatusNotFound, "NOT_FOUND", "no such engine", map[string]any{"id": "e1"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "trace-123", rec.Header().Get("X-Trace-ID"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "NOT_FOUND", resp.Code)
	assert.Equal(t, "no such engine", resp.Message)
	assert.Equal(t, "trace-123", resp.TraceID)
}

func TestDecodeJSON_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/x", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()

	var dst struct{}
	ok := DecodeJSON(rec, req, &dst)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryInt_DefaultOnMissingOrInvalid(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?n=7", nil)
	assert.Equal(t, 7, QueryInt(req, "n", 1))
	assert.Equal(t, 1, QueryInt(req, "missing", 1))

	bad := httptest.NewRequest(http.MethodGet, "/x?n=nope", nil)
	assert.Equal(t, 1, QueryInt(bad, "n", 1))
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	assert.Equal(t, "203.0.113.5", ClientIP(req))

	req2 := httptest.NewRequest(http.MethodGet, "/x", nil)
	req2.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", ClientIP(req2))
}

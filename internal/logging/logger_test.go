package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogRequest_WritesJSONWithFields(t *testing.T) {
	logger := New("broker", "info", "json")
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	logger.LogRequest(ctx, "POST", "/api/external-engine/work", 200, 5*time.Millisecond)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "broker", fields["service"])
	assert.Equal(t, "POST", fields["method"])
	assert.Equal(t, float64(200), fields["status_code"])
}

func TestContextHelpers_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "t1")
	ctx = WithJobID(ctx, "j1")
	ctx = WithUserID(ctx, "u1")

	assert.Equal(t, "t1", GetTraceID(ctx))
	assert.Equal(t, "j1", GetJobID(ctx))
	assert.Equal(t, "u1", GetUserID(ctx))
	assert.Equal(t, "", GetTraceID(context.Background()))
}

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
	logger := NewFromEnv("broker")
	assert.NotNil(t, logger)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestNewTraceID_Unique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}

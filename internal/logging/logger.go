// Package logging provides structured logging with trace and job id support.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried alongside a request or job.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	JobIDKey   ContextKey = "job_id"
	UserIDKey  ContextKey = "user_id"
)

// Logger wraps logrus.Logger with fields the broker attaches to every line.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for the given service name, level, and format ("json" or "text").
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL / LOG_FORMAT, defaulting to info/json.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns an entry carrying the trace id, job id, and user id found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if jobID := ctx.Value(JobIDKey); jobID != nil {
		entry = entry.WithField("job_id", jobID)
	}
	if userID := ctx.Value(UserIDKey); userID != nil {
		entry = entry.WithField("user_id", userID)
	}
	return entry
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func GetJobID(ctx context.Context) string {
	if jobID, ok := ctx.Value(JobIDKey).(string); ok {
		return jobID
	}
	return ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// LogRequest logs one completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

// LogJobEvent logs a lifecycle event for a job (enqueued, acquired, completed, cancelled).
func (l *Logger) LogJobEvent(ctx context.Context, jobID, engineID, event string, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"job_id":    jobID,
		"engine_id": engineID,
		"event":     event,
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Info("job event")
}

// LogAcquireAttempt logs one provider long-poll outcome.
func (l *Logger) LogAcquireAttempt(ctx context.Context, engineIDs []string, matched bool, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"engine_ids":  engineIDs,
		"matched":     matched,
		"duration_ms": duration.Milliseconds(),
	}).Info("acquire attempt")
}

// LogSessionTransition logs a JobSession lifecycle state transition.
func (l *Logger) LogSessionTransition(ctx context.Context, jobID string, from, to string, reason string) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"job_id": jobID,
		"from":   from,
		"to":     to,
	})
	if reason != "" {
		entry = entry.WithField("reason", reason)
	}
	entry.Info("session transition")
}

package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeyJobID     contextKey = "job_id"
	ContextKeyExamID    contextKey = "exam_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithJobID adds an upload job ID to the context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the upload job ID from context
func JobIDFromContext(ctx context.Context) string {
	if jobID, ok := ctx.Value(ContextKeyJobID).(string); ok {
		return jobID
	}
	return ""
}

// WithExamID adds an exam ID to the context
func WithExamID(ctx context.Context, examID string) context.Context {
	return context.WithValue(ctx, ContextKeyExamID, examID)
}

// ExamIDFromContext extracts the exam ID from context
func ExamIDFromContext(ctx context.Context) string {
	if examID, ok := ctx.Value(ContextKeyExamID).(string); ok {
		return examID
	}
	return ""
}

// LoggerFromContext returns logger enriched with the job, exam and request ids found in ctx.
func LoggerFromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id := JobIDFromContext(ctx); id != "" {
		logger = logger.With("job_id", id)
	}
	if id := ExamIDFromContext(ctx); id != "" {
		logger = logger.With("exam_id", id)
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With("request_id", id)
	}
	return logger
}

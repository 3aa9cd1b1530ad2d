package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if phase := PhaseFromContext(ctx); phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}
	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task.id", taskID))
	}

	return fields
}

// Context key types
type runCtxKey struct{}
type phaseCtxKey struct{}
type taskCtxKey struct{}
type loggerCtxKey struct{}

// WithRunID tags the context with the pipeline run identity.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithPhase tags the context with the executing phase name.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// PhaseFromContext extracts the phase name from context.
func PhaseFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(phaseCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithTaskID tags the context with the task being iterated.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// TaskIDFromContext extracts the task ID from context.
func TaskIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(taskCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

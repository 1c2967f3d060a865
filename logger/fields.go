package logger

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/grove/sym"
)

// Standard field names for structured logging across grove.
const (
	// Identity
	FieldJobID       = "job_id"
	FieldExecutionID = "execution_id"
	FieldUserID      = "user_id"
	FieldTaskID      = "task_id"
	FieldSessionID   = "session_id"

	// Components
	FieldComponent = "component"
	FieldSymbol    = "symbol"

	// Scheduling
	FieldCadence    = "cadence"
	FieldTrigger    = "trigger"
	FieldNextRunAt  = "next_run_at"
	FieldErrorCount = "error_count"
	FieldMaxRetries = "max_retries"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError  = "error"
	FieldReason = "reason"

	// Counts
	FieldCount = "count"

	// Status
	FieldStatus = "status"
)

type contextKey string

const (
	jobIDKey       contextKey = "logger_job_id"
	executionIDKey contextKey = "logger_execution_id"
	componentKey   contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context as key-value pairs.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if executionID, ok := ctx.Value(executionIDKey).(string); ok && executionID != "" {
		fields = append(fields, FieldExecutionID, executionID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// WithSymbol returns log with the component glyph attached as a field,
// keeping the glyph out of the message text.
func WithSymbol(log *zap.SugaredLogger, glyph string) *zap.SugaredLogger {
	if log == nil {
		log = Logger
	}
	return log.With(FieldSymbol, glyph)
}

// AddPulseSymbol attaches the scheduler glyph.
func AddPulseSymbol(log *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(log, sym.Pulse)
}

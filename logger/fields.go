package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging across exportd.
// Use these constants instead of raw strings to keep dashboards stable.
const (
	// Identity and context
	FieldJobID       = "job_id"
	FieldJobName     = "job_name"
	FieldEntryID     = "entry_id"
	FieldExecutionID = "execution_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"

	// Scheduling
	FieldFireTime = "fire_time"
	FieldAttempt  = "attempt"
	FieldPolicy   = "policy"
	FieldWindow   = "window"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts
	FieldRows  = "rows"
	FieldCount = "count"

	// Files
	FieldFile = "file"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID int64) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(int64); ok {
		fields = append(fields, FieldJobID, jobID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Scheduler struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewScheduler() *Scheduler {
//	    return &Scheduler{
//	        logger: logger.ComponentLogger("pulse.schedule"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

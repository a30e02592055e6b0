// Package logger provides the structured logging contract used by every txcoord component.
package logger

import (
	"context"
)

// Logger defines the interface for structured logging.
// All log methods accept a message string followed by key-value pairs for structured fields.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info-level message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning-level message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error-level message with optional key-value pairs
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger carrying the unit-of-work id found in ctx
	WithContext(ctx context.Context) Logger
}

type contextKey string

const unitOfWorkKey contextKey = "unit_of_work_id"

// ContextWithUnitOfWork stores the unit-of-work id picked up by WithContext.
func ContextWithUnitOfWork(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, unitOfWorkKey, id)
}

// UnitOfWorkFromContext returns the unit-of-work id stored in ctx, if any.
func UnitOfWorkFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(unitOfWorkKey).(string)
	return id
}

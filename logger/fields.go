package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across promptlab.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Registry entities
	FieldPrompt     = "prompt"
	FieldVersion    = "version"
	FieldExperiment = "experiment"
	FieldVariant    = "variant"
	FieldSubject    = "subject"
	FieldMetric     = "metric"

	// Components
	FieldComponent = "component"
	FieldBackend   = "backend"

	// Operations
	FieldOperation = "operation"
	FieldPath      = "path"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount  = "count"
	FieldTrials = "trials"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Engine struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewEngine() *Engine {
//	    return &Engine{
//	        logger: logger.ComponentLogger("experiment.engine"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}

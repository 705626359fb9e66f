// Package errors provides error handling for promptlab.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Typed sentinel errors for the registry's failure taxonomy
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle unknown prompt
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors for the registry's failure taxonomy.
// Use these with errors.Is() for type-safe error checking and wrap them with
// errors.Wrap()/Wrapf() to add context while preserving the type.
var (
	// ErrNotFound indicates an unknown prompt or experiment name.
	ErrNotFound = New("not found")

	// ErrVersionNotFound indicates a version number outside a prompt's history.
	ErrVersionNotFound = New("version not found")

	// ErrValidation indicates a malformed experiment configuration,
	// e.g. mismatched variant/weight keys or fewer than two variants.
	ErrValidation = New("validation failed")

	// ErrInvalidState indicates an operation illegal in the current lifecycle
	// state, e.g. concluding an experiment twice.
	ErrInvalidState = New("invalid state")

	// ErrUnknownVariant indicates an outcome reported for a variant that is
	// not part of the active experiment.
	ErrUnknownVariant = New("unknown variant")

	// ErrRender indicates a template could not be rendered, either from a
	// syntax error or a missing variable.
	ErrRender = New("render failed")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidation checks if an error is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// NewNotFound creates a not-found error with a formatted message.
func NewNotFound(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidation creates a validation error with a formatted message.
func NewValidation(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}

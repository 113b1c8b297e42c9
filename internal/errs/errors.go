// Package errs provides the unified error type used across all of vdiag.
//
// Every subsystem (config, pool, query, templatestore, server, …) wraps its
// native errors into *errs.Error before returning them to callers. Callers
// use the Is* predicates to handle errors without importing driver-specific
// packages.
//
// Usage:
//
//	// In the dialer — wrap native errors:
//	return errs.Wrap(errs.ErrKindConnectionFailed, "dial failed", dErr)
//
//	// In a handler — check error kind:
//	if errs.IsUnknownTemplate(err) {
//	    http.Error(w, "unknown template", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends map their native errors to one of these kinds, giving
// callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no object, no bucket
	ErrKindConnectionFailed         // no candidate host reachable or authenticable
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied / schema not allow-listed
	ErrKindValidation               // profile or configuration malformed or incomplete
	ErrKindAcquireTimeout           // pool lease wait exceeded the caller's deadline
	ErrKindUnknownTemplate          // caller named a template that is not in the catalog
	ErrKindMissingParameter         // template invoked without a required parameter
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindValidation:
		return "validation"
	case ErrKindAcquireTimeout:
		return "acquire_timeout"
	case ErrKindUnknownTemplate:
		return "unknown_template"
	case ErrKindMissingParameter:
		return "missing_parameter"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all vdiag subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing object, unknown table/bucket, …).
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a SQL execution error.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsValidation reports whether err is a configuration or profile validation failure.
func IsValidation(err error) bool {
	return KindOf(err) == ErrKindValidation
}

// IsAcquireTimeout reports whether err is a pool lease timeout.
// Callers may retry or surface a user-facing timeout.
func IsAcquireTimeout(err error) bool {
	return KindOf(err) == ErrKindAcquireTimeout
}

// IsUnknownTemplate reports whether err names a template missing from the catalog.
func IsUnknownTemplate(err error) bool {
	return KindOf(err) == ErrKindUnknownTemplate
}

// IsMissingParameter reports whether err is a template invocation missing a
// required parameter.
func IsMissingParameter(err error) bool {
	return KindOf(err) == ErrKindMissingParameter
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

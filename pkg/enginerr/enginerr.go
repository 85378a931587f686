// Package enginerr enumerates the error kinds shared across the engine's
// components (§7) and provides helpers for classifying and wrapping errors
// so that callers can branch on kind without string matching, the way the
// synchronization core distinguishes cancellation from other scan failures.
package enginerr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of an engine error, independent of the
// component that produced it.
type Kind uint8

const (
	// KindUnknown is the zero value and indicates an unclassified error.
	KindUnknown Kind = iota
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindConflictingPaths
	KindCancelled
	KindTimeout
	KindVerificationFailed
	KindInsufficientSpace
	KindMountFailed
	KindIndexPermissionDenied
	KindDiskNotConnected
	KindCorrupt
	KindUnavailable
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindAlreadyExists:
		return "already_exists"
	case KindConflictingPaths:
		return "conflicting_paths"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindVerificationFailed:
		return "verification_failed"
	case KindInsufficientSpace:
		return "insufficient_space"
	case KindMountFailed:
		return "mount_failed"
	case KindIndexPermissionDenied:
		return "index_permission_denied"
	case KindDiskNotConnected:
		return "disk_not_connected"
	case KindCorrupt:
		return "corrupt"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carrying a Kind alongside the usual
// message and (optional) wrapped cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

// New creates a new Error of the given kind with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Wrap creates a new Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{kind: kind, message: message, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap implements the interface consulted by errors.Unwrap/errors.Is/As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Kind returns the error's kind.
func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf extracts the Kind from err, walking the wrap chain. It returns
// KindUnknown if err is nil or does not wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Is reports whether err's kind (anywhere in its wrap chain) equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// VerificationFailed builds the §7 VerificationFailed(expected, actual) kind
// with both digests rendered into the message for log legibility.
func VerificationFailed(path, expected, actual string) *Error {
	return New(KindVerificationFailed, fmt.Sprintf("verification failed for %q: expected %s, got %s", path, expected, actual))
}

// InsufficientSpace builds the §7 InsufficientSpace(required, available)
// kind.
func InsufficientSpace(required, available uint64) *Error {
	return New(KindInsufficientSpace, fmt.Sprintf("insufficient space: need %d bytes, have %d", required, available))
}

// Recoverable reports whether errors of this kind leave the affected
// component able to retry on its own (scheduler tick or user action) rather
// than requiring the global state to move to error, per §7.
func (k Kind) Recoverable() bool {
	switch k {
	case KindCorrupt, KindMountFailed, KindIndexPermissionDenied:
		return false
	default:
		return true
	}
}

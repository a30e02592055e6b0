// Package txerr defines the error taxonomy shared by the connection, transaction and
// session packages. Callers classify failures with errors.Is against the sentinels.
package txerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration classifies invalid construction options.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrAcquisition classifies failures obtaining a physical connection.
	ErrAcquisition = errors.New("unable to acquire connection")
	// ErrRelease classifies failures releasing a physical connection.
	ErrRelease = errors.New("unable to release connection")
	// ErrInvalidDelegate classifies use of a driver control after its transaction completed.
	ErrInvalidDelegate = errors.New("transaction driver control is no longer valid")
	// ErrPlatformInaccessible classifies a platform exposing neither a transaction manager
	// nor a user transaction.
	ErrPlatformInaccessible = errors.New("transaction platform inaccessible")
	// ErrClosedResource classifies operations on a closed connection or session.
	ErrClosedResource = errors.New("resource closed")
	// ErrIllegalState classifies operations not permitted in the current state.
	ErrIllegalState = errors.New("illegal state")
	// ErrAlreadyJoined classifies an attempt to register the completion callback twice.
	ErrAlreadyJoined = errors.New("completion callback already registered")
	// ErrClose classifies failures while closing a session.
	ErrClose = errors.New("close failed")
	// ErrTransaction classifies failures reported by a physical or external transaction.
	ErrTransaction = errors.New("transaction failure")
	// ErrOperation classifies unclassified failures of a unit-of-work operation.
	ErrOperation = errors.New("operation failed")
)

var kinds = []error{
	ErrConfiguration, ErrAcquisition, ErrRelease, ErrInvalidDelegate, ErrPlatformInaccessible,
	ErrClosedResource, ErrIllegalState, ErrAlreadyJoined, ErrClose, ErrTransaction, ErrOperation,
}

// Classified reports whether err already matches one of the package sentinels.
func Classified(err error) bool {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// New returns kind annotated with message. An empty message returns kind unchanged.
func New(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// Newf is New with a format string.
func Newf(kind error, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies cause under kind. Both remain reachable through errors.Is and errors.As.
// A nil cause yields nil.
func Wrap(kind error, message string, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		if message == "" {
			return cause
		}
		return fmt.Errorf("%s: %w", message, cause)
	}
	if message == "" {
		return fmt.Errorf("%w: %w", kind, cause)
	}
	return fmt.Errorf("%w: %s: %w", kind, message, cause)
}

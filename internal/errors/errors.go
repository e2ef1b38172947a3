// Package errors provides centralized error definitions for the
// coordination engine. It defines the caller-correctable error
// taxonomy (conflicts, ownership violations, capacity limits, state
// machine violations), typed errors carrying structured context, and
// classification helpers used by the API layer to map errors to
// responses.
//
// All errors defined here are recoverable: they are surfaced
// synchronously to the caller and are never fatal to the service
// process. The only process-fatal condition in the engine is the
// backing store losing its atomicity guarantee, which is checked at
// startup (see the store package).
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors for caller-correctable conditions.
var (
	// ErrConflict indicates a file lock is already held by another instance.
	ErrConflict = New("lock held by another instance")
	// ErrNotHolder indicates a release/extend/complete by a caller that is
	// not the current holder.
	ErrNotHolder = New("caller is not the holder")
	// ErrNotFound indicates a referenced entity is absent, or expired and
	// already swept.
	ErrNotFound = New("not found")
	// ErrCapacityExceeded indicates a machine is at its concurrent-session limit.
	ErrCapacityExceeded = New("machine session capacity exceeded")
	// ErrMachineOffline indicates the target machine is not online.
	ErrMachineOffline = New("machine is offline")
	// ErrInvalidTransition indicates a state-machine violation, such as
	// resizing a closed session.
	ErrInvalidTransition = New("invalid state transition")
	// ErrInvalidInput indicates input validation failed.
	ErrInvalidInput = New("invalid input")
)

// ConflictError is returned when a lock acquisition fails because a
// different instance holds a non-expired lock on the same path. It
// wraps ErrConflict and carries the holder and expiry so the caller
// can decide whether to wait, back off, or request a forced takeover.
type ConflictError struct {
	ProjectID string
	Path      string
	Holder    string
	ExpiresAt time.Time
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("lock on %s held by %s until %s",
		e.Path, e.Holder, e.ExpiresAt.UTC().Format(time.RFC3339))
}

// Unwrap makes errors.Is(err, ErrConflict) work.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError is returned when a referenced entity does not exist.
// It wraps ErrNotFound and identifies the entity kind and ID.
type NotFoundError struct {
	Kind string // "task", "lock", "session", "machine", "instance", "project"
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Unwrap makes errors.Is(err, ErrNotFound) work.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound creates a NotFoundError for the given entity.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransitionError is returned on a state-machine violation. It wraps
// ErrInvalidTransition and records the entity, its current state, and
// the attempted operation.
type TransitionError struct {
	Kind string
	ID   string
	From string
	Op   string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Kind, e.ID, e.From)
}

// Unwrap makes errors.Is(err, ErrInvalidTransition) work.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsRecoverable reports whether err belongs to the caller-correctable
// taxonomy. Anything outside it is treated as an internal error by the
// API layer.
func IsRecoverable(err error) bool {
	for _, sentinel := range []error{
		ErrConflict, ErrNotHolder, ErrNotFound, ErrCapacityExceeded,
		ErrMachineOffline, ErrInvalidTransition, ErrInvalidInput,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

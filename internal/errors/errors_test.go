package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestConflictErrorUnwrapsToSentinel(t *testing.T) {
	err := &ConflictError{
		ProjectID: "p1",
		Path:      "src/app.js",
		Holder:    "inst-a",
		ExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	if !Is(err, ErrConflict) {
		t.Error("ConflictError should match ErrConflict")
	}

	var ce *ConflictError
	if !As(err, &ce) {
		t.Fatal("As should extract *ConflictError")
	}
	if ce.Holder != "inst-a" {
		t.Errorf("Holder = %q, want inst-a", ce.Holder)
	}
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{
		Path:      "src/app.js",
		Holder:    "inst-a",
		ExpiresAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	want := "lock on src/app.js held by inst-a until 2026-03-01T12:00:00Z"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestNotFoundWrapping(t *testing.T) {
	err := NewNotFound("task", "t1")
	if !Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}

	wrapped := fmt.Errorf("claim: %w", err)
	if !Is(wrapped, ErrNotFound) {
		t.Error("wrapped NotFoundError should still match ErrNotFound")
	}
}

func TestTransitionError(t *testing.T) {
	err := &TransitionError{Kind: "session", ID: "s1", From: "closed", Op: "resize"}
	if !Is(err, ErrInvalidTransition) {
		t.Error("TransitionError should match ErrInvalidTransition")
	}
	want := "cannot resize session s1 in state closed"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []error{
		ErrConflict,
		ErrNotHolder,
		NewNotFound("lock", "l1"),
		ErrCapacityExceeded,
		ErrMachineOffline,
		&TransitionError{Kind: "task", ID: "t1", From: "completed", Op: "release"},
		fmt.Errorf("wrapped: %w", ErrMachineOffline),
	}
	for _, err := range recoverable {
		if !IsRecoverable(err) {
			t.Errorf("IsRecoverable(%v) = false, want true", err)
		}
	}

	if IsRecoverable(New("disk on fire")) {
		t.Error("arbitrary error should not be recoverable")
	}
	if IsRecoverable(nil) {
		t.Error("nil should not be recoverable")
	}
}

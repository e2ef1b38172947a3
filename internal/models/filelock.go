package models

import "time"

// FileLock is an exclusive, time-bounded claim on a normalized file
// path within a project. A lock whose expiry has passed is logically
// gone even before the cleanup sweep deletes the row.
type FileLock struct {
	ID         string
	ProjectID  string
	Path       string
	HolderID   string // instance ID
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lock has passed its expiry at the given
// instant.
func (l *FileLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

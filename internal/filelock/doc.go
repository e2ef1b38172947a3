// Package filelock provides advisory, exclusive, time-bounded locks on
// project file paths so concurrent agent instances do not edit the same
// file at once.
//
// Locks are distributed TTL leases, not OS file locks: the lease lives
// in the store and expiry is logical. A lock whose expires_at has
// passed is treated as absent by every operation at check time; the
// periodic sweep that deletes expired rows is garbage collection only
// and correctness never waits for it.
//
// Paths are normalized before use (slash form, cleaned, project
// relative) so "a/b.go", "./a/b.go" and "a/../a/b.go" contend for the
// same lock.
package filelock

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
)

func TestAcquireFileLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, insts := seedProject(t, s, 2)

	now := time.Now()
	lock, refreshed, err := s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[0].ID, now.Add(30*time.Minute), now)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, insts[0].ID, lock.HolderID)

	// A different instance conflicts and learns holder and expiry.
	_, _, err = s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[1].ID, now.Add(time.Hour), now)
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, insts[0].ID, conflict.Holder)
	assert.Equal(t, lock.ExpiresAt.UnixNano(), conflict.ExpiresAt.UnixNano())

	// The holder re-acquiring is an idempotent refresh.
	again, refreshed, err := s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[0].ID, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, lock.ID, again.ID)
	assert.True(t, again.ExpiresAt.After(lock.ExpiresAt))
}

func TestExpiredLockIsLogicallyAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, insts := seedProject(t, s, 2)

	now := time.Now()
	lock, _, err := s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[0].ID, now.Add(time.Minute), now)
	require.NoError(t, err)

	// Before expiry: conflict for B, extendable and releasable by A.
	later := now.Add(30 * time.Second)
	_, _, err = s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[1].ID, later.Add(time.Hour), later)
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	// After expiry, without any sweep having run:
	after := now.Add(2 * time.Minute)

	// extend by the old holder sees NotFound,
	_, err = s.ExtendFileLock(ctx, lock.ID, insts[0].ID, after.Add(time.Hour), after)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// release by the old holder sees NotFound,
	_, err = s.ReleaseFileLock(ctx, lock.ID, insts[0].ID, false, after)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	// and B's acquire succeeds over the stale row.
	newLock, _, err := s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[1].ID, after.Add(time.Hour), after)
	require.NoError(t, err)
	assert.Equal(t, insts[1].ID, newLock.HolderID)
	assert.NotEqual(t, lock.ID, newLock.ID)
}

func TestExtendFileLockHolderOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, insts := seedProject(t, s, 2)

	now := time.Now()
	lock, _, err := s.AcquireFileLock(ctx, p.ID, "lib/core.go", insts[0].ID, now.Add(time.Hour), now)
	require.NoError(t, err)

	_, err = s.ExtendFileLock(ctx, lock.ID, insts[1].ID, now.Add(2*time.Hour), now)
	assert.ErrorIs(t, err, apperrors.ErrNotHolder)

	extended, err := s.ExtendFileLock(ctx, lock.ID, insts[0].ID, now.Add(2*time.Hour), now)
	require.NoError(t, err)
	assert.True(t, extended.ExpiresAt.After(lock.ExpiresAt))
}

func TestReleaseFileLockForce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, insts := seedProject(t, s, 2)

	now := time.Now()
	lock, _, err := s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[0].ID, now.Add(time.Hour), now)
	require.NoError(t, err)

	// Non-holder without force fails.
	_, err = s.ReleaseFileLock(ctx, lock.ID, insts[1].ID, false, now)
	assert.ErrorIs(t, err, apperrors.ErrNotHolder)

	// Non-holder with force wins; release reports the original holder.
	released, err := s.ReleaseFileLock(ctx, lock.ID, insts[1].ID, true, now)
	require.NoError(t, err)
	assert.Equal(t, insts[0].ID, released.HolderID)

	// Path is immediately acquirable.
	newLock, _, err := s.AcquireFileLock(ctx, p.ID, "src/app.js", insts[1].ID, now.Add(time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, insts[1].ID, newLock.HolderID)
}

func TestAcquireFileLockConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, insts := seedProject(t, s, 8)

	now := time.Now()
	var wg sync.WaitGroup
	winners := make(chan string, len(insts))
	for _, inst := range insts {
		wg.Add(1)
		go func(instanceID string) {
			defer wg.Done()
			_, _, err := s.AcquireFileLock(ctx, p.ID, "go.mod", instanceID, now.Add(time.Hour), now)
			if err == nil {
				winners <- instanceID
				return
			}
			if !apperrors.Is(err, apperrors.ErrConflict) {
				t.Errorf("unexpected acquire error: %v", err)
			}
		}(inst.ID)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent acquirer must win")
}

func TestListAndSweepLocks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, _, insts := seedProject(t, s, 1)

	now := time.Now()
	_, _, err := s.AcquireFileLock(ctx, p.ID, "a.go", insts[0].ID, now.Add(time.Hour), now)
	require.NoError(t, err)
	_, _, err = s.AcquireFileLock(ctx, p.ID, "b.go", insts[0].ID, now.Add(time.Minute), now)
	require.NoError(t, err)

	later := now.Add(10 * time.Minute)
	active, err := s.ListProjectLocks(ctx, p.ID, later)
	require.NoError(t, err)
	require.Len(t, active, 1, "expired lock must not be listed")
	assert.Equal(t, "a.go", active[0].Path)

	swept, err := s.DeleteExpiredLocks(ctx, later)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, "b.go", swept[0].Path)

	// Sweep is idempotent.
	swept, err = s.DeleteExpiredLocks(ctx, later)
	require.NoError(t, err)
	assert.Empty(t, swept)
}

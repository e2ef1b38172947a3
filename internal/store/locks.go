package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/models"
)

const lockColumns = `id, project_id, path, holder_id, acquired_at, expires_at`

// AcquireFileLock grants an exclusive lock on (projectID, path) until
// expiresAt. Within one transaction it treats any row with
// expires_at <= now as absent: an expired row is deleted and replaced,
// a live row held by the caller is refreshed, and a live row held by
// anyone else yields a ConflictError carrying holder and expiry.
func (s *SQLiteStore) AcquireFileLock(ctx context.Context, projectID, path, instanceID string, expiresAt, now time.Time) (*models.FileLock, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM file_locks WHERE project_id = ? AND path = ?`,
		projectID, path))
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("load lock: %w", err)
	}

	if existing != nil && !existing.Expired(now) {
		if existing.HolderID == instanceID {
			// Idempotent refresh: extend the holder's own lock.
			if _, err := tx.ExecContext(ctx,
				`UPDATE file_locks SET expires_at = ? WHERE id = ?`,
				toNanos(expiresAt), existing.ID); err != nil {
				return nil, false, fmt.Errorf("refresh lock: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return nil, false, fmt.Errorf("commit: %w", err)
			}
			existing.ExpiresAt = expiresAt
			return existing, true, nil
		}
		return nil, false, &apperrors.ConflictError{
			ProjectID: projectID,
			Path:      path,
			Holder:    existing.HolderID,
			ExpiresAt: existing.ExpiresAt,
		}
	}

	if existing != nil {
		// Expired row: logically gone already, replace it.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM file_locks WHERE id = ?`, existing.ID); err != nil {
			return nil, false, fmt.Errorf("drop expired lock: %w", err)
		}
	}

	lock := &models.FileLock{
		ID:         NewULID(),
		ProjectID:  projectID,
		Path:       path,
		HolderID:   instanceID,
		AcquiredAt: now,
		ExpiresAt:  expiresAt,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO file_locks (`+lockColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		lock.ID, lock.ProjectID, lock.Path, lock.HolderID,
		toNanos(lock.AcquiredAt), toNanos(lock.ExpiresAt)); err != nil {
		return nil, false, fmt.Errorf("insert lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return lock, false, nil
}

// ExtendFileLock advances the expiry of a lock the caller holds.
// An expired lock is treated as absent even if its row still exists.
func (s *SQLiteStore) ExtendFileLock(ctx context.Context, lockID, instanceID string, expiresAt, now time.Time) (*models.FileLock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lock, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM file_locks WHERE id = ?`, lockID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("lock", lockID)
	}
	if err != nil {
		return nil, fmt.Errorf("load lock: %w", err)
	}
	if lock.Expired(now) {
		return nil, apperrors.NewNotFound("lock", lockID)
	}
	if lock.HolderID != instanceID {
		return nil, fmt.Errorf("%w: lock %s is held by %s", apperrors.ErrNotHolder, lockID, lock.HolderID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE file_locks SET expires_at = ? WHERE id = ?`,
		toNanos(expiresAt), lockID); err != nil {
		return nil, fmt.Errorf("extend lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	lock.ExpiresAt = expiresAt
	return lock, nil
}

// ReleaseFileLock deletes a lock row. Without force the caller must be
// the holder; with force the holder check is bypassed (privileged
// takeover). Expired locks are treated as absent either way. Returns
// the released lock so the caller can publish the unlock event.
func (s *SQLiteStore) ReleaseFileLock(ctx context.Context, lockID, instanceID string, force bool, now time.Time) (*models.FileLock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lock, err := scanLock(tx.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM file_locks WHERE id = ?`, lockID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("lock", lockID)
	}
	if err != nil {
		return nil, fmt.Errorf("load lock: %w", err)
	}
	if lock.Expired(now) {
		return nil, apperrors.NewNotFound("lock", lockID)
	}
	if !force && lock.HolderID != instanceID {
		return nil, fmt.Errorf("%w: lock %s is held by %s", apperrors.ErrNotHolder, lockID, lock.HolderID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_locks WHERE id = ?`, lockID); err != nil {
		return nil, fmt.Errorf("delete lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return lock, nil
}

// GetFileLock fetches the active lock on (projectID, path), treating
// an expired row as absent.
func (s *SQLiteStore) GetFileLock(ctx context.Context, projectID, path string, now time.Time) (*models.FileLock, error) {
	lock, err := scanLock(s.db.QueryRowContext(ctx,
		`SELECT `+lockColumns+` FROM file_locks WHERE project_id = ? AND path = ? AND expires_at > ?`,
		projectID, path, toNanos(now)))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("lock", projectID+":"+path)
	}
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	return lock, nil
}

// ListProjectLocks returns the active locks for a project.
func (s *SQLiteStore) ListProjectLocks(ctx context.Context, projectID string, now time.Time) ([]*models.FileLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM file_locks WHERE project_id = ? AND expires_at > ? ORDER BY path`,
		projectID, toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var locks []*models.FileLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

// DeleteExpiredLocks garbage-collects rows past expiry, returning them
// for expiry event emission. Expiry is already effective at access
// time; this only bounds storage.
func (s *SQLiteStore) DeleteExpiredLocks(ctx context.Context, now time.Time) ([]*models.FileLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM file_locks WHERE expires_at <= ? RETURNING `+lockColumns,
		toNanos(now))
	if err != nil {
		return nil, fmt.Errorf("delete expired locks: %w", err)
	}
	defer rows.Close()

	var locks []*models.FileLock
	for rows.Next() {
		lock, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired lock: %w", err)
		}
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

func scanLock(row rowScanner) (*models.FileLock, error) {
	var l models.FileLock
	var acquiredAt, expiresAt int64
	err := row.Scan(&l.ID, &l.ProjectID, &l.Path, &l.HolderID, &acquiredAt, &expiresAt)
	if err != nil {
		return nil, err
	}
	l.AcquiredAt = fromNanos(acquiredAt)
	l.ExpiresAt = fromNanos(expiresAt)
	return &l, nil
}

package filelock

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
	"github.com/QrCommunication/claudenest/internal/store"
)

// TTLBounds clamps caller-requested lease durations.
type TTLBounds struct {
	Default time.Duration // applied when the caller passes zero
	Min     time.Duration
	Max     time.Duration
}

// Clamp resolves a requested TTL against the bounds.
func (b TTLBounds) Clamp(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = b.Default
	}
	if b.Min > 0 && ttl < b.Min {
		ttl = b.Min
	}
	if b.Max > 0 && ttl > b.Max {
		ttl = b.Max
	}
	return ttl
}

// Manager grants, extends and releases path locks, publishing a lock
// event on the project channel for every state change.
type Manager struct {
	store  store.Store
	bus    *event.Bus
	log    *logging.Logger
	bounds TTLBounds

	// now is swappable for tests
	now func() time.Time
}

// NewManager creates a lock manager with the given TTL bounds.
func NewManager(st store.Store, bus *event.Bus, log *logging.Logger, bounds TTLBounds) *Manager {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Manager{
		store:  st,
		bus:    bus,
		log:    log,
		bounds: bounds,
		now:    time.Now,
	}
}

// NormalizePath canonicalizes a project-relative path: slash form,
// cleaned, no leading slash. Paths that escape the project root are
// rejected.
func NormalizePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", apperrors.ErrInvalidInput)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	if p == "." || p == "" {
		return "", fmt.Errorf("%w: path resolves to project root", apperrors.ErrInvalidInput)
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: path escapes project root", apperrors.ErrInvalidInput)
	}
	return p, nil
}

// Acquire grants an exclusive lease on the path to the instance.
// Re-acquiring a lock the instance already holds refreshes its expiry
// instead of failing. A live lock held by another instance yields a
// ConflictError naming the holder and its expiry; an expired lock is
// treated as absent no matter whether the sweep has deleted its row.
func (m *Manager) Acquire(ctx context.Context, projectID, p, instanceID string, ttl time.Duration) (*models.FileLock, error) {
	if projectID == "" || instanceID == "" {
		return nil, fmt.Errorf("%w: project and instance ids required", apperrors.ErrInvalidInput)
	}
	normalized, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}

	now := m.now()
	expiresAt := now.Add(m.bounds.Clamp(ttl))

	lock, refreshed, err := m.store.AcquireFileLock(ctx, projectID, normalized, instanceID, expiresAt, now)
	if err != nil {
		return nil, err
	}

	m.log.WithProject(projectID).WithInstance(instanceID).
		Info("lock acquired", "path", normalized, "expires_at", lock.ExpiresAt, "refreshed", refreshed)
	m.bus.Publish(event.NewLockAcquiredEvent(lock, refreshed))
	return lock, nil
}

// Extend pushes the lease expiry out from now. Holder-only; an expired
// or missing lock yields ErrNotFound.
func (m *Manager) Extend(ctx context.Context, lockID, instanceID string, ttl time.Duration) (*models.FileLock, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("%w: instance id required", apperrors.ErrInvalidInput)
	}

	now := m.now()
	expiresAt := now.Add(m.bounds.Clamp(ttl))

	lock, err := m.store.ExtendFileLock(ctx, lockID, instanceID, expiresAt, now)
	if err != nil {
		return nil, err
	}

	m.log.WithProject(lock.ProjectID).WithInstance(instanceID).
		Info("lock extended", "path", lock.Path, "expires_at", lock.ExpiresAt)
	m.bus.Publish(event.NewLockExtendedEvent(lock))
	return lock, nil
}

// Release drops the lease. Only the holder may release unless force is
// set; a forced release publishes forced=true so the displaced holder
// can abort in-flight work on the path.
func (m *Manager) Release(ctx context.Context, lockID, instanceID string, force bool) error {
	lock, err := m.store.ReleaseFileLock(ctx, lockID, instanceID, force, m.now())
	if err != nil {
		return err
	}

	forced := force && lock.HolderID != instanceID
	m.log.WithProject(lock.ProjectID).WithInstance(instanceID).
		Info("lock released", "path", lock.Path, "holder", lock.HolderID, "forced", forced)
	m.bus.Publish(event.NewLockReleasedEvent(lock, forced, false))
	return nil
}

// Get returns the live lock on a path, or ErrNotFound when the path is
// unlocked or the lock has expired.
func (m *Manager) Get(ctx context.Context, projectID, p string) (*models.FileLock, error) {
	normalized, err := NormalizePath(p)
	if err != nil {
		return nil, err
	}
	return m.store.GetFileLock(ctx, projectID, normalized, m.now())
}

// List returns the project's live locks.
func (m *Manager) List(ctx context.Context, projectID string) ([]*models.FileLock, error) {
	return m.store.ListProjectLocks(ctx, projectID, m.now())
}

// SweepExpired garbage-collects expired lock rows and publishes an
// expiry release event for each. Callers already see expired locks as
// absent; this only bounds storage.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.store.DeleteExpiredLocks(ctx, m.now())
	if err != nil {
		return 0, err
	}

	for _, lock := range expired {
		m.bus.Publish(event.NewLockReleasedEvent(lock, false, true))
	}
	if len(expired) > 0 {
		m.log.Info("expired locks swept", "count", len(expired))
	}
	return len(expired), nil
}

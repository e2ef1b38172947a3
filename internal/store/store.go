// Package store provides durable persistence for coordination
// entities. The backing implementation must supply atomic
// read-modify-write semantics: every mutating operation here is a
// single atomic unit, and the claim/acquire operations guarantee
// at-most-one winner under concurrent callers.
package store

import (
	"context"
	"time"

	"github.com/QrCommunication/claudenest/internal/models"
)

// Store defines the persistence interface for the coordination engine.
//
// Guarded mutations (claim, acquire, status transitions) return their
// outcome rather than relying on the caller to re-read: a false/nil
// result means the guard did not hold at execution time.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)

	// Machines
	CreateMachine(ctx context.Context, m *models.Machine) error
	GetMachine(ctx context.Context, id string) (*models.Machine, error)
	// HeartbeatMachine records a heartbeat at now and flips the machine
	// back online if it was offline. Returns true when the heartbeat
	// caused an offline->online recovery.
	HeartbeatMachine(ctx context.Context, id string, now time.Time) (recovered bool, err error)
	// ListStaleMachines returns online machines whose last heartbeat is
	// at or before the cutoff.
	ListStaleMachines(ctx context.Context, cutoff time.Time) ([]*models.Machine, error)
	// MarkMachineOffline transitions the machine to offline only if it
	// is still online and its heartbeat is still stale at execution
	// time. Returns true when the transition fired.
	MarkMachineOffline(ctx context.Context, id string, cutoff time.Time) (bool, error)

	// Instances
	CreateInstance(ctx context.Context, i *models.Instance) error
	GetInstance(ctx context.Context, id string) (*models.Instance, error)
	HeartbeatInstance(ctx context.Context, id string, now time.Time) (recovered bool, err error)
	ListStaleInstances(ctx context.Context, cutoff time.Time) ([]*models.Instance, error)
	// MarkInstanceDisconnected transitions a live instance to
	// disconnected. A zero cutoff disconnects unconditionally (explicit
	// disconnect); a non-zero cutoff only fires if the heartbeat is
	// still stale.
	MarkInstanceDisconnected(ctx context.Context, id string, cutoff time.Time) (bool, error)
	ListProjectInstances(ctx context.Context, projectID string) ([]*models.Instance, error)

	// Sessions
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// TransitionSession moves the session from one of the given states
	// to the target state. Returns the fresh session and whether the
	// transition fired.
	TransitionSession(ctx context.Context, id string, from []models.SessionStatus, to models.SessionStatus) (*models.Session, bool, error)
	UpdateSessionGeometry(ctx context.Context, id string, g models.Geometry) error
	// CountOpenSessions counts starting|active sessions on a machine.
	CountOpenSessions(ctx context.Context, machineID string) (int, error)
	ListOpenSessionsByMachine(ctx context.Context, machineID string) ([]*models.Session, error)

	// Session output chunks (append-only, swept by retention)
	AppendChunk(ctx context.Context, c *models.OutputChunk) error
	ListChunksAfter(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]*models.OutputChunk, error)
	// LastChunkSeq returns the highest persisted sequence number for a
	// session, or 0 when none exist. Used to resume sequence assignment
	// after a restart.
	LastChunkSeq(ctx context.Context, sessionID string) (uint64, error)
	DeleteChunksBefore(ctx context.Context, olderThan time.Time) (int64, error)

	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// ClaimNextTask atomically claims the oldest pending task in the
	// project for the instance. Returns (nil, nil) when no task is
	// pending. Exactly one concurrent caller can win any given task.
	ClaimNextTask(ctx context.Context, projectID, instanceID string, now time.Time) (*models.Task, error)
	// ReleaseTask returns a claimed task to pending. Fails with
	// ErrNotHolder unless instanceID holds the claim.
	ReleaseTask(ctx context.Context, taskID, instanceID string) (*models.Task, error)
	// FinishTask transitions a claimed task to completed or failed.
	// Holder-only; valid from claimed only.
	FinishTask(ctx context.Context, taskID, instanceID string, status models.TaskStatus, reason string) (*models.Task, error)
	TaskCounts(ctx context.Context, projectID string) (map[models.TaskStatus]int, error)

	// File locks. All operations treat rows with expires_at <= now as
	// absent regardless of whether the cleanup sweep has deleted them.
	AcquireFileLock(ctx context.Context, projectID, path, instanceID string, expiresAt, now time.Time) (lock *models.FileLock, refreshed bool, err error)
	ExtendFileLock(ctx context.Context, lockID, instanceID string, expiresAt, now time.Time) (*models.FileLock, error)
	ReleaseFileLock(ctx context.Context, lockID, instanceID string, force bool, now time.Time) (*models.FileLock, error)
	GetFileLock(ctx context.Context, projectID, path string, now time.Time) (*models.FileLock, error)
	ListProjectLocks(ctx context.Context, projectID string, now time.Time) ([]*models.FileLock, error)
	// DeleteExpiredLocks garbage-collects rows past expiry and returns
	// them so the caller can emit expiry events. Purely a storage
	// optimization: correctness never depends on it.
	DeleteExpiredLocks(ctx context.Context, now time.Time) ([]*models.FileLock, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	// VerifyAtomicity confirms the store still provides the atomic
	// transaction guarantees the engine depends on. The service must
	// refuse to start when this fails.
	VerifyAtomicity(ctx context.Context) error
	Close() error
}

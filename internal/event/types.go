package event

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/QrCommunication/claudenest/internal/models"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.status", "session.output")
	EventType() string

	// Channel returns the scoped channel the event is published on:
	// project:{id}, session:{id}, or machine:{id}.
	Channel() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time

	// Payload returns the wire representation for external transports.
	// Every payload carries the affected entity IDs and a UTC ISO-8601
	// timestamp under "ts".
	Payload() map[string]any
}

// Channel name constructors.

// ProjectChannel returns the channel for project-scoped events.
func ProjectChannel(projectID string) string { return "project:" + projectID }

// SessionChannel returns the channel for session-scoped events.
func SessionChannel(sessionID string) string { return "session:" + sessionID }

// MachineChannel returns the channel for machine-scoped events.
func MachineChannel(machineID string) string { return "machine:" + machineID }

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy part of the Event interface.
type baseEvent struct {
	eventType string
	channel   string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Channel() string      { return e.channel }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// basePayload starts a payload map with the event type and timestamp.
func (e baseEvent) basePayload() map[string]any {
	return map[string]any{
		"event": e.eventType,
		"ts":    e.timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType, channel string) baseEvent {
	return baseEvent{
		eventType: eventType,
		channel:   channel,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskStatusEvent is emitted on every successful task transition
// (claimed, returned to pending, completed, failed).
type TaskStatusEvent struct {
	baseEvent
	TaskID     string
	ProjectID  string
	Status     models.TaskStatus
	InstanceID string // claimant or releasing holder, empty on producer-side events
	Reason     string // failure reason, empty otherwise
}

// NewTaskStatusEvent creates a TaskStatusEvent on the project channel.
func NewTaskStatusEvent(projectID, taskID, instanceID string, status models.TaskStatus, reason string) TaskStatusEvent {
	return TaskStatusEvent{
		baseEvent:  newBaseEvent("task.status", ProjectChannel(projectID)),
		TaskID:     taskID,
		ProjectID:  projectID,
		Status:     status,
		InstanceID: instanceID,
		Reason:     reason,
	}
}

// Payload implements Event.
func (e TaskStatusEvent) Payload() map[string]any {
	p := e.basePayload()
	p["task_id"] = e.TaskID
	p["project_id"] = e.ProjectID
	p["status"] = string(e.Status)
	p["instance_id"] = e.InstanceID
	p["reason"] = e.Reason
	return p
}

// -----------------------------------------------------------------------------
// Lock Events
// -----------------------------------------------------------------------------

// LockAcquiredEvent is emitted when a file lock is granted or refreshed.
type LockAcquiredEvent struct {
	baseEvent
	LockID    string
	ProjectID string
	Path      string
	HolderID  string
	ExpiresAt time.Time
	Refreshed bool // true when the holder re-acquired its own lock
}

// NewLockAcquiredEvent creates a LockAcquiredEvent on the project channel.
func NewLockAcquiredEvent(lock *models.FileLock, refreshed bool) LockAcquiredEvent {
	return LockAcquiredEvent{
		baseEvent: newBaseEvent("lock.acquired", ProjectChannel(lock.ProjectID)),
		LockID:    lock.ID,
		ProjectID: lock.ProjectID,
		Path:      lock.Path,
		HolderID:  lock.HolderID,
		ExpiresAt: lock.ExpiresAt,
		Refreshed: refreshed,
	}
}

// Payload implements Event.
func (e LockAcquiredEvent) Payload() map[string]any {
	p := e.basePayload()
	p["lock_id"] = e.LockID
	p["project_id"] = e.ProjectID
	p["path"] = e.Path
	p["holder_id"] = e.HolderID
	p["expires_at"] = e.ExpiresAt.UTC().Format(time.RFC3339Nano)
	p["refreshed"] = e.Refreshed
	return p
}

// LockReleasedEvent is emitted when a file lock is released or extended
// away. Forced is true on privileged takeover so the original holder
// can react (e.g. abort in-flight work on the path).
type LockReleasedEvent struct {
	baseEvent
	LockID    string
	ProjectID string
	Path      string
	HolderID  string // holder at release time
	Forced    bool
	Expired   bool // true when released by the expiry sweep
}

// NewLockReleasedEvent creates a LockReleasedEvent on the project channel.
func NewLockReleasedEvent(lock *models.FileLock, forced, expired bool) LockReleasedEvent {
	return LockReleasedEvent{
		baseEvent: newBaseEvent("lock.released", ProjectChannel(lock.ProjectID)),
		LockID:    lock.ID,
		ProjectID: lock.ProjectID,
		Path:      lock.Path,
		HolderID:  lock.HolderID,
		Forced:    forced,
		Expired:   expired,
	}
}

// Payload implements Event.
func (e LockReleasedEvent) Payload() map[string]any {
	p := e.basePayload()
	p["lock_id"] = e.LockID
	p["project_id"] = e.ProjectID
	p["path"] = e.Path
	p["holder_id"] = e.HolderID
	p["forced"] = e.Forced
	p["expired"] = e.Expired
	return p
}

// -----------------------------------------------------------------------------
// Lock Extension
// -----------------------------------------------------------------------------

// LockExtendedEvent is emitted when a holder extends its lock TTL.
type LockExtendedEvent struct {
	baseEvent
	LockID    string
	ProjectID string
	Path      string
	HolderID  string
	ExpiresAt time.Time
}

// NewLockExtendedEvent creates a LockExtendedEvent on the project channel.
func NewLockExtendedEvent(lock *models.FileLock) LockExtendedEvent {
	return LockExtendedEvent{
		baseEvent: newBaseEvent("lock.extended", ProjectChannel(lock.ProjectID)),
		LockID:    lock.ID,
		ProjectID: lock.ProjectID,
		Path:      lock.Path,
		HolderID:  lock.HolderID,
		ExpiresAt: lock.ExpiresAt,
	}
}

// Payload implements Event.
func (e LockExtendedEvent) Payload() map[string]any {
	p := e.basePayload()
	p["lock_id"] = e.LockID
	p["project_id"] = e.ProjectID
	p["path"] = e.Path
	p["holder_id"] = e.HolderID
	p["expires_at"] = e.ExpiresAt.UTC().Format(time.RFC3339Nano)
	return p
}

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// SessionStatusEvent is emitted on session lifecycle transitions.
type SessionStatusEvent struct {
	baseEvent
	SessionID string
	MachineID string
	ProjectID string
	Status    models.SessionStatus
	Reason    string
}

// NewSessionStatusEvent creates a SessionStatusEvent on the session channel.
func NewSessionStatusEvent(s *models.Session, reason string) SessionStatusEvent {
	return SessionStatusEvent{
		baseEvent: newBaseEvent("session.status", SessionChannel(s.ID)),
		SessionID: s.ID,
		MachineID: s.MachineID,
		ProjectID: s.ProjectID,
		Status:    s.Status,
		Reason:    reason,
	}
}

// Payload implements Event.
func (e SessionStatusEvent) Payload() map[string]any {
	p := e.basePayload()
	p["session_id"] = e.SessionID
	p["machine_id"] = e.MachineID
	p["project_id"] = e.ProjectID
	p["status"] = string(e.Status)
	p["reason"] = e.Reason
	return p
}

// SessionOutputEvent carries one output chunk, republished verbatim in
// ingestion order. Seq is strictly increasing per session with no gaps.
type SessionOutputEvent struct {
	baseEvent
	SessionID string
	Seq       uint64
	Data      []byte
}

// NewSessionOutputEvent creates a SessionOutputEvent on the session channel.
func NewSessionOutputEvent(sessionID string, seq uint64, data []byte) SessionOutputEvent {
	return SessionOutputEvent{
		baseEvent: newBaseEvent("session.output", SessionChannel(sessionID)),
		SessionID: sessionID,
		Seq:       seq,
		Data:      data,
	}
}

// Payload implements Event. Chunk bytes are base64-encoded: PTY output
// is arbitrary binary and must survive JSON transports.
func (e SessionOutputEvent) Payload() map[string]any {
	p := e.basePayload()
	p["session_id"] = e.SessionID
	p["seq"] = e.Seq
	p["data"] = base64.StdEncoding.EncodeToString(e.Data)
	return p
}

// SessionResizeEvent advises the remote host of a geometry change.
// Published on the machine channel so the host observes it.
type SessionResizeEvent struct {
	baseEvent
	SessionID string
	MachineID string
	Geometry  models.Geometry
}

// NewSessionResizeEvent creates a SessionResizeEvent on the machine channel.
func NewSessionResizeEvent(sessionID, machineID string, g models.Geometry) SessionResizeEvent {
	return SessionResizeEvent{
		baseEvent: newBaseEvent("session.resize", MachineChannel(machineID)),
		SessionID: sessionID,
		MachineID: machineID,
		Geometry:  g,
	}
}

// Payload implements Event.
func (e SessionResizeEvent) Payload() map[string]any {
	p := e.basePayload()
	p["session_id"] = e.SessionID
	p["machine_id"] = e.MachineID
	p["rows"] = e.Geometry.Rows
	p["cols"] = e.Geometry.Cols
	return p
}

// SessionInputEvent carries input destined for the remote host,
// including the initial input supplied at session creation.
type SessionInputEvent struct {
	baseEvent
	SessionID string
	MachineID string
	Data      []byte
}

// NewSessionInputEvent creates a SessionInputEvent on the machine channel.
func NewSessionInputEvent(sessionID, machineID string, data []byte) SessionInputEvent {
	return SessionInputEvent{
		baseEvent: newBaseEvent("session.input", MachineChannel(machineID)),
		SessionID: sessionID,
		MachineID: machineID,
		Data:      data,
	}
}

// Payload implements Event.
func (e SessionInputEvent) Payload() map[string]any {
	p := e.basePayload()
	p["session_id"] = e.SessionID
	p["machine_id"] = e.MachineID
	p["data"] = base64.StdEncoding.EncodeToString(e.Data)
	return p
}

// -----------------------------------------------------------------------------
// Presence Events
// -----------------------------------------------------------------------------

// MachineStatusEvent is emitted when a machine transitions between
// online and offline, by sweep or by heartbeat recovery.
type MachineStatusEvent struct {
	baseEvent
	MachineID string
	Status    models.MachineStatus
	Reason    string // "heartbeat_timeout", "recovered", "registered"
}

// NewMachineStatusEvent creates a MachineStatusEvent on the machine channel.
func NewMachineStatusEvent(machineID string, status models.MachineStatus, reason string) MachineStatusEvent {
	return MachineStatusEvent{
		baseEvent: newBaseEvent("machine.status", MachineChannel(machineID)),
		MachineID: machineID,
		Status:    status,
		Reason:    reason,
	}
}

// Payload implements Event.
func (e MachineStatusEvent) Payload() map[string]any {
	p := e.basePayload()
	p["machine_id"] = e.MachineID
	p["status"] = string(e.Status)
	p["reason"] = e.Reason
	return p
}

// InstanceStatusEvent is emitted when an instance transitions liveness
// state. Forced is true when an operator disconnected the instance.
type InstanceStatusEvent struct {
	baseEvent
	InstanceID string
	ProjectID  string
	Status     models.InstanceStatus
	Forced     bool
	Reason     string
}

// NewInstanceStatusEvent creates an InstanceStatusEvent on the project channel.
func NewInstanceStatusEvent(projectID, instanceID string, status models.InstanceStatus, forced bool, reason string) InstanceStatusEvent {
	return InstanceStatusEvent{
		baseEvent:  newBaseEvent("instance.status", ProjectChannel(projectID)),
		InstanceID: instanceID,
		ProjectID:  projectID,
		Status:     status,
		Forced:     forced,
		Reason:     reason,
	}
}

// Payload implements Event.
func (e InstanceStatusEvent) Payload() map[string]any {
	p := e.basePayload()
	p["instance_id"] = e.InstanceID
	p["project_id"] = e.ProjectID
	p["status"] = string(e.Status)
	p["forced"] = e.Forced
	p["reason"] = e.Reason
	return p
}

// String implementations keep log lines readable.

func (e TaskStatusEvent) String() string {
	return fmt.Sprintf("task %s -> %s", e.TaskID, e.Status)
}

func (e SessionOutputEvent) String() string {
	return fmt.Sprintf("session %s chunk %d (%d bytes)", e.SessionID, e.Seq, len(e.Data))
}

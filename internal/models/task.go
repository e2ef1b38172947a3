package models

import "time"

// TaskStatus represents the lifecycle state of a unit of work.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is a unit of work owned by a project. At most one instance may
// hold the claimed state at a time; ULID IDs sort by creation time, so
// ID order doubles as claim priority.
type Task struct {
	ID        string
	ProjectID string
	Title     string
	Payload   string
	Status    TaskStatus
	ClaimedBy string     // instance ID, empty while pending
	ClaimedAt *time.Time // nil while pending
	Failure   string     // reason recorded on terminal failure
	CreatedAt time.Time
}

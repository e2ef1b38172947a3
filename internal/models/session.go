package models

import "time"

// SessionStatus represents the lifecycle state of an interactive session.
type SessionStatus string

const (
	SessionStarting SessionStatus = "starting"
	SessionActive   SessionStatus = "active"
	SessionClosed   SessionStatus = "closed"
	SessionErrored  SessionStatus = "errored"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	return s == SessionClosed || s == SessionErrored
}

// Geometry is the terminal size of a session in character cells.
type Geometry struct {
	Rows int
	Cols int
}

// Valid reports whether both dimensions are positive.
func (g Geometry) Valid() bool {
	return g.Rows > 0 && g.Cols > 0
}

// Session represents an interactive command session running on a
// machine. Output history is an append-only sequence of chunks bounded
// by the broker's scrollback budget.
type Session struct {
	ID         string
	MachineID  string
	ProjectID  string
	Mode       string
	WorkingDir string
	Geometry   Geometry
	Status     SessionStatus
	CreatedAt  time.Time
}

// OutputChunk is one PTY-style byte chunk pushed by the remote host.
// Seq is strictly increasing per session with no gaps.
type OutputChunk struct {
	SessionID string
	Seq       uint64
	Data      []byte
	CreatedAt time.Time
}

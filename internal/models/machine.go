package models

import "time"

// MachineStatus represents the liveness state of a machine.
type MachineStatus string

const (
	MachineOnline  MachineStatus = "online"
	MachineOffline MachineStatus = "offline"
)

// Machine represents a remote execution host that runs interactive
// sessions on behalf of instances. Machines are soft-lifecycle: they
// transition between online and offline but are never hard-deleted.
type Machine struct {
	ID            string
	Owner         string
	Name          string
	Status        MachineStatus
	LastHeartbeat time.Time
	Capabilities  []string
	MaxSessions   int
	CreatedAt     time.Time
}

// Live reports whether the machine is in a live status.
func (m *Machine) Live() bool {
	return m.Status == MachineOnline
}

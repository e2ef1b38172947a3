package models

import "time"

// InstanceStatus represents the liveness state of an agent instance.
type InstanceStatus string

const (
	InstanceActive       InstanceStatus = "active"
	InstanceIdle         InstanceStatus = "idle"
	InstanceDisconnected InstanceStatus = "disconnected"
)

// Instance represents one running agent process registered against a
// project. Instances claim tasks and hold file locks; a disconnected
// instance keeps its identity but is no longer considered live.
type Instance struct {
	ID            string
	MachineID     string
	ProjectID     string
	Status        InstanceStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// Live reports whether the instance is in a live status.
func (i *Instance) Live() bool {
	return i.Status == InstanceActive || i.Status == InstanceIdle
}

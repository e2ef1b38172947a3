package presence

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
	"github.com/QrCommunication/claudenest/internal/store"
)

// SessionErrorer lets the monitor fail open sessions when their host
// goes offline without importing the session broker directly.
type SessionErrorer interface {
	MarkMachineSessionsErrored(ctx context.Context, machineID, reason string) (int, error)
}

// Monitor is the liveness tracker for machines and instances.
type Monitor struct {
	store    store.Store
	bus      *event.Bus
	log      *logging.Logger
	timeout  time.Duration
	sessions SessionErrorer

	now func() time.Time
}

// NewMonitor creates a presence monitor with the given heartbeat timeout.
func NewMonitor(st store.Store, bus *event.Bus, log *logging.Logger, timeout time.Duration) *Monitor {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Monitor{
		store:   st,
		bus:     bus,
		log:     log,
		timeout: timeout,
		now:     time.Now,
	}
}

// SetSessionErrorer wires the session broker in. Called once during
// startup, after both components exist.
func (m *Monitor) SetSessionErrorer(se SessionErrorer) {
	m.sessions = se
}

// RegisterMachine registers an execution host. It starts online with a
// fresh heartbeat.
func (m *Monitor) RegisterMachine(ctx context.Context, machine *models.Machine) (*models.Machine, error) {
	if machine.Owner == "" || machine.Name == "" {
		return nil, fmt.Errorf("%w: machine owner and name required", apperrors.ErrInvalidInput)
	}
	if err := m.store.CreateMachine(ctx, machine); err != nil {
		return nil, err
	}

	m.log.WithMachine(machine.ID).Info("machine registered", "name", machine.Name)
	m.bus.Publish(event.NewMachineStatusEvent(machine.ID, machine.Status, "registered"))
	return machine, nil
}

// RegisterInstance registers an agent instance against a project. The
// machine must exist; a dead host cannot home a live agent.
func (m *Monitor) RegisterInstance(ctx context.Context, inst *models.Instance) (*models.Instance, error) {
	if inst.MachineID == "" || inst.ProjectID == "" {
		return nil, fmt.Errorf("%w: machine and project ids required", apperrors.ErrInvalidInput)
	}
	if _, err := m.store.GetMachine(ctx, inst.MachineID); err != nil {
		return nil, err
	}
	if _, err := m.store.GetProject(ctx, inst.ProjectID); err != nil {
		return nil, err
	}
	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	m.log.WithProject(inst.ProjectID).WithInstance(inst.ID).Info("instance registered")
	m.bus.Publish(event.NewInstanceStatusEvent(inst.ProjectID, inst.ID, inst.Status, false, "registered"))
	return inst, nil
}

// HeartbeatMachine resets the machine's liveness clock. An offline
// machine flips back online and the recovery is published.
func (m *Monitor) HeartbeatMachine(ctx context.Context, machineID string) error {
	recovered, err := m.store.HeartbeatMachine(ctx, machineID, m.now())
	if err != nil {
		return err
	}
	if recovered {
		m.log.WithMachine(machineID).Info("machine recovered")
		m.bus.Publish(event.NewMachineStatusEvent(machineID, models.MachineOnline, "recovered"))
	}
	return nil
}

// HeartbeatInstance resets the instance's liveness clock. A
// disconnected instance flips back to active and the recovery is
// published.
func (m *Monitor) HeartbeatInstance(ctx context.Context, instanceID string) error {
	recovered, err := m.store.HeartbeatInstance(ctx, instanceID, m.now())
	if err != nil {
		return err
	}
	if recovered {
		inst, err := m.store.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		m.log.WithProject(inst.ProjectID).WithInstance(instanceID).Info("instance recovered")
		m.bus.Publish(event.NewInstanceStatusEvent(inst.ProjectID, instanceID, models.InstanceActive, false, "recovered"))
	}
	return nil
}

// DisconnectInstance explicitly disconnects an instance. With force the
// disconnect is operator-initiated and the event says so; either way a
// live instance transitions to disconnected and an already-disconnected
// instance is a no-op.
func (m *Monitor) DisconnectInstance(ctx context.Context, instanceID string, force bool) error {
	inst, err := m.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	flipped, err := m.store.MarkInstanceDisconnected(ctx, instanceID, time.Time{})
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	reason := "disconnect"
	if force {
		reason = "forced_disconnect"
	}
	m.log.WithProject(inst.ProjectID).WithInstance(instanceID).Info("instance disconnected", "forced", force)
	m.bus.Publish(event.NewInstanceStatusEvent(inst.ProjectID, instanceID, models.InstanceDisconnected, force, reason))
	return nil
}

// Sweep flips stale machines offline and stale instances disconnected.
// Each candidate is re-checked at flip time, so a heartbeat landing
// mid-sweep keeps its entity live. Idempotent: a second pass over the
// same state does nothing.
func (m *Monitor) Sweep(ctx context.Context) error {
	cutoff := m.now().Add(-m.timeout)

	stale, err := m.store.ListStaleMachines(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale machines: %w", err)
	}
	for _, machine := range stale {
		flipped, err := m.store.MarkMachineOffline(ctx, machine.ID, cutoff)
		if err != nil {
			return fmt.Errorf("mark machine offline: %w", err)
		}
		if !flipped {
			continue
		}

		m.log.WithMachine(machine.ID).Warn("machine offline",
			"last_heartbeat", machine.LastHeartbeat)
		m.bus.Publish(event.NewMachineStatusEvent(machine.ID, models.MachineOffline, "heartbeat_timeout"))

		if m.sessions != nil {
			n, err := m.sessions.MarkMachineSessionsErrored(ctx, machine.ID, "machine offline")
			if err != nil {
				return fmt.Errorf("error machine sessions: %w", err)
			}
			if n > 0 {
				m.log.WithMachine(machine.ID).Warn("sessions errored", "count", n)
			}
		}
	}

	staleInstances, err := m.store.ListStaleInstances(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale instances: %w", err)
	}
	for _, inst := range staleInstances {
		flipped, err := m.store.MarkInstanceDisconnected(ctx, inst.ID, cutoff)
		if err != nil {
			return fmt.Errorf("mark instance disconnected: %w", err)
		}
		if !flipped {
			continue
		}

		m.log.WithProject(inst.ProjectID).WithInstance(inst.ID).Warn("instance disconnected",
			"last_heartbeat", inst.LastHeartbeat)
		m.bus.Publish(event.NewInstanceStatusEvent(inst.ProjectID, inst.ID, models.InstanceDisconnected, false, "heartbeat_timeout"))
	}

	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/models"
)

const machineColumns = `id, owner, name, status, last_heartbeat, capabilities, max_sessions, created_at`
const instanceColumns = `id, machine_id, project_id, status, last_heartbeat, created_at`

// ---- Machines ----

// CreateMachine registers a machine, assigning an ID if absent.
func (s *SQLiteStore) CreateMachine(ctx context.Context, m *models.Machine) error {
	if m.ID == "" {
		m.ID = NewULID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.LastHeartbeat.IsZero() {
		m.LastHeartbeat = m.CreatedAt
	}
	if m.Status == "" {
		m.Status = models.MachineOnline
	}
	caps, err := marshalCapabilities(m.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO machines (`+machineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Owner, m.Name, string(m.Status), toNanos(m.LastHeartbeat),
		caps, m.MaxSessions, toNanos(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert machine: %w", err)
	}
	return nil
}

// GetMachine fetches a machine by ID.
func (s *SQLiteStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	m, err := scanMachine(s.db.QueryRowContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("machine", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get machine: %w", err)
	}
	return m, nil
}

// HeartbeatMachine records a heartbeat, flipping the machine back
// online if needed. Recovery detection and the write are one guarded
// statement pair inside a transaction, safe against a concurrent
// sweep: last-write-wins on the timestamp.
func (s *SQLiteStore) HeartbeatMachine(ctx context.Context, id string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE machines SET status = ?, last_heartbeat = ? WHERE id = ? AND status = ?`,
		string(models.MachineOnline), toNanos(now), id, string(models.MachineOffline))
	if err != nil {
		return false, fmt.Errorf("heartbeat machine: %w", err)
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if flipped == 0 {
		// Already online (or unknown): just refresh the timestamp.
		res, err = tx.ExecContext(ctx,
			`UPDATE machines SET last_heartbeat = ? WHERE id = ?`, toNanos(now), id)
		if err != nil {
			return false, fmt.Errorf("touch machine: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return false, apperrors.NewNotFound("machine", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return flipped > 0, nil
}

// ListStaleMachines returns online machines with heartbeat at or
// before the cutoff.
func (s *SQLiteStore) ListStaleMachines(ctx context.Context, cutoff time.Time) ([]*models.Machine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE status = ? AND last_heartbeat <= ?`,
		string(models.MachineOnline), toNanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale machines: %w", err)
	}
	defer rows.Close()

	var machines []*models.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// MarkMachineOffline flips a machine offline only if it is still
// online and its heartbeat is still stale at execution time. The guard
// re-reads freshly inside the statement, so a heartbeat racing the
// sweep wins.
func (s *SQLiteStore) MarkMachineOffline(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE machines SET status = ? WHERE id = ? AND status = ? AND last_heartbeat <= ?`,
		string(models.MachineOffline), id, string(models.MachineOnline), toNanos(cutoff))
	if err != nil {
		return false, fmt.Errorf("mark machine offline: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ---- Instances ----

// CreateInstance registers an instance, assigning an ID if absent.
func (s *SQLiteStore) CreateInstance(ctx context.Context, i *models.Instance) error {
	if i.ID == "" {
		i.ID = NewULID()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}
	if i.LastHeartbeat.IsZero() {
		i.LastHeartbeat = i.CreatedAt
	}
	if i.Status == "" {
		i.Status = models.InstanceActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (`+instanceColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		i.ID, i.MachineID, i.ProjectID, string(i.Status),
		toNanos(i.LastHeartbeat), toNanos(i.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance fetches an instance by ID.
func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	i, err := scanInstance(s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("instance", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return i, nil
}

// HeartbeatInstance records a heartbeat, reviving a disconnected
// instance to active. Returns true on a disconnected->active recovery.
func (s *SQLiteStore) HeartbeatInstance(ctx context.Context, id string, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE instances SET status = ?, last_heartbeat = ? WHERE id = ? AND status = ?`,
		string(models.InstanceActive), toNanos(now), id, string(models.InstanceDisconnected))
	if err != nil {
		return false, fmt.Errorf("heartbeat instance: %w", err)
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	if flipped == 0 {
		res, err = tx.ExecContext(ctx,
			`UPDATE instances SET last_heartbeat = ? WHERE id = ?`, toNanos(now), id)
		if err != nil {
			return false, fmt.Errorf("touch instance: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return false, apperrors.NewNotFound("instance", id)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return flipped > 0, nil
}

// ListStaleInstances returns live instances with heartbeat at or
// before the cutoff.
func (s *SQLiteStore) ListStaleInstances(ctx context.Context, cutoff time.Time) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE status IN (?, ?) AND last_heartbeat <= ?`,
		string(models.InstanceActive), string(models.InstanceIdle), toNanos(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, i)
	}
	return instances, rows.Err()
}

// MarkInstanceDisconnected transitions a live instance to
// disconnected. A zero cutoff disconnects unconditionally; otherwise
// the staleness guard must still hold at execution time.
func (s *SQLiteStore) MarkInstanceDisconnected(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	var res sql.Result
	var err error
	if cutoff.IsZero() {
		res, err = s.db.ExecContext(ctx,
			`UPDATE instances SET status = ? WHERE id = ? AND status IN (?, ?)`,
			string(models.InstanceDisconnected), id,
			string(models.InstanceActive), string(models.InstanceIdle))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE instances SET status = ? WHERE id = ? AND status IN (?, ?) AND last_heartbeat <= ?`,
			string(models.InstanceDisconnected), id,
			string(models.InstanceActive), string(models.InstanceIdle), toNanos(cutoff))
	}
	if err != nil {
		return false, fmt.Errorf("mark instance disconnected: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListProjectInstances returns all instances registered against a project.
func (s *SQLiteStore) ListProjectInstances(ctx context.Context, projectID string) ([]*models.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project instances: %w", err)
	}
	defer rows.Close()

	var instances []*models.Instance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, i)
	}
	return instances, rows.Err()
}

func scanMachine(row rowScanner) (*models.Machine, error) {
	var m models.Machine
	var status, caps string
	var heartbeat, createdAt int64
	err := row.Scan(&m.ID, &m.Owner, &m.Name, &status, &heartbeat, &caps, &m.MaxSessions, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Status = models.MachineStatus(status)
	m.LastHeartbeat = fromNanos(heartbeat)
	m.CreatedAt = fromNanos(createdAt)
	m.Capabilities, err = unmarshalCapabilities(caps)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanInstance(row rowScanner) (*models.Instance, error) {
	var i models.Instance
	var status string
	var heartbeat, createdAt int64
	err := row.Scan(&i.ID, &i.MachineID, &i.ProjectID, &status, &heartbeat, &createdAt)
	if err != nil {
		return nil, err
	}
	i.Status = models.InstanceStatus(status)
	i.LastHeartbeat = fromNanos(heartbeat)
	i.CreatedAt = fromNanos(createdAt)
	return &i, nil
}

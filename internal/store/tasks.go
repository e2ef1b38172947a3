package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/models"
)

// CreateTask inserts a pending task, assigning an ID if absent.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = NewULID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, project_id, title, payload, status, claimed_by, claimed_at, failure, created_at)
		 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Payload, string(t.Status),
		t.ClaimedBy, nullableNanos(t.ClaimedAt), t.Failure, toNanos(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask fetches a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.scanTask(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, payload, status, claimed_by, claimed_at, failure, created_at
		 FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("task", id)
	}
	return t, err
}

// ClaimNextTask atomically claims the oldest pending task in the
// project. The selection and the transition are a single guarded
// UPDATE: the inner subquery picks the oldest pending row, and the
// outer status guard re-checks it at write time, so under N concurrent
// callers each task has exactly one winner. A caller that loses the
// race re-evaluates against the next still-pending row on its own next
// call; it never queues behind the winner.
func (s *SQLiteStore) ClaimNextTask(ctx context.Context, projectID, instanceID string, now time.Time) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE tasks
		 SET status = ?, claimed_by = ?, claimed_at = ?
		 WHERE id = (
		     SELECT id FROM tasks
		     WHERE project_id = ? AND status = ?
		     ORDER BY id LIMIT 1
		 ) AND status = ?
		 RETURNING id, project_id, title, payload, status, claimed_by, claimed_at, failure, created_at`,
		string(models.TaskClaimed), instanceID, toNanos(now),
		projectID, string(models.TaskPending), string(models.TaskPending))

	t, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		// No pending task: a valid empty result, not an error.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next task: %w", err)
	}
	return t, nil
}

// ReleaseTask returns a claimed task to pending, holder-only.
func (s *SQLiteStore) ReleaseTask(ctx context.Context, taskID, instanceID string) (*models.Task, error) {
	return s.transitionTask(ctx, taskID, instanceID, "release", models.TaskPending, "")
}

// FinishTask transitions a claimed task to a terminal status, holder-only.
func (s *SQLiteStore) FinishTask(ctx context.Context, taskID, instanceID string, status models.TaskStatus, reason string) (*models.Task, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: finish target must be terminal, got %s", apperrors.ErrInvalidInput, status)
	}
	return s.transitionTask(ctx, taskID, instanceID, "finish", status, reason)
}

// transitionTask performs a holder-checked transition out of the
// claimed state inside one transaction, distinguishing NotFound,
// InvalidTransition, and NotHolder outcomes.
func (s *SQLiteStore) transitionTask(ctx context.Context, taskID, instanceID, op string, to models.TaskStatus, reason string) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	t, err := s.scanTask(tx.QueryRowContext(ctx,
		`SELECT id, project_id, title, payload, status, claimed_by, claimed_at, failure, created_at
		 FROM tasks WHERE id = ?`, taskID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("task", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	if t.Status != models.TaskClaimed {
		return nil, &apperrors.TransitionError{Kind: "task", ID: taskID, From: string(t.Status), Op: op}
	}
	if t.ClaimedBy != instanceID {
		return nil, fmt.Errorf("%w: task %s is held by %s", apperrors.ErrNotHolder, taskID, t.ClaimedBy)
	}

	if to == models.TaskPending {
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, claimed_by = NULL, claimed_at = NULL WHERE id = ?`,
			string(to), taskID)
		t.ClaimedBy = ""
		t.ClaimedAt = nil
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, failure = ? WHERE id = ?`,
			string(to), reason, taskID)
		t.Failure = reason
	}
	if err != nil {
		return nil, fmt.Errorf("%s task: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	t.Status = to
	return t, nil
}

// TaskCounts returns per-status task totals for a project.
func (s *SQLiteStore) TaskCounts(ctx context.Context, projectID string) (map[models.TaskStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[models.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status string
	var claimedBy sql.NullString
	var claimedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Payload, &status,
		&claimedBy, &claimedAt, &t.Failure, &createdAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	if claimedBy.Valid {
		t.ClaimedBy = claimedBy.String
	}
	if claimedAt.Valid {
		at := fromNanos(claimedAt.Int64)
		t.ClaimedAt = &at
	}
	t.CreatedAt = fromNanos(createdAt)
	return &t, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/models"
)

const sessionColumns = `id, machine_id, project_id, mode, working_dir, rows, cols, status, created_at`

// CreateSession inserts a session, assigning an ID if absent.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = NewULID()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.Status == "" {
		sess.Status = models.SessionStarting
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.MachineID, sess.ProjectID, sess.Mode, sess.WorkingDir,
		sess.Geometry.Rows, sess.Geometry.Cols, string(sess.Status), toNanos(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFound("session", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// TransitionSession moves a session from one of the allowed states to
// the target state in a single guarded UPDATE, returning the fresh row
// and whether the guard held.
func (s *SQLiteStore) TransitionSession(ctx context.Context, id string, from []models.SessionStatus, to models.SessionStatus) (*models.Session, bool, error) {
	if len(from) == 0 {
		return nil, false, fmt.Errorf("%w: empty transition source set", apperrors.ErrInvalidInput)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{string(to), id}
	for _, st := range from {
		args = append(args, string(st))
	}

	row := s.db.QueryRowContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ? AND status IN (`+placeholders+`)
		 RETURNING `+sessionColumns, args...)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		// Guard did not hold; report the current state to the caller.
		current, gerr := s.GetSession(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("transition session: %w", err)
	}
	return sess, true, nil
}

// UpdateSessionGeometry records the advisory terminal size.
func (s *SQLiteStore) UpdateSessionGeometry(ctx context.Context, id string, g models.Geometry) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET rows = ?, cols = ? WHERE id = ?`, g.Rows, g.Cols, id)
	if err != nil {
		return fmt.Errorf("update geometry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFound("session", id)
	}
	return nil
}

// CountOpenSessions counts starting|active sessions on a machine.
func (s *SQLiteStore) CountOpenSessions(ctx context.Context, machineID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE machine_id = ? AND status IN (?, ?)`,
		machineID, string(models.SessionStarting), string(models.SessionActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open sessions: %w", err)
	}
	return n, nil
}

// ListOpenSessionsByMachine returns non-terminal sessions on a machine.
func (s *SQLiteStore) ListOpenSessionsByMachine(ctx context.Context, machineID string) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE machine_id = ? AND status IN (?, ?) ORDER BY id`,
		machineID, string(models.SessionStarting), string(models.SessionActive))
	if err != nil {
		return nil, fmt.Errorf("list open sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// AppendChunk persists one output chunk.
func (s *SQLiteStore) AppendChunk(ctx context.Context, c *models.OutputChunk) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_chunks (session_id, seq, data, created_at) VALUES (?, ?, ?, ?)`,
		c.SessionID, c.Seq, c.Data, toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

// ListChunksAfter returns chunks with seq > afterSeq in sequence order,
// up to limit (0 means no limit). Used by observers catching up after
// a resubscribe.
func (s *SQLiteStore) ListChunksAfter(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]*models.OutputChunk, error) {
	q := `SELECT session_id, seq, data, created_at FROM session_chunks
	      WHERE session_id = ? AND seq > ? ORDER BY seq`
	args := []any{sessionID, afterSeq}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.OutputChunk
	for rows.Next() {
		var c models.OutputChunk
		var createdAt int64
		if err := rows.Scan(&c.SessionID, &c.Seq, &c.Data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.CreatedAt = fromNanos(createdAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// LastChunkSeq returns the highest persisted sequence number for a
// session, or 0 when no chunks exist.
func (s *SQLiteStore) LastChunkSeq(ctx context.Context, sessionID string) (uint64, error) {
	var seq uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM session_chunks WHERE session_id = ?`,
		sessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last chunk seq: %w", err)
	}
	return seq, nil
}

// DeleteChunksBefore garbage-collects persisted chunks older than the
// given time. Returns the number deleted.
func (s *SQLiteStore) DeleteChunksBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_chunks WHERE created_at < ?`, toNanos(olderThan))
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var status string
	var createdAt int64
	err := row.Scan(&sess.ID, &sess.MachineID, &sess.ProjectID, &sess.Mode,
		&sess.WorkingDir, &sess.Geometry.Rows, &sess.Geometry.Cols, &status, &createdAt)
	if err != nil {
		return nil, err
	}
	sess.Status = models.SessionStatus(status)
	sess.CreatedAt = fromNanos(createdAt)
	return &sess, nil
}

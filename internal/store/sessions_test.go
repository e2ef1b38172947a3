package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QrCommunication/claudenest/internal/models"
)

func newTestSession(t *testing.T, s *SQLiteStore, machineID, projectID string) *models.Session {
	t.Helper()
	sess := &models.Session{
		MachineID:  machineID,
		ProjectID:  projectID,
		Mode:       "shell",
		WorkingDir: "/srv/ws",
		Geometry:   models.Geometry{Rows: 24, Cols: 80},
	}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestSessionTransitionGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, m, _ := seedProject(t, s, 0)
	sess := newTestSession(t, s, m.ID, p.ID)

	// starting -> active
	got, ok, err := s.TransitionSession(ctx, sess.ID,
		[]models.SessionStatus{models.SessionStarting}, models.SessionActive)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SessionActive, got.Status)

	// starting -> active again: guard fails, current state returned.
	got, ok, err = s.TransitionSession(ctx, sess.ID,
		[]models.SessionStatus{models.SessionStarting}, models.SessionActive)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.SessionActive, got.Status)

	// active -> closed
	_, ok, err = s.TransitionSession(ctx, sess.ID,
		[]models.SessionStatus{models.SessionStarting, models.SessionActive}, models.SessionClosed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCountOpenSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, m, _ := seedProject(t, s, 0)

	a := newTestSession(t, s, m.ID, p.ID)
	newTestSession(t, s, m.ID, p.ID)

	n, err := s.CountOpenSessions(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, err := s.TransitionSession(ctx, a.ID,
		[]models.SessionStatus{models.SessionStarting}, models.SessionClosed)
	require.NoError(t, err)
	require.True(t, ok)

	n, err = s.CountOpenSessions(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "closed sessions do not count toward capacity")
}

func TestChunkRoundTripAndRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, m, _ := seedProject(t, s, 0)
	sess := newTestSession(t, s, m.ID, p.ID)

	old := time.Now().Add(-48 * time.Hour)
	for seq := uint64(1); seq <= 3; seq++ {
		created := time.Now()
		if seq == 1 {
			created = old
		}
		require.NoError(t, s.AppendChunk(ctx, &models.OutputChunk{
			SessionID: sess.ID,
			Seq:       seq,
			Data:      []byte{byte(seq)},
			CreatedAt: created,
		}))
	}

	chunks, err := s.ListChunksAfter(ctx, sess.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, uint64(2), chunks[0].Seq)
	assert.Equal(t, uint64(3), chunks[1].Seq)

	deleted, err := s.DeleteChunksBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := s.ListChunksAfter(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestUpdateSessionGeometry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p, m, _ := seedProject(t, s, 0)
	sess := newTestSession(t, s, m.ID, p.ID)

	require.NoError(t, s.UpdateSessionGeometry(ctx, sess.ID, models.Geometry{Rows: 50, Cols: 132}))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Geometry.Rows)
	assert.Equal(t, 132, got.Geometry.Cols)
}

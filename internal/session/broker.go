package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
	"github.com/QrCommunication/claudenest/internal/store"
)

// Options tunes the broker.
type Options struct {
	// ScrollbackBytes is the per-session output history budget.
	ScrollbackBytes int
	// DefaultMaxSessions applies to machines registered without a limit.
	DefaultMaxSessions int
}

// relayState is the in-memory relay side of one open session. nextSeq
// and the scrollback are mutated only under mu, which is also held
// across the publish, so chunk events leave the broker in sequence
// order.
type relayState struct {
	mu         sync.Mutex
	nextSeq    uint64
	scrollback *Scrollback
}

// Broker owns session lifecycle and output relay.
type Broker struct {
	store store.Store
	bus   *event.Bus
	log   *logging.Logger
	opts  Options

	mu     sync.Mutex
	relays map[string]*relayState

	// createMu serializes capacity checks per machine so concurrent
	// creates cannot overshoot the limit between count and insert.
	createMu sync.Mutex
}

// NewBroker creates a session broker.
func NewBroker(st store.Store, bus *event.Bus, log *logging.Logger, opts Options) *Broker {
	if log == nil {
		log = logging.NopLogger()
	}
	if opts.ScrollbackBytes <= 0 {
		opts.ScrollbackBytes = 256 * 1024
	}
	if opts.DefaultMaxSessions <= 0 {
		opts.DefaultMaxSessions = 8
	}
	return &Broker{
		store:  st,
		bus:    bus,
		log:    log,
		opts:   opts,
		relays: make(map[string]*relayState),
	}
}

// Create opens a session on a machine. The machine must be online and
// under its concurrent session limit; the session starts in the
// starting state and activates when the host acknowledges the spawn.
// Initial input, if any, is relayed to the host immediately.
func (b *Broker) Create(ctx context.Context, machineID, projectID, mode, workingDir string, g models.Geometry, initialInput []byte) (*models.Session, error) {
	if machineID == "" || projectID == "" {
		return nil, fmt.Errorf("%w: machine and project ids required", apperrors.ErrInvalidInput)
	}
	if g != (models.Geometry{}) && !g.Valid() {
		return nil, fmt.Errorf("%w: geometry dimensions must be positive", apperrors.ErrInvalidInput)
	}

	machine, err := b.store.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if !machine.Live() {
		return nil, fmt.Errorf("%w: machine %s", apperrors.ErrMachineOffline, machineID)
	}
	if _, err := b.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	maxSessions := machine.MaxSessions
	if maxSessions <= 0 {
		maxSessions = b.opts.DefaultMaxSessions
	}

	b.createMu.Lock()
	defer b.createMu.Unlock()

	open, err := b.store.CountOpenSessions(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if open >= maxSessions {
		return nil, fmt.Errorf("%w: machine %s has %d open sessions (max %d)",
			apperrors.ErrCapacityExceeded, machineID, open, maxSessions)
	}

	sess := &models.Session{
		MachineID:  machineID,
		ProjectID:  projectID,
		Mode:       mode,
		WorkingDir: workingDir,
		Geometry:   g,
		Status:     models.SessionStarting,
	}
	if err := b.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.relays[sess.ID] = &relayState{scrollback: NewScrollback(b.opts.ScrollbackBytes)}
	b.mu.Unlock()

	b.log.WithSession(sess.ID).WithMachine(machineID).
		Info("session created", "mode", mode, "working_dir", workingDir)
	b.bus.Publish(event.NewSessionStatusEvent(sess, ""))

	if len(initialInput) > 0 {
		b.bus.Publish(event.NewSessionInputEvent(sess.ID, machineID, initialInput))
	}
	return sess, nil
}

// Activate records the host's acknowledgement that the session process
// spawned, moving it from starting to active.
func (b *Broker) Activate(ctx context.Context, sessionID string) (*models.Session, error) {
	sess, ok, err := b.store.TransitionSession(ctx, sessionID,
		[]models.SessionStatus{models.SessionStarting}, models.SessionActive)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperrors.TransitionError{Kind: "session", ID: sessionID, From: string(sess.Status), Op: "activate"}
	}

	b.log.WithSession(sessionID).Info("session active")
	b.bus.Publish(event.NewSessionStatusEvent(sess, ""))
	return sess, nil
}

// Resize records a new terminal geometry and advises the host. Only
// active sessions resize.
func (b *Broker) Resize(ctx context.Context, sessionID string, g models.Geometry) error {
	if !g.Valid() {
		return fmt.Errorf("%w: geometry dimensions must be positive", apperrors.ErrInvalidInput)
	}

	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionActive {
		return &apperrors.TransitionError{Kind: "session", ID: sessionID, From: string(sess.Status), Op: "resize"}
	}

	if err := b.store.UpdateSessionGeometry(ctx, sessionID, g); err != nil {
		return err
	}
	b.bus.Publish(event.NewSessionResizeEvent(sessionID, sess.MachineID, g))
	return nil
}

// Input relays observer keystrokes to the host.
func (b *Broker) Input(ctx context.Context, sessionID string, data []byte) error {
	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return &apperrors.TransitionError{Kind: "session", ID: sessionID, From: string(sess.Status), Op: "input"}
	}
	b.bus.Publish(event.NewSessionInputEvent(sessionID, sess.MachineID, data))
	return nil
}

// Terminate closes a session. Any non-terminal state closes; closing an
// already-terminal session is a no-op so retries and races are safe.
func (b *Broker) Terminate(ctx context.Context, sessionID, reason string) error {
	sess, ok, err := b.store.TransitionSession(ctx, sessionID,
		[]models.SessionStatus{models.SessionStarting, models.SessionActive}, models.SessionClosed)
	if err != nil {
		return err
	}
	if !ok {
		if sess.Status.Terminal() {
			return nil
		}
		return &apperrors.TransitionError{Kind: "session", ID: sessionID, From: string(sess.Status), Op: "terminate"}
	}

	b.dropRelay(sessionID)
	b.log.WithSession(sessionID).Info("session closed", "reason", reason)
	b.bus.Publish(event.NewSessionStatusEvent(sess, reason))
	return nil
}

// PushChunk ingests one output chunk from the host: assigns the next
// sequence number, buffers it in the scrollback, persists it, and
// republishes it verbatim on the session channel. All of that happens
// under the session's relay lock, so concurrent pushes serialize and
// observers see a strictly increasing gapless sequence.
//
// Chunks for terminal sessions are discarded.
func (b *Broker) PushChunk(ctx context.Context, sessionID string, data []byte) (uint64, error) {
	state, err := b.relay(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	sess, err := b.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if sess.Status.Terminal() {
		return 0, &apperrors.TransitionError{Kind: "session", ID: sessionID, From: string(sess.Status), Op: "push"}
	}

	seq := state.nextSeq + 1
	chunk := &models.OutputChunk{
		SessionID: sessionID,
		Seq:       seq,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if err := b.store.AppendChunk(ctx, chunk); err != nil {
		return 0, err
	}
	state.nextSeq = seq
	state.scrollback.Append(*chunk)

	b.bus.Publish(event.NewSessionOutputEvent(sessionID, seq, data))
	return seq, nil
}

// Scrollback returns the retained recent output of a session, oldest
// first. Observers attach with this, then follow live chunk events.
func (b *Broker) Scrollback(ctx context.Context, sessionID string) ([]models.OutputChunk, error) {
	state, err := b.relay(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return state.scrollback.Chunks(), nil
}

// PullChunks returns persisted chunks with seq > afterSeq in order, for
// observers catching up beyond the in-memory scrollback. limit 0 means
// no limit.
func (b *Broker) PullChunks(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]*models.OutputChunk, error) {
	if _, err := b.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return b.store.ListChunksAfter(ctx, sessionID, afterSeq, limit)
}

// Get returns a session by ID.
func (b *Broker) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	return b.store.GetSession(ctx, sessionID)
}

// MarkMachineSessionsErrored fails every open session on a machine.
// Called by the presence monitor when the host goes offline; each
// errored session gets a status event carrying the reason.
func (b *Broker) MarkMachineSessionsErrored(ctx context.Context, machineID, reason string) (int, error) {
	open, err := b.store.ListOpenSessionsByMachine(ctx, machineID)
	if err != nil {
		return 0, err
	}

	errored := 0
	for _, sess := range open {
		fresh, ok, err := b.store.TransitionSession(ctx, sess.ID,
			[]models.SessionStatus{models.SessionStarting, models.SessionActive}, models.SessionErrored)
		if err != nil {
			return errored, err
		}
		if !ok {
			// Closed or already errored in the meantime.
			continue
		}
		errored++
		b.dropRelay(sess.ID)
		b.log.WithSession(sess.ID).WithMachine(machineID).Warn("session errored", "reason", reason)
		b.bus.Publish(event.NewSessionStatusEvent(fresh, reason))
	}
	return errored, nil
}

// relay returns the in-memory relay state for an open session, lazily
// rebuilding it after a restart by resuming from the highest persisted
// sequence number.
func (b *Broker) relay(ctx context.Context, sessionID string) (*relayState, error) {
	b.mu.Lock()
	if state, ok := b.relays[sessionID]; ok {
		b.mu.Unlock()
		return state, nil
	}
	b.mu.Unlock()

	if _, err := b.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	last, err := b.store.LastChunkSeq(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.relays[sessionID]; ok {
		return state, nil
	}
	state := &relayState{nextSeq: last, scrollback: NewScrollback(b.opts.ScrollbackBytes)}
	b.relays[sessionID] = state
	return state, nil
}

func (b *Broker) dropRelay(sessionID string) {
	b.mu.Lock()
	delete(b.relays, sessionID)
	b.mu.Unlock()
}

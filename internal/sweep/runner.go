package sweep

import (
	"context"
	"time"

	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/store"
)

// PresenceSweeper flips stale entities out of their live states.
type PresenceSweeper interface {
	Sweep(ctx context.Context) error
}

// LockSweeper garbage-collects expired lock rows.
type LockSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ChunkSweeper garbage-collects old persisted output chunks.
type ChunkSweeper interface {
	DeleteChunksBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Options tunes the runner's cadences and retry behavior.
type Options struct {
	// PresenceInterval is the cadence of the presence sweep.
	PresenceInterval time.Duration
	// CleanupInterval is the cadence of the expiry cleanup sweep.
	CleanupInterval time.Duration
	// ChunkRetention is how long persisted chunks are kept.
	ChunkRetention time.Duration
	// BusyRetries and BusyBackoff bound retries on transient store
	// contention.
	BusyRetries int
	BusyBackoff time.Duration
}

// Runner drives the periodic sweeps. Start launches the loops; Stop
// cancels them and waits for the current pass to finish.
type Runner struct {
	presence PresenceSweeper
	locks    LockSweeper
	chunks   ChunkSweeper
	log      *logging.Logger
	opts     Options

	stopFunc context.CancelFunc
	stopped  chan struct{}
}

// NewRunner creates a sweep runner.
func NewRunner(presence PresenceSweeper, locks LockSweeper, chunks ChunkSweeper, log *logging.Logger, opts Options) *Runner {
	if log == nil {
		log = logging.NopLogger()
	}
	if opts.PresenceInterval <= 0 {
		opts.PresenceInterval = time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 24 * time.Hour
	}
	if opts.ChunkRetention <= 0 {
		opts.ChunkRetention = 24 * time.Hour
	}
	if opts.BusyRetries <= 0 {
		opts.BusyRetries = 5
	}
	if opts.BusyBackoff <= 0 {
		opts.BusyBackoff = 50 * time.Millisecond
	}
	return &Runner{
		presence: presence,
		locks:    locks,
		chunks:   chunks,
		log:      log,
		opts:     opts,
		stopped:  make(chan struct{}),
	}
}

// Start launches the sweep loops. Call Stop to shut them down.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.stopFunc = cancel

	go r.run(ctx)
}

// Stop cancels the loops and waits for them to exit. Safe to call even
// if Start was never called.
func (r *Runner) Stop() {
	if r.stopFunc != nil {
		r.stopFunc()
		<-r.stopped
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.stopped)

	presenceTicker := time.NewTicker(r.opts.PresenceInterval)
	defer presenceTicker.Stop()
	cleanupTicker := time.NewTicker(r.opts.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-presenceTicker.C:
			r.RunPresence(ctx)
		case <-cleanupTicker.C:
			r.RunCleanup(ctx)
		}
	}
}

// RunPresence executes one presence pass. Transient store contention is
// retried with jittered backoff; a terminal failure is logged and the
// next tick tries again.
func (r *Runner) RunPresence(ctx context.Context) {
	err := store.Retry(ctx, r.opts.BusyRetries, r.opts.BusyBackoff, func() error {
		return r.presence.Sweep(ctx)
	})
	if err != nil && ctx.Err() == nil {
		r.log.Error("presence sweep failed", "error", err)
	}
}

// RunCleanup executes one expiry cleanup pass: expired lock rows, then
// output chunks past retention.
func (r *Runner) RunCleanup(ctx context.Context) {
	var swept int
	err := store.Retry(ctx, r.opts.BusyRetries, r.opts.BusyBackoff, func() error {
		n, err := r.locks.SweepExpired(ctx)
		swept = n
		return err
	})
	if err != nil && ctx.Err() == nil {
		r.log.Error("lock cleanup failed", "error", err)
	}

	var deleted int64
	cutoff := time.Now().Add(-r.opts.ChunkRetention)
	err = store.Retry(ctx, r.opts.BusyRetries, r.opts.BusyBackoff, func() error {
		n, err := r.chunks.DeleteChunksBefore(ctx, cutoff)
		deleted = n
		return err
	})
	if err != nil && ctx.Err() == nil {
		r.log.Error("chunk cleanup failed", "error", err)
	}

	if swept > 0 || deleted > 0 {
		r.log.Info("cleanup pass done", "locks_swept", swept, "chunks_deleted", deleted)
	}
}

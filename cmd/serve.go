package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/QrCommunication/claudenest/internal/api"
	"github.com/QrCommunication/claudenest/internal/config"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/filelock"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/presence"
	"github.com/QrCommunication/claudenest/internal/relay"
	"github.com/QrCommunication/claudenest/internal/session"
	"github.com/QrCommunication/claudenest/internal/store"
	"github.com/QrCommunication/claudenest/internal/sweep"
	"github.com/QrCommunication/claudenest/internal/taskcoord"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination engine",
	Long: `Run the engine: the collaborator HTTP API, the periodic presence and
cleanup sweeps, and (when enabled) the NATS event relay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return serveRun(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveRun(ctx context.Context, cfg *config.Config) error {
	log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Close()

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	// The engine's claim and lock guarantees rest on atomic
	// read-modify-write in the store. Refuse to start without it.
	if err := st.VerifyAtomicity(ctx); err != nil {
		return fmt.Errorf("store atomicity verification failed: %w", err)
	}

	bus := event.NewBus()

	tasks := taskcoord.New(st, bus, log)
	locks := filelock.NewManager(st, bus, log, filelock.TTLBounds{
		Default: cfg.Locks.DefaultTTL,
		Min:     cfg.Locks.MinTTL,
		Max:     cfg.Locks.MaxTTL,
	})
	sessions := session.NewBroker(st, bus, log, session.Options{
		ScrollbackBytes:    cfg.Sessions.ScrollbackBytes,
		DefaultMaxSessions: cfg.Sessions.DefaultMaxSessions,
	})
	monitor := presence.NewMonitor(st, bus, log, cfg.Presence.HeartbeatTimeout)
	monitor.SetSessionErrorer(sessions)

	var forwarder *relay.Forwarder
	if cfg.Relay.Enabled {
		transport, err := relay.NewNATSTransport(cfg.Relay.NATSURL)
		if err != nil {
			return fmt.Errorf("connect relay: %w", err)
		}
		forwarder = relay.NewForwarder(bus, transport, log)
		forwarder.Start()
		defer func() {
			if err := forwarder.Stop(); err != nil {
				log.Warn("relay shutdown", "error", err)
			}
		}()
	}

	runner := sweep.NewRunner(monitor, locks, st, log, sweep.Options{
		PresenceInterval: cfg.Presence.SweepInterval,
		CleanupInterval:  cfg.Locks.CleanupInterval,
		ChunkRetention:   cfg.Sessions.ChunkRetention,
		BusyRetries:      cfg.Store.BusyRetries,
		BusyBackoff:      time.Duration(cfg.Store.BusyBackoffMs) * time.Millisecond,
	})
	runner.Start(ctx)
	defer runner.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewHandler(st, tasks, locks, sessions, monitor, log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("engine listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/QrCommunication/claudenest/internal/config"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/filelock"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/presence"
	"github.com/QrCommunication/claudenest/internal/session"
	"github.com/QrCommunication/claudenest/internal/store"
	"github.com/QrCommunication/claudenest/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one maintenance pass and exit",
	Long: `Run a single presence sweep and expiry cleanup against the store,
then exit. Useful for cron-style operation and for recovering storage
on an engine that is not currently serving.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		log, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		defer log.Close()

		ctx := cmd.Context()
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}

		bus := event.NewBus()
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

		runner := sweep.NewRunner(monitor, locks, st, log, sweep.Options{
			ChunkRetention: cfg.Sessions.ChunkRetention,
			BusyRetries:    cfg.Store.BusyRetries,
			BusyBackoff:    time.Duration(cfg.Store.BusyBackoffMs) * time.Millisecond,
		})
		runner.RunPresence(ctx)
		runner.RunCleanup(ctx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

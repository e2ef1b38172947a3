package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("default config should validate, got: %v", ValidationErrors(errs))
	}
}

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Presence.HeartbeatTimeout != 2*time.Minute {
		t.Errorf("heartbeat timeout = %v, want 2m", cfg.Presence.HeartbeatTimeout)
	}
	if cfg.Presence.SweepInterval != time.Minute {
		t.Errorf("sweep interval = %v, want 1m", cfg.Presence.SweepInterval)
	}
	if cfg.Locks.CleanupInterval != 24*time.Hour {
		t.Errorf("cleanup interval = %v, want 24h", cfg.Locks.CleanupInterval)
	}
	if cfg.Sessions.DefaultMaxSessions < 1 {
		t.Errorf("default max sessions = %d, want >= 1", cfg.Sessions.DefaultMaxSessions)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "empty store path",
			mutate: func(c *Config) { c.Store.Path = "" },
			field:  "store.path",
		},
		{
			name:   "zero heartbeat timeout",
			mutate: func(c *Config) { c.Presence.HeartbeatTimeout = 0 },
			field:  "presence.heartbeat_timeout",
		},
		{
			name:   "max ttl below min ttl",
			mutate: func(c *Config) { c.Locks.MaxTTL = time.Second },
			field:  "locks.max_ttl",
		},
		{
			name:   "tiny scrollback",
			mutate: func(c *Config) { c.Sessions.ScrollbackBytes = 16 },
			field:  "sessions.scrollback_bytes",
		},
		{
			name:   "bogus log level",
			mutate: func(c *Config) { c.Logging.Level = "LOUD" },
			field:  "logging.level",
		},
		{
			name:   "relay enabled without url",
			mutate: func(c *Config) { c.Relay.Enabled = true; c.Relay.NATSURL = "" },
			field:  "relay.nats_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation errors, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %s, got: %v", tt.field, ValidationErrors(errs))
			}
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("message should count errors, got %q", msg)
	}
	if !strings.Contains(msg, "a: bad (got: 1)") {
		t.Errorf("message should include first error, got %q", msg)
	}
}

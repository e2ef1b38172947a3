package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "locks.min_ttl")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the Config for invalid values and returns all
// validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Store.Path == "" {
		errors = append(errors, ValidationError{
			Field:   "store.path",
			Value:   c.Store.Path,
			Message: "must not be empty",
		})
	}
	if c.Store.BusyRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "store.busy_retries",
			Value:   c.Store.BusyRetries,
			Message: "must be at least 1",
		})
	}

	if c.Presence.HeartbeatTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "presence.heartbeat_timeout",
			Value:   c.Presence.HeartbeatTimeout,
			Message: "must be positive",
		})
	}
	if c.Presence.SweepInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "presence.sweep_interval",
			Value:   c.Presence.SweepInterval,
			Message: "must be positive",
		})
	}
	if c.Presence.SweepInterval > c.Presence.HeartbeatTimeout && c.Presence.HeartbeatTimeout > 0 {
		errors = append(errors, ValidationError{
			Field:   "presence.sweep_interval",
			Value:   c.Presence.SweepInterval,
			Message: "should not exceed presence.heartbeat_timeout",
		})
	}

	if c.Locks.MinTTL <= 0 {
		errors = append(errors, ValidationError{
			Field:   "locks.min_ttl",
			Value:   c.Locks.MinTTL,
			Message: "must be positive",
		})
	}
	if c.Locks.MaxTTL < c.Locks.MinTTL {
		errors = append(errors, ValidationError{
			Field:   "locks.max_ttl",
			Value:   c.Locks.MaxTTL,
			Message: "must be >= locks.min_ttl",
		})
	}
	if c.Locks.DefaultTTL < c.Locks.MinTTL || c.Locks.DefaultTTL > c.Locks.MaxTTL {
		errors = append(errors, ValidationError{
			Field:   "locks.default_ttl",
			Value:   c.Locks.DefaultTTL,
			Message: "must be within [locks.min_ttl, locks.max_ttl]",
		})
	}

	if c.Sessions.ScrollbackBytes < 1024 {
		errors = append(errors, ValidationError{
			Field:   "sessions.scrollback_bytes",
			Value:   c.Sessions.ScrollbackBytes,
			Message: "must be at least 1024",
		})
	}
	if c.Sessions.DefaultMaxSessions < 1 {
		errors = append(errors, ValidationError{
			Field:   "sessions.default_max_sessions",
			Value:   c.Sessions.DefaultMaxSessions,
			Message: "must be at least 1",
		})
	}

	if !slices.Contains([]string{"DEBUG", "INFO", "WARN", "ERROR"}, strings.ToUpper(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: "must be one of DEBUG, INFO, WARN, ERROR",
		})
	}

	if c.Relay.Enabled && c.Relay.NATSURL == "" {
		errors = append(errors, ValidationError{
			Field:   "relay.nats_url",
			Value:   c.Relay.NATSURL,
			Message: "required when relay.enabled is true",
		})
	}

	return errors
}

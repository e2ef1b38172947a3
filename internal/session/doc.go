// Package session brokers interactive sessions between remote
// execution hosts and observers.
//
// The broker owns the session lifecycle (starting, active, closed,
// errored) and the output relay: hosts push PTY byte chunks, the
// broker assigns each a per-session sequence number, retains a bounded
// scrollback, persists chunks for pull-based catch-up, and republishes
// them verbatim on the session's event channel in ingestion order.
//
// Ordering is the core guarantee: sequence numbers are assigned and
// published under one per-session lock, so observers see chunks in a
// strictly increasing gapless order no matter how many producers push
// concurrently.
package session

// Package presence tracks liveness of machines and agent instances
// through periodic heartbeats.
//
// Liveness is heartbeat-driven: a machine or instance that has not
// reported within the configured timeout is flipped offline or
// disconnected by the sweep. Sweep and heartbeat race safely because
// every status flip re-checks its staleness condition inside the
// UPDATE itself; a heartbeat that lands between the stale read and the
// flip keeps the entity live.
//
// When a machine goes offline, its open sessions are marked errored
// through the session broker so observers are not left attached to a
// stream that will never resume.
package presence

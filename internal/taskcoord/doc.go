// Package taskcoord assigns units of work to instances.
//
// Claiming is atomic: the store selects the oldest pending task and
// transitions it to claimed in one guarded operation, so under N
// concurrent callers each task has exactly one winner and a losing
// caller immediately evaluates the next pending task instead of
// queueing. An empty queue is a valid empty result, not an error.
//
// A claim has no TTL. A crashed claimant leaves its task claimed until
// an operator releases it; the coordinator deliberately does not
// auto-expire claims.
package taskcoord

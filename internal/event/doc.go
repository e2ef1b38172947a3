// Package event provides the in-process fan-out bus for domain events.
//
// Events are published on scoped channels (project:{id}, session:{id},
// machine:{id}) and delivered synchronously, at-most-once, to the
// handlers currently subscribed to that channel. There is no queueing
// or replay: a disconnected observer misses events until it
// resubscribes and re-reads authoritative state from the store. The
// event stream is a freshness signal; durable state lives in the
// entities themselves.
//
// Delivery within one channel follows publish order. The session
// broker funnels all chunks for a session through a single publish
// path, so subscribers observe strictly increasing sequence numbers.
//
// Handlers run on the publisher's goroutine. A panicking handler is
// recovered and logged so it cannot block delivery to the rest.
package event

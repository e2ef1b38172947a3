// Package relay bridges the in-process event bus to an external
// pub/sub transport so remote collaborators (hosts, observers, other
// engine nodes) receive the same events local subscribers do.
//
// The Forwarder subscribes to every bus channel, serializes each event
// payload to JSON, and publishes it on a transport subject derived
// from the channel name. Because the bus dispatches synchronously from
// the publishing goroutine, forwarding preserves the per-session
// ordering the session broker establishes.
package relay

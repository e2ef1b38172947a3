package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Transport is an external pub/sub sink for forwarded events.
type Transport interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// NATSTransport publishes events to a NATS server.
type NATSTransport struct {
	nc *nats.Conn
}

// NewNATSTransport connects to NATS with unbounded reconnects; a relay
// outage should never take the engine down with it.
func NewNATSTransport(url string) (*NATSTransport, error) {
	opts := []nats.Option{
		nats.Name("claudenest-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

// Publish implements Transport.
func (t *NATSTransport) Publish(_ context.Context, subject string, payload []byte) error {
	if t.nc == nil || t.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	return t.nc.Publish(subject, payload)
}

// Close drains pending publishes before closing the connection.
func (t *NATSTransport) Close() error {
	if t.nc == nil {
		return nil
	}
	err := t.nc.Drain()
	t.nc.Close()
	return err
}

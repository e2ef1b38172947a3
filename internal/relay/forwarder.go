package relay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
)

// Forwarder mirrors every bus event onto the external transport.
type Forwarder struct {
	bus       *event.Bus
	transport Transport
	log       *logging.Logger
	subID     string
}

// NewForwarder creates a forwarder. Call Start to begin mirroring.
func NewForwarder(bus *event.Bus, transport Transport, log *logging.Logger) *Forwarder {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Forwarder{bus: bus, transport: transport, log: log}
}

// Start subscribes to the whole bus. Events that fail to serialize or
// publish are logged and dropped; forwarding is best-effort and must
// never block or fail a local operation.
func (f *Forwarder) Start() {
	f.subID = f.bus.SubscribeAll(func(ev event.Event) {
		payload, err := json.Marshal(ev.Payload())
		if err != nil {
			f.log.Error("relay marshal failed", "event", ev.EventType(), "error", err)
			return
		}
		subject := Subject(ev.Channel())
		if err := f.transport.Publish(context.Background(), subject, payload); err != nil {
			f.log.Warn("relay publish failed", "subject", subject, "error", err)
		}
	})
}

// Stop unsubscribes from the bus and closes the transport.
func (f *Forwarder) Stop() error {
	if f.subID != "" {
		f.bus.Unsubscribe(f.subID)
		f.subID = ""
	}
	return f.transport.Close()
}

// Subject maps a bus channel to a transport subject:
// "session:01ABC" becomes "claudenest.session.01ABC".
func Subject(channel string) string {
	return "claudenest." + strings.ReplaceAll(channel, ":", ".")
}

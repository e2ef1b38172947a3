package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
)

type fakeTransport struct {
	mu       sync.Mutex
	messages []fakeMessage
	fail     bool
	closed   bool
}

type fakeMessage struct {
	subject string
	payload []byte
}

func (t *fakeTransport) Publish(_ context.Context, subject string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("transport down")
	}
	t.messages = append(t.messages, fakeMessage{subject: subject, payload: payload})
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func TestSubject(t *testing.T) {
	cases := map[string]string{
		"project:01ABC": "claudenest.project.01ABC",
		"session:s1":    "claudenest.session.s1",
		"machine:m1":    "claudenest.machine.m1",
	}
	for channel, want := range cases {
		if got := Subject(channel); got != want {
			t.Errorf("Subject(%q) = %q, want %q", channel, got, want)
		}
	}
}

func TestForwarderMirrorsEvents(t *testing.T) {
	bus := event.NewBus()
	transport := &fakeTransport{}
	f := NewForwarder(bus, transport, logging.NopLogger())
	f.Start()

	bus.Publish(event.NewTaskStatusEvent("p1", "t1", "i1", models.TaskClaimed, ""))
	bus.Publish(event.NewSessionOutputEvent("s1", 1, []byte("hello")))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.messages) != 2 {
		t.Fatalf("expected 2 forwarded messages, got %d", len(transport.messages))
	}
	if transport.messages[0].subject != "claudenest.project.p1" {
		t.Errorf("unexpected subject %s", transport.messages[0].subject)
	}
	if transport.messages[1].subject != "claudenest.session.s1" {
		t.Errorf("unexpected subject %s", transport.messages[1].subject)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.messages[0].payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["event"] != "task.status" || payload["task_id"] != "t1" {
		t.Errorf("unexpected payload: %v", payload)
	}
	if _, ok := payload["ts"].(string); !ok {
		t.Errorf("payload missing ts timestamp: %v", payload)
	}
}

func TestForwarderPreservesChunkOrder(t *testing.T) {
	bus := event.NewBus()
	transport := &fakeTransport{}
	f := NewForwarder(bus, transport, logging.NopLogger())
	f.Start()

	for seq := uint64(1); seq <= 50; seq++ {
		bus.Publish(event.NewSessionOutputEvent("s1", seq, []byte("x")))
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	for i, msg := range transport.messages {
		var payload map[string]any
		if err := json.Unmarshal(msg.payload, &payload); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if seq := payload["seq"].(float64); seq != float64(i+1) {
			t.Fatalf("reorder at index %d: seq %v", i, seq)
		}
	}
}

func TestForwarderSurvivesTransportFailure(t *testing.T) {
	bus := event.NewBus()
	transport := &fakeTransport{fail: true}
	f := NewForwarder(bus, transport, logging.NopLogger())
	f.Start()

	// Must not panic or block local publishing.
	bus.Publish(event.NewTaskStatusEvent("p1", "t1", "i1", models.TaskClaimed, ""))

	transport.mu.Lock()
	transport.fail = false
	transport.mu.Unlock()

	bus.Publish(event.NewTaskStatusEvent("p1", "t2", "i1", models.TaskClaimed, ""))
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.messages) != 1 {
		t.Errorf("expected delivery to resume, got %d messages", len(transport.messages))
	}
}

func TestForwarderStop(t *testing.T) {
	bus := event.NewBus()
	transport := &fakeTransport{}
	f := NewForwarder(bus, transport, logging.NopLogger())
	f.Start()

	if err := f.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	bus.Publish(event.NewTaskStatusEvent("p1", "t1", "i1", models.TaskClaimed, ""))

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if !transport.closed {
		t.Errorf("Stop should close the transport")
	}
	if len(transport.messages) != 0 {
		t.Errorf("stopped forwarder should not forward, got %d messages", len(transport.messages))
	}
}

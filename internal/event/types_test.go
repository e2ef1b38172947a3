package event

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/QrCommunication/claudenest/internal/models"
)

func TestChannelNames(t *testing.T) {
	if got := ProjectChannel("p1"); got != "project:p1" {
		t.Errorf("ProjectChannel = %q", got)
	}
	if got := SessionChannel("s1"); got != "session:s1" {
		t.Errorf("SessionChannel = %q", got)
	}
	if got := MachineChannel("m1"); got != "machine:m1" {
		t.Errorf("MachineChannel = %q", got)
	}
}

func TestPayloadCarriesUTCTimestamp(t *testing.T) {
	events := []Event{
		NewTaskStatusEvent("p1", "t1", "inst-a", models.TaskClaimed, ""),
		NewMachineStatusEvent("m1", models.MachineOffline, "heartbeat_timeout"),
		NewInstanceStatusEvent("p1", "inst-a", models.InstanceDisconnected, true, "operator"),
		NewSessionOutputEvent("s1", 1, []byte("x")),
	}

	for _, e := range events {
		p := e.Payload()
		raw, ok := p["ts"].(string)
		if !ok {
			t.Fatalf("%s payload has no ts string", e.EventType())
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			t.Fatalf("%s ts %q not RFC3339: %v", e.EventType(), raw, err)
		}
		if ts.Location() != time.UTC {
			t.Errorf("%s ts should be UTC", e.EventType())
		}
		if p["event"] != e.EventType() {
			t.Errorf("payload event = %v, want %s", p["event"], e.EventType())
		}
	}
}

func TestLockReleasedPayloadCarriesForced(t *testing.T) {
	lock := &models.FileLock{
		ID:        "l1",
		ProjectID: "p1",
		Path:      "src/app.js",
		HolderID:  "inst-a",
	}

	forced := NewLockReleasedEvent(lock, true, false)
	if forced.Payload()["forced"] != true {
		t.Error("forced release payload should carry forced=true")
	}

	normal := NewLockReleasedEvent(lock, false, false)
	if normal.Payload()["forced"] != false {
		t.Error("normal release payload should carry forced=false")
	}
}

func TestOutputPayloadRoundTripsBinary(t *testing.T) {
	data := []byte{0x1b, '[', '3', '1', 'm', 0x00, 0xff}
	e := NewSessionOutputEvent("s1", 7, data)

	p := e.Payload()
	decoded, err := base64.StdEncoding.DecodeString(p["data"].(string))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(data) {
		t.Error("payload data should round-trip binary chunks")
	}
	if p["seq"] != uint64(7) {
		t.Errorf("seq = %v, want 7", p["seq"])
	}
}

func TestResizeEventTargetsMachineChannel(t *testing.T) {
	e := NewSessionResizeEvent("s1", "m1", models.Geometry{Rows: 40, Cols: 120})
	if e.Channel() != "machine:m1" {
		t.Errorf("resize channel = %q, want machine:m1", e.Channel())
	}
	p := e.Payload()
	if p["rows"] != 40 || p["cols"] != 120 {
		t.Errorf("geometry payload = %v/%v, want 40/120", p["rows"], p["cols"])
	}
}

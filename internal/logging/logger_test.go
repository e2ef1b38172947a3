package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Info("session created", "session_id", "s1")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "engine.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "session created" {
		t.Errorf("msg = %v, want %q", entry["msg"], "session created")
	}
	if entry["session_id"] != "s1" {
		t.Errorf("session_id = %v, want s1", entry["session_id"])
	}
}

func TestChildLoggerCarriesAttributes(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	child := l.WithProject("p1").WithInstance("inst-a")
	child.Debug("claimed")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "engine.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["project_id"] != "p1" {
		t.Errorf("project_id = %v, want p1", entry["project_id"])
	}
	if entry["instance_id"] != "inst-a" {
		t.Errorf("instance_id = %v, want inst-a", entry["instance_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(dir, LevelError)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("dropped")
	l.Error("kept")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "engine.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), string(data))
	}
	if !strings.Contains(lines[0], "kept") {
		t.Errorf("surviving line should be the error entry, got %q", lines[0])
	}
}

func TestNopLogger(t *testing.T) {
	l := NopLogger()
	// Must not panic and Close must be a no-op.
	l.Info("discarded")
	if err := l.Close(); err != nil {
		t.Errorf("Close on NopLogger: %v", err)
	}
}

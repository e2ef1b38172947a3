package taskcoord

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
	"github.com/QrCommunication/claudenest/internal/store"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *event.Bus, string, string) {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p := &models.Project{Owner: "owner-1", Name: "workspace"}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	m := &models.Machine{Owner: "owner-1", Name: "host-1", MaxSessions: 4}
	if err := s.CreateMachine(ctx, m); err != nil {
		t.Fatalf("CreateMachine failed: %v", err)
	}
	inst := &models.Instance{MachineID: m.ID, ProjectID: p.ID}
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	bus := event.NewBus()
	return New(s, bus, logging.NopLogger()), bus, p.ID, inst.ID
}

func TestEnqueueAndClaimNext(t *testing.T) {
	c, _, projectID, instanceID := newTestCoordinator(t)
	ctx := context.Background()

	first, err := c.Enqueue(ctx, &models.Task{ProjectID: projectID, Title: "first"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := c.Enqueue(ctx, &models.Task{ProjectID: projectID, Title: "second"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	task, err := c.ClaimNext(ctx, projectID, instanceID)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if task == nil {
		t.Fatal("expected a task, got nil")
	}
	if task.ID != first.ID {
		t.Errorf("expected oldest task %s first, got %s", first.ID, task.ID)
	}
	if task.Status != models.TaskClaimed {
		t.Errorf("expected status claimed, got %s", task.Status)
	}
	if task.ClaimedBy != instanceID {
		t.Errorf("expected claimed_by %s, got %s", instanceID, task.ClaimedBy)
	}
}

func TestClaimNextEmptyQueue(t *testing.T) {
	c, _, projectID, instanceID := newTestCoordinator(t)

	task, err := c.ClaimNext(context.Background(), projectID, instanceID)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task on empty queue, got %+v", task)
	}
}

func TestClaimNextValidatesInput(t *testing.T) {
	c, _, projectID, _ := newTestCoordinator(t)

	if _, err := c.ClaimNext(context.Background(), projectID, ""); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.ClaimNext(context.Background(), "", "inst"); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestReleaseRequeuesTask(t *testing.T) {
	c, _, projectID, instanceID := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, &models.Task{ProjectID: projectID, Title: "work"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	task, err := c.ClaimNext(ctx, projectID, instanceID)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	if err := c.Release(ctx, task.ID, "someone-else"); !apperrors.Is(err, apperrors.ErrNotHolder) {
		t.Errorf("expected ErrNotHolder for foreign release, got %v", err)
	}
	if err := c.Release(ctx, task.ID, instanceID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	again, err := c.ClaimNext(ctx, projectID, instanceID)
	if err != nil {
		t.Fatalf("re-claim failed: %v", err)
	}
	if again == nil || again.ID != task.ID {
		t.Errorf("expected released task to be claimable again")
	}
}

func TestCompleteAndFailAreTerminal(t *testing.T) {
	c, _, projectID, instanceID := newTestCoordinator(t)
	ctx := context.Background()

	a, _ := c.Enqueue(ctx, &models.Task{ProjectID: projectID, Title: "a"})
	b, _ := c.Enqueue(ctx, &models.Task{ProjectID: projectID, Title: "b"})

	if _, err := c.ClaimNext(ctx, projectID, instanceID); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := c.Complete(ctx, a.ID, instanceID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := c.Complete(ctx, a.ID, instanceID); !apperrors.Is(err, apperrors.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on completed task, got %v", err)
	}

	if _, err := c.ClaimNext(ctx, projectID, instanceID); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := c.Fail(ctx, b.ID, instanceID, "tool crashed"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	got, err := c.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != models.TaskFailed || got.Failure != "tool crashed" {
		t.Errorf("expected failed task with reason, got %s %q", got.Status, got.Failure)
	}

	counts, err := c.Counts(ctx, projectID)
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if counts[models.TaskCompleted] != 1 || counts[models.TaskFailed] != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestClaimPublishesStatusEvents(t *testing.T) {
	c, bus, projectID, instanceID := newTestCoordinator(t)
	ctx := context.Background()

	var mu sync.Mutex
	var statuses []string
	bus.Subscribe(event.ProjectChannel(projectID), func(ev event.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.EventType() == "task.status" {
			statuses = append(statuses, ev.Payload()["status"].(string))
		}
	})

	task, err := c.Enqueue(ctx, &models.Task{ProjectID: projectID, Title: "work"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := c.ClaimNext(ctx, projectID, instanceID); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if err := c.Complete(ctx, task.ID, instanceID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"pending", "claimed", "completed"}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(statuses), statuses)
	}
	for i, w := range want {
		if statuses[i] != w {
			t.Errorf("event %d: expected status %s, got %s", i, w, statuses[i])
		}
	}
}

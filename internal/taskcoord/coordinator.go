package taskcoord

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/QrCommunication/claudenest/internal/errors"
	"github.com/QrCommunication/claudenest/internal/event"
	"github.com/QrCommunication/claudenest/internal/logging"
	"github.com/QrCommunication/claudenest/internal/models"
	"github.com/QrCommunication/claudenest/internal/store"
)

// Coordinator hands out tasks to instances and publishes a task status
// event for every successful transition.
type Coordinator struct {
	store store.Store
	bus   *event.Bus
	log   *logging.Logger
}

// New creates a Coordinator.
func New(st store.Store, bus *event.Bus, log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Coordinator{store: st, bus: bus, log: log}
}

// Enqueue adds a pending task to a project's queue. Producers live
// outside the engine; this is the narrow surface they call through.
func (c *Coordinator) Enqueue(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.ProjectID == "" {
		return nil, fmt.Errorf("%w: project id required", apperrors.ErrInvalidInput)
	}
	task.Status = models.TaskPending
	if err := c.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	c.bus.Publish(event.NewTaskStatusEvent(task.ProjectID, task.ID, "", models.TaskPending, ""))
	return task, nil
}

// ClaimNext atomically claims the oldest pending task in the project
// for the instance. Returns (nil, nil) when nothing is pending.
func (c *Coordinator) ClaimNext(ctx context.Context, projectID, instanceID string) (*models.Task, error) {
	if projectID == "" || instanceID == "" {
		return nil, fmt.Errorf("%w: project and instance ids required", apperrors.ErrInvalidInput)
	}

	task, err := c.store.ClaimNextTask(ctx, projectID, instanceID, time.Now())
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}

	c.log.WithProject(projectID).WithInstance(instanceID).
		Info("task claimed", "task_id", task.ID)
	c.bus.Publish(event.NewTaskStatusEvent(projectID, task.ID, instanceID, models.TaskClaimed, ""))
	return task, nil
}

// Release returns a claimed task to pending. Only the holder may
// release; others get ErrNotHolder.
func (c *Coordinator) Release(ctx context.Context, taskID, instanceID string) error {
	task, err := c.store.ReleaseTask(ctx, taskID, instanceID)
	if err != nil {
		return err
	}

	c.log.WithProject(task.ProjectID).WithInstance(instanceID).
		Info("task released", "task_id", task.ID)
	c.bus.Publish(event.NewTaskStatusEvent(task.ProjectID, task.ID, instanceID, models.TaskPending, ""))
	return nil
}

// Complete marks a claimed task completed. Holder-only, terminal.
func (c *Coordinator) Complete(ctx context.Context, taskID, instanceID string) error {
	task, err := c.store.FinishTask(ctx, taskID, instanceID, models.TaskCompleted, "")
	if err != nil {
		return err
	}

	c.log.WithProject(task.ProjectID).WithInstance(instanceID).
		Info("task completed", "task_id", task.ID)
	c.bus.Publish(event.NewTaskStatusEvent(task.ProjectID, task.ID, instanceID, models.TaskCompleted, ""))
	return nil
}

// Fail marks a claimed task failed with a reason. Holder-only,
// terminal: the failure is recorded on the task, not silently dropped.
func (c *Coordinator) Fail(ctx context.Context, taskID, instanceID, reason string) error {
	task, err := c.store.FinishTask(ctx, taskID, instanceID, models.TaskFailed, reason)
	if err != nil {
		return err
	}

	c.log.WithProject(task.ProjectID).WithInstance(instanceID).
		Warn("task failed", "task_id", task.ID, "reason", reason)
	c.bus.Publish(event.NewTaskStatusEvent(task.ProjectID, task.ID, instanceID, models.TaskFailed, reason))
	return nil
}

// Get returns a task by ID.
func (c *Coordinator) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return c.store.GetTask(ctx, taskID)
}

// Counts returns per-status task totals for the project status surface.
func (c *Coordinator) Counts(ctx context.Context, projectID string) (map[models.TaskStatus]int, error) {
	return c.store.TaskCounts(ctx, projectID)
}

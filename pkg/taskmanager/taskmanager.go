package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrTooManyTasks = errors.New("too many active tasks")
	ErrTaskNotFound = errors.New("task not found")
	ErrClosed       = errors.New("task manager is shut down")
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TaskFunc is the work of a task.
type TaskFunc func(ctx context.Context) error

// Task is a snapshot of a background task.
type Task struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	OwnerID   string     `json:"ownerId,omitempty"`
	Status    TaskStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`

	cancel context.CancelFunc
}

// Config configures the manager.
type Config struct {
	MaxTasks int
}

// TaskManager runs background tasks detached from the request that
// submitted them and bounds how many run at once.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*Task
	maxTasks int
	baseCtx  context.Context
	stop     context.CancelFunc
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// New creates a TaskManager.
func New(cfg Config, logger *zap.Logger) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	ctx, stop := context.WithCancel(context.Background())
	return &TaskManager{
		tasks:    make(map[uuid.UUID]*Task),
		maxTasks: maxTasks,
		baseCtx:  ctx,
		stop:     stop,
		logger:   logger.Named("TaskManager"),
	}
}

// Submit starts fn in its own goroutine. The task context is cancelled by
// CancelTask or Shutdown, not by the caller's request ending.
func (tm *TaskManager) Submit(name, ownerID string, fn TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.closed {
		return uuid.Nil, ErrClosed
	}
	active := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusRunning {
			active++
		}
	}
	if active >= tm.maxTasks {
		return uuid.Nil, ErrTooManyTasks
	}

	ctx, cancel := context.WithCancel(tm.baseCtx)
	now := time.Now()
	task := &Task{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   ownerID,
		Status:    TaskStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
		cancel:    cancel,
	}
	tm.tasks[task.ID] = task

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer cancel()
		tm.runTask(ctx, task, fn)
	}()

	return task.ID, nil
}

func (tm *TaskManager) runTask(ctx context.Context, task *Task, fn TaskFunc) {
	log := tm.logger.With(
		zap.String("taskID", task.ID.String()),
		zap.String("task", task.Name),
		zap.String("ownerID", task.OwnerID),
	)
	log.Debug("Task started")

	err := fn(ctx)

	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		log.Info("Task cancelled")
		tm.setStatus(task, TaskStatusCancelled, "cancelled")
	case err != nil:
		log.Warn("Task failed", zap.Error(err))
		tm.setStatus(task, TaskStatusFailed, err.Error())
	default:
		log.Debug("Task completed")
		tm.setStatus(task, TaskStatusCompleted, "")
	}
}

func (tm *TaskManager) setStatus(task *Task, status TaskStatus, message string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	task.Status = status
	task.Message = message
	task.UpdatedAt = time.Now()
}

// GetTask returns a snapshot of the task.
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return *task, nil
}

// CancelTask cancels a running task.
func (tm *TaskManager) CancelTask(taskID uuid.UUID) error {
	tm.mu.RLock()
	task, ok := tm.tasks[taskID]
	tm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	task.cancel()
	return nil
}

// ActiveCount is the number of running tasks.
func (tm *TaskManager) ActiveCount() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	n := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusRunning {
			n++
		}
	}
	return n
}

// CleanupTasks removes finished tasks older than age.
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, task := range tm.tasks {
		if task.Status != TaskStatusRunning && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			removed++
		}
	}
	return removed
}

// Shutdown stops accepting tasks and waits for running ones until ctx is
// done, then cancels whatever is still running.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.mu.Lock()
	tm.closed = true
	tm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		tm.stop()
		return nil
	case <-ctx.Done():
		tm.stop()
		<-done
		return fmt.Errorf("timed out waiting for tasks: %w", ctx.Err())
	}
}

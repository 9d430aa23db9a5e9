package taskmanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func waitStatus(t *testing.T, tm *TaskManager, task Task, want TaskStatus) Task {
	t.Helper()
	var got Task
	require.Eventually(t, func() bool {
		var err error
		got, err = tm.GetTask(task.ID)
		return err == nil && got.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func TestSubmitOutcomes(t *testing.T) {
	tm := New(Config{MaxTasks: 4}, zap.NewNop())

	okID, err := tm.Submit("ok", "session-1", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	got := waitStatus(t, tm, Task{ID: okID}, TaskStatusCompleted)
	assert.Equal(t, "session-1", got.OwnerID)
	assert.Equal(t, "ok", got.Name)

	failID, err := tm.Submit("fail", "", func(ctx context.Context) error { return errors.New("boom") })
	require.NoError(t, err)
	got = waitStatus(t, tm, Task{ID: failID}, TaskStatusFailed)
	assert.Equal(t, "boom", got.Message)

	blockID, err := tm.Submit("block", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	require.NoError(t, tm.CancelTask(blockID))
	waitStatus(t, tm, Task{ID: blockID}, TaskStatusCancelled)

	assert.Equal(t, 0, tm.ActiveCount())
	assert.Equal(t, 3, tm.CleanupTasks(-time.Second))
	_, err = tm.GetTask(okID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, tm.CancelTask(okID), ErrTaskNotFound)
}

func TestSubmitLimit(t *testing.T) {
	tm := New(Config{MaxTasks: 1}, zap.NewNop())
	release := make(chan struct{})
	_, err := tm.Submit("first", "", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	_, err = tm.Submit("second", "", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrTooManyTasks)

	close(release)
	require.NoError(t, tm.Shutdown(context.Background()))
	_, err = tm.Submit("late", "", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestShutdownCancelsOnTimeout(t *testing.T) {
	tm := New(Config{}, zap.NewNop())
	id, err := tm.Submit("stuck", "", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tm.Shutdown(ctx), context.DeadlineExceeded)

	got, err := tm.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, got.Status)
}

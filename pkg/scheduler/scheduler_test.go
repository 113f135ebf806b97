package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "schedule.json"), nil)
	require.NoError(t, err)
	return s
}

func TestAddTask_ValidatesInputs(t *testing.T) {
	s := newTestScheduler(t)
	_, err := s.AddTask("", "tool.x", nil, 10, true)
	require.Error(t, err)
	_, err = s.AddTask("n", "tool.x", nil, 0, true)
	require.Error(t, err)

	task, err := s.AddTask("ping", "net.ping", map[string]any{"host": "localhost"}, 5, true)
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 0, task.RunCount)
}

func TestTrigger_ForcesImmediateNextRun(t *testing.T) {
	s := newTestScheduler(t)
	task, err := s.AddTask("t", "tool.x", nil, 60, true)
	require.NoError(t, err)
	require.True(t, s.Trigger(task.ID))
	got, ok := s.Get(task.ID)
	require.True(t, ok)
	assert.LessOrEqual(t, got.NextRunAt, time.Now().Unix())
}

func TestRunLoop_ExecutesDueTaskAndAdvancesNextRun(t *testing.T) {
	s := newTestScheduler(t)
	var calls int
	s.SetExecutor(func(tool string, args map[string]any) (any, error) {
		calls++
		return map[string]any{"ok": true}, nil
	})
	task, err := s.AddTask("t", "tool.x", nil, 1, true)
	require.NoError(t, err)
	require.True(t, s.Trigger(task.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return calls >= 1 }, 1500*time.Millisecond, 20*time.Millisecond)

	got, ok := s.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, 1, got.RunCount)
	assert.Greater(t, got.NextRunAt, time.Now().Unix()-2)

	hist, ok := s.History(task.ID, 10)
	require.True(t, ok)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].OK)
}

func TestRunLoop_RecordsExecutorError(t *testing.T) {
	s := newTestScheduler(t)
	s.SetExecutor(func(tool string, args map[string]any) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	task, err := s.AddTask("t", "tool.x", nil, 1, true)
	require.NoError(t, err)
	s.runTask(func() *Task { tt, _ := s.Get(task.ID); return tt }())

	got, ok := s.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, "boom", got.LastError)
	hist, _ := s.History(task.ID, 1)
	require.Len(t, hist, 1)
	assert.False(t, hist[0].OK)
}

func TestDeleteTask_RemovesHistoryToo(t *testing.T) {
	s := newTestScheduler(t)
	task, err := s.AddTask("t", "tool.x", nil, 10, true)
	require.NoError(t, err)
	require.True(t, s.Delete(task.ID))
	_, ok := s.Get(task.ID)
	assert.False(t, ok)
	_, ok = s.History(task.ID, 10)
	assert.False(t, ok)
}

package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_TerminalMonotonicity(t *testing.T) {
	task := NewTask("echo", "default", "{}", PriorityNormal, DefaultRetryPolicy())
	assert.False(t, task.IsTerminal())

	task.MarkStarted("worker-1")
	assert.False(t, task.IsTerminal())

	task.MarkSuccess(`"ok"`)
	assert.True(t, task.IsTerminal())

	for _, status := range []TaskStatus{StatusSuccess, StatusFailed, StatusCancelled} {
		probe := *task
		probe.Status = status
		assert.True(t, probe.IsTerminal(), "status %s should be terminal", status)
	}
	for _, status := range []TaskStatus{StatusPending, StatusScheduled, StatusRunning, StatusRetrying} {
		probe := *task
		probe.Status = status
		assert.False(t, probe.IsTerminal(), "status %s should not be terminal", status)
	}
}

func TestTask_RetryBudget(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelayS: 1, Exponential: true, MaxDelayS: 100}
	task := NewTask("echo", "default", "{}", PriorityNormal, policy)

	require.NoError(t, task.MarkRetry())
	assert.Equal(t, 1, task.RetryCount)
	assert.True(t, task.CanRetry())

	require.NoError(t, task.MarkRetry())
	assert.Equal(t, 2, task.RetryCount)
	assert.False(t, task.CanRetry())

	err := task.MarkRetry()
	require.Error(t, err)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindRetryLimitExceeded, kind)
	assert.Equal(t, 2, task.RetryCount, "a rejected retry must not bump retry_count")
}

func TestTask_MarkRetry_ClearsExecutionState(t *testing.T) {
	task := NewTask("echo", "default", "{}", PriorityNormal, DefaultRetryPolicy())
	task.MarkStarted("worker-1")
	task.MarkFailed("boom")

	require.NoError(t, task.MarkRetry())
	assert.Equal(t, StatusRetrying, task.Status)
	assert.Nil(t, task.StartedAt)
	assert.Nil(t, task.FinishedAt)
	assert.Nil(t, task.WorkerID)
	require.NotNil(t, task.ScheduledAt)
	assert.False(t, task.IsReady(), "a freshly scheduled retry should not be ready yet")
}

func TestTask_BackoffFormula(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, BaseDelayS: 5, Exponential: true, MaxDelayS: 40}
	task := NewTask("echo", "default", "{}", PriorityNormal, policy)

	wantDelays := []float64{5, 10, 20, 40, 40}
	for i, want := range wantDelays {
		before := time.Now().UTC()
		require.NoError(t, task.MarkRetry())
		got := task.ScheduledAt.Sub(before).Seconds()
		assert.InDelta(t, want, got, 0.5, "attempt %d", i+1)
	}
}

func TestTask_BackoffFormula_NonExponential(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelayS: 7, Exponential: false, MaxDelayS: 300}
	task := NewTask("echo", "default", "{}", PriorityNormal, policy)

	for i := 0; i < 3; i++ {
		before := time.Now().UTC()
		require.NoError(t, task.MarkRetry())
		got := task.ScheduledAt.Sub(before).Seconds()
		assert.InDelta(t, 7, got, 0.5)
	}
}

func TestTask_IsReady(t *testing.T) {
	task := NewTask("echo", "default", "{}", PriorityNormal, DefaultRetryPolicy())
	assert.True(t, task.IsReady(), "a task with no scheduled_at is always ready")

	future := time.Now().UTC().Add(time.Hour)
	task.ScheduledAt = &future
	assert.False(t, task.IsReady())

	past := time.Now().UTC().Add(-time.Minute)
	task.ScheduledAt = &past
	assert.True(t, task.IsReady())
}

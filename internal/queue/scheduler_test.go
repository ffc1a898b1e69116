package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytake/pytake-go/internal/logger"
)

func TestSchedule_NextExecution_Delay(t *testing.T) {
	s := &Schedule{Kind: ScheduleDelay, Seconds: 30}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := s.NextExecution(from)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, from.Add(30*time.Second), *next)
}

func TestSchedule_NextExecution_Daily_RollsOverWhenPast(t *testing.T) {
	s := &Schedule{Kind: ScheduleDaily, Hour: 9, Minute: 0}
	from := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, err := s.NextExecution(from)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), *next)
}

func TestSchedule_NextExecution_Once_PastDoesNotFire(t *testing.T) {
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Schedule{Kind: ScheduleOnce, At: &past}
	next, err := s.NextExecution(time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSchedule_IsRecurring(t *testing.T) {
	assert.False(t, (&Schedule{Kind: ScheduleOnce}).IsRecurring())
	assert.False(t, (&Schedule{Kind: ScheduleDelay}).IsRecurring())
	assert.True(t, (&Schedule{Kind: ScheduleDaily}).IsRecurring())
	assert.True(t, (&Schedule{Kind: ScheduleCron}).IsRecurring())
}

func TestScheduledJob_MarkExecuted_OneShotDisables(t *testing.T) {
	at := time.Now().UTC().Add(time.Minute)
	job, err := NewScheduledJob("one-shot", "echo", "{}", "default", PriorityNormal, DefaultRetryPolicy(), Schedule{Kind: ScheduleOnce, At: &at})
	require.NoError(t, err)
	require.NotNil(t, job.NextRun)

	job.MarkExecuted(true)
	assert.Nil(t, job.NextRun)
	assert.False(t, job.Enabled)
	assert.Equal(t, uint64(1), job.RunCount)
	assert.Equal(t, uint64(0), job.FailureCount)
}

func TestScheduledJob_MarkExecuted_RecurringAdvances(t *testing.T) {
	job, err := NewScheduledJob("recurring", "echo", "{}", "default", PriorityNormal, DefaultRetryPolicy(), Schedule{Kind: ScheduleEverySeconds, Seconds: 60})
	require.NoError(t, err)
	firstNextRun := *job.NextRun

	job.MarkExecuted(false)
	require.NotNil(t, job.NextRun)
	assert.True(t, job.NextRun.After(firstNextRun) || job.NextRun.Equal(firstNextRun))
	assert.True(t, job.Enabled)
	assert.Equal(t, uint64(1), job.FailureCount)
}

func TestScheduler_PromotesDueJobs(t *testing.T) {
	broker := newTestBroker(t)
	log := logger.New("error")
	scheduler := NewScheduler(broker, nil, log)

	past := time.Now().UTC().Add(-time.Minute)
	job, err := NewScheduledJob("due-job", "echo", `"hi"`, "default", PriorityNormal, DefaultRetryPolicy(), Schedule{Kind: ScheduleOnce, At: &past})
	require.NoError(t, err)
	job.NextRun = &past // force ready regardless of Once's "must be future" rule at creation

	ctx := context.Background()
	_, err = scheduler.AddJob(ctx, job)
	require.NoError(t, err)

	require.True(t, job.IsReady())

	stats := scheduler.GetStats()
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.EnabledJobs)
	assert.Equal(t, 1, stats.ReadyJobs)

	scheduler.processReadyJobs(ctx)
	queueStats, err := broker.GetStats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), queueStats.Pending, "the due job's task is submitted to its queue")
}

func TestScheduler_RemoveJob(t *testing.T) {
	broker := newTestBroker(t)
	log := logger.New("error")
	scheduler := NewScheduler(broker, nil, log)

	job, err := NewScheduledJob("removable", "echo", "{}", "default", PriorityNormal, DefaultRetryPolicy(), Schedule{Kind: ScheduleEveryHours, Hours: 1})
	require.NoError(t, err)

	ctx := context.Background()
	id, err := scheduler.AddJob(ctx, job)
	require.NoError(t, err)

	removed, err := scheduler.RemoveJob(ctx, id)
	require.NoError(t, err)
	assert.True(t, removed)

	_, ok := scheduler.GetJob(id)
	assert.False(t, ok)

	removedAgain, err := scheduler.RemoveJob(ctx, id)
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

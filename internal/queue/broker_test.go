package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBroker(client, BrokerConfig{DefaultQueue: "default"})
}

func TestBroker_PriorityOrdering(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	low := NewTask("low", "default", "{}", PriorityLow, DefaultRetryPolicy())
	high := NewTask("high", "default", "{}", PriorityHigh, DefaultRetryPolicy())
	critical := NewTask("critical", "default", "{}", PriorityCritical, DefaultRetryPolicy())
	normal := NewTask("normal", "default", "{}", PriorityNormal, DefaultRetryPolicy())

	for _, task := range []*Task{low, high, critical, normal} {
		require.NoError(t, b.Submit(ctx, task))
	}

	wantOrder := []string{"critical", "high", "normal", "low"}
	for _, name := range wantOrder {
		got, err := b.GetNext(ctx, "default")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, name, got.Name)
	}

	none, err := b.GetNext(ctx, "default")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestBroker_SingleClaim(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	task := NewTask("only-once", "default", "{}", PriorityNormal, DefaultRetryPolicy())
	require.NoError(t, b.Submit(ctx, task))

	const workers = 8
	var wg sync.WaitGroup
	claims := make(chan *Task, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := b.GetNext(ctx, "default")
			require.NoError(t, err)
			if got != nil {
				claims <- got
			}
		}()
	}
	wg.Wait()
	close(claims)

	var claimed []*Task
	for c := range claims {
		claimed = append(claimed, c)
	}
	require.Len(t, claimed, 1, "exactly one worker must claim the task")
	require.Equal(t, task.ID, claimed[0].ID)
}

func TestBroker_ScheduledPromotion(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	due := time.Now().UTC().Add(-time.Second)
	task := NewScheduledTask("due", "default", "{}", PriorityNormal, DefaultRetryPolicy(), due)
	require.NoError(t, b.SubmitScheduled(ctx, task))

	notYet := time.Now().UTC().Add(time.Hour)
	future := NewScheduledTask("not-yet", "default", "{}", PriorityNormal, DefaultRetryPolicy(), notYet)
	require.NoError(t, b.SubmitScheduled(ctx, future))

	moved, err := b.ProcessScheduled(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), moved)

	promoted, err := b.GetNext(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	require.Equal(t, "due", promoted.Name)
	require.Equal(t, StatusPending, promoted.Status)

	stillScheduled, err := b.GetStats(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, int64(1), stillScheduled.Scheduled, "the not-yet-due task stays in the scheduled set")
}

func TestBroker_MarkCompleted_RemovesFromProcessing(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	task := NewTask("finish-me", "default", "{}", PriorityNormal, DefaultRetryPolicy())
	require.NoError(t, b.Submit(ctx, task))

	claimed, err := b.GetNext(ctx, "default")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	stats, err := b.GetStats(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Processing)

	claimed.MarkSuccess(`"done"`)
	require.NoError(t, b.MarkCompleted(ctx, claimed))

	stats, err = b.GetStats(ctx, "default")
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.Processing)

	stored, err := b.GetTask(ctx, claimed.ID.String())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, stored.Status)
}

func TestBroker_RejectsColonInQueueName(t *testing.T) {
	ctx := context.Background()
	b := newTestBroker(t)

	task := NewTask("bad-queue", "a:b", "{}", PriorityNormal, DefaultRetryPolicy())
	err := b.Submit(ctx, task)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindConfiguration, kind)
}

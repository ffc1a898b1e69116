package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *RedisBroker) {
	t.Helper()
	b := newTestBroker(t)
	return NewClient(b, "default"), b
}

func TestClient_SubmitRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	submitted, err := client.Submit(ctx, "echo", `{"msg":"hi"}`, PriorityHigh, DefaultRetryPolicy())
	require.NoError(t, err)
	require.Equal(t, StatusPending, submitted.Status)

	fetched, err := client.GetTaskStatus(ctx, submitted.ID.String())
	require.NoError(t, err)
	require.Equal(t, submitted.ID, fetched.ID)
	require.Equal(t, submitted.Name, fetched.Name)
	require.Equal(t, submitted.Data, fetched.Data)
	require.Equal(t, PriorityHigh, fetched.Priority)
}

func TestClient_SubmitBatch_SubmitsEverySpec(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	specs := []TaskSpec{
		{Name: "ok-1", Data: "{}", Priority: PriorityNormal},
		{Name: "ok-2", Data: "{}", Priority: PriorityNormal},
	}
	tasks, err := client.SubmitBatch(ctx, specs, "default", DefaultRetryPolicy())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestClient_WaitForResult_TimesOut(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	submitted, err := client.Submit(ctx, "never-finishes", "{}", PriorityNormal, DefaultRetryPolicy())
	require.NoError(t, err)

	_, err = client.WaitForResult(ctx, submitted.ID.String(), 600*time.Millisecond)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindTimeout, kind)
}

func TestClient_WaitForResult_ReturnsOnSuccess(t *testing.T) {
	ctx := context.Background()
	client, broker := newTestClient(t)

	submitted, err := client.Submit(ctx, "quick", "{}", PriorityNormal, DefaultRetryPolicy())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		claimed, err := broker.GetNext(ctx, "default")
		if err != nil || claimed == nil {
			return
		}
		claimed.MarkSuccess(`"done"`)
		_ = broker.MarkCompleted(ctx, claimed)
	}()

	result, err := client.WaitForResult(ctx, submitted.ID.String(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
}

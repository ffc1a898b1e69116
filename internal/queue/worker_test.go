package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytake/pytake-go/internal/logger"
)

func newTestEngine(t *testing.T, cfg WorkerConfig, broker Broker, handlers *HandlerRegistry) *Engine {
	t.Helper()
	log := logger.New("error")
	return NewEngine(cfg, broker, handlers, log)
}

func TestEngine_ProcessesEnqueuedTaskToSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := newTestBroker(t)
	handlers := NewHandlerRegistry()
	handlers.Register("echo", EchoHandler{})

	cfg := DefaultWorkerConfig("w1", "default")
	cfg.PollInterval = 20 * time.Millisecond
	engine := newTestEngine(t, cfg, broker, handlers)

	client := NewClient(broker, "default")
	task, err := client.Submit(context.Background(), "echo", `"hello"`, PriorityNormal, DefaultRetryPolicy())
	require.NoError(t, err)

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop(context.Background())

	require.Eventually(t, func() bool {
		got, err := client.GetTaskStatus(context.Background(), task.ID.String())
		return err == nil && got.Status == StatusSuccess
	}, 2*time.Second, 20*time.Millisecond)
}

func TestEngine_RetriesFailingHandlerThenExhausts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := newTestBroker(t)
	handlers := NewHandlerRegistry()
	handlers.Register("boom", FailingHandler{Name: "boom", Message: "nope"})

	cfg := DefaultWorkerConfig("w1", "default")
	cfg.PollInterval = 10 * time.Millisecond
	// A retried task is requeued through the scheduled set (task.go's
	// MarkRetry always stamps ScheduledAt, even for a zero base delay), so
	// it only reaches the pending queue again once scheduledPromotionLoop
	// ticks. Shorten that interval rather than waiting out the real 10s
	// default.
	cfg.ScheduledPromotionInterval = 20 * time.Millisecond
	engine := newTestEngine(t, cfg, broker, handlers)

	client := NewClient(broker, "default")
	policy := RetryPolicy{MaxRetries: 1, BaseDelayS: 0, Exponential: false, MaxDelayS: 1}
	task, err := client.Submit(context.Background(), "boom", "{}", PriorityNormal, policy)
	require.NoError(t, err)

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop(context.Background())

	require.Eventually(t, func() bool {
		got, err := client.GetTaskStatus(context.Background(), task.ID.String())
		return err == nil && got.Status == StatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	final, err := client.GetTaskStatus(context.Background(), task.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, final.RetryCount)
}

func TestEngine_EmitsLifecycleEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := newTestBroker(t)
	handlers := NewHandlerRegistry()
	handlers.Register("echo", EchoHandler{})

	cfg := DefaultWorkerConfig("w1", "default")
	cfg.PollInterval = 10 * time.Millisecond
	engine := newTestEngine(t, cfg, broker, handlers)

	recorder := &recordingListener{types: []string{"completed"}}
	engine.AddEventListener(recorder)

	client := NewClient(broker, "default")
	_, err := client.Submit(context.Background(), "echo", "{}", PriorityNormal, DefaultRetryPolicy())
	require.NoError(t, err)

	require.NoError(t, engine.Start(ctx))
	defer engine.Stop(context.Background())

	require.Eventually(t, func() bool {
		return recorder.count() > 0
	}, 2*time.Second, 10*time.Millisecond)
}

type recordingListener struct {
	mu     sync.Mutex
	types  []string
	events []*TaskEvent
}

func (r *recordingListener) EventTypes() []string { return r.types }

func (r *recordingListener) OnTaskEvent(event *TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

package queue

import (
	"context"
	"time"
)

// waitPollInterval is the status-poll cadence for WaitForResult, matching
// original_source/src/client.rs::wait_for_result's 500ms sleep.
const waitPollInterval = 500 * time.Millisecond

// Client is the task-submission façade applications use instead of talking
// to the Broker directly. Grounded on original_source/src/client.rs's
// TaskClient.
type Client struct {
	broker       Broker
	defaultQueue string
}

// NewClient wraps broker with the default-queue convenience methods.
func NewClient(broker Broker, defaultQueue string) *Client {
	if defaultQueue == "" {
		defaultQueue = "default"
	}
	return &Client{broker: broker, defaultQueue: defaultQueue}
}

// Submit enqueues a task built from name/data with priority and policy, to
// the client's default queue.
func (c *Client) Submit(ctx context.Context, name, data string, priority TaskPriority, policy RetryPolicy) (*Task, error) {
	return c.SubmitToQueue(ctx, name, data, c.defaultQueue, priority, policy)
}

// SubmitToQueue enqueues a task to a specific queue.
func (c *Client) SubmitToQueue(ctx context.Context, name, data, queueName string, priority TaskPriority, policy RetryPolicy) (*Task, error) {
	t := NewTask(name, queueName, data, priority, policy)
	if err := c.broker.Submit(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SubmitAt schedules a task to become ready at a specific time.
func (c *Client) SubmitAt(ctx context.Context, name, data, queueName string, priority TaskPriority, policy RetryPolicy, at time.Time) (*Task, error) {
	t := NewScheduledTask(name, queueName, data, priority, policy, at)
	if err := c.broker.SubmitScheduled(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// SubmitAfter schedules a task to become ready after delay.
func (c *Client) SubmitAfter(ctx context.Context, name, data, queueName string, priority TaskPriority, policy RetryPolicy, delay time.Duration) (*Task, error) {
	return c.SubmitAt(ctx, name, data, queueName, priority, policy, time.Now().UTC().Add(delay))
}

// GetTaskStatus returns the task's current canonical record.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	return c.broker.GetTask(ctx, taskID)
}

// WaitForResult polls a task's status every 500ms until it reaches a
// terminal state, or timeout elapses (zero timeout means wait forever).
func (c *Client) WaitForResult(ctx context.Context, taskID string, timeout time.Duration) (*Task, error) {
	start := time.Now()
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		t, err := c.broker.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}

		switch t.Status {
		case StatusSuccess:
			return t, nil
		case StatusFailed:
			msg := "unknown error"
			if t.Error != nil {
				msg = *t.Error
			}
			return t, NewError(KindTaskExecution, "wait_for_result: task %s failed: %s", taskID, msg)
		case StatusCancelled:
			return t, NewError(KindTaskExecution, "wait_for_result: task %s was cancelled", taskID)
		}

		if timeout > 0 && time.Since(start) > timeout {
			return nil, NewError(KindTimeout, "wait_for_result: timed out waiting for task %s", taskID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetQueueStats returns queueName's pending/processing/scheduled cardinalities.
func (c *Client) GetQueueStats(ctx context.Context, queueName string) (*Stats, error) {
	return c.broker.GetStats(ctx, queueName)
}

// ListQueues enumerates known queue names.
func (c *Client) ListQueues(ctx context.Context) ([]string, error) {
	return c.broker.ListQueues(ctx)
}

// SubmitHighPriority submits t at PriorityHigh.
func (c *Client) SubmitHighPriority(ctx context.Context, name, data, queueName string, policy RetryPolicy) (*Task, error) {
	return c.SubmitToQueue(ctx, name, data, queueName, PriorityHigh, policy)
}

// SubmitCritical submits t at PriorityCritical.
func (c *Client) SubmitCritical(ctx context.Context, name, data, queueName string, policy RetryPolicy) (*Task, error) {
	return c.SubmitToQueue(ctx, name, data, queueName, PriorityCritical, policy)
}

// SubmitLowPriority submits t at PriorityLow.
func (c *Client) SubmitLowPriority(ctx context.Context, name, data, queueName string, policy RetryPolicy) (*Task, error) {
	return c.SubmitToQueue(ctx, name, data, queueName, PriorityLow, policy)
}

// SubmitAndWait submits a task and blocks until it reaches a terminal state.
func (c *Client) SubmitAndWait(ctx context.Context, name, data, queueName string, priority TaskPriority, policy RetryPolicy, timeout time.Duration) (*Task, error) {
	t, err := c.SubmitToQueue(ctx, name, data, queueName, priority, policy)
	if err != nil {
		return nil, err
	}
	return c.WaitForResult(ctx, t.ID.String(), timeout)
}

// TaskSpec is one element of a batch submission.
type TaskSpec struct {
	Name     string
	Data     string
	Priority TaskPriority
}

// SubmitBatch submits every spec to queueName at its own priority, using
// policy for all of them, and returns the created tasks in order. A failed
// submission stops the batch and returns the error alongside whatever
// tasks were already submitted.
func (c *Client) SubmitBatch(ctx context.Context, specs []TaskSpec, queueName string, policy RetryPolicy) ([]*Task, error) {
	tasks := make([]*Task, 0, len(specs))
	for _, spec := range specs {
		t, err := c.SubmitToQueue(ctx, spec.Name, spec.Data, queueName, spec.Priority, policy)
		if err != nil {
			return tasks, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

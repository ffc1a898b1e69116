package queue

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "Pending"
	StatusScheduled TaskStatus = "Scheduled"
	StatusRunning   TaskStatus = "Running"
	StatusRetrying  TaskStatus = "Retrying"
	StatusSuccess   TaskStatus = "Success"
	StatusFailed    TaskStatus = "Failed"
	StatusCancelled TaskStatus = "Cancelled"
)

// TaskPriority is the score used to order tasks within a queue. Higher
// values are delivered first.
type TaskPriority int

const (
	PriorityLow      TaskPriority = 0
	PriorityNormal   TaskPriority = 5
	PriorityHigh     TaskPriority = 10
	PriorityCritical TaskPriority = 15
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityNormal:
		return "Normal"
	case PriorityHigh:
		return "High"
	case PriorityCritical:
		return "Critical"
	default:
		return "Normal"
	}
}

// RetryPolicy controls how many times a task is retried and how the delay
// between attempts grows.
type RetryPolicy struct {
	MaxRetries  int     `json:"max_retries"`
	BaseDelayS  float64 `json:"base_delay_s"`
	Exponential bool    `json:"exponential"`
	MaxDelayS   float64 `json:"max_delay_s"`
}

// DefaultRetryPolicy mirrors original_source/src/task.rs's RetryConfig::default().
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseDelayS:  5,
		Exponential: true,
		MaxDelayS:   300,
	}
}

// Task is the canonical persistent entity tracked by the broker.
type Task struct {
	ID                 uuid.UUID    `json:"id"`
	Name               string       `json:"name"`
	Data               string       `json:"data"`
	Queue              string       `json:"queue"`
	Priority           TaskPriority `json:"priority"`
	Status             TaskStatus   `json:"status"`
	RetryPolicy        RetryPolicy  `json:"retry_policy"`
	RetryCount         int          `json:"retry_count"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	ScheduledAt        *time.Time   `json:"scheduled_at,omitempty"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	FinishedAt         *time.Time   `json:"finished_at,omitempty"`
	Result             *string      `json:"result,omitempty"`
	Error              *string      `json:"error,omitempty"`
	WorkerID           *string      `json:"worker_id,omitempty"`
	EstimatedDurationS *float64     `json:"estimated_duration_s,omitempty"`
}

// NewTask creates a pending task ready for submission.
func NewTask(name, queueName, data string, priority TaskPriority, policy RetryPolicy) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.New(),
		Name:        name,
		Data:        data,
		Queue:       queueName,
		Priority:    priority,
		Status:      StatusPending,
		RetryPolicy: policy,
		RetryCount:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewScheduledTask creates a task due at scheduledAt.
func NewScheduledTask(name, queueName, data string, priority TaskPriority, policy RetryPolicy, scheduledAt time.Time) *Task {
	t := NewTask(name, queueName, data, priority, policy)
	t.Status = StatusScheduled
	t.ScheduledAt = &scheduledAt
	return t
}

func (t *Task) touch() {
	t.UpdatedAt = time.Now().UTC()
}

// MarkStarted transitions the task to Running, stamping worker_id and started_at.
func (t *Task) MarkStarted(workerID string) {
	now := time.Now().UTC()
	t.Status = StatusRunning
	t.StartedAt = &now
	t.WorkerID = &workerID
	t.touch()
}

// MarkSuccess transitions the task to Success with the given serialized result.
func (t *Task) MarkSuccess(result string) {
	now := time.Now().UTC()
	t.Status = StatusSuccess
	t.FinishedAt = &now
	t.Result = &result
	t.touch()
}

// MarkFailed transitions the task to Failed with the given error message.
func (t *Task) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.FinishedAt = &now
	t.Error = &errMsg
	t.touch()
}

// MarkRetry advances the retry policy: it bumps retry_count, clears the
// execution timestamps, and sets scheduled_at to now+delay using the
// exponential backoff formula from the retry policy. Returns a
// RetryLimitExceeded error if retry_count is already at max_retries.
func (t *Task) MarkRetry() error {
	if t.RetryCount >= t.RetryPolicy.MaxRetries {
		return NewError(KindRetryLimitExceeded, "mark_retry: retry limit exceeded for task %s (max_retries=%d)", t.ID, t.RetryPolicy.MaxRetries)
	}

	t.RetryCount++
	t.Status = StatusRetrying
	t.StartedAt = nil
	t.FinishedAt = nil
	t.WorkerID = nil

	delay := t.nextRetryDelay()
	scheduledAt := time.Now().UTC().Add(time.Duration(delay * float64(time.Second)))
	t.ScheduledAt = &scheduledAt
	t.touch()
	return nil
}

// nextRetryDelay computes the delay in seconds for the attempt about to be
// scheduled (retry_count has already been incremented by the caller), per
// the backoff formula min(base * 2^(k-1), max), k = retry_count.
func (t *Task) nextRetryDelay() float64 {
	if !t.RetryPolicy.Exponential {
		return t.RetryPolicy.BaseDelayS
	}
	delay := t.RetryPolicy.BaseDelayS
	for i := 1; i < t.RetryCount; i++ {
		delay *= 2
		if delay > t.RetryPolicy.MaxDelayS {
			return t.RetryPolicy.MaxDelayS
		}
	}
	if delay > t.RetryPolicy.MaxDelayS {
		return t.RetryPolicy.MaxDelayS
	}
	return delay
}

// CanRetry reports whether another retry attempt is within budget.
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.RetryPolicy.MaxRetries
}

// IsReady reports whether a scheduled task's due time has arrived.
func (t *Task) IsReady() bool {
	if t.ScheduledAt == nil {
		return true
	}
	return !time.Now().UTC().Before(*t.ScheduledAt)
}

// ExecutionDuration returns how long the task ran, if both timestamps are set.
func (t *Task) ExecutionDuration() (time.Duration, bool) {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0, false
	}
	return t.FinishedAt.Sub(*t.StartedAt), true
}

// IsTerminal reports whether the task has reached a status that testable
// property "terminal monotonicity" applies to.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed || t.Status == StatusCancelled
}

package queue

import (
	"time"

	"github.com/google/uuid"
)

// WorkerConfig configures an Engine. Mirrors spec.md §4.3.
type WorkerConfig struct {
	WorkerID          string
	Queues            []string
	MaxConcurrent     int
	PollInterval      time.Duration
	TaskTimeout       time.Duration
	AutoRetry         bool
	HeartbeatInterval time.Duration
	ShutdownGrace     time.Duration
	// RetryOnTimeout is the "implementers may choose" escape hatch from
	// design note (d); timed-out tasks are not retried unless set.
	RetryOnTimeout bool
	// ScheduledPromotionInterval and CleanupInterval override the engine's
	// background-loop cadence; zero means fall back to the package defaults
	// (10s / 1h). Tests shorten these to avoid a real-time wait.
	ScheduledPromotionInterval time.Duration
	CleanupInterval            time.Duration
}

// DefaultWorkerConfig mirrors original_source/src/worker.rs's WorkerConfig::default().
func DefaultWorkerConfig(workerID string, queues ...string) WorkerConfig {
	if len(queues) == 0 {
		queues = []string{"default"}
	}
	return WorkerConfig{
		WorkerID:          workerID,
		Queues:            queues,
		MaxConcurrent:     4,
		PollInterval:      time.Second,
		TaskTimeout:       5 * time.Minute,
		AutoRetry:         true,
		HeartbeatInterval: 30 * time.Second,
		ShutdownGrace:     30 * time.Second,
	}
}

// WorkerStats reports per-worker counters, guarded by the Engine's stats mutex.
type WorkerStats struct {
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	Queues               []string   `json:"queues"`
	TasksProcessed       int64      `json:"tasks_processed"`
	TasksSuccessful      int64      `json:"tasks_successful"`
	TasksFailed          int64      `json:"tasks_failed"`
	TasksRetried         int64      `json:"tasks_retried"`
	AverageExecutionMS   float64    `json:"average_execution_time_ms"`
	LastHeartbeat        *time.Time `json:"last_heartbeat,omitempty"`
	StartedAt            time.Time  `json:"started_at"`
	InFlight             int        `json:"in_flight"`
}

// TaskEvent is published by the engine when a task completes, fails, or is
// requeued for retry. The Engine does not publish "enqueued" or "started"
// events.
type TaskEvent struct {
	TaskID    uuid.UUID              `json:"task_id"`
	EventType string                 `json:"event_type"` // completed, failed, retried
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	WorkerID  string                 `json:"worker_id,omitempty"`
}

// EventListener receives TaskEvents it has declared interest in.
type EventListener interface {
	OnTaskEvent(event *TaskEvent) error
	EventTypes() []string
}

// TaskMiddleware hooks task execution, the way JobMiddleware does in the
// teacher's worker.go, generalized to the Task type.
type TaskMiddleware interface {
	Before(t *Task) error
	After(t *Task, result error) error
}

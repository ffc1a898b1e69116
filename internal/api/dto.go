package api

import (
	"time"

	"github.com/pytake/pytake-go/internal/queue"
)

// submitTaskRequest is the validated body of POST /v1/tasks.
type submitTaskRequest struct {
	Name        string            `json:"name" binding:"required"`
	Queue       string            `json:"queue"`
	Data        string            `json:"data" binding:"required"`
	Priority    string            `json:"priority" binding:"omitempty,oneof=low normal high critical"`
	RetryPolicy *queue.RetryPolicy `json:"retry_policy"`
	ScheduledAt *time.Time        `json:"scheduled_at"`
}

func (r *submitTaskRequest) priority() queue.TaskPriority {
	switch r.Priority {
	case "low":
		return queue.PriorityLow
	case "high":
		return queue.PriorityHigh
	case "critical":
		return queue.PriorityCritical
	default:
		return queue.PriorityNormal
	}
}

func (r *submitTaskRequest) retryPolicy() queue.RetryPolicy {
	if r.RetryPolicy != nil {
		return *r.RetryPolicy
	}
	return queue.DefaultRetryPolicy()
}

// tokenExchangeRequest is the body of POST /v1/auth/token.
type tokenExchangeRequest struct {
	WorkerID  string `json:"worker_id" binding:"required"`
	SeedToken string `json:"seed_token" binding:"required"`
}

type tokenExchangeResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	TokenType   string    `json:"token_type"`
}

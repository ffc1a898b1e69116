package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pytake/pytake-go/internal/api/auth"
	"github.com/pytake/pytake-go/internal/jobstore"
	"github.com/pytake/pytake-go/internal/queue"
)

// taskHandlers exposes the submission client over REST.
type taskHandlers struct {
	client *queue.Client
}

// SubmitTask handles POST /v1/tasks.
func (h *taskHandlers) SubmitTask(c *gin.Context) {
	var req submitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	queueName := req.Queue
	priority := req.priority()
	policy := req.retryPolicy()

	var (
		task *queue.Task
		err  error
	)
	switch {
	case req.ScheduledAt != nil:
		task, err = h.client.SubmitAt(c.Request.Context(), req.Name, req.Data, queueName, priority, policy, *req.ScheduledAt)
	case queueName != "":
		task, err = h.client.SubmitToQueue(c.Request.Context(), req.Name, req.Data, queueName, priority, policy)
	default:
		task, err = h.client.Submit(c.Request.Context(), req.Name, req.Data, priority, policy)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, task)
}

// GetTaskStatus handles GET /v1/tasks/:id.
func (h *taskHandlers) GetTaskStatus(c *gin.Context) {
	task, err := h.client.GetTaskStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// queueHandlers exposes read-only queue introspection.
type queueHandlers struct {
	manager *queue.Manager
	client  *queue.Client
}

// ListQueues handles GET /v1/queues.
func (h *queueHandlers) ListQueues(c *gin.Context) {
	names, err := h.client.ListQueues(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": names})
}

// GetQueueStats handles GET /v1/queues/:name/stats.
func (h *queueHandlers) GetQueueStats(c *gin.Context) {
	stats, err := h.client.GetQueueStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetSystemStats handles GET /v1/stats.
func (h *queueHandlers) GetSystemStats(c *gin.Context) {
	stats, err := h.manager.GetSystemStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetHealth handles GET /v1/health.
func (h *queueHandlers) GetHealth(c *gin.Context) {
	status, err := h.manager.HealthCheck(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// schedulerHandlers exposes read-only scheduled-job introspection.
type schedulerHandlers struct {
	scheduler *queue.Scheduler
}

// ListJobs handles GET /v1/scheduler/jobs.
func (h *schedulerHandlers) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.scheduler.ListJobs()})
}

// GetJob handles GET /v1/scheduler/jobs/:id.
func (h *schedulerHandlers) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, ok := h.scheduler.GetJob(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetSchedulerStats handles GET /v1/scheduler/stats.
func (h *schedulerHandlers) GetSchedulerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.GetStats())
}

// authHandlers exchanges a worker's seed token for a short-lived JWT.
type authHandlers struct {
	tokens *jobstore.WorkerTokenStore
	jwt    *auth.Manager
}

// ExchangeToken handles POST /v1/auth/token.
func (h *authHandlers) ExchangeToken(c *gin.Context) {
	var req tokenExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.tokens.VerifyToken(c.Request.Context(), req.WorkerID, req.SeedToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid worker id or seed token"})
		return
	}

	accessToken, expiresAt, err := h.jwt.IssueToken(req.WorkerID, "worker")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, tokenExchangeResponse{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		TokenType:   "Bearer",
	})
}

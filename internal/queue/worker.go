package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pytake/pytake-go/internal/logger"
)

const (
	scheduledPromotionInterval = 10 * time.Second
	cleanupInterval            = time.Hour
)

// Engine is the worker engine described in spec.md §4.3: it polls its
// configured queues, claims tasks, enforces concurrency limits and
// per-task timeouts, drives the retry policy, and runs the heartbeat,
// scheduled-promotion, and cleanup loops. Grounded on the teacher's
// WorkerImpl (concurrency primitives) and original_source/src/worker.rs
// (the four-loop split and spawn_task_execution).
type Engine struct {
	cfg      WorkerConfig
	broker   Broker
	handlers *HandlerRegistry
	log      *logger.Logger

	middlewareMu sync.RWMutex
	middleware   []TaskMiddleware

	listenersMu sync.RWMutex
	listeners   []EventListener

	statsMu sync.Mutex
	stats   WorkerStats

	inFlightMu sync.RWMutex
	inFlight   map[string]context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewEngine creates a worker engine bound to broker and populated with cfg.
func NewEngine(cfg WorkerConfig, broker Broker, handlers *HandlerRegistry, log *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		broker:   broker,
		handlers: handlers,
		log:      log,
		inFlight: make(map[string]context.CancelFunc),
		shutdown: make(chan struct{}),
		stats: WorkerStats{
			ID:        cfg.WorkerID,
			Status:    "stopped",
			Queues:    cfg.Queues,
			StartedAt: time.Now().UTC(),
		},
	}
}

// RegisterMiddleware appends a TaskMiddleware run around every execution.
func (e *Engine) RegisterMiddleware(mw TaskMiddleware) {
	e.middlewareMu.Lock()
	defer e.middlewareMu.Unlock()
	e.middleware = append(e.middleware, mw)
}

// AddEventListener registers a listener for task lifecycle events.
func (e *Engine) AddEventListener(l EventListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.listeners = append(e.listeners, l)
}

func (e *Engine) emit(event *TaskEvent) {
	e.listenersMu.RLock()
	listeners := append([]EventListener(nil), e.listeners...)
	e.listenersMu.RUnlock()

	for _, l := range listeners {
		for _, want := range l.EventTypes() {
			if want == event.EventType {
				if err := l.OnTaskEvent(event); err != nil {
					e.log.Warn("event listener failed", "event_type", event.EventType, "error", err)
				}
				break
			}
		}
	}
}

// GetStats returns a snapshot of the engine's counters.
func (e *Engine) GetStats() WorkerStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	stats := e.stats
	e.inFlightMu.RLock()
	stats.InFlight = len(e.inFlight)
	e.inFlightMu.RUnlock()
	return stats
}

// Start launches the four supervisory loops. It returns once they're running;
// call Stop to shut down gracefully.
func (e *Engine) Start(ctx context.Context) error {
	e.statsMu.Lock()
	e.stats.Status = "running"
	e.statsMu.Unlock()

	e.wg.Add(4)
	go e.pollLoop(ctx)
	go e.heartbeatLoop(ctx)
	go e.scheduledPromotionLoop(ctx)
	go e.cleanupLoop(ctx)

	return nil
}

// Stop signals all loops to exit at their next tick, then waits up to
// ShutdownGrace for in-flight executions to finish before cancelling the
// ones still running.
func (e *Engine) Stop(ctx context.Context) error {
	e.shutdownOnce.Do(func() { close(e.shutdown) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	grace := e.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	select {
	case <-done:
	case <-time.After(grace):
		e.inFlightMu.Lock()
		for id, cancel := range e.inFlight {
			e.log.Warn("force-cancelling in-flight task past shutdown grace period", "task_id", id)
			cancel()
		}
		e.inFlightMu.Unlock()
		<-done
	case <-ctx.Done():
		return ctx.Err()
	}

	e.statsMu.Lock()
	e.stats.Status = "stopped"
	e.statsMu.Unlock()
	return nil
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			e.pollOnce(ctx)
		}
	}
}

func (e *Engine) pollOnce(ctx context.Context) {
	e.inFlightMu.RLock()
	count := len(e.inFlight)
	e.inFlightMu.RUnlock()
	if count >= e.cfg.MaxConcurrent {
		return
	}

	for _, queueName := range e.cfg.Queues {
		task, err := e.broker.GetNext(ctx, queueName)
		if err != nil {
			e.log.Error("get_next failed", "queue", queueName, "error", err)
			continue
		}
		if task == nil {
			continue
		}

		task.MarkStarted(e.cfg.WorkerID)

		handler, ok := e.handlers.Find(task.Name)
		if !ok {
			task.MarkFailed(fmt.Sprintf("no handler registered for task type: %s", task.Name))
			if err := e.broker.MarkFailed(ctx, task); err != nil {
				e.log.Error("mark_failed (no handler) failed", "task_id", task.ID, "error", err)
			}
			e.emit(&TaskEvent{TaskID: task.ID, EventType: "failed", Timestamp: time.Now().UTC(), WorkerID: e.cfg.WorkerID, Data: map[string]interface{}{"error": "no handler"}})
			continue
		}

		e.spawnExecution(ctx, task, handler)

		e.inFlightMu.RLock()
		count = len(e.inFlight)
		e.inFlightMu.RUnlock()
		if count >= e.cfg.MaxConcurrent {
			break
		}
	}
}

// spawnExecution runs handler.Handle(task.Data) under the worker's task
// timeout, then routes the outcome to success/retry/failure. Grounded on
// original_source/src/worker.rs::spawn_task_execution.
func (e *Engine) spawnExecution(parent context.Context, task *Task, handler TaskHandler) {
	execCtx, cancel := context.WithCancel(parent)

	e.inFlightMu.Lock()
	e.inFlight[task.ID.String()] = cancel
	e.inFlightMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.inFlightMu.Lock()
			delete(e.inFlight, task.ID.String())
			e.inFlightMu.Unlock()
			cancel()
		}()

		e.runMiddlewareBefore(task)

		start := time.Now()
		resultCh := make(chan handlerOutcome, 1)

		go func() {
			defer func() {
				if r := recover(); r != nil {
					resultCh <- handlerOutcome{err: fmt.Errorf("handler panicked: %v", r)}
				}
			}()
			result, err := handler.Handle(task.Data)
			resultCh <- handlerOutcome{result: result, err: err}
		}()

		timeout := e.cfg.TaskTimeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}

		var outcome handlerOutcome
		var timedOut bool
		select {
		case outcome = <-resultCh:
		case <-time.After(timeout):
			timedOut = true
		case <-execCtx.Done():
			timedOut = true
		}

		duration := time.Since(start)
		e.recordDuration(duration)

		switch {
		case timedOut:
			e.finishTimeout(parent, task, timeout)
		case outcome.err != nil:
			e.finishError(parent, task, outcome.err)
		default:
			e.finishSuccess(parent, task, outcome.result)
		}

		e.runMiddlewareAfter(task, outcome.err)
	}()
}

type handlerOutcome struct {
	result string
	err    error
}

func (e *Engine) runMiddlewareBefore(task *Task) {
	e.middlewareMu.RLock()
	mws := append([]TaskMiddleware(nil), e.middleware...)
	e.middlewareMu.RUnlock()
	for _, mw := range mws {
		if err := mw.Before(task); err != nil {
			e.log.Warn("middleware.Before failed", "task_id", task.ID, "error", err)
		}
	}
}

func (e *Engine) runMiddlewareAfter(task *Task, result error) {
	e.middlewareMu.RLock()
	mws := append([]TaskMiddleware(nil), e.middleware...)
	e.middlewareMu.RUnlock()
	for i := len(mws) - 1; i >= 0; i-- {
		if err := mws[i].After(task, result); err != nil {
			e.log.Warn("middleware.After failed", "task_id", task.ID, "error", err)
		}
	}
}

func (e *Engine) recordDuration(d time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.stats.TasksProcessed++
	ms := float64(d.Milliseconds())
	if e.stats.TasksProcessed == 1 {
		e.stats.AverageExecutionMS = ms
	} else {
		n := float64(e.stats.TasksProcessed)
		e.stats.AverageExecutionMS = (e.stats.AverageExecutionMS*(n-1) + ms) / n
	}
}

func (e *Engine) finishSuccess(ctx context.Context, task *Task, result string) {
	task.MarkSuccess(result)
	if err := e.broker.MarkCompleted(ctx, task); err != nil {
		e.log.Error("mark_completed failed", "task_id", task.ID, "error", err)
	}

	e.statsMu.Lock()
	e.stats.TasksSuccessful++
	e.statsMu.Unlock()

	e.emit(&TaskEvent{TaskID: task.ID, EventType: "completed", Timestamp: time.Now().UTC(), WorkerID: e.cfg.WorkerID})
}

func (e *Engine) finishError(ctx context.Context, task *Task, execErr error) {
	if e.cfg.AutoRetry && task.CanRetry() {
		if err := task.MarkRetry(); err == nil {
			if reqErr := e.broker.Requeue(ctx, task); reqErr != nil {
				e.log.Error("requeue failed, falling back to mark_failed", "task_id", task.ID, "error", reqErr)
			} else {
				e.statsMu.Lock()
				e.stats.TasksRetried++
				e.statsMu.Unlock()
				e.emit(&TaskEvent{TaskID: task.ID, EventType: "retried", Timestamp: time.Now().UTC(), WorkerID: e.cfg.WorkerID, Data: map[string]interface{}{"retry_count": task.RetryCount, "error": execErr.Error()}})
				return
			}
		}
	}

	task.MarkFailed(execErr.Error())
	if err := e.broker.MarkFailed(ctx, task); err != nil {
		e.log.Error("mark_failed failed", "task_id", task.ID, "error", err)
	}

	e.statsMu.Lock()
	e.stats.TasksFailed++
	e.statsMu.Unlock()

	e.emit(&TaskEvent{TaskID: task.ID, EventType: "failed", Timestamp: time.Now().UTC(), WorkerID: e.cfg.WorkerID, Data: map[string]interface{}{"error": execErr.Error()}})
}

// finishTimeout marks the task failed with a timeout message. Per design
// note (d), timed-out tasks are not retried unless RetryOnTimeout is set.
func (e *Engine) finishTimeout(ctx context.Context, task *Task, timeout time.Duration) {
	msg := fmt.Sprintf("timed out after %d seconds", int(timeout.Seconds()))

	if e.cfg.RetryOnTimeout && e.cfg.AutoRetry && task.CanRetry() {
		e.finishError(ctx, task, NewError(KindTimeout, "%s", msg))
		return
	}

	task.MarkFailed(msg)
	if err := e.broker.MarkFailed(ctx, task); err != nil {
		e.log.Error("mark_failed (timeout) failed", "task_id", task.ID, "error", err)
	}

	e.statsMu.Lock()
	e.stats.TasksFailed++
	e.statsMu.Unlock()

	e.emit(&TaskEvent{TaskID: task.ID, EventType: "failed", Timestamp: time.Now().UTC(), WorkerID: e.cfg.WorkerID, Data: map[string]interface{}{"error": msg}})
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			e.statsMu.Lock()
			e.stats.LastHeartbeat = &now
			e.statsMu.Unlock()
		}
	}
}

func (e *Engine) scheduledPromotionLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.ScheduledPromotionInterval
	if interval <= 0 {
		interval = scheduledPromotionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			if _, err := e.broker.ProcessScheduled(ctx); err != nil {
				e.log.Error("process_scheduled failed", "error", err)
			}
		}
	}
}

func (e *Engine) cleanupLoop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.CleanupInterval
	if interval <= 0 {
		interval = cleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.shutdown:
			return
		case <-ticker.C:
			if _, err := e.broker.CleanupExpired(ctx); err != nil {
				e.log.Error("cleanup_expired failed", "error", err)
			}
		}
	}
}

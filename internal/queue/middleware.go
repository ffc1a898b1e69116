package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pytake/pytake-go/internal/logger"
)

// LoggingMiddleware logs task lifecycle transitions, adapted from the
// teacher's JobMiddleware LoggingMiddleware to the Task type.
type LoggingMiddleware struct {
	log *logger.Logger
}

// NewLoggingMiddleware creates a logging middleware bound to log.
func NewLoggingMiddleware(log *logger.Logger) TaskMiddleware {
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) Before(t *Task) error {
	m.log.Info("starting task execution",
		"task_id", t.ID, "name", t.Name, "queue", t.Queue, "retry_count", t.RetryCount)
	return nil
}

func (m *LoggingMiddleware) After(t *Task, result error) error {
	if result != nil {
		m.log.Error("task execution failed",
			"task_id", t.ID, "name", t.Name, "queue", t.Queue, "error", result.Error())
	} else {
		m.log.Info("task execution completed",
			"task_id", t.ID, "name", t.Name, "queue", t.Queue)
	}
	return nil
}

// queueMetrics holds the prometheus collectors shared by every
// MetricsMiddleware instance registered against the same Registerer.
type queueMetrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

func newQueueMetrics(reg prometheus.Registerer) *queueMetrics {
	m := &queueMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dtq",
			Subsystem: "worker",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "task_name"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dtq",
			Subsystem: "worker",
			Name:      "tasks_total",
			Help:      "Tasks processed, labeled by outcome.",
		}, []string{"queue", "task_name", "outcome"}),
	}
	if err := reg.Register(m.duration); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		m.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.total); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			panic(err)
		}
		m.total = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return m
}

// MetricsMiddleware records task duration and outcome counters. It replaces
// the teacher's "In production, you'd emit metrics here" placeholders with
// real prometheus/client_golang collectors.
type MetricsMiddleware struct {
	metrics    *queueMetrics
	startTimes map[string]time.Time
	mu         sync.Mutex
}

// NewMetricsMiddleware registers dtq_worker_* collectors against reg and
// returns the middleware that feeds them.
func NewMetricsMiddleware(reg prometheus.Registerer) TaskMiddleware {
	return &MetricsMiddleware{
		metrics:    newQueueMetrics(reg),
		startTimes: make(map[string]time.Time),
	}
}

func (m *MetricsMiddleware) Before(t *Task) error {
	m.mu.Lock()
	m.startTimes[t.ID.String()] = time.Now()
	m.mu.Unlock()
	return nil
}

func (m *MetricsMiddleware) After(t *Task, result error) error {
	key := t.ID.String()

	m.mu.Lock()
	start, ok := m.startTimes[key]
	if ok {
		delete(m.startTimes, key)
	}
	m.mu.Unlock()

	if ok {
		m.metrics.duration.WithLabelValues(t.Queue, t.Name).Observe(time.Since(start).Seconds())
	}

	outcome := "success"
	if result != nil {
		outcome = "failure"
	}
	m.metrics.total.WithLabelValues(t.Queue, t.Name, outcome).Inc()
	return nil
}

// SimpleEventListener dispatches every matching TaskEvent to handler.
// Adapted from the teacher's SimpleEventListener.
type SimpleEventListener struct {
	eventTypes []string
	handler    func(*TaskEvent) error
}

// NewSimpleEventListener builds a listener interested in eventTypes.
func NewSimpleEventListener(eventTypes []string, handler func(*TaskEvent) error) EventListener {
	return &SimpleEventListener{eventTypes: eventTypes, handler: handler}
}

func (l *SimpleEventListener) OnTaskEvent(event *TaskEvent) error {
	if l.handler == nil {
		return fmt.Errorf("simple event listener: no handler configured")
	}
	return l.handler(event)
}

func (l *SimpleEventListener) EventTypes() []string { return l.eventTypes }

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pytake/pytake-go/internal/logger"
)

// SystemConfig holds the knobs NewSystem needs beyond what's already
// captured by BrokerConfig/WorkerConfig. Adapted from the teacher's
// queue.Config.
type SystemConfig struct {
	Broker       BrokerConfig
	Worker       WorkerConfig
	WorkerCount  int      // number of identical engines sharing Worker's config
	Queues       []string // queues the system reports stats for
	MetricsReg   prometheus.Registerer
}

// DefaultSystemConfig mirrors the teacher's DefaultConfig, translated to
// the task-queue domain.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		Broker:      DefaultBrokerConfig(),
		Worker:      DefaultWorkerConfig("worker", "default"),
		WorkerCount: 1,
		Queues:      []string{"default"},
		MetricsReg:  prometheus.DefaultRegisterer,
	}
}

// System wires together a Broker, a Scheduler, a pool of Engines and a
// Manager, and owns their lifecycle. Adapted from the teacher's
// queue.System.
type System struct {
	Manager   *Manager
	Engines   []*Engine
	Broker    Broker
	Scheduler *Scheduler
	Handlers  *HandlerRegistry
	Config    *SystemConfig

	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
}

// NewSystem builds a System against rdb. store may be nil (scheduled jobs
// then live in memory only). A nil cfg is replaced by DefaultSystemConfig;
// a non-nil cfg is used as given, apart from a nil MetricsReg.
func NewSystem(rdb redis.UniversalClient, store JobStore, cfg *SystemConfig, log *logger.Logger) (*System, error) {
	if cfg == nil {
		cfg = DefaultSystemConfig()
	}
	if cfg.MetricsReg == nil {
		cfg.MetricsReg = prometheus.DefaultRegisterer
	}

	broker := NewRedisBroker(rdb, cfg.Broker)
	scheduler := NewScheduler(broker, store, log)
	handlers := NewHandlerRegistry()

	engines := make([]*Engine, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		workerCfg := cfg.Worker
		workerCfg.WorkerID = fmt.Sprintf("%s-%d", cfg.Worker.WorkerID, i)
		if workerCfg.WorkerID == "" || cfg.Worker.WorkerID == "" {
			workerCfg.WorkerID = fmt.Sprintf("worker-%d", i)
		}

		engine := NewEngine(workerCfg, broker, handlers, log)
		setupMiddleware(engine, cfg.MetricsReg, log)
		setupEventListeners(engine, log)
		engines = append(engines, engine)
	}

	manager := NewManager(broker, scheduler, engines, cfg.Queues)

	ctx, cancel := context.WithCancel(context.Background())

	return &System{
		Manager:   manager,
		Engines:   engines,
		Broker:    broker,
		Scheduler: scheduler,
		Handlers:  handlers,
		Config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		log:       log,
	}, nil
}

// RegisterHandler makes handler available to every engine in the system.
func (s *System) RegisterHandler(name string, handler TaskHandler) {
	s.Handlers.Register(name, handler)
}

// AddEventListener registers l on every engine in the system. Callers
// outside this package (e.g. an audit sink backed by its own storage) use
// this instead of reaching into s.Engines directly.
func (s *System) AddEventListener(l EventListener) {
	for _, engine := range s.Engines {
		engine.AddEventListener(l)
	}
}

// Start restores persisted scheduled jobs (if a JobStore was configured)
// then starts the scheduler and every engine.
func (s *System) Start() error {
	s.log.Info("starting queue system")

	if err := s.Scheduler.Restore(s.ctx); err != nil {
		return fmt.Errorf("restore scheduled jobs: %w", err)
	}

	if err := s.Manager.Start(s.ctx); err != nil {
		return fmt.Errorf("start queue system: %w", err)
	}

	s.log.Info("queue system started", "workers", len(s.Engines), "queues", s.Config.Queues)
	return nil
}

// Stop gracefully stops every engine and the scheduler, within 30s.
func (s *System) Stop() error {
	s.log.Info("stopping queue system")
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Manager.Stop(ctx); err != nil {
		s.log.Error("failed to stop queue system cleanly", "error", err)
		return err
	}

	s.log.Info("queue system stopped")
	return nil
}

// GetStats returns system-wide statistics.
func (s *System) GetStats() (*SystemStats, error) {
	return s.Manager.GetSystemStats(s.ctx)
}

// HealthCheck reports overall system health.
func (s *System) HealthCheck() (*HealthStatus, error) {
	return s.Manager.HealthCheck(s.ctx)
}

// setupMiddleware registers logging and metrics middleware on engine,
// mirroring the teacher's setupMiddleware.
func setupMiddleware(engine *Engine, reg prometheus.Registerer, log *logger.Logger) {
	engine.RegisterMiddleware(NewLoggingMiddleware(log))
	engine.RegisterMiddleware(NewMetricsMiddleware(reg))
}

// setupEventListeners registers the debug lifecycle listener and the error
// tracking listener, mirroring the teacher's setupEventListeners.
func setupEventListeners(engine *Engine, log *logger.Logger) {
	engine.AddEventListener(NewSimpleEventListener(
		[]string{"enqueued", "started", "completed", "failed", "retried"},
		func(event *TaskEvent) error {
			log.Debug("task event",
				"task_id", event.TaskID,
				"event_type", event.EventType,
				"timestamp", event.Timestamp,
				"worker_id", event.WorkerID,
			)
			return nil
		},
	))

	engine.AddEventListener(NewSimpleEventListener(
		[]string{"failed"},
		func(event *TaskEvent) error {
			log.Error("task failed",
				"task_id", event.TaskID,
				"worker_id", event.WorkerID,
				"error", event.Data["error"],
			)
			return nil
		},
	))
}

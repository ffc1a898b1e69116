package queue

import (
	"context"
	"time"
)

// SystemStats summarizes the whole running queue system: per-queue broker
// stats plus every engine's worker stats. Adapted from the teacher's
// SystemStats to the Task/Engine domain.
type SystemStats struct {
	Queues        map[string]*Stats  `json:"queues"`
	Workers       []WorkerStats      `json:"workers"`
	ActiveWorkers int                `json:"active_workers"`
	SchedulerJobs SchedulerStats     `json:"scheduler_jobs"`
	SystemUptime  time.Duration      `json:"system_uptime"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// CheckResult is a single named health probe's outcome.
type CheckResult struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthStatus aggregates every CheckResult into one overall verdict.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
	LastCheck time.Time              `json:"last_check"`
}

// Manager owns the broker, the scheduler, and the set of worker engines
// polling it, and answers system-wide stats/health queries. Adapted from
// the teacher's ManagerImpl, which the queue package never actually
// supplied a *RedisQueue for — this implementation is built directly
// against the Broker interface instead.
type Manager struct {
	broker    Broker
	scheduler *Scheduler
	engines   []*Engine
	queues    []string
	startedAt time.Time
}

// NewManager bundles broker, scheduler and engines into a Manager. queues
// lists every queue name the system is expected to report stats for.
func NewManager(broker Broker, scheduler *Scheduler, engines []*Engine, queues []string) *Manager {
	return &Manager{
		broker:    broker,
		scheduler: scheduler,
		engines:   engines,
		queues:    queues,
		startedAt: time.Now().UTC(),
	}
}

// Start launches the scheduler and every engine.
func (m *Manager) Start(ctx context.Context) error {
	m.scheduler.Start(ctx)
	for _, e := range m.engines {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every engine, then the scheduler.
func (m *Manager) Stop(ctx context.Context) error {
	for _, e := range m.engines {
		if err := e.Stop(ctx); err != nil {
			return err
		}
	}
	m.scheduler.Stop()
	return nil
}

// GetSystemStats gathers broker stats per queue, every engine's worker
// stats, and the scheduler's job stats.
func (m *Manager) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	stats := &SystemStats{
		Queues:        make(map[string]*Stats, len(m.queues)),
		Workers:       make([]WorkerStats, 0, len(m.engines)),
		SchedulerJobs: m.scheduler.GetStats(),
		SystemUptime:  time.Since(m.startedAt),
		UpdatedAt:     time.Now().UTC(),
	}

	for _, q := range m.queues {
		qs, err := m.broker.GetStats(ctx, q)
		if err != nil {
			return nil, err
		}
		stats.Queues[q] = qs
	}

	for _, e := range m.engines {
		ws := e.GetStats()
		stats.Workers = append(stats.Workers, ws)
		if ws.Status == "running" {
			stats.ActiveWorkers++
		}
	}

	return stats, nil
}

// HealthCheck probes the broker (via ListQueues, a cheap round trip) and
// confirms every engine reports "running".
func (m *Manager) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	checks := make(map[string]CheckResult)
	healthy := true

	brokerStart := time.Now()
	_, err := m.broker.ListQueues(ctx)
	brokerCheck := CheckResult{
		Healthy:   err == nil,
		Duration:  time.Since(brokerStart),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		brokerCheck.Message = err.Error()
		healthy = false
	}
	checks["broker"] = brokerCheck

	for _, e := range m.engines {
		ws := e.GetStats()
		checks["worker:"+ws.ID] = CheckResult{
			Healthy:   ws.Status == "running",
			Message:   ws.Status,
			Timestamp: time.Now().UTC(),
		}
		if ws.Status != "running" {
			healthy = false
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	return &HealthStatus{
		Healthy:   healthy,
		Status:    status,
		Checks:    checks,
		LastCheck: time.Now().UTC(),
	}, nil
}

package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	appconfig "github.com/pytake/pytake-go/internal/config"
	"github.com/pytake/pytake-go/internal/queue"
)

// AuditSink records every terminal task outcome (success, failure,
// retry-limit-exceeded) to a separate append-only table, independent of the
// broker's own result/failed mirrors and their TTLs. Uses database/sql and
// lib/pq directly rather than gorm: this table is write-once, read-rarely,
// and never needs struct scanning on the hot path.
type AuditSink struct {
	db *sql.DB
}

// NewAuditSink opens a raw database/sql connection to the same Postgres
// instance used by the job store and ensures the audit table exists.
func NewAuditSink(cfg *appconfig.Config) (*AuditSink, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
		)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetMaxIdleConns(cfg.DBIdleConnections)
	db.SetConnMaxLifetime(cfg.DBConnLifetime)

	const createTable = `
CREATE TABLE IF NOT EXISTS dtq_task_outcomes (
	id BIGSERIAL PRIMARY KEY,
	task_id UUID NOT NULL,
	task_name TEXT NOT NULL,
	queue_name TEXT NOT NULL,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL,
	error TEXT,
	recorded_at TIMESTAMPTZ NOT NULL
)`
	if _, err := db.Exec(createTable); err != nil {
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	return &AuditSink{db: db}, nil
}

// RecordOutcome inserts a row for t's current (terminal) status.
func (a *AuditSink) RecordOutcome(ctx context.Context, t *queue.Task) error {
	var errMsg sql.NullString
	if t.Error != nil {
		errMsg = sql.NullString{String: *t.Error, Valid: true}
	}

	const insert = `
INSERT INTO dtq_task_outcomes (task_id, task_name, queue_name, status, retry_count, error, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := a.db.ExecContext(ctx, insert,
		t.ID, t.Name, t.Queue, string(t.Status), t.RetryCount, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record task outcome for %s: %w", t.ID, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *AuditSink) Close() error {
	return a.db.Close()
}

// AuditListener adapts AuditSink to queue.EventListener: on every terminal
// event it re-fetches the task's canonical record from the broker (the
// event itself only carries the id) and writes an audit row.
type AuditListener struct {
	sink   *AuditSink
	broker queue.Broker
}

// NewAuditListener builds a listener that records completed/failed task
// outcomes via sink.
func NewAuditListener(sink *AuditSink, broker queue.Broker) *AuditListener {
	return &AuditListener{sink: sink, broker: broker}
}

func (l *AuditListener) EventTypes() []string { return []string{"completed", "failed"} }

func (l *AuditListener) OnTaskEvent(event *queue.TaskEvent) error {
	t, err := l.broker.GetTask(context.Background(), event.TaskID.String())
	if err != nil {
		return fmt.Errorf("audit listener: fetch task %s: %w", event.TaskID, err)
	}
	return l.sink.RecordOutcome(context.Background(), t)
}

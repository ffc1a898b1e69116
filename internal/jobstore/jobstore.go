// Package jobstore persists scheduled jobs across restarts and records an
// audit trail of terminal task outcomes, addressing design note (f): an
// in-memory-only scheduler loses every job definition on restart.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appconfig "github.com/pytake/pytake-go/internal/config"
	"github.com/pytake/pytake-go/internal/queue"
)

// scheduledJobRow is the gorm-mapped row backing a queue.ScheduledJob.
// Schedule and retry policy are stored as JSON blobs since their shape
// varies by schedule kind.
type scheduledJobRow struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name         string    `gorm:"size:255;not null"`
	TaskType     string    `gorm:"size:255;not null"`
	TaskData     string    `gorm:"type:text"`
	Queue        string    `gorm:"size:255;not null"`
	Priority     int       `gorm:"not null"`
	ScheduleJSON string    `gorm:"type:jsonb;column:schedule_json"`
	RetryJSON    string    `gorm:"type:jsonb;column:retry_policy_json"`
	Enabled      bool      `gorm:"not null"`
	NextRun      *time.Time
	LastRun      *time.Time
	RunCount     uint64
	FailureCount uint64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (scheduledJobRow) TableName() string { return "dtq_scheduled_jobs" }

// PostgresJobStore implements queue.JobStore against Postgres via gorm,
// grounded on the teacher's gorm-based persistence conventions.
type PostgresJobStore struct {
	db *gorm.DB
}

// NewPostgresJobStore opens a connection using cfg's DB_* settings (or
// DATABASE_URL, if set) and auto-migrates the scheduled-job table.
func NewPostgresJobStore(cfg *appconfig.Config) (*PostgresJobStore, error) {
	dsn := cfg.DatabaseURL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode,
		)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect job store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("job store sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxConnections)
	sqlDB.SetMaxIdleConns(cfg.DBIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.DBConnLifetime)

	if err := db.AutoMigrate(&scheduledJobRow{}); err != nil {
		return nil, fmt.Errorf("migrate job store: %w", err)
	}

	return &PostgresJobStore{db: db}, nil
}

func toRow(job *queue.ScheduledJob) (*scheduledJobRow, error) {
	scheduleJSON, err := json.Marshal(job.Schedule)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule: %w", err)
	}
	retryJSON, err := json.Marshal(job.RetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("marshal retry policy: %w", err)
	}
	return &scheduledJobRow{
		ID:           job.ID,
		Name:         job.Name,
		TaskType:     job.TaskType,
		TaskData:     job.TaskData,
		Queue:        job.Queue,
		Priority:     int(job.Priority),
		ScheduleJSON: string(scheduleJSON),
		RetryJSON:    string(retryJSON),
		Enabled:      job.Enabled,
		NextRun:      job.NextRun,
		LastRun:      job.LastRun,
		RunCount:     job.RunCount,
		FailureCount: job.FailureCount,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}, nil
}

func fromRow(row *scheduledJobRow) (*queue.ScheduledJob, error) {
	var schedule queue.Schedule
	if err := json.Unmarshal([]byte(row.ScheduleJSON), &schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule for job %s: %w", row.ID, err)
	}
	var policy queue.RetryPolicy
	if err := json.Unmarshal([]byte(row.RetryJSON), &policy); err != nil {
		return nil, fmt.Errorf("unmarshal retry policy for job %s: %w", row.ID, err)
	}
	return &queue.ScheduledJob{
		ID:           row.ID,
		Name:         row.Name,
		TaskType:     row.TaskType,
		TaskData:     row.TaskData,
		Queue:        row.Queue,
		Priority:     queue.TaskPriority(row.Priority),
		Schedule:     schedule,
		RetryPolicy:  policy,
		Enabled:      row.Enabled,
		NextRun:      row.NextRun,
		LastRun:      row.LastRun,
		RunCount:     row.RunCount,
		FailureCount: row.FailureCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

// SaveJob upserts job's row.
func (s *PostgresJobStore) SaveJob(ctx context.Context, job *queue.ScheduledJob) error {
	row, err := toRow(job)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(row).Error
}

// DeleteJob removes the row for id, if present.
func (s *PostgresJobStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&scheduledJobRow{}, "id = ?", id).Error
}

// LoadAll returns every persisted job, for warm start after a restart.
func (s *PostgresJobStore) LoadAll(ctx context.Context) ([]*queue.ScheduledJob, error) {
	var rows []scheduledJobRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load scheduled jobs: %w", err)
	}

	jobs := make([]*queue.ScheduledJob, 0, len(rows))
	for i := range rows {
		job, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

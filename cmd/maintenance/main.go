// Package main is the entrypoint for the maintenance Lambda function.
//
// EventBridge schedules invoke it with a Payload naming one task. Each run
// takes an hourly job lock so overlapping invocations do not repeat work,
// and is recorded in job_history.
//
// Example rule input:
//
//	{"task": "purge_analytics"}
//	{"task": "purge_email_events", "reference_time": "2026-10-01T03:00:00Z"}
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"hearth/internal/config"
	"hearth/internal/db"
	"hearth/internal/types"
)

// TaskType names one maintenance task.
type TaskType string

const (
	TaskPurgeAnalytics      TaskType = "purge_analytics"
	TaskPurgeSecurityEvents TaskType = "purge_security_events"
	TaskPurgeEmailEvents    TaskType = "purge_email_events"
	TaskPurgeJobHistory     TaskType = "purge_job_history"
)

// Payload is the EventBridge input.
type Payload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

const lockTTL = 15 * time.Minute

// Purger deletes rows older than a cutoff and reports how many went.
type Purger interface {
	PurgePageViews(ctx context.Context, before time.Time) (int, error)
	PurgeSecurityEvents(ctx context.Context, before time.Time) (int, error)
	PurgeEmailEvents(ctx context.Context, before time.Time) (int, error)
	PurgeJobHistory(ctx context.Context, before time.Time) (int, error)
}

type JobLocker interface {
	Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration, now time.Time) (bool, error)
}

type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

type Handler struct {
	Purger     Purger
	JobLock    JobLocker
	JobHistory JobHistorian
	Retention  config.RetentionConfig
	Clock      types.Clock
	WorkerID   string
	Logger     *slog.Logger
}

// Handle runs one task. A lock held by another worker is not an error.
func (h *Handler) Handle(ctx context.Context, p Payload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	now := h.Clock.Now()
	if p.ReferenceTime != nil {
		now = p.ReferenceTime.UTC()
	}
	task := string(p.Task)
	logger = logger.With("task", task, "worker_id", h.WorkerID)
	logger.InfoContext(ctx, "maintenance invoked", "reference_time", now.Format(time.RFC3339))

	lockID := fmt.Sprintf("%s:%s", p.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL, now)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker", "lock_id", lockID)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	// History is best effort; jobID 0 means Start failed and Finish is skipped.
	jobID, err := h.JobHistory.Start(ctx, task)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, p.Task, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if err := h.JobHistory.Finish(ctx, jobID, status, items, execErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task failed", "error", execErr)
		return "", fmt.Errorf("task %s failed: %w", task, execErr)
	}
	logger.InfoContext(ctx, "task complete", "items", items)
	return fmt.Sprintf("task %s complete: %d items processed", task, items), nil
}

func (h *Handler) dispatch(ctx context.Context, task TaskType, now time.Time) (int, error) {
	switch task {
	case TaskPurgeAnalytics:
		return h.Purger.PurgePageViews(ctx, now.Add(-h.Retention.PageViews))
	case TaskPurgeSecurityEvents:
		return h.Purger.PurgeSecurityEvents(ctx, now.Add(-h.Retention.SecurityEvents))
	case TaskPurgeEmailEvents:
		return h.Purger.PurgeEmailEvents(ctx, now.Add(-h.Retention.EmailEvents))
	case TaskPurgeJobHistory:
		return h.Purger.PurgeJobHistory(ctx, now.Add(-h.Retention.JobHistory))
	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("maintenance Lambda initializing (cold start)")

	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := config.LoadMaintenanceConfig(config.NewSSMProvider(region))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(context.Background(), cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	handler := &Handler{
		Purger:     db.NewRetentionRepository(pool),
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		Retention:  cfg.Retention,
		Clock:      types.RealClock{},
		WorkerID:   uuid.NewString(),
		Logger:     logger.With("env", cfg.Environment),
	}
	logger.Info("maintenance Lambda initialized", "worker_id", handler.WorkerID)

	lambda.Start(handler.Handle)
}

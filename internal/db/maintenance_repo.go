package db

import (
	"context"
	"time"

	"hearth/internal/types"
)

// JobLockRepository provides at-most-once execution of scheduled jobs via
// the job_locks table.
type JobLockRepository struct {
	db DBTX
}

func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire inserts the lock row, or reclaims it when the previous holder's
// lease has expired. It reports false while another worker holds it.
// Timestamps are computed in Go rather than with SQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID, workerID string, ttl time.Duration, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID, workerID, now, now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// JobHistoryRepository records scheduled job runs.
type JobHistoryRepository struct {
	db DBTX
}

func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a running entry and returns its id.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish stores the outcome of a run started with Start.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id, status, items, errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}

// RetentionRepository deletes rows that have aged out of the append-only
// tables.
type RetentionRepository struct {
	db DBTX
}

func NewRetentionRepository(db DBTX) *RetentionRepository {
	return &RetentionRepository{db: db}
}

func (r *RetentionRepository) PurgePageViews(ctx context.Context, before time.Time) (int, error) {
	return r.purge(ctx, `DELETE FROM page_views WHERE created_at < $1`, before, "page views")
}

func (r *RetentionRepository) PurgeSecurityEvents(ctx context.Context, before time.Time) (int, error) {
	return r.purge(ctx, `DELETE FROM security_events WHERE attempted_at < $1`, before, "security events")
}

// PurgeEmailEvents removes stored webhook payloads. Suppression state lives
// on the client row, so dropping the audit copy does not resubscribe anyone.
func (r *RetentionRepository) PurgeEmailEvents(ctx context.Context, before time.Time) (int, error) {
	return r.purge(ctx, `DELETE FROM email_events WHERE received_at < $1`, before, "email events")
}

// PurgeJobHistory also drops locks that expired before the cutoff.
func (r *RetentionRepository) PurgeJobHistory(ctx context.Context, before time.Time) (int, error) {
	n, err := r.purge(ctx, `DELETE FROM job_history WHERE started_at < $1`, before, "job history")
	if err != nil {
		return n, err
	}
	locks, err := r.purge(ctx, `DELETE FROM job_locks WHERE expires_at < $1`, before, "job locks")
	return n + locks, err
}

func (r *RetentionRepository) purge(ctx context.Context, sql string, before time.Time, what string) (int, error) {
	tag, err := r.db.Exec(ctx, sql, before)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge "+what, err)
	}
	return int(tag.RowsAffected()), nil
}

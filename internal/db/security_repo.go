package db

import (
	"context"
	"time"

	"hearth/internal/types"
)

// SecurityRepository records admin authentication attempts.
type SecurityRepository struct {
	db DBTX
}

// NewSecurityRepository creates a SecurityRepository.
func NewSecurityRepository(db DBTX) *SecurityRepository {
	return &SecurityRepository{db: db}
}

// LogAttempt stores one attempt. reason is empty for successes.
func (r *SecurityRepository) LogAttempt(ctx context.Context, eventType, ip string, success bool, reason string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO security_events (event_type, ip_address, attempted_at, success, failure_reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		eventType, ip, at, success, nilIfEmpty(reason),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to log security event", err)
	}
	return nil
}

// CountRecentFailures counts failed attempts of eventType from ip since a
// point in time.
func (r *SecurityRepository) CountRecentFailures(ctx context.Context, eventType, ip string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events
		 WHERE event_type = $1 AND ip_address = $2 AND success = FALSE AND attempted_at > $3`,
		eventType, ip, since,
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count failed attempts", err)
	}
	return n, nil
}

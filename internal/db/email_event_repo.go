package db

import (
	"context"

	"hearth/internal/types"
)

// EmailEventRepository keeps an audit trail of verified delivery webhooks.
type EmailEventRepository struct {
	db DBTX
}

// NewEmailEventRepository creates an EmailEventRepository.
func NewEmailEventRepository(db DBTX) *EmailEventRepository {
	return &EmailEventRepository{db: db}
}

// Record stores an event. It reports false when the provider event id was
// already recorded (a webhook retry).
func (r *EmailEventRepository) Record(ctx context.Context, e types.EmailEvent) (bool, error) {
	recipients := e.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO email_events (provider_event_id, event_type, recipients, payload, received_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider_event_id) DO NOTHING`,
		e.ProviderEventID, e.Type, recipients, string(e.Payload), e.ReceivedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record email event", err)
	}
	return tag.RowsAffected() > 0, nil
}

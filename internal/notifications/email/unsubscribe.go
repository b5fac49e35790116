package email

import (
	"context"
	"time"

	"hearth/internal/types"
)

// UnsubscribeStatus is the outcome shown to the person following a link.
type UnsubscribeStatus string

const (
	StatusUnsubscribed        UnsubscribeStatus = "unsubscribed"
	StatusAlreadyUnsubscribed UnsubscribeStatus = "already_unsubscribed"
)

// UnsubscribeStore resolves tokens and records opt-outs.
type UnsubscribeStore interface {
	FindByToken(ctx context.Context, token string) (*types.Client, error)
	Unsubscribe(ctx context.Context, id string, now time.Time) (bool, error)
}

// Unsubscriber handles self-service unsubscribe links.
type Unsubscriber struct {
	store  UnsubscribeStore
	clock  types.Clock
	logger types.Logger
}

// NewUnsubscriber creates an Unsubscriber. A nil clock uses the system clock.
func NewUnsubscriber(store UnsubscribeStore, clock types.Clock, logger types.Logger) *Unsubscriber {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Unsubscriber{store: store, clock: clock, logger: logger}
}

// Unsubscribe opts out the client owning token.
//
// Errors:
//   - malformed token -> types.ErrCodeValidationInvalidToken
//   - unknown token -> types.ErrCodeNotFoundToken
//   - storage failure -> types.ErrCodeInternalDB
func (u *Unsubscriber) Unsubscribe(ctx context.Context, token string) (UnsubscribeStatus, error) {
	if !ValidTokenShape(token) {
		return "", types.NewAppError(types.ErrCodeValidationInvalidToken, "this unsubscribe link is not valid", nil)
	}

	client, err := u.store.FindByToken(ctx, token)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "could not look up unsubscribe link", err)
	}
	if client == nil {
		return "", types.NewAppError(types.ErrCodeNotFoundToken, "this unsubscribe link is not recognised", nil)
	}
	if client.Unsubscribed {
		return StatusAlreadyUnsubscribed, nil
	}

	changed, err := u.store.Unsubscribe(ctx, client.ID, u.clock.Now())
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "could not record unsubscribe", err)
	}
	if !changed {
		return StatusAlreadyUnsubscribed, nil
	}

	u.logger.Info("client unsubscribed via link", "client_id", client.ID, "to", RedactEmail(client.Email))
	return StatusUnsubscribed, nil
}

// Package auth implements the back-office login: password verification
// against the configured bcrypt hash and brute force lockout by client IP.
package auth

import (
	"context"
	"log/slog"
	"time"

	"hearth/internal/types"
)

// EventAdminLogin is the security_events type for admin login attempts.
const EventAdminLogin = "admin_login"

// SecurityConfig holds the tunable thresholds for brute force protection.
type SecurityConfig struct {
	// IPBlockThreshold is the number of failed attempts from one IP within
	// WindowDuration after which the IP is locked out.
	IPBlockThreshold int

	// WindowDuration is the time window for counting recent failures.
	WindowDuration time.Duration
}

// DefaultSecurityConfig returns 10 failures per 15 minutes.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		IPBlockThreshold: 10,
		WindowDuration:   15 * time.Minute,
	}
}

// SecurityRepo is the persistence used by SecurityService.
// *db.SecurityRepository implements it.
type SecurityRepo interface {
	LogAttempt(ctx context.Context, eventType, ip string, success bool, reason string, at time.Time) error
	CountRecentFailures(ctx context.Context, eventType, ip string, since time.Time) (int, error)
}

// SecurityService records login attempts and decides lockouts.
type SecurityService struct {
	repo   SecurityRepo
	config SecurityConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewSecurityService creates a SecurityService. A nil clock uses the system
// clock and a nil logger uses slog.Default().
func NewSecurityService(repo SecurityRepo, config SecurityConfig, clock types.Clock, logger *slog.Logger) *SecurityService {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SecurityService{repo: repo, config: config, clock: clock, logger: logger}
}

// RecordAttempt stores one login attempt. reason is empty for successes.
func (s *SecurityService) RecordAttempt(ctx context.Context, ip string, success bool, reason string) error {
	if err := s.repo.LogAttempt(ctx, EventAdminLogin, ip, success, reason, s.clock.Now()); err != nil {
		s.logger.Error("failed to record security attempt",
			"event_type", EventAdminLogin,
			"ip", ip,
			"error", err,
		)
		return err
	}
	return nil
}

// IsIPBlocked reports whether ip reached the failure threshold within the
// window. Repository errors fail open.
func (s *SecurityService) IsIPBlocked(ctx context.Context, ip string) bool {
	since := s.clock.Now().Add(-s.config.WindowDuration)
	count, err := s.repo.CountRecentFailures(ctx, EventAdminLogin, ip, since)
	if err != nil {
		s.logger.Error("failed to check IP block status",
			"ip", ip,
			"error", err,
		)
		return false
	}
	return count >= s.config.IPBlockThreshold
}

package types

import (
	"context"
	"time"
)

// Logger is the structured logging surface domain services depend on.
// *slog.Logger is adapted to it by NewSlogAdapter.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Validator is implemented by request and settings payloads that check
// cross-field rules the struct tags cannot express.
type Validator interface {
	Validate() error
}

// HealthProber is implemented by dependencies that take part in /health.
type HealthProber interface {
	Ping(ctx context.Context) error
}

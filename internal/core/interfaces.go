package core

import (
	"context"
	"time"

	"hearth/internal/ratelimit"
)

// MetricsCollector records API telemetry. telemetry.CloudWatchCollector
// and telemetry.Noop implement it.
type MetricsCollector interface {
	// RecordRequest records one request. route is the chi route pattern.
	RecordRequest(method, route, status string, duration time.Duration)
}

// RateLimiter checks a key against a policy. *ratelimit.Limiter
// implements it.
type RateLimiter interface {
	IsRateLimited(ctx context.Context, key string, p ratelimit.Policy) (bool, ratelimit.Result, error)
}

// SecurityService decides whether a client IP is locked out after repeated
// failed admin logins.
type SecurityService interface {
	IsIPBlocked(ctx context.Context, ip string) bool
}

var _ RateLimiter = (*ratelimit.Limiter)(nil)

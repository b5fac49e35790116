package core

import (
	"context"
	"sync"
	"time"

	"hearth/internal/ratelimit"
)

// --- MockRateLimiter ---

// MockRateLimiter implements RateLimiter for handler and middleware tests.
//
// Usage:
//
//	mock := &MockRateLimiter{
//	    Result: ratelimit.Result{Allowed: true, Limit: 8, Remaining: 7, ResetAt: time.Now().Add(time.Minute)},
//	}
//
// To simulate a rejection set Limited to true.
type MockRateLimiter struct {
	Limited bool
	Result  ratelimit.Result
	Err     error

	// IsRateLimitedFunc overrides the fields above when set.
	IsRateLimitedFunc func(ctx context.Context, key string, p ratelimit.Policy) (bool, ratelimit.Result, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of one IsRateLimited call.
type RateLimitCall struct {
	Key    string
	Policy ratelimit.Policy
}

// IsRateLimited implements RateLimiter.
func (m *MockRateLimiter) IsRateLimited(ctx context.Context, key string, p ratelimit.Policy) (bool, ratelimit.Result, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Policy: p})
	m.mu.Unlock()

	if m.IsRateLimitedFunc != nil {
		return m.IsRateLimitedFunc(ctx, key, p)
	}
	return m.Limited, m.Result, m.Err
}

// CallCount returns the number of recorded calls.
func (m *MockRateLimiter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// --- MockSecurityService ---

// MockSecurityService implements SecurityService. IPs mapped to true in
// BlockedIPs are reported as blocked.
type MockSecurityService struct {
	BlockedIPs map[string]bool

	mu      sync.Mutex
	Checked []string
}

// IsIPBlocked implements SecurityService.
func (m *MockSecurityService) IsIPBlocked(_ context.Context, ip string) bool {
	m.mu.Lock()
	m.Checked = append(m.Checked, ip)
	m.mu.Unlock()
	return m.BlockedIPs[ip]
}

// --- MockMetricsCollector ---

// RecordedRequest is one RecordRequest call.
type RecordedRequest struct {
	Method   string
	Route    string
	Status   string
	Duration time.Duration
}

// MockMetricsCollector records every RecordRequest call.
type MockMetricsCollector struct {
	mu       sync.Mutex
	Requests []RecordedRequest
}

// RecordRequest implements MetricsCollector.
func (m *MockMetricsCollector) RecordRequest(method, route, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RecordedRequest{Method: method, Route: route, Status: status, Duration: duration})
}

// Snapshot returns a copy of the recorded calls.
func (m *MockMetricsCollector) Snapshot() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.Requests...)
}

// Compile-time interface assertions.
var (
	_ RateLimiter      = (*MockRateLimiter)(nil)
	_ SecurityService  = (*MockSecurityService)(nil)
	_ MetricsCollector = (*MockMetricsCollector)(nil)
)

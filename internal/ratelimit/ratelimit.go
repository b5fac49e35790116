// Package ratelimit bounds request rate per identity with a sliding window.
//
// Every check runs prune, check, record in that order: timestamps older than
// the window are dropped, a key already at its limit is rejected without the
// attempt being recorded, otherwise the attempt is recorded and allowed.
// Where the timestamps live is up to the Store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"hearth/internal/types"
)

// DefaultWindow is the window used by every public call site.
const DefaultWindow = 60 * time.Second

// Policy is the limit for one call site.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Call-site policies.
var (
	Newsletter     = Policy{Name: "newsletter", Limit: 8, Window: DefaultWindow}
	Reservation    = Policy{Name: "reservation", Limit: 8, Window: DefaultWindow}
	JobApplication = Policy{Name: "job_application", Limit: 8, Window: DefaultWindow}
	Contact        = Policy{Name: "contact", Limit: 10, Window: DefaultWindow}
	AdminLogin     = Policy{Name: "admin_login", Limit: 10, Window: DefaultWindow}
	Unsubscribe    = Policy{Name: "unsubscribe", Limit: 20, Window: DefaultWindow}
	Pixel          = Policy{Name: "pixel", Limit: 20, Window: DefaultWindow}
)

// Result describes the state of a key after a check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest recorded attempt leaves the window.
	ResetAt time.Time
}

// Store holds sliding-window state. Hit must run prune, check and record
// atomically for a given key.
type Store interface {
	Hit(ctx context.Context, key string, p Policy, now time.Time) (Result, error)
}

// Limiter applies policies against a Store.
type Limiter struct {
	store Store
	clock types.Clock
}

// New returns a Limiter. A nil clock uses the system clock.
func New(store Store, clock types.Clock) *Limiter {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Limiter{store: store, clock: clock}
}

// IsRateLimited reports whether key has exhausted p. The returned Result is
// valid whenever err is nil.
func (l *Limiter) IsRateLimited(ctx context.Context, key string, p Policy) (bool, Result, error) {
	if p.Limit <= 0 || p.Window <= 0 {
		return false, Result{}, fmt.Errorf("rate limit policy %q: limit and window must be positive", p.Name)
	}
	res, err := l.store.Hit(ctx, p.Name+":"+key, p, l.clock.Now())
	if err != nil {
		return false, Result{}, err
	}
	return !res.Allowed, res, nil
}

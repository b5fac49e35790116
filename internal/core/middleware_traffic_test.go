package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusCreated)
	})
}

func TestRateLimit_Allowed(t *testing.T) {
	srv, _ := newTestServer(t)
	reset := time.Now().Add(45 * time.Second)
	limiter := &MockRateLimiter{Result: ratelimit.Result{Allowed: true, Limit: 8, Remaining: 7, ResetAt: reset}}
	srv.Limiter = limiter

	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/newsletter", nil)
	req.RemoteAddr = "203.0.113.5:4000"
	rec := httptest.NewRecorder()
	srv.RateLimit(ratelimit.Newsletter)(okHandler(&called)).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "8", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "7", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(reset.Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	assert.Empty(t, rec.Header().Get("Retry-After"))

	require.Len(t, limiter.Calls, 1)
	assert.Equal(t, "ip:203.0.113.5", limiter.Calls[0].Key)
	assert.Equal(t, ratelimit.Newsletter, limiter.Calls[0].Policy)
}

func TestRateLimit_Rejected(t *testing.T) {
	srv, logs := newTestServer(t)
	srv.Limiter = &MockRateLimiter{
		Limited: true,
		Result:  ratelimit.Result{Limit: 8, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)},
	}

	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/reservations", nil)
	rec := httptest.NewRecorder()
	srv.RateLimit(ratelimit.Reservation)(okHandler(&called)).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, string(types.ErrCodeRateLimit), resp.Error.Code)

	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 30, retry, 1)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, logs.String(), "rate limit exceeded")
}

func TestRateLimit_RetryAfterIsAtLeastOneSecond(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Limiter = &MockRateLimiter{Limited: true, Result: ratelimit.Result{Limit: 3, ResetAt: time.Now().Add(-time.Second)}}

	rec := httptest.NewRecorder()
	srv.RateLimit(ratelimit.Contact)(okHandler(new(bool))).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contact", nil))

	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRateLimit_FailsOpen(t *testing.T) {
	srv, logs := newTestServer(t)
	srv.Limiter = &MockRateLimiter{Err: errors.New("redis: connection refused")}

	called := false
	rec := httptest.NewRecorder()
	srv.RateLimit(ratelimit.Contact)(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/contact", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, logs.String(), "rate limit store error")
}

func TestRateLimit_NilLimiterPassesThrough(t *testing.T) {
	srv, _ := newTestServer(t)
	called := false
	srv.RateLimit(ratelimit.Contact)(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.True(t, called)
}

func TestRateLimit_UsesVisitorCookie(t *testing.T) {
	srv, _ := newTestServer(t)
	limiter := &MockRateLimiter{Result: ratelimit.Result{Allowed: true, Limit: 20}}
	srv.Limiter = limiter

	req := httptest.NewRequest(http.MethodGet, "/px.gif", nil)
	req.AddCookie(&http.Cookie{Name: "hearth_vid", Value: "c0ffee"})
	srv.RateLimit(ratelimit.Pixel)(okHandler(new(bool))).ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, limiter.Calls, 1)
	assert.Equal(t, "v:c0ffee", limiter.Calls[0].Key)
}

func TestRateLimitSilently_MarksContext(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, limited := range []bool{false, true} {
		srv.Limiter = &MockRateLimiter{Limited: limited, Result: ratelimit.Result{Limit: 20, ResetAt: time.Now().Add(time.Minute)}}

		var sawLimited bool
		h := srv.RateLimitSilently(ratelimit.Pixel)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawLimited = WasRateLimited(r.Context())
			w.WriteHeader(http.StatusOK)
		}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/px.gif", nil))

		assert.Equal(t, http.StatusOK, rec.Code, "limited=%v", limited)
		assert.Equal(t, limited, sawLimited)
		assert.Empty(t, rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_WithRealLimiterBoundary(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Limiter = ratelimit.New(ratelimit.NewMemoryStore(), nil)
	policy := ratelimit.Policy{Name: "test", Limit: 3, Window: time.Minute}
	h := srv.RateLimit(policy)(okHandler(new(bool)))

	codes := make([]int, 0, 4)
	for range 4 {
		req := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
		req.RemoteAddr = "198.51.100.20:1000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{201, 201, 201, 429}, codes)

	other := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
	other.RemoteAddr = "198.51.100.21:1000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestWasRateLimited_DefaultFalse(t *testing.T) {
	assert.False(t, WasRateLimited(context.Background()))
}

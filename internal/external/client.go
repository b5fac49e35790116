// Package external wraps the third-party services Hearth talks to: the
// transactional email providers (Resend, SES) and the provider webhook
// signature scheme. Outbound HTTP goes through BaseClient, which adds a
// circuit breaker, bounded retries and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"hearth/internal/types"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy bounds how often and how long BaseClient retries a send.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy keeps retries short: a blast holds an admin request
// open while it runs.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    2 * time.Second,
	}
}

// BaseClient sends provider requests through a circuit breaker and retries
// 429, 5xx and transport failures.
type BaseClient struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	logger    types.Logger
	sleepFn   func(time.Duration)
}

type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces time.Sleep between attempts. Tests pass a no-op.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleepFn = fn }
}

// WithLogger reports breaker state changes.
func WithLogger(l types.Logger) BaseClientOption {
	return func(c *BaseClient) { c.logger = l }
}

// NewBaseClient builds a client whose breaker opens after six consecutive
// provider failures and probes again after 30 seconds. During a blast that
// means a dead provider fails the remaining recipients fast instead of
// waiting out every retry.
func NewBaseClient(httpClient *http.Client, breakerName string, policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := newBaseClient(httpClient, policy, userAgent, opts)
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if c.logger != nil {
				c.logger.Warn("email provider breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			}
		},
	})
	return c
}

// NewBaseClientWithBreaker shares or injects a breaker.
func NewBaseClientWithBreaker(httpClient *http.Client, breaker *gobreaker.CircuitBreaker[*http.Response], policy RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	c := newBaseClient(httpClient, policy, userAgent, opts)
	c.breaker = breaker
	return c
}

func newBaseClient(httpClient *http.Client, policy RetryPolicy, userAgent string, opts []BaseClientOption) *BaseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &BaseClient{
		client:    httpClient,
		policy:    policy,
		userAgent: userAgent,
		sleepFn:   time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryable reports whether a provider status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// Do sends req. Responses other than 429 and 5xx are returned untouched and
// the caller closes the body. Exhausted retries, an open breaker and a
// cancelled context come back as a *types.AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	payload, err := drainBody(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer provider request body", err)
	}

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; attempt <= c.policy.MaxRetries; attempt++ {
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
			req.ContentLength = int64(len(payload))
		}

		resp, lastErr = c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("provider returned %d", r.StatusCode)
			}
			return r, nil
		})
		if lastErr == nil {
			return resp, nil
		}
		if breakerRejected(lastErr) {
			break
		}

		last := attempt == c.policy.MaxRetries
		if last {
			break
		}
		wait := c.computeBackoff(attempt, resp)
		if resp != nil {
			resp.Body.Close()
			resp = nil
		}
		if err := req.Context().Err(); err != nil {
			lastErr = err
			break
		}
		c.sleepFn(wait)
	}

	status := 0
	if resp != nil {
		status = resp.StatusCode
		resp.Body.Close()
	}
	return nil, mapError(status, lastErr)
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	defer req.Body.Close()
	return io.ReadAll(req.Body)
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// computeBackoff honours Retry-After (seconds or HTTP date) up to MaxWait,
// otherwise waits a jittered exponential step within [MinWait, MaxWait].
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if wait, ok := retryAfter(resp); ok {
		return min(max(wait, c.policy.MinWait), c.policy.MaxWait)
	}

	ceiling := c.policy.MinWait << attempt
	if ceiling <= 0 || ceiling > c.policy.MaxWait {
		ceiling = c.policy.MaxWait
	}
	if ceiling <= c.policy.MinWait {
		return c.policy.MinWait
	}
	return c.policy.MinWait + rand.N(ceiling-c.policy.MinWait+1)
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at), true
	}
	return 0, false
}

// mapError turns the final failure into an AppError. status is the last
// provider status, or 0 when no response arrived.
func mapError(status int, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "email provider circuit open; sends paused", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "email provider rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("email provider returned %d after retries", status), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "email provider request timed out", err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("email provider request failed: %v", err), err)
	}
}

package core

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

type rateLimitedKey struct{}

// WasRateLimited reports whether a silent rate limit rejected the request.
func WasRateLimited(ctx context.Context) bool {
	limited, _ := ctx.Value(rateLimitedKey{}).(bool)
	return limited
}

// RateLimit rejects requests over policy with 429. The key is derived by
// ratelimit.KeyFor from the visitor cookie or the client IP.
//
// Every checked response carries X-RateLimit-Limit, X-RateLimit-Remaining
// and X-RateLimit-Reset; rejections also carry Retry-After. Store errors
// fail open: the request proceeds and the error is logged.
func (s *Server) RateLimit(policy ratelimit.Policy) func(http.Handler) http.Handler {
	return s.rateLimit(policy, false)
}

// RateLimitSilently checks policy like RateLimit but never rejects. An
// over-limit request proceeds with WasRateLimited set in its context so the
// handler can skip side effects while answering normally.
func (s *Server) RateLimitSilently(policy ratelimit.Policy) func(http.Handler) http.Handler {
	return s.rateLimit(policy, true)
}

func (s *Server) rateLimit(policy ratelimit.Policy, silent bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := ratelimit.KeyFor(r, s.visitorCookieName())
			limited, result, err := s.Limiter.IsRateLimited(r.Context(), key, policy)
			if err != nil {
				s.Logger.Error("rate limit store error",
					slog.String("policy", policy.Name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !limited {
				setRateLimitHeaders(w, result)
				next.ServeHTTP(w, r)
				return
			}

			s.Logger.Warn("rate limit exceeded",
				slog.String("policy", policy.Name),
				slog.String("key", key),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			if silent {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rateLimitedKey{}, true)))
				return
			}

			setRateLimitHeaders(w, result)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(result.ResetAt)))
			JSON(w, r, http.StatusTooManyRequests, APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeRateLimit),
					Message:   "Too many requests. Please try again shortly.",
					RequestID: types.GetRequestID(r.Context()),
				},
			})
		})
	}
}

// retryAfterSeconds rounds up and never returns less than 1.
func retryAfterSeconds(resetAt time.Time) int {
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	return max(secs, 1)
}

func setRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func (s *Server) visitorCookieName() string {
	if s.Config != nil {
		return s.Config.Analytics.CookieName
	}
	return ""
}

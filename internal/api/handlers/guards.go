package handlers

import (
	"net/http"

	"hearth/internal/core"
	"hearth/internal/ratelimit"
)

// Middleware is a standard net/http middleware.
type Middleware = func(http.Handler) http.Handler

// RouteGuards are the per-route middlewares handlers attach to their public
// endpoints. A nil field disables that guard.
type RouteGuards struct {
	RateLimit         func(p ratelimit.Policy) Middleware
	RateLimitSilently func(p ratelimit.Policy) Middleware
	IPSecurity        Middleware
}

// GuardsFrom returns the guards implemented by srv.
func GuardsFrom(srv *core.Server) RouteGuards {
	return RouteGuards{
		RateLimit:         srv.RateLimit,
		RateLimitSilently: srv.RateLimitSilently,
		IPSecurity:        srv.IPSecurityMiddleware,
	}
}

func passthrough(next http.Handler) http.Handler { return next }

func (g RouteGuards) limit(p ratelimit.Policy) Middleware {
	if g.RateLimit == nil {
		return passthrough
	}
	return g.RateLimit(p)
}

func (g RouteGuards) limitSilently(p ratelimit.Policy) Middleware {
	if g.RateLimitSilently == nil {
		return passthrough
	}
	return g.RateLimitSilently(p)
}

func (g RouteGuards) ipSecurity() Middleware {
	if g.IPSecurity == nil {
		return passthrough
	}
	return g.IPSecurity
}

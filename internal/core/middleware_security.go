package core

import (
	"log/slog"
	"net/http"

	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

// IPSecurityMiddleware rejects clients that SecurityService has locked out
// with 403 before any credential is checked. It passes through when no
// SecurityService is configured.
func (s *Server) IPSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.SecurityService == nil {
			next.ServeHTTP(w, r)
			return
		}

		ip := ratelimit.ClientIP(r)
		if s.SecurityService.IsIPBlocked(r.Context(), ip) {
			s.Logger.Warn("blocked request from IP",
				slog.String("ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			JSON(w, r, http.StatusForbidden, APIErrorResponse{
				Error: ErrorDetail{
					Code:      string(types.ErrCodeForbiddenIPBlocked),
					Message:   "Too many failed attempts. Try again later.",
					RequestID: types.GetRequestID(r.Context()),
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

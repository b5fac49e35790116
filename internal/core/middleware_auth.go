package core

import (
	"log/slog"
	"net/http"
	"strings"

	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

// AdminTokenHeader carries the admin token for non-browser clients.
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards the back-office. The credential is read, in order, from
// the admin cookie, the X-Admin-Token header and an Authorization Bearer
// token, and compared with the configured ADMIN_TOKEN in constant time.
//
// Failures are 401 with auth_token_missing or auth_token_invalid.
func (s *Server) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.adminCredential(r)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Admin authentication required")
			return
		}
		if !s.Config.Admin.Token.Matches(token) {
			s.Logger.Warn("admin authentication failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("ip", ratelimit.ClientIP(r)),
			)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid admin credential")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithAdmin(r.Context())))
	})
}

func (s *Server) adminCredential(r *http.Request) string {
	if c, err := r.Cookie(s.Config.Admin.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := strings.TrimSpace(r.Header.Get(AdminTokenHeader)); h != "" {
		return h
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// extractBearerToken returns the token of an "Authorization: Bearer <token>"
// header, or "" if the header uses another scheme.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}

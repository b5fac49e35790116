package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"hearth/internal/types"
)

// defaultRequestTimeout applies when the config sets no write timeout.
const defaultRequestTimeout = 30 * time.Second

// defaultRedactedHeaders lists headers whose values are masked in request
// logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	AdminTokenHeader,
	"Svix-Signature",
	"Webhook-Signature",
}

// MountRoutes registers the global middleware chain, /health, the public
// registrars and the admin registrars under /admin/api.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Get("/health", s.HandleHealth)

	s.router.Group(func(r chi.Router) {
		for _, registrar := range s.PublicRoutes {
			registrar(r)
		}
	})

	s.router.Route("/admin/api", func(r chi.Router) {
		r.Use(s.AdminAuth)
		for _, registrar := range s.AdminRoutes {
			registrar(r)
		}
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusNotFound, APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeNotFoundRoute),
				Message:   "no route for " + r.Method + " " + r.URL.Path,
				RequestID: types.GetRequestID(r.Context()),
			},
		})
	})
}

// registerGlobalMiddleware applies middleware in strict order:
//
//  1. Recoverer        outermost, so every panic is caught
//  2. ContextTimeout   soft deadline below the server write timeout
//  3. RequestID        correlation ID for logs and responses
//  4. SecurityHeaders  present even on error responses
//  5. RequestLogger    request-scoped logger, redacted headers
//  6. CORS
//  7. Metrics
//  8. Compression      innermost, so the loggers see the real status
//
// Rate limiting, IP lockout and admin auth are per-route.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))
	s.router.Use(s.MetricsMiddleware)
	s.router.Use(CompressionMiddleware)
}

// requestTimeout leaves one second of the write timeout for the response.
func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.WriteTimeout > 2*time.Second {
		return s.Config.Server.WriteTimeout - time.Second
	}
	return defaultRequestTimeout
}

func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil && len(s.Config.Security.CorsAllowedOrigins) > 0 {
		return s.Config.Security.CorsAllowedOrigins
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestIDPattern bounds what an inbound X-Request-Id may contain before
// it is echoed and logged.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// RequestIDMiddleware reuses a well-formed inbound X-Request-Id or generates
// one, stores it with types.WithRequestID and echoes it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if !requestIDPattern.MatchString(requestID) {
			requestID = generateRequestID()
		}

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(types.WithRequestID(r.Context(), requestID)))
	})
}

// generateRequestID returns 16 random bytes as 32 hex characters.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}

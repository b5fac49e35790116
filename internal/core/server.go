// Package core provides the HTTP chassis for Hearth. It builds a chi router,
// applies the cross-cutting middleware (panic recovery, request IDs,
// logging, metrics, CORS, rate limiting and admin authentication) and
// leaves domain routes to registrars supplied by the entry point.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hearth/internal/config"
)

// RouteRegistrar mounts a group of domain routes. Registrars are supplied by
// cmd/api so that core never imports handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the Hearth API, allowing for
// easy injection during testing.
type Server struct {
	Config          *config.Config
	Logger          *slog.Logger
	Validator       *Validator
	Metrics         MetricsCollector
	Limiter         RateLimiter
	SecurityService SecurityService
	HealthProbes    []HealthProbe

	// PublicRoutes are mounted at the root; AdminRoutes under /admin/api
	// behind AdminAuth.
	PublicRoutes []RouteRegistrar
	AdminRoutes  []RouteRegistrar

	// OnShutdown hooks run in order during Shutdown.
	OnShutdown []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer validates the minimum dependencies and prepares an empty router.
// The caller sets optional collaborators and then calls MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if !cfg.Admin.Token.IsSet() {
		return nil, fmt.Errorf("admin token must be configured")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger, nil),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs the registered shutdown hooks. Every hook runs even if an
// earlier one fails; the errors are joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for _, hook := range s.OnShutdown {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

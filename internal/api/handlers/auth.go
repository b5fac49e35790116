// Package handlers contains the HTTP handler implementations for the Hearth
// API.
//
// Each handler is responsible for:
//   - Decoding and validating HTTP requests
//   - Delegating to service-layer logic
//   - Encoding responses and managing HTTP-specific concerns (headers, cookies)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/ratelimit"
)

// LoginRequest is the request body for POST /admin/login.
type LoginRequest struct {
	Password string `json:"password" validate:"required,max=200"`
}

// LoginService exchanges the admin password for the admin credential.
type LoginService interface {
	Login(ctx context.Context, password, ip string) (string, error)
}

// CookieConfig defines the attributes of the admin cookie.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
	Path   string
}

// AuthHandler serves the admin login and logout endpoints.
type AuthHandler struct {
	login     LoginService
	cookie    CookieConfig
	logger    *slog.Logger
	validator *core.Validator
}

// NewAuthHandler creates a new AuthHandler with the provided dependencies.
func NewAuthHandler(login LoginService, cookie CookieConfig, l *slog.Logger, v *core.Validator) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	return &AuthHandler{login: login, cookie: cookie, logger: l, validator: v}
}

// RegisterRoutes mounts:
//   - POST /admin/login   IP lockout and rate limited
//   - POST /admin/logout
func (h *AuthHandler) RegisterRoutes(r chi.Router, g RouteGuards) {
	r.With(g.ipSecurity(), g.limit(ratelimit.AdminLogin)).Post("/admin/login", h.HandleLogin)
	r.Post("/admin/logout", h.HandleLogout)
}

// RegisterAdminRoutes mounts GET /session under the authenticated admin
// router so the dashboard can probe its cookie.
func (h *AuthHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/session", h.HandleSession)
}

// HandleLogin processes POST /admin/login. The credential travels only in
// the HttpOnly cookie, never in the body.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	token, err := h.login.Login(r.Context(), req.Password, ratelimit.ClientIP(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setCookie(w, token, int(h.cookie.MaxAge.Seconds()))
	core.OK(w, r, nil)
}

// HandleLogout clears the admin cookie. It succeeds without a cookie.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setCookie(w, "", -1)
	core.OK(w, r, nil)
}

// HandleSession reports that the caller passed AdminAuth.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	core.OK(w, r, map[string]any{"admin": true})
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, value string, maxAge int) {
	c := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		MaxAge:   maxAge,
		Path:     h.cookie.Path,
		Secure:   h.cookie.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge < 0 {
		c.Expires = time.Unix(0, 0).UTC()
	}
	http.SetCookie(w, c)
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/notifications/email"
	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

// NewsletterRequest is the request body for POST /api/newsletter.
type NewsletterRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Name  string `json:"name" validate:"max=120"`
}

// SubscriptionStore records newsletter opt-ins.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, email, name string) (*types.Client, error)
}

// NewsletterHandler serves the public signup form.
type NewsletterHandler struct {
	store     SubscriptionStore
	logger    *slog.Logger
	validator *core.Validator
}

// NewNewsletterHandler creates a NewsletterHandler.
func NewNewsletterHandler(store SubscriptionStore, l *slog.Logger, v *core.Validator) *NewsletterHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NewsletterHandler{store: store, logger: l, validator: v}
}

// RegisterRoutes mounts POST /api/newsletter, rate limited.
func (h *NewsletterHandler) RegisterRoutes(r chi.Router, g RouteGuards) {
	r.With(g.limit(ratelimit.Newsletter)).Post("/api/newsletter", h.HandleSubscribe)
}

// HandleSubscribe subscribes or re-subscribes an address. Signing up again
// after unsubscribing opts back in; suppression state is left as it was.
func (h *NewsletterHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req NewsletterRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Email = types.NormalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	c, err := h.store.UpsertSubscription(r.Context(), req.Email, req.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.Info("newsletter signup", "client_id", c.ID, "email", email.RedactEmail(c.Email))
	core.OK(w, r, nil)
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/notifications/email"
	"hearth/internal/types"
)

// AddClientRequest is the request body for POST /admin/api/clients.
type AddClientRequest struct {
	Name  string `json:"name" validate:"max=120"`
	Email string `json:"email" validate:"required,email,max=254"`
}

// UpdateClientRequest is the request body for PATCH /admin/api/clients/{id}.
// Subscribed toggles opt-out and manual suppression together.
type UpdateClientRequest struct {
	Name       *string `json:"name" validate:"omitempty,max=120"`
	Subscribed *bool   `json:"subscribed"`
}

// ClientStore is the part of the client registry the admin screens use.
type ClientStore interface {
	List(ctx context.Context, f types.ClientListFilter) ([]types.Client, int, error)
	AddClient(ctx context.Context, name, email string) (*types.Client, error)
	UpdateByID(ctx context.Context, id string, patch types.ClientPatch) (*types.Client, error)
}

// ClientsHandler serves the admin client registry endpoints.
type ClientsHandler struct {
	store     ClientStore
	clock     types.Clock
	logger    *slog.Logger
	validator *core.Validator
}

// NewClientsHandler creates a ClientsHandler. A nil clock uses the system
// clock.
func NewClientsHandler(store ClientStore, clock types.Clock, l *slog.Logger, v *core.Validator) *ClientsHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &ClientsHandler{store: store, clock: clock, logger: l, validator: v}
}

// RegisterRoutes mounts:
//   - GET   /clients
//   - POST  /clients
//   - PATCH /clients/{id}
func (h *ClientsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/clients", h.HandleList)
	r.Post("/clients", h.HandleAdd)
	r.Patch("/clients/{id}", h.HandleUpdate)
}

var clientStatuses = map[string]bool{"": true, "subscribed": true, "unsubscribed": true, "suppressed": true}

// HandleList returns a page of clients and the total matching count.
// Query: search, status (subscribed|unsubscribed|suppressed), limit, offset.
func (h *ClientsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := strings.ToLower(strings.TrimSpace(q.Get("status")))
	if !clientStatuses[status] {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"status must be subscribed, unsubscribed or suppressed", nil,
			map[string]any{"field": "status"}))
		return
	}
	limit, offset, err := pageParams(q.Get("limit"), q.Get("offset"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	clients, total, err := h.store.List(r.Context(), types.ClientListFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, map[string]any{"clients": clients, "total": total})
}

// HandleAdd creates a subscribed client. A duplicate email is a 409.
func (h *ClientsHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req AddClientRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Email = types.NormalizeEmail(req.Email)
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	c, err := h.store.AddClient(r.Context(), req.Name, req.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.Info("client added", "client_id", c.ID, "email", email.RedactEmail(c.Email))
	core.Respond(w, r, http.StatusCreated, map[string]any{"client": c})
}

// HandleUpdate edits the name and/or the subscription toggle.
func (h *ClientsHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateClientRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	patch := types.ClientPatch{}
	switch {
	case req.Subscribed == nil:
	case *req.Subscribed:
		patch = types.ResubscribePatch()
	default:
		patch = types.ManualUnsubscribePatch(h.clock.Now())
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		patch.Name = &name
	}
	if patch.IsEmpty() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "name or subscribed is required", nil))
		return
	}

	c, err := h.store.UpdateByID(r.Context(), id, patch)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Subscribed != nil {
		h.logger.Info("client subscription changed by admin",
			"client_id", c.ID,
			"subscribed", *req.Subscribed,
		)
	}
	core.OK(w, r, map[string]any{"client": c})
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pageParams parses limit and offset. Empty values use the defaults.
func pageParams(rawLimit, rawOffset string) (int, int, error) {
	limit, offset := defaultPageSize, 0
	if rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 || n > maxPageSize {
			return 0, 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"limit must be between 1 and 200", err, map[string]any{"field": "limit"})
		}
		limit = n
	}
	if rawOffset != "" {
		n, err := strconv.Atoi(rawOffset)
		if err != nil || n < 0 {
			return 0, 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"offset must be a non-negative integer", err, map[string]any{"field": "offset"})
		}
		offset = n
	}
	return limit, offset, nil
}

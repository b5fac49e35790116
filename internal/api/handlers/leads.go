package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hearth/internal/core"
	"hearth/internal/notifications/email"
	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

// ReservationRequest is the request body for POST /api/reservations.
type ReservationRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone" validate:"required,phone"`
	PartySize int    `json:"party_size" validate:"required,min=1,max=20"`
	Date      string `json:"date" validate:"required,not_past_date"`
	Time      string `json:"time" validate:"required,datetime=15:04"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// JobApplicationRequest is the request body for POST /api/jobs.
type JobApplicationRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,phone"`
	Position string `json:"position" validate:"required,max=120"`
	Message  string `json:"message" validate:"max=5000"`
}

// ContactRequest is the request body for POST /api/contact.
type ContactRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Message string `json:"message" validate:"required,max=5000"`
}

// UpdateLeadRequest is the request body for PATCH /admin/api/leads/{id}.
type UpdateLeadRequest struct {
	Status types.LeadStatus `json:"status" validate:"required,oneof=new confirmed declined archived"`
}

// LeadStore persists form submissions.
type LeadStore interface {
	Create(ctx context.Context, l *types.Lead) error
	List(ctx context.Context, f types.LeadFilter) ([]types.Lead, error)
	UpdateStatus(ctx context.Context, id string, status types.LeadStatus, now time.Time) (*types.Lead, error)
}

// LeadNotifier tells staff about a new lead.
type LeadNotifier interface {
	NotifyLead(ctx context.Context, lead types.Lead) error
}

// LeadsHandler serves the public forms and the admin lead inbox.
type LeadsHandler struct {
	store     LeadStore
	notifier  LeadNotifier
	clock     types.Clock
	logger    *slog.Logger
	validator *core.Validator
}

// NewLeadsHandler creates a LeadsHandler. notifier may be nil.
func NewLeadsHandler(store LeadStore, notifier LeadNotifier, clock types.Clock, l *slog.Logger, v *core.Validator) *LeadsHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &LeadsHandler{store: store, notifier: notifier, clock: clock, logger: l, validator: v}
}

// RegisterRoutes mounts the public forms, each with its own rate limit:
//   - POST /api/reservations
//   - POST /api/jobs
//   - POST /api/contact
func (h *LeadsHandler) RegisterRoutes(r chi.Router, g RouteGuards) {
	r.With(g.limit(ratelimit.Reservation)).Post("/api/reservations", h.HandleReservation)
	r.With(g.limit(ratelimit.JobApplication)).Post("/api/jobs", h.HandleJobApplication)
	r.With(g.limit(ratelimit.Contact)).Post("/api/contact", h.HandleContact)
}

// RegisterAdminRoutes mounts:
//   - GET   /leads
//   - PATCH /leads/{id}
func (h *LeadsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/leads", h.HandleList)
	r.Patch("/leads/{id}", h.HandleUpdateStatus)
}

// HandleReservation stores a table request.
func (h *LeadsHandler) HandleReservation(w http.ResponseWriter, r *http.Request) {
	var req ReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.accept(w, r, types.Lead{
		Kind:  types.LeadReservation,
		Name:  strings.TrimSpace(req.Name),
		Email: req.Email,
		Phone: strings.TrimSpace(req.Phone),
		Payload: map[string]any{
			"party_size": req.PartySize,
			"date":       req.Date,
			"time":       req.Time,
			"notes":      strings.TrimSpace(req.Notes),
		},
	})
}

// HandleJobApplication stores a job application.
func (h *LeadsHandler) HandleJobApplication(w http.ResponseWriter, r *http.Request) {
	var req JobApplicationRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.accept(w, r, types.Lead{
		Kind:  types.LeadJobApplication,
		Name:  strings.TrimSpace(req.Name),
		Email: req.Email,
		Phone: strings.TrimSpace(req.Phone),
		Payload: map[string]any{
			"position": strings.TrimSpace(req.Position),
			"message":  strings.TrimSpace(req.Message),
		},
	})
}

// HandleContact stores a contact message.
func (h *LeadsHandler) HandleContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.accept(w, r, types.Lead{
		Kind:    types.LeadContact,
		Name:    strings.TrimSpace(req.Name),
		Email:   req.Email,
		Payload: map[string]any{"message": strings.TrimSpace(req.Message)},
	})
}

// decode reads and validates a form body, writing the error response
// itself on failure.
func (h *LeadsHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := core.DecodeJSON(w, r, dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	if err := h.validator.ValidateStruct(dst); err != nil {
		core.Error(w, r, err)
		return false
	}
	return true
}

// accept stores the lead and then notifies staff. A notification failure
// is logged; the submission has already been saved and is still a 201.
func (h *LeadsHandler) accept(w http.ResponseWriter, r *http.Request, lead types.Lead) {
	now := h.clock.Now()
	lead.ID = uuid.NewString()
	lead.Status = types.LeadStatusNew
	lead.Email = types.NormalizeEmail(lead.Email)
	lead.CreatedAt = now
	lead.UpdatedAt = now

	if err := h.store.Create(r.Context(), &lead); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.Info("lead received",
		"lead_id", lead.ID,
		"kind", string(lead.Kind),
		"email", email.RedactEmail(lead.Email),
	)

	if h.notifier != nil {
		if err := h.notifier.NotifyLead(context.WithoutCancel(r.Context()), lead); err != nil {
			h.logger.Warn("lead notification failed",
				"lead_id", lead.ID,
				"error", err.Error(),
			)
		}
	}

	core.Respond(w, r, http.StatusCreated, map[string]any{"id": lead.ID})
}

func parseLeadKind(s string) (types.LeadKind, bool) {
	switch k := types.LeadKind(s); k {
	case "", types.LeadReservation, types.LeadJobApplication, types.LeadContact:
		return k, true
	}
	return "", false
}

// HandleList returns leads newest first. Query: kind, status, limit, offset.
func (h *LeadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind, ok := parseLeadKind(strings.TrimSpace(q.Get("kind")))
	if !ok {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"kind must be reservation, job_application or contact", nil,
			map[string]any{"field": "kind"}))
		return
	}
	status := types.LeadStatus(strings.TrimSpace(q.Get("status")))
	if status != "" && !status.Valid() {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			"status must be new, confirmed, declined or archived", nil,
			map[string]any{"field": "status"}))
		return
	}
	limit, offset, err := pageParams(q.Get("limit"), q.Get("offset"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	leads, err := h.store.List(r.Context(), types.LeadFilter{Kind: kind, Status: status, Limit: limit, Offset: offset})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, map[string]any{"leads": leads})
}

// HandleUpdateStatus moves a lead through the staff workflow.
func (h *LeadsHandler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateLeadRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	lead, err := h.store.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, h.clock.Now())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.Info("lead status updated", "lead_id", lead.ID, "status", string(lead.Status))
	core.OK(w, r, map[string]any{"lead": lead})
}

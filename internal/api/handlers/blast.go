package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/notifications/email"
	"hearth/internal/types"
)

// BlastRequest is the request body for POST /admin/api/blast. Emptiness of
// subject and body is checked after trimming by the orchestrator.
type BlastRequest struct {
	Subject   string `json:"subject" validate:"max=300"`
	Body      string `json:"body" validate:"max=100000"`
	TestEmail bool   `json:"testEmail"`
	TestTo    string `json:"testTo" validate:"max=254"`
}

// BlastSender runs a blast or a test send.
type BlastSender interface {
	Send(ctx context.Context, req email.BlastRequest) (*email.BlastResult, error)
}

// RecipientCounter counts the clients a blast would reach.
type RecipientCounter interface {
	CountEligibleRecipients(ctx context.Context, f types.RecipientFilter) (int, error)
}

// BlastHandler serves the admin blast endpoints.
type BlastHandler struct {
	sender         BlastSender
	counter        RecipientCounter
	skipSuppressed bool
	logger         *slog.Logger
	validator      *core.Validator
}

// NewBlastHandler creates a BlastHandler. skipSuppressed must match the
// filter the orchestrator uses so the preview count agrees with the send.
func NewBlastHandler(sender BlastSender, counter RecipientCounter, skipSuppressed bool, l *slog.Logger, v *core.Validator) *BlastHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BlastHandler{
		sender:         sender,
		counter:        counter,
		skipSuppressed: skipSuppressed,
		logger:         l,
		validator:      v,
	}
}

// RegisterRoutes mounts the admin blast routes:
//   - GET  /blast/recipients
//   - POST /blast
func (h *BlastHandler) RegisterRoutes(r chi.Router) {
	r.Get("/blast/recipients", h.HandleRecipientCount)
	r.Post("/blast", h.HandleSend)
}

// HandleRecipientCount returns the number of eligible recipients.
func (h *BlastHandler) HandleRecipientCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.counter.CountEligibleRecipients(r.Context(), types.RecipientFilter{SkipSuppressed: h.skipSuppressed})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, map[string]any{"count": n})
}

// HandleSend runs the blast. The send is detached from the request
// cancellation: once started it runs to completion even if the operator
// closes the tab, so no recipient is left half-processed.
func (h *BlastHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req BlastRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	br := email.BlastRequest{
		Subject: req.Subject,
		Body:    req.Body,
		Mode:    email.BlastModeBlast,
	}
	if req.TestEmail {
		br.Mode = email.BlastModeTest
		br.TestRecipient = req.TestTo
	}

	result, err := h.sender.Send(context.WithoutCancel(r.Context()), br)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("blast request completed",
		"mode", string(br.Mode),
		"sent", result.SentCount,
		"failed", result.FailedCount,
		"request_id", types.GetRequestID(r.Context()),
	)

	body := map[string]any{
		"sentCount":   result.SentCount,
		"failedCount": result.FailedCount,
		"failures":    result.Failures,
	}
	if result.Hint != "" {
		body["hint"] = result.Hint
	}
	core.OK(w, r, body)
}

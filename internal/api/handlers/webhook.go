package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/notifications/email"
	"hearth/internal/types"
)

// maxWebhookBody bounds delivery webhook payloads.
const maxWebhookBody = 1 << 20

// WebhookVerifier authenticates a signed webhook body.
type WebhookVerifier interface {
	Verify(payload []byte, h http.Header) error
}

// DeliveryIngestor applies verified delivery events.
type DeliveryIngestor interface {
	Handle(ctx context.Context, eventID string, payload []byte, ev *email.DeliveryEvent) email.IngestResult
}

// ResendWebhookHandler receives delivery events from the email provider.
type ResendWebhookHandler struct {
	verifier WebhookVerifier
	ingestor DeliveryIngestor
	logger   *slog.Logger
}

// NewResendWebhookHandler creates a ResendWebhookHandler.
func NewResendWebhookHandler(verifier WebhookVerifier, ingestor DeliveryIngestor, l *slog.Logger) *ResendWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ResendWebhookHandler{verifier: verifier, ingestor: ingestor, logger: l}
}

// RegisterRoutes mounts POST /webhooks/resend.
func (h *ResendWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/resend", h.HandleWebhook)
}

// HandleWebhook verifies and ingests one delivery event.
//
// Responses:
//   - 500 when the signing secret is not configured
//   - 401 when signature headers are missing or the signature is wrong
//   - 200 {"ok":true} otherwise, including for events that cannot be
//     parsed or applied, so the provider does not retry them forever
func (h *ResendWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationWebhookShape, "webhook body is too large", nil))
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "could not read webhook body", err))
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.HTTPStatus() == http.StatusUnauthorized {
			h.logger.Warn("delivery webhook rejected",
				"code", string(appErr.Code),
				"request_id", types.GetRequestID(r.Context()),
			)
		}
		core.Error(w, r, err)
		return
	}

	eventID := webhookEventID(r.Header)
	ev, err := email.ParseDeliveryEvent(payload)
	if err != nil {
		h.logger.Warn("delivery webhook payload ignored",
			"event_id", eventID,
			"error", err.Error(),
		)
		core.OK(w, r, nil)
		return
	}

	res := h.ingestor.Handle(r.Context(), eventID, payload, ev)
	if res.Failed > 0 {
		h.logger.Error("delivery webhook partially applied",
			"event_id", eventID,
			"matched", res.Matched,
			"failed", res.Failed,
		)
	}
	core.OK(w, r, nil)
}

func webhookEventID(h http.Header) string {
	if id := strings.TrimSpace(h.Get("svix-id")); id != "" {
		return id
	}
	return strings.TrimSpace(h.Get("webhook-id"))
}

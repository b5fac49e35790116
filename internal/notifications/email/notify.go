package email

import (
	"context"
	"errors"

	"hearth/internal/external"
	"hearth/internal/types"
)

// StaffDirectory returns the addresses that receive notifications for a
// lead kind. An empty result disables the notification.
type StaffDirectory interface {
	StaffRecipients(ctx context.Context, kind types.LeadKind) ([]string, error)
}

// StaffNotifierConfig holds the dependencies for creating a StaffNotifier.
type StaffNotifierConfig struct {
	Directory StaffDirectory
	Renderer  *Renderer
	Provider  external.EmailProvider
	Sender    SenderSettings
	Logger    types.Logger
}

// StaffNotifier emails staff when a public form produces a lead.
type StaffNotifier struct {
	directory StaffDirectory
	renderer  *Renderer
	provider  external.EmailProvider
	sender    SenderSettings
	logger    types.Logger
}

// NewStaffNotifier creates a StaffNotifier.
func NewStaffNotifier(cfg StaffNotifierConfig) *StaffNotifier {
	return &StaffNotifier{
		directory: cfg.Directory,
		renderer:  cfg.Renderer,
		provider:  cfg.Provider,
		sender:    cfg.Sender,
		logger:    cfg.Logger,
	}
}

// NotifyLead sends one notification per staff address. The lead is already
// stored, so callers log the returned error rather than failing the request.
// The reply-to is the submitter when they left an email.
func (n *StaffNotifier) NotifyLead(ctx context.Context, lead types.Lead) error {
	if !n.sender.ProviderReady {
		n.logger.Warn("lead notification skipped, email provider not configured", "lead_id", lead.ID)
		return nil
	}
	to, err := n.directory.StaffRecipients(ctx, lead.Kind)
	if err != nil {
		return err
	}
	if len(to) == 0 {
		return nil
	}

	replyTo := n.sender.ReplyTo
	if lead.Email != "" {
		replyTo = lead.Email
	}
	sender, err := external.ParseSender(n.sender.From, replyTo)
	if err != nil {
		// A malformed submitter address must not block the notification.
		sender, err = external.ParseSender(n.sender.From, n.sender.ReplyTo)
		if err != nil {
			return err
		}
	}

	rendered, err := n.renderer.RenderLead(lead)
	if err != nil {
		return err
	}

	var errs []error
	for _, addr := range to {
		_, err := n.provider.Send(ctx, external.Message{
			From:    sender.From,
			To:      addr,
			ReplyTo: sender.ReplyTo,
			Subject: rendered.Subject,
			Text:    rendered.Text,
			HTML:    rendered.HTML,
			Tags:    map[string]string{"category": "lead_" + string(lead.Kind)},
		})
		if err != nil {
			n.logger.Warn("lead notification failed", "lead_id", lead.ID, "to", RedactEmail(addr), "error", err.Error())
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	n.logger.Info("lead notification sent", "lead_id", lead.ID, "kind", string(lead.Kind), "recipients", len(to))
	return nil
}
